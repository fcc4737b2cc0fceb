// Command simple-upload serves the upload endpoint and maintains the temp
// area.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
