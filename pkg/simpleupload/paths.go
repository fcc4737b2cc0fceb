package simpleupload

import (
	"path"
	"path/filepath"
	"strings"
)

// VariantSeparator joins the variant and base filename in the flat temp
// layout. Generated tokens never contain it.
const VariantSeparator = "!_!"

// TempName returns the temp-relative name of a staged variant.
func TempName(layout Layout, variant, base string) string {
	if layout == LayoutDirectory {
		return variant + "/" + base
	}
	return variant + VariantSeparator + base
}

// TempPath returns the absolute temp path of a staged variant.
func TempPath(tempDir string, layout Layout, variant, base string) string {
	return filepath.Join(tempDir, filepath.FromSlash(TempName(layout, variant, base)))
}

// ParseTempName recovers the variant and base filename from a temp-relative
// name produced by TempName.
func ParseTempName(layout Layout, name string) (variant, base string, ok bool) {
	name = filepath.ToSlash(name)
	if layout == LayoutDirectory {
		variant, base, ok = strings.Cut(name, "/")
		if strings.Contains(base, "/") {
			return "", "", false
		}
	} else {
		variant, base, ok = strings.Cut(name, VariantSeparator)
	}
	if !ok || variant == "" || base == "" {
		return "", "", false
	}
	return variant, base, true
}

// VariantDir returns the subpath of a variant below the attribute root. The
// original variant lives at the root itself.
func VariantDir(variant string) string {
	if variant == VariantOriginal {
		return ""
	}
	return variant
}

// DurablePath returns the BlobStore key of a committed variant.
func DurablePath(root, variant, filename string) string {
	return path.Join(strings.Trim(root, "/"), VariantDir(variant), filename)
}

// ValidBaseName reports whether name can be used as a base filename in both
// temp layouts and as a durable key segment.
func ValidBaseName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, VariantSeparator) {
		return false
	}
	return !strings.ContainsRune(name, 0)
}
