package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-upload/pkg/simpleupload/stage"
)

func newSweepCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove staged files older than the TTL once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Sweep.TTL
			}

			sweeper := stage.NewSweeper(cfg.Upload.TempDir, ttl, stage.WithSweepLogger(logger))
			report, err := sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d (%s), failed %d\n",
				report.Scanned, report.Removed, humanize.IBytes(uint64(report.Bytes)), report.Failed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "remove staged files older than this, defaults to SWEEP_TTL")
	return cmd
}
