package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-archiver/config"
	"github.com/dhcgn/mail-archiver/progress"
	"github.com/dhcgn/mail-archiver/runner"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Write the metadata report for an mbox file or directory without touching the archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, ctx, cleanup, err := prepare(cmd, config.GroupExtract)
		if err != nil {
			return err
		}
		defer cleanup()

		r, err := runner.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("runner.New: %w", err)
		}
		progress.NewReporter(r, progress.New(cfg.LogLevel), logger)

		result, err := r.Extract()
		if err != nil {
			return err
		}
		printFilterHits(r.Filter())
		fmt.Printf("Report: %s (%d records)\n", result.ReportPath, result.Records)
		return nil
	},
}

func init() {
	registerCommand(extractCmd, config.GroupExtract)
}
