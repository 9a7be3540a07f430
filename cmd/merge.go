package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-archiver/config"
	"github.com/dhcgn/mail-archiver/runner"
	"github.com/dhcgn/mail-archiver/stats"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge an existing report into the archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, ctx, cleanup, err := prepare(cmd, config.GroupArchive)
		if err != nil {
			return err
		}
		defer cleanup()

		r, err := runner.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("runner.New: %w", err)
		}
		stats.NewReporter(r, logger)

		result, err := r.Merge()
		if err != nil {
			return err
		}
		if result.Merge.Created {
			fmt.Printf("Archive created: %s (%d rows)\n", result.ArchivePath, result.Merge.MergedRows)
			return nil
		}
		fmt.Printf("Archive: %s (%d + %d rows, %d duplicates dropped, %d rows now)\n",
			result.ArchivePath, result.Merge.ArchiveRows, result.Merge.ReportRows, result.Merge.Duplicates, result.Merge.MergedRows)
		for _, path := range result.Merge.SnapshotPaths {
			fmt.Printf("Snapshot: %s\n", path)
		}
		return nil
	},
}

func init() {
	registerCommand(mergeCmd, config.GroupArchive)
}
