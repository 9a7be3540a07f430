package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-archiver/config"
	"github.com/dhcgn/mail-archiver/progress"
	"github.com/dhcgn/mail-archiver/runner"
)

const importGroups = config.GroupSource | config.GroupExtract | config.GroupArchive | config.GroupIMAP

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Convert a mailbox, write the run report and merge it into the archive",
	Example: `  mail-archiver import --pst outlook.pst
  mail-archiver import --mbox ./export --exclude-header '^Subject: \[spam\]'
  mail-archiver import --imap-folder INBOX --imap-host imap.example.com --imap-user me`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, ctx, cleanup, err := prepare(cmd, importGroups)
		if err != nil {
			return err
		}
		defer cleanup()

		logger.Info("starting import", "source", cfg.Source(), "workDir", cfg.WorkDir, "archive", cfg.ArchivePath)

		r, err := runner.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("runner.New: %w", err)
		}
		progress.NewReporter(r, progress.New(cfg.LogLevel), logger)

		result, err := r.Import()
		if err != nil {
			return err
		}

		if result.Skipped {
			fmt.Printf("Source %s was already imported, nothing to do\n", result.Source)
			return nil
		}
		printFilterHits(r.Filter())
		fmt.Printf("Report:  %s (%d records)\n", result.ReportPath, result.Records)
		fmt.Printf("Archive: %s (%d rows, %d duplicates dropped)\n", result.ArchivePath, result.Merge.MergedRows, result.Merge.Duplicates)
		for _, path := range result.Merge.SnapshotPaths {
			fmt.Printf("Snapshot: %s\n", path)
		}
		return nil
	},
}

func init() {
	registerCommand(importCmd, importGroups)
}
