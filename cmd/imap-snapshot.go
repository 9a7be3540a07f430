package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-archiver/config"
	"github.com/dhcgn/mail-archiver/imap"
	"github.com/dhcgn/mail-archiver/runner"
)

var imapSnapshotCmd = &cobra.Command{
	Use:   "imap-snapshot",
	Short: "Download an IMAP folder into an mbox file in the work directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, ctx, cleanup, err := prepare(cmd, config.GroupIMAP)
		if err != nil {
			return err
		}
		defer cleanup()

		opts := runner.IMAPOptions(cfg)
		snapshotter, err := imap.NewSnapshotter(opts, logger)
		if err != nil {
			return fmt.Errorf("imap.NewSnapshotter: %w", err)
		}

		folder := opts.Folder
		if folder == "" {
			folder = "INBOX"
		}
		if err := snapshotter.Convert(ctx, folder, cfg.WorkDir); err != nil {
			return err
		}
		fmt.Printf("Snapshot: %s\n", filepath.Join(cfg.WorkDir, imap.FileName(folder)))
		return nil
	},
}

func init() {
	registerCommand(imapSnapshotCmd, config.GroupIMAP)
}
