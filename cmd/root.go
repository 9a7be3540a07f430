// Package cmd holds the command-line interface of mail-archiver.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-archiver/config"
	"github.com/dhcgn/mail-archiver/filter"
)

// LoggerFactory builds the logger for a command from its configuration. The
// returned cleanup runs when the command finishes.
type LoggerFactory func(cfg config.Config) (*slog.Logger, func() error, error)

var newLogger LoggerFactory

var rootCmd = &cobra.Command{
	Use:           "mail-archiver",
	Short:         "Archive mailbox metadata from PST/OST, mbox and IMAP sources into a CSV archive",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI with the given logger factory.
func Execute(factory LoggerFactory) error {
	newLogger = factory
	return rootCmd.Execute()
}

// registerCommand attaches cmd with the flag groups it needs.
func registerCommand(cmd *cobra.Command, groups config.Group) {
	if err := config.RegisterFlags(cmd, groups); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags for %s: %v\n", cmd.Name(), err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd)
}

// prepare loads the configuration and logger and returns a context that is
// cancelled on Ctrl+C.
func prepare(cmd *cobra.Command, groups config.Group) (config.Config, *slog.Logger, context.Context, func(), error) {
	cfg, err := config.LoadConfig(cmd, groups)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	logger, cleanupLog, err := newLogger(cfg)
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	cleanup := func() {
		stop()
		_ = cleanupLog()
	}
	return cfg, logger, ctx, cleanup, nil
}

func printFilterHits(f *filter.Filter) {
	if f == nil {
		return
	}
	st := f.Stats()

	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(st.Hits))
	for pattern, count := range st.Hits {
		pairs = append(pairs, pair{pattern, count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	fmt.Printf("Filtered out %d messages\n", st.Skipped)
	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Printf("  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Printf("  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}
