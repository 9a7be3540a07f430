package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-archiver/archive"
	"github.com/dhcgn/mail-archiver/model"
	"github.com/dhcgn/mail-archiver/report"
	"github.com/dhcgn/mail-archiver/stats"
)

var (
	reportDir    string
	topN         int
	statsColumns []string
)

var archiveStatsCmd = &cobra.Command{
	Use:   "archive-stats [archive file]",
	Short: "Analyse the archive CSV and show the most frequent values per column",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archivePath := archive.DefaultPath
		if len(args) == 1 {
			archivePath = args[0]
		}

		fmt.Println("Analyzing archive:", archivePath)

		table, err := report.ReadFile(archivePath)
		if err != nil {
			return fmt.Errorf("error reading archive: %w", err)
		}

		counter := countColumns(table, statsColumns)

		fmt.Printf("%d rows, %d columns\n\n", len(table.Rows), len(table.Columns))
		for _, column := range statsColumns {
			fmt.Printf("Top %d %s:\n", topN, column)
			stats.PrettyPrintTop(counter[column], topN)
			fmt.Println()
		}

		if reportDir == "" {
			return nil
		}
		if err := saveCSVReports(counter, statsColumns, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}
		fmt.Printf("Reports saved to directory: %s\n", reportDir)
		return nil
	},
}

func init() {
	archiveStatsCmd.Flags().StringVarP(&reportDir, "output", "o", "", "Output directory for CSV reports (none written when empty)")
	archiveStatsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	archiveStatsCmd.Flags().StringArrayVar(&statsColumns, "column", []string{model.FieldFrom, model.FieldTo, model.FieldMessageStatus, model.FieldSubject}, "Archive column to analyse (repeatable)")
	rootCmd.AddCommand(archiveStatsCmd)
}

// countColumns counts the values of each requested column, ignoring empty
// cells.
func countColumns(table report.Table, columns []string) map[string]map[string]int {
	counter := make(map[string]map[string]int, len(columns))
	for _, c := range columns {
		counter[c] = make(map[string]int)
	}

	for _, row := range table.Rows {
		for _, column := range columns {
			if value := row[column]; value != "" {
				counter[column][value]++
			}
		}
	}
	return counter
}

func saveCSVReports(counter map[string]map[string]int, columns []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, column := range columns {
		var rows []model.Row
		for _, p := range stats.Top(counter[column], limit) {
			rows = append(rows, model.Row{"Value": p.Key, "Count": strconv.Itoa(p.Count)})
		}

		filename := fmt.Sprintf("report_%s.csv", normalizeColumnName(column))
		if err := report.WriteRowsFile(filepath.Join(dir, filename), []string{"Value", "Count"}, rows); err != nil {
			return err
		}
	}
	return nil
}

func normalizeColumnName(column string) string {
	name := strings.ToLower(column)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
