// Package archive folds freshly produced reports into the persistent archive
// without duplicating rows.
package archive

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhcgn/mail-archiver/model"
	"github.com/dhcgn/mail-archiver/report"
)

// ErrArchiveIO wraps failures to read or replace the archive or report.
var ErrArchiveIO = errors.New("archive io")

// DefaultPath is the archive location relative to the working directory.
const DefaultPath = "archive.csv"

// CurrentSuffix is appended to the report name when it is kept as the
// snapshot of the latest run.
const CurrentSuffix = "_Current"

type Options struct {
	Path string
	// TimestampSnapshots keeps an additional copy of every merged report
	// named after the merge time.
	TimestampSnapshots bool
	Now                func() time.Time
}

type Merger struct {
	path       string
	timestamps bool
	now        func() time.Time
	logger     *slog.Logger
}

func NewMerger(opts Options, logger *slog.Logger) *Merger {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Merger{path: path, timestamps: opts.TimestampSnapshots, now: now, logger: logger}
}

func (m *Merger) Path() string {
	return m.path
}

// Result describes what a merge did.
type Result struct {
	ArchivePath   string
	SnapshotPaths []string
	Created       bool
	ArchiveRows   int
	ReportRows    int
	MergedRows    int
	Duplicates    int
}

// Merge folds the report at reportPath into the archive. Without an existing
// archive the report simply becomes the archive. Otherwise the union of both
// is deduplicated, written next to the archive and renamed over it, and the
// report is kept under its snapshot name.
func (m *Merger) Merge(reportPath string) (Result, error) {
	result := Result{ArchivePath: m.path}

	_, err := os.Stat(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return m.adopt(reportPath)
	case err != nil:
		return result, fmt.Errorf("%w: stat %s: %v", ErrArchiveIO, m.path, err)
	}

	existing, err := report.ReadFile(m.path)
	if err != nil {
		return result, fmt.Errorf("%w: read archive: %v", ErrArchiveIO, err)
	}
	fresh, err := report.ReadFile(reportPath)
	if err != nil {
		return result, fmt.Errorf("%w: read report: %v", ErrArchiveIO, err)
	}

	columns, rows := Union(existing, fresh)
	result.ArchiveRows = len(existing.Rows)
	result.ReportRows = len(fresh.Rows)
	result.MergedRows = len(rows)
	result.Duplicates = result.ArchiveRows + result.ReportRows - result.MergedRows

	if err := report.WriteRowsFile(m.path, columns, rows); err != nil {
		return result, fmt.Errorf("%w: write archive: %v", ErrArchiveIO, err)
	}

	snapshots, err := m.snapshot(reportPath)
	result.SnapshotPaths = snapshots
	if err != nil {
		return result, fmt.Errorf("%w: snapshot report: %v", ErrArchiveIO, err)
	}

	m.info("report merged into archive",
		"archive", m.path,
		"archiveRows", result.ArchiveRows,
		"reportRows", result.ReportRows,
		"mergedRows", result.MergedRows,
		"duplicates", result.Duplicates,
	)
	return result, nil
}

func (m *Merger) adopt(reportPath string) (Result, error) {
	table, err := report.ReadFile(reportPath)
	if err != nil {
		return Result{ArchivePath: m.path}, fmt.Errorf("%w: read report: %v", ErrArchiveIO, err)
	}
	if err := move(reportPath, m.path); err != nil {
		return Result{ArchivePath: m.path}, fmt.Errorf("%w: adopt report: %v", ErrArchiveIO, err)
	}

	m.info("archive created from report", "archive", m.path, "rows", len(table.Rows))
	return Result{
		ArchivePath: m.path,
		Created:     true,
		ReportRows:  len(table.Rows),
		MergedRows:  len(table.Rows),
	}, nil
}

func (m *Merger) snapshot(reportPath string) ([]string, error) {
	ext := filepath.Ext(reportPath)
	base := strings.TrimSuffix(reportPath, ext)

	var paths []string
	if m.timestamps {
		stamped := base + "_" + m.now().Format("20060102T150405") + ext
		if err := copyFile(reportPath, stamped); err != nil {
			return nil, err
		}
		paths = append(paths, stamped)
	}

	current := base + CurrentSuffix + ext
	if err := move(reportPath, current); err != nil {
		return paths, err
	}
	return append([]string{current}, paths...), nil
}

// Union concatenates the rows of a and b and drops exact duplicates, keeping
// the first occurrence. Rows are compared over the union of both column
// sets, a missing cell counting as empty. Columns start with the canonical
// set, then a's columns, then b's.
func Union(a, b report.Table) ([]string, []model.Row) {
	set := model.NewColumns(model.CanonicalColumns()...)
	set.Add(a.Columns...)
	set.Add(b.Columns...)
	columns := set.Names()

	seen := make(map[string]struct{}, len(a.Rows)+len(b.Rows))
	var rows []model.Row
	for _, group := range [][]model.Row{a.Rows, b.Rows} {
		for _, row := range group {
			key := rowKey(columns, row)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			rows = append(rows, row)
		}
	}
	return columns, rows
}

func rowKey(columns []string, row model.Row) string {
	var sb strings.Builder
	for _, column := range columns {
		value := row[column]
		fmt.Fprintf(&sb, "%d:%s", len(value), value)
	}
	return sb.String()
}

func move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across file systems; fall back to copy and remove.
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (m *Merger) info(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}
