// Package report reads and writes the semicolon-delimited CSV files that
// hold extracted message records.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dhcgn/mail-archiver/model"
)

// Delimiter separates fields. Header values routinely contain commas.
const Delimiter = ';'

// Table is the content of a report file.
type Table struct {
	Columns []string
	Rows    []model.Row
}

// Write writes a header row and one row per record. Columns start with
// columns and grow with every record key not seen yet, in first-seen order.
// The final column list is returned.
func Write(w io.Writer, columns []string, records []*model.Record) ([]string, error) {
	rows := make([]model.Row, 0, len(records))
	set := model.NewColumns(columns...)
	for _, record := range records {
		set.Add(record.Keys()...)
		rows = append(rows, record.Flatten())
	}
	names := set.Names()
	return names, WriteRows(w, names, rows)
}

// WriteRows writes rows under the given columns. Cells missing from a row
// are written empty; keys outside columns are ignored.
func WriteRows(w io.Writer, columns []string, rows []model.Row) error {
	writer := csv.NewWriter(w)
	writer.Comma = Delimiter

	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(columns))
	for i, row := range rows {
		for j, column := range columns {
			record[j] = row[column]
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// Read parses a report. Every value is returned as a plain string.
func Read(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = Delimiter

	columns, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	reader.FieldsPerRecord = len(columns)

	table := Table{Columns: columns}
	for line := 2; ; line++ {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read row %d: %w", line, err)
		}

		row := make(model.Row, len(columns))
		for i, column := range columns {
			row[column] = values[i]
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// ReadFile reads the report at path.
func ReadFile(path string) (Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer file.Close()

	table, err := Read(file)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// WriteFile writes records to path, starting from the canonical columns.
// The file is replaced atomically.
func WriteFile(path string, records []*model.Record) ([]string, error) {
	var columns []string
	err := writeAtomic(path, func(w io.Writer) error {
		var err error
		columns, err = Write(w, model.CanonicalColumns(), records)
		return err
	})
	return columns, err
}

// WriteRowsFile writes rows to path under columns, replacing it atomically.
func WriteRowsFile(path string, columns []string, rows []model.Row) error {
	return writeAtomic(path, func(w io.Writer) error {
		return WriteRows(w, columns, rows)
	})
}

func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
