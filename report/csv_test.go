package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dhcgn/mail-archiver/model"
)

func record(pairs ...string) *model.Record {
	r := model.NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		r.SetString(pairs[i], pairs[i+1])
	}
	return r
}

func TestWrite_DynamicColumns(t *testing.T) {
	first := record("subject", "one", "from", "a@example.com")
	first.Set("message_tree", model.List("root", "one"))
	second := record("subject", "two", "provider", "exchange")
	third := record("subject", "three", "region", "eu", "provider", "gmail")

	var buf bytes.Buffer
	columns, err := Write(&buf, []string{"subject", "from", "message_tree"}, []*model.Record{first, second, third})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	wantColumns := []string{"subject", "from", "message_tree", "provider", "region"}
	if diff := cmp.Diff(wantColumns, columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	want := strings.Join([]string{
		"subject;from;message_tree;provider;region",
		"one;a@example.com;\"root; one\";;",
		"two;;;exchange;",
		"three;;;gmail;eu",
	}, "\n") + "\n"
	if got := buf.String(); got != want {
		t.Errorf("Write() output:\n%s\nwant:\n%s", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	rec := record(
		"subject", "Meeting; agenda, notes",
		"from", "\"Doe, John\" <john@example.com>",
		"to", "N/A",
		"date", "Mon, 02 Jan 2006 15:04:05 -0700",
		"attachments_size", "350",
		"note", "line one\nline two",
	)
	rec.Set("message_tree", model.List("Hello", "Re: Hello"))
	rec.SetString("message_status", "SEEN")

	path := filepath.Join(t.TempDir(), "report.csv")
	if _, err := WriteFile(path, []*model.Record{rec}); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	table, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(table.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(table.Rows))
	}

	want := rec.Flatten()
	want["cc"] = ""
	if diff := cmp.Diff(want, table.Rows[0]); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if table.Rows[0]["message_tree"] != "Hello; Re: Hello" {
		t.Errorf("list field = %q, want joined form", table.Rows[0]["message_tree"])
	}
	if diff := cmp.Diff(append(model.CanonicalColumns(), "note"), table.Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_Empty(t *testing.T) {
	table, err := Read(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(table.Columns) != 0 || len(table.Rows) != 0 {
		t.Errorf("Read(empty) = %+v, want empty table", table)
	}
}

func TestRead_RaggedRowFails(t *testing.T) {
	_, err := Read(strings.NewReader("a;b\n1;2\n3\n"))
	if err == nil {
		t.Fatal("Read() should reject a row with a missing field")
	}
}

func TestWriteFile_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	if _, err := WriteFile(path, []*model.Record{record("subject", "x")}); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.csv" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want only out.csv", names)
	}
}
