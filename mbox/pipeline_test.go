package mbox

import (
	"bytes"
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dhcgn/mail-archiver/filter"
	"github.com/dhcgn/mail-archiver/model"
	"github.com/dhcgn/mail-archiver/stats"
)

//go:embed testdata/thread.mbox
var threadMbox []byte

func collect(t *testing.T, p *Pipeline, data []byte) []model.Row {
	t.Helper()
	var rows []model.Row
	err := p.Process(context.Background(), bytes.NewReader(data), func(r *model.Record) error {
		rows = append(rows, r.Flatten())
		return nil
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return rows
}

func TestProcess_Thread(t *testing.T) {
	rows := collect(t, NewPipeline(Options{}, nil), threadMbox)
	if len(rows) != 5 {
		t.Fatalf("got %d records, want 5", len(rows))
	}

	trees := make([]string, len(rows))
	statuses := make([]string, len(rows))
	for i, row := range rows {
		trees[i] = row[model.FieldMessageTree]
		statuses[i] = row[model.FieldMessageStatus]
	}

	wantTrees := []string{
		"Hello",
		"Hello; Re: Hello",
		"No id",
		"Hello; Re: Hello; Re: Re: Hello",
		"Orphan",
	}
	if diff := cmp.Diff(wantTrees, trees); diff != "" {
		t.Errorf("message_tree mismatch (-want +got):\n%s", diff)
	}

	wantStatuses := []string{"SEEN", "SEEN", "UNSEEN", "SEEN", "UNSEEN"}
	if diff := cmp.Diff(wantStatuses, statuses); diff != "" {
		t.Errorf("message_status mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_ExtractedFields(t *testing.T) {
	rows := collect(t, NewPipeline(Options{}, nil), threadMbox)

	c := rows[3]
	want := model.Row{
		model.FieldSubject:         "Re: Re: Hello",
		model.FieldFrom:            "alice@example.com",
		model.FieldTo:              "bob@example.com",
		model.FieldCc:              "carol@example.com",
		model.FieldDate:            "Mon, 02 Jan 2006 17:04:05 -0700",
		model.FieldAttachmentsSize: "11",
		model.FieldMessageTree:     "Hello; Re: Hello; Re: Re: Hello",
		model.FieldMessageStatus:   "SEEN",
		"provider":                 "exchange",
		"hop":                      "relay1; relay2",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	if rows[2][model.FieldTo] != "N/A" || rows[2][model.FieldCc] != "N/A" {
		t.Errorf("missing headers should default to N/A, got to=%q cc=%q", rows[2][model.FieldTo], rows[2][model.FieldCc])
	}
}

func TestProcess_FilteredMessagesStillResolveThreads(t *testing.T) {
	f, err := filter.New(filter.Options{ExcludeHeader: []string{`Subject: Hello`}})
	if err != nil {
		t.Fatalf("filter.New() error = %v", err)
	}

	collector := stats.NewCollector()
	p := NewPipeline(Options{Filter: f, Events: emitterFunc(collector.Apply)}, nil)
	rows := collect(t, p, threadMbox)

	if len(rows) != 4 {
		t.Fatalf("got %d records, want 4", len(rows))
	}
	if got := rows[0][model.FieldMessageTree]; got != "Hello; Re: Hello" {
		t.Errorf("first emitted tree = %q, want lineage through filtered parent", got)
	}

	summary := collector.Snapshot()
	if summary.Scanned != 5 || summary.Filtered != 1 || summary.Recorded != 4 {
		t.Errorf("summary = %+v, want scanned 5, filtered 1, recorded 4", summary)
	}
}

func TestProcess_MalformedHeaderLineKeepsMessage(t *testing.T) {
	data := "From a@example.com Mon Jan  2 15:04:05 2006\n" +
		"Message-ID: <good@example.com>\n" +
		"Subject: Good\n" +
		"\n" +
		"body\n" +
		"\n" +
		"From b@example.com Mon Jan  2 16:04:05 2006\n" +
		"Message-ID: <broken@example.com>\n" +
		"this header line has no colon\n" +
		"Subject: Broken\n" +
		"Status: RO\n" +
		"\n" +
		"body: with a colon\n" +
		"\n" +
		"From c@example.com Mon Jan  2 17:04:05 2006\n" +
		"Message-ID: <reply@example.com>\n" +
		"In-Reply-To: <broken@example.com>\n" +
		"Subject: Re: Broken\n" +
		"\n" +
		"body\n"

	collector := stats.NewCollector()
	p := NewPipeline(Options{Events: emitterFunc(collector.Apply)}, nil)
	rows := collect(t, p, []byte(data))

	var got []string
	for _, row := range rows {
		got = append(got, row[model.FieldSubject]+" | "+row[model.FieldMessageTree]+" | "+row[model.FieldMessageStatus])
	}
	want := []string{
		"Good | Good | UNSEEN",
		"Broken | Broken | SEEN",
		"Re: Broken | Broken; Re: Broken | SEEN",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if summary := collector.Snapshot(); summary.Skipped != 0 || summary.Recorded != 3 {
		t.Errorf("summary = %+v, want 3 recorded and none skipped", summary)
	}
}

func TestRepairHeader(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        string
		wantDropped []string
	}{
		{
			name:        "line without colon",
			raw:         "Subject: a\r\nnot a field\r\nTo: b\r\n\r\nbody line\r\n",
			want:        "Subject: a\r\nTo: b\r\n\r\nbody line\r\n",
			wantDropped: []string{"not a field"},
		},
		{
			name:        "continuation before any field",
			raw:         "  stray\nSubject: a\n\tfolded\n\nbody\n",
			want:        "Subject: a\n\tfolded\n\nbody\n",
			wantDropped: []string{"  stray"},
		},
		{
			name:        "continuation of a dropped line",
			raw:         "garbage\n more garbage\nSubject: a\n\n",
			want:        "Subject: a\n\n",
			wantDropped: []string{"garbage", " more garbage"},
		},
		{
			name:        "space in field name",
			raw:         "Bad Name: x\nSubject: a\n\nno colon in body\n",
			want:        "Subject: a\n\nno colon in body\n",
			wantDropped: []string{"Bad Name: x"},
		},
		{
			name: "valid header untouched",
			raw:  "Subject: a\nTo: b\n\nbody\n",
			want: "Subject: a\nTo: b\n\nbody\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := repairHeader([]byte(tt.raw))
			if string(got) != tt.want {
				t.Errorf("repairHeader() = %q, want %q", got, tt.want)
			}
			if diff := cmp.Diff(tt.wantDropped, dropped); diff != "" {
				t.Errorf("dropped mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcess_LeadingBlankLines(t *testing.T) {
	data := "\n\r\n\nFrom a@example.com Mon Jan  2 15:04:05 2006\nMessage-ID: <a@example.com>\nSubject: Late start\n\nbody\n"

	rows := collect(t, NewPipeline(Options{}, nil), []byte(data))
	if len(rows) != 1 || rows[0][model.FieldSubject] != "Late start" {
		t.Fatalf("rows = %v, want the single message", rows)
	}

	path := filepath.Join(t.TempDir(), "Inbox")
	mustWrite(t, path, data)
	n, err := CountMessages(path)
	if err != nil || n != 1 {
		t.Errorf("CountMessages() = %d, %v, want 1", n, err)
	}
}

type emitterFunc func(stats.Event)

func (f emitterFunc) EmitEvent(evt stats.Event) { f(evt) }

func TestProcessTree_IndependentCaches(t *testing.T) {
	dir := t.TempDir()
	first := "From a@example.com Mon Jan  2 15:04:05 2006\nMessage-ID: <root@example.com>\nSubject: Root\n\nbody\n"
	second := "From b@example.com Mon Jan  2 16:04:05 2006\nMessage-ID: <reply@example.com>\nIn-Reply-To: <root@example.com>\nSubject: Re: Root\n\nbody\n"

	mustWrite(t, filepath.Join(dir, "a", "Inbox"), first)
	mustWrite(t, filepath.Join(dir, "b", "Sent"), second)
	mustWrite(t, filepath.Join(dir, "notes.csv"), "subject;from\n")
	mustWrite(t, filepath.Join(dir, "empty"), "")

	records, err := NewPipeline(Options{}, nil).Collect(context.Background(), dir)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var trees []string
	for _, r := range records {
		trees = append(trees, r.Flatten()[model.FieldMessageTree])
	}
	if diff := cmp.Diff([]string{"Root", "Re: Root"}, trees); diff != "" {
		t.Errorf("trees mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPipeline(Options{}, nil).Process(ctx, bytes.NewReader(threadMbox), func(*model.Record) error { return nil })
	if err == nil {
		t.Fatal("Process() with cancelled context should fail")
	}
}

func TestCountMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thread.mbox")
	if err := os.WriteFile(path, threadMbox, 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := CountMessages(path)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if n != 5 {
		t.Errorf("CountMessages() = %d, want 5", n)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
