package imap

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dhcgn/mail-archiver/mbox"
	"github.com/dhcgn/mail-archiver/model"
)

func TestWriteMbox_RoundTripsThroughPipeline(t *testing.T) {
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	messages := []fetched{
		{Sender: "a@example.com", Date: date, Seen: true, Raw: []byte("Message-ID: <a@x>\r\nSubject: Hello\r\n\r\nFrom the start\r\n")},
		{Sender: "b@example.com", Date: date, Raw: []byte("Message-ID: <b@x>\r\nIn-Reply-To: <a@x>\r\nSubject: Re: Hello\r\n\r\nreply\r\n")},
	}

	var buf bytes.Buffer
	if err := writeMbox(&buf, messages); err != nil {
		t.Fatalf("writeMbox() error = %v", err)
	}

	var rows []model.Row
	p := mbox.NewPipeline(mbox.Options{}, nil)
	err := p.Process(context.Background(), &buf, func(r *model.Record) error {
		rows = append(rows, r.Flatten())
		return nil
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d records, want 2", len(rows))
	}
	if diff := cmp.Diff("Hello; Re: Hello", rows[1][model.FieldMessageTree]); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
	if rows[0][model.FieldMessageStatus] != string(model.StatusSeen) {
		t.Errorf("seen message status = %q, want SEEN", rows[0][model.FieldMessageStatus])
	}
	if rows[1][model.FieldMessageStatus] != string(model.StatusSeen) {
		t.Errorf("reply status = %q, want SEEN from thread root", rows[1][model.FieldMessageStatus])
	}
}

func TestWithSeenStatus(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"adds header", "Subject: x\r\n\r\nbody", "Status: RO\r\nSubject: x\r\n\r\nbody"},
		{"lf endings", "Subject: x\n\nbody", "Status: RO\nSubject: x\n\nbody"},
		{"keeps existing", "Status: O\r\nSubject: x\r\n\r\nbody", "Status: O\r\nSubject: x\r\n\r\nbody"},
		{"body mention ignored", "Subject: x\n\nstatus: nothing", "Status: RO\nSubject: x\n\nstatus: nothing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(withSeenStatus([]byte(tt.raw))); got != tt.want {
				t.Errorf("withSeenStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"INBOX":             "INBOX.mbox",
		"[Gmail]/All Mail":  "_Gmail_All_Mail.mbox",
		"Archive/2024":      "Archive_2024.mbox",
		"":                  "mailbox.mbox",
		"..":                "mailbox.mbox",
	}
	for folder, want := range tests {
		if got := FileName(folder); got != want {
			t.Errorf("FileName(%q) = %q, want %q", folder, got, want)
		}
	}
}

func TestNewSnapshotter_Validates(t *testing.T) {
	if _, err := NewSnapshotter(Options{Port: 993}, nil); err == nil {
		t.Error("expected error for empty host")
	}
	if _, err := NewSnapshotter(Options{Host: "imap.example.com"}, nil); err == nil {
		t.Error("expected error for missing port")
	}
}
