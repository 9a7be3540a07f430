package progress

import (
	"context"
	"testing"

	"github.com/dhcgn/mail-archiver/stats"
)

func TestBar_DisabledIgnoresEvents(t *testing.T) {
	bar := New("debug")
	bar.Update(stats.Event{Type: stats.EventTypeCounted, Count: 10})
	bar.Update(stats.Event{Type: stats.EventTypeScanned, MessageID: "a@example.com"})
	if bar.pb != nil {
		t.Fatal("disabled bar must not start a progress printer")
	}
	bar.Stop()
}

func TestBar_SubscriberDrainsUntilClosed(t *testing.T) {
	bar := New("warn")
	events := make(chan stats.Event, 3)
	events <- stats.Event{Type: stats.EventTypeCounted, Count: 2}
	events <- stats.Event{Type: stats.EventTypeScanned}
	events <- stats.Event{Type: stats.EventTypeScanned}
	close(events)

	if err := bar.Subscriber(context.Background(), events); err != nil {
		t.Fatalf("Subscriber() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("%d events left unread", len(events))
	}
}
