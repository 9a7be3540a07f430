package model

import "strings"

// Status is the read state derived from a message's Status header.
type Status string

const (
	StatusSeen   Status = "SEEN"
	StatusUnseen Status = "UNSEEN"
)

// Message represents a single email message read from an mbox store.
type Message struct {
	ID        string
	InReplyTo string
	Subject   string
	Status    string
	Size      int64
	Raw       []byte
}

// ThreadRef returns the fields needed to resolve reply chains, without the
// raw message bytes.
func (m Message) ThreadRef() Message {
	return Message{ID: m.ID, InReplyTo: m.InReplyTo, Subject: m.Subject, Status: m.Status}
}

// NormalizeID trims whitespace and angle brackets from a message identifier.
// Only the first token is kept so In-Reply-To values carrying comments or
// several identifiers still resolve.
func NormalizeID(id string) string {
	fields := strings.Fields(id)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], "<>")
}
