// Package thread reconstructs reply chains from In-Reply-To links.
package thread

import (
	"strings"

	"github.com/dhcgn/mail-archiver/model"
)

// SeenMarker is the Status header value that marks a message as read.
const SeenMarker = "RO"

// StatusSource selects which message of a reply chain determines the status.
type StatusSource string

const (
	// StatusFromTerminal reads the status of the message the backward walk
	// stopped at.
	StatusFromTerminal StatusSource = "terminal"
	// StatusFromMessage reads the status of the message being resolved.
	StatusFromMessage StatusSource = "message"
)

// Cache maps message identifiers to the messages already processed in one
// mailbox store.
type Cache struct {
	messages map[string]model.Message
}

func NewCache() *Cache {
	return &Cache{messages: make(map[string]model.Message)}
}

// Add stores msg under its identifier. Messages without one are ignored.
func (c *Cache) Add(msg model.Message) {
	if msg.ID == "" {
		return
	}
	c.messages[msg.ID] = msg.ThreadRef()
}

func (c *Cache) Lookup(id string) (model.Message, bool) {
	if id == "" {
		return model.Message{}, false
	}
	msg, ok := c.messages[id]
	return msg, ok
}

func (c *Cache) Len() int {
	return len(c.messages)
}

// Result is the lineage of a message and its read status.
type Result struct {
	Tree   []string
	Status model.Status
}

// Record returns the result as message_tree and message_status fields.
func (r Result) Record() *model.Record {
	record := model.NewRecord()
	record.Set(model.FieldMessageTree, model.List(r.Tree...))
	record.SetString(model.FieldMessageStatus, string(r.Status))
	return record
}

type Resolver struct {
	statusSource StatusSource
}

func NewResolver(source StatusSource) *Resolver {
	if source == "" {
		source = StatusFromTerminal
	}
	return &Resolver{statusSource: source}
}

// Resolve walks In-Reply-To links backwards through cache. The returned tree
// lists ancestor subjects oldest first and ends with the subject of msg. A
// parent missing from the cache ends the walk; so does an identifier seen
// twice.
func (r *Resolver) Resolve(msg model.Message, cache *Cache) Result {
	tree := []string{msg.Subject}
	current := msg
	visited := map[string]struct{}{}
	if current.ID != "" {
		visited[current.ID] = struct{}{}
	}

	for {
		parentID := current.InReplyTo
		if parentID == "" {
			break
		}
		if _, loop := visited[parentID]; loop {
			break
		}
		parent, ok := cache.Lookup(parentID)
		if !ok {
			break
		}
		visited[parentID] = struct{}{}
		tree = append(tree, parent.Subject)
		current = parent
	}

	reverse(tree)

	statusOf := current
	if r.statusSource == StatusFromMessage {
		statusOf = msg
	}

	return Result{Tree: tree, Status: StatusOf(statusOf)}
}

// StatusOf maps the Status header of msg to SEEN or UNSEEN.
func StatusOf(msg model.Message) model.Status {
	if strings.TrimSpace(msg.Status) == SeenMarker {
		return model.StatusSeen
	}
	return model.StatusUnseen
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
