package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageConvert Stage = "convert"
	StageMbox    Stage = "mbox"
	StageReport  Stage = "report"
	StageArchive Stage = "archive"
)

type EventType string

const (
	EventTypeCounted   EventType = "counted"
	EventTypeStore     EventType = "store"
	EventTypeScanned   EventType = "scanned"
	EventTypeRecorded  EventType = "recorded"
	EventTypeFiltered  EventType = "filtered"
	EventTypeSkipped   EventType = "skipped"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Path      string
	Count     int
	Err       error
}

// Emitter receives pipeline events. Implementations must not block for long.
type Emitter interface {
	EmitEvent(evt Event)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) EmitEvent(Event) {}

type Summary struct {
	Total      int
	Stores     int
	Scanned    int
	Recorded   int
	Filtered   int
	Skipped    int
	Duplicates int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"total", s.Total,
		"stores", s.Stores,
		"scanned", s.Scanned,
		"recorded", s.Recorded,
		"filtered", s.Filtered,
		"skipped", s.Skipped,
		"duplicates", s.Duplicates,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeCounted:
		c.summary.Total += evt.Count
	case EventTypeStore:
		c.summary.Stores++
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeRecorded:
		c.summary.Recorded++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeDuplicate:
		if evt.Count > 0 {
			c.summary.Duplicates += evt.Count
		} else {
			c.summary.Duplicates++
		}
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, p.Key, p.Count)
	}
}

type Pair struct {
	Key   string
	Count int
}

// Top returns the limit most frequent entries of m, ties broken by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
