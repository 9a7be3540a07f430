package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/emersion/go-message"

	"github.com/dhcgn/mail-archiver/extract"
	"github.com/dhcgn/mail-archiver/filter"
	"github.com/dhcgn/mail-archiver/model"
	"github.com/dhcgn/mail-archiver/stats"
	"github.com/dhcgn/mail-archiver/thread"
)

type Options struct {
	Extractor *extract.Extractor
	Resolver  *thread.Resolver
	Filter    *filter.Filter
	Events    stats.Emitter
}

// Pipeline extracts one record per message. Each store is read with its own
// message cache, so reply chains never cross store boundaries.
type Pipeline struct {
	extractor *extract.Extractor
	resolver  *thread.Resolver
	filter    *filter.Filter
	events    stats.Emitter
	logger    *slog.Logger
}

func NewPipeline(opts Options, logger *slog.Logger) *Pipeline {
	p := &Pipeline{
		extractor: opts.Extractor,
		resolver:  opts.Resolver,
		filter:    opts.Filter,
		events:    opts.Events,
		logger:    logger,
	}
	if p.extractor == nil {
		p.extractor = extract.New(extract.Options{}, logger)
	}
	if p.resolver == nil {
		p.resolver = thread.NewResolver(thread.StatusFromTerminal)
	}
	if p.events == nil {
		p.events = stats.Discard
	}
	return p
}

// RecordFunc receives each record in mailbox order. Returning an error stops
// the iteration.
type RecordFunc func(*model.Record) error

// Process reads a single mbox store from r.
func (p *Pipeline) Process(ctx context.Context, r io.Reader, fn RecordFunc) error {
	cache := thread.NewCache()

	return eachRaw(r, func(idx int, raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		entity, err := p.parse(idx, raw)
		if err != nil && (entity == nil || !(message.IsUnknownCharset(err) || message.IsUnknownEncoding(err))) {
			p.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeSkipped, Err: err})
			p.warn("skipping unparseable message", "index", idx, "err", err)
			return nil
		}

		msg := model.Message{
			ID:        model.NormalizeID(entity.Header.Get("Message-Id")),
			InReplyTo: model.NormalizeID(entity.Header.Get("In-Reply-To")),
			Subject:   extract.HeaderText(&entity.Header, "Subject", extract.NotAvailable),
			Status:    entity.Header.Get("Status"),
			Size:      int64(len(raw)),
			Raw:       raw,
		}
		p.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeScanned, MessageID: msg.ID})

		if !p.filter.Allows(raw) {
			p.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeFiltered, MessageID: msg.ID})
			cache.Add(msg)
			return nil
		}

		record := p.extractor.Extract(entity)
		record.Merge(p.resolver.Resolve(msg, cache).Record())

		if err := fn(record); err != nil {
			return err
		}
		p.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeRecorded, MessageID: msg.ID})

		if msg.ID == "" {
			p.debug("message without Message-ID is not cached", "index", idx)
		}
		cache.Add(msg)
		return nil
	})
}

// parse reads raw as a MIME message. When the header block cannot be read,
// damaged header lines are dropped and the message is parsed again.
func (p *Pipeline) parse(idx int, raw []byte) (*message.Entity, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if entity != nil {
		return entity, err
	}

	repaired, dropped := repairHeader(raw)
	if len(dropped) == 0 {
		return nil, err
	}
	p.debug("dropping malformed header lines", "index", idx, "lines", dropped, "err", err)
	return message.Read(bytes.NewReader(repaired))
}

// ProcessFile reads the mbox store at path.
func (p *Pipeline) ProcessFile(ctx context.Context, path string, fn RecordFunc) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	if err := p.Process(ctx, file, fn); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// ProcessTree reads every mbox store below root in lexical path order. Files
// that are not mbox stores are skipped.
func (p *Pipeline) ProcessTree(ctx context.Context, root string, fn RecordFunc) error {
	files, err := Files(root)
	if err != nil {
		return err
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.ProcessFile(ctx, path, fn)
		if errors.Is(err, ErrNotMbox) {
			p.warn("skipping file that is not an mbox store", "path", path)
			continue
		}
		if err != nil {
			p.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeError, Path: path, Err: err})
			return err
		}
		p.events.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeStore, Path: path})
		p.debug("mbox store processed", "path", path)
	}
	return nil
}

// Collect runs ProcessTree and returns all records.
func (p *Pipeline) Collect(ctx context.Context, root string) ([]*model.Record, error) {
	var records []*model.Record
	err := p.ProcessTree(ctx, root, func(r *model.Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
