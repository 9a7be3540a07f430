package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dhcgn/mail-archiver/archive"
	"github.com/dhcgn/mail-archiver/config"
	"github.com/dhcgn/mail-archiver/convert"
	"github.com/dhcgn/mail-archiver/extract"
	"github.com/dhcgn/mail-archiver/filter"
	"github.com/dhcgn/mail-archiver/imap"
	"github.com/dhcgn/mail-archiver/mbox"
	"github.com/dhcgn/mail-archiver/report"
	"github.com/dhcgn/mail-archiver/state"
	"github.com/dhcgn/mail-archiver/stats"
	"github.com/dhcgn/mail-archiver/thread"
)

const eventBuffer = 128

// Result describes a finished run.
type Result struct {
	Source      string
	MboxRoot    string
	ReportPath  string
	ArchivePath string
	Records     int
	// Skipped is set when the source was already in the import ledger and
	// --skip-imported was given.
	Skipped bool
	Merge   archive.Result
}

type Option func(*Runner)

// WithConverter replaces the converter chosen from the configuration.
func WithConverter(c convert.Converter) Option {
	return func(r *Runner) { r.converter = c }
}

// WithTracker replaces the file-backed import ledger opened by Import.
func WithTracker(t state.Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes one archiving run step by step: convert, extract, write
// the report, merge into the archive. Progress is published as stats events
// to every subscriber.
type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	converter convert.Converter
	pipeline  *mbox.Pipeline
	filter    *filter.Filter
	merger    *archive.Merger
	tracker   state.Tracker
	now       func() time.Time

	subMu       sync.Mutex
	subscribers []chan stats.Event
	statsWG     sync.WaitGroup
	closeOnce   sync.Once

	errMu sync.Mutex
	err   error
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Runner, error) {
	ctx, cancel := context.WithCancel(ctx)

	r := &Runner{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.init(); err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

func (r *Runner) init() error {
	if r.converter == nil {
		switch r.cfg.Source() {
		case config.SourcePST:
			r.converter = convert.NewReadPST(r.cfg.ReadPSTBinary, r.cfg.ReadPSTArgs, r.logger)
		case config.SourceIMAP:
			snapshotter, err := imap.NewSnapshotter(IMAPOptions(r.cfg), r.logger)
			if err != nil {
				return fmt.Errorf("imap.NewSnapshotter: %w", err)
			}
			r.converter = snapshotter
		}
	}

	filterOpts := filter.Options{
		IncludeHeader: r.cfg.IncludeHeader,
		IncludeBody:   r.cfg.IncludeBody,
		ExcludeHeader: r.cfg.ExcludeHeader,
		ExcludeBody:   r.cfg.ExcludeBody,
	}
	if filterOpts.Active() {
		f, err := filter.New(filterOpts)
		if err != nil {
			return fmt.Errorf("filter.New: %w", err)
		}
		r.filter = f
	}

	transport := r.cfg.TransportHeader
	if transport == "" {
		transport = extract.DefaultTransportHeader
	}
	source := thread.StatusFromTerminal
	if r.cfg.StatusFrom == string(thread.StatusFromMessage) {
		source = thread.StatusFromMessage
	}
	r.pipeline = mbox.NewPipeline(mbox.Options{
		Extractor: extract.New(extract.Options{TransportHeader: transport}, r.logger),
		Resolver:  thread.NewResolver(source),
		Filter:    r.filter,
		Events:    r,
	}, r.logger)

	r.merger = archive.NewMerger(archive.Options{
		Path:               r.cfg.ArchivePath,
		TimestampSnapshots: r.cfg.TimestampSnapshots,
		Now:                r.now,
	}, r.logger)
	return nil
}

// openTracker opens the import ledger unless one was injected. Only imports
// consult the ledger.
func (r *Runner) openTracker() error {
	if r.tracker != nil || r.cfg.StateDir == "" {
		return nil
	}
	tracker, err := state.NewFileTracker(r.cfg.StateDir, true)
	if err != nil {
		return fmt.Errorf("state tracker: %w", err)
	}
	r.tracker = tracker
	return nil
}

// IMAPOptions maps the IMAP flags of cfg onto snapshot options.
func IMAPOptions(cfg config.Config) imap.Options {
	return imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Folder:             cfg.IMAPFolder,
	}
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

// Filter returns the message filter, or nil when no filter flags were given.
func (r *Runner) Filter() *filter.Filter {
	return r.filter
}

// EmitEvent delivers evt to every subscriber. It blocks while a subscriber's
// buffer is full and returns early once the run is cancelled.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.Lock()
	subscribers := r.subscribers
	r.subMu.Unlock()

	for _, ch := range subscribers {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats starts fn on its own goroutine with a private event channel
// that is closed when the run finishes. Subscribe before calling a run
// method.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, eventBuffer)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// Import runs the whole chain for the configured source.
func (r *Runner) Import() (Result, error) {
	var result Result
	err := r.execute("import", func(ctx context.Context) error {
		var err error
		result, err = r.importSource(ctx)
		return err
	})
	return result, err
}

// Extract writes the report for the configured mbox path without touching
// the archive.
func (r *Runner) Extract() (Result, error) {
	result := Result{Source: r.cfg.MboxPath, MboxRoot: r.cfg.MboxPath}
	err := r.execute("extract", func(ctx context.Context) error {
		var err error
		result.ReportPath, result.Records, err = r.extract(ctx, r.cfg.MboxPath)
		return err
	})
	return result, err
}

// Merge folds an existing report into the archive.
func (r *Runner) Merge() (Result, error) {
	result := Result{ReportPath: r.cfg.Report(), ArchivePath: r.merger.Path()}
	err := r.execute("merge", func(context.Context) error {
		var err error
		result.Merge, err = r.merge(result.ReportPath)
		return err
	})
	return result, err
}

func (r *Runner) execute(name string, fn func(context.Context) error) error {
	since := r.now()

	if err := fn(r.ctx); err != nil {
		r.fail(err)
	}

	r.closeEvents()
	r.statsWG.Wait()
	r.cancel()
	r.closeTracker()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := r.now().Sub(since)
	if err != nil {
		r.logger.Error(name+" failed", "duration", duration, "err", err)
		return err
	}
	r.logger.Info(name+" completed", "duration", duration)
	return nil
}

func (r *Runner) importSource(ctx context.Context) (Result, error) {
	result := Result{}
	kind := r.cfg.Source()

	var sourcePath string
	switch kind {
	case config.SourcePST:
		sourcePath = r.cfg.PSTPath
	case config.SourceMbox:
		sourcePath = r.cfg.MboxPath
	case config.SourceIMAP:
		sourcePath = r.cfg.IMAPFolder
	default:
		return result, fmt.Errorf("no source configured")
	}
	result.Source = sourcePath

	if err := r.openTracker(); err != nil {
		return result, err
	}

	var hash string
	if kind != config.SourceIMAP {
		var skip bool
		var err error
		hash, skip, err = r.checkLedger(sourcePath)
		if err != nil {
			return result, err
		}
		if skip {
			result.Skipped = true
			return result, nil
		}
	}

	root := sourcePath
	if kind != config.SourceMbox {
		runDir := filepath.Join(r.cfg.WorkDir, r.now().Format("20060102T150405"))
		if err := r.converter.Convert(ctx, sourcePath, runDir); err != nil {
			r.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, Path: sourcePath, Err: err})
			return result, fmt.Errorf("convert %s: %w", sourcePath, err)
		}
		root = runDir
	}
	result.MboxRoot = root

	if kind == config.SourceIMAP {
		var err error
		hash, err = state.HashSource(root)
		if err != nil {
			return result, err
		}
		if _, ok := r.lookup(hash); ok {
			r.logger.Info("imap snapshot identical to an earlier import", "folder", sourcePath)
		}
	}

	reportPath, records, err := r.extract(ctx, root)
	result.ReportPath = reportPath
	result.Records = records
	if err != nil {
		return result, err
	}

	merged, err := r.merge(reportPath)
	result.Merge = merged
	result.ArchivePath = merged.ArchivePath
	if err != nil {
		return result, err
	}

	if r.tracker != nil && hash != "" {
		entry := state.Entry{Hash: hash, Source: sourcePath, ImportedAt: r.now().UTC(), Records: records}
		if err := r.tracker.MarkImported(entry); err != nil {
			return result, fmt.Errorf("record import: %w", err)
		}
	}
	return result, nil
}

// checkLedger hashes the source and reports whether the run should stop
// because the source was imported before.
func (r *Runner) checkLedger(path string) (string, bool, error) {
	if r.tracker == nil {
		return "", false, nil
	}
	hash, err := state.HashSource(path)
	if err != nil {
		return "", false, err
	}

	entry, ok := r.lookup(hash)
	if !ok {
		return hash, false, nil
	}
	if r.cfg.SkipImported {
		r.logger.Info("source already imported, skipping", "source", path, "importedAt", entry.ImportedAt, "records", entry.Records)
		return hash, true, nil
	}
	r.logger.Info("source already imported, merging again", "source", path, "importedAt", entry.ImportedAt)
	return hash, false, nil
}

func (r *Runner) lookup(hash string) (state.Entry, bool) {
	if r.tracker == nil {
		return state.Entry{}, false
	}
	return r.tracker.Lookup(hash)
}

func (r *Runner) extract(ctx context.Context, root string) (string, int, error) {
	if _, err := os.Stat(root); err != nil {
		return "", 0, fmt.Errorf("mbox source: %w", err)
	}
	r.countMessages(root)

	records, err := r.pipeline.Collect(ctx, root)
	if err != nil {
		return "", 0, fmt.Errorf("extract %s: %w", root, err)
	}

	reportPath := r.cfg.Report()
	if err := os.MkdirAll(filepath.Dir(reportPath), 0o755); err != nil {
		return "", 0, fmt.Errorf("create report directory: %w", err)
	}
	columns, err := report.WriteFile(reportPath, records)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageReport, Type: stats.EventTypeError, Path: reportPath, Err: err})
		return "", 0, fmt.Errorf("write report: %w", err)
	}
	r.logger.Info("report written", "path", reportPath, "records", len(records), "columns", len(columns))
	return reportPath, len(records), nil
}

func (r *Runner) countMessages(root string) {
	files, err := mbox.Files(root)
	if err != nil {
		r.logger.Debug("count messages", "root", root, "err", err)
		return
	}
	total := 0
	for _, path := range files {
		n, err := mbox.CountMessages(path)
		if err != nil {
			continue
		}
		total += n
	}
	r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeCounted, Path: root, Count: total})
}

func (r *Runner) merge(reportPath string) (archive.Result, error) {
	result, err := r.merger.Merge(reportPath)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeError, Path: r.merger.Path(), Err: err})
		return result, err
	}
	if result.Duplicates > 0 {
		r.EmitEvent(stats.Event{Stage: stats.StageArchive, Type: stats.EventTypeDuplicate, Path: result.ArchivePath, Count: result.Duplicates})
	}
	return result, nil
}

func (r *Runner) closeEvents() {
	r.closeOnce.Do(func() {
		r.subMu.Lock()
		for _, ch := range r.subscribers {
			close(ch)
		}
		r.subMu.Unlock()
	})
}

func (r *Runner) closeTracker() {
	closer, ok := r.tracker.(interface{ Close() error })
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		r.fail(fmt.Errorf("close state tracker: %w", err))
	}
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
