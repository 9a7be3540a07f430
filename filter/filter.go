// Package filter selects which mailbox messages make it into a report.
package filter

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var ErrModeConflict = errors.New("include and exclude filters are mutually exclusive")

// Options captures the filtering configuration.
type Options struct {
	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

func (o Options) Active() bool {
	return len(o.IncludeHeader)+len(o.IncludeBody)+len(o.ExcludeHeader)+len(o.ExcludeBody) > 0
}

type pattern struct {
	re   *regexp.Regexp
	hits int
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	mu            sync.Mutex
	includeMode   bool
	excludeMode   bool
	includeHeader []*pattern
	includeBody   []*pattern
	excludeHeader []*pattern
	excludeBody   []*pattern
	skipped       int
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, ErrModeConflict
	}

	return &Filter{
		includeMode:   includeActive,
		excludeMode:   excludeActive,
		includeHeader: includeHeader,
		includeBody:   includeBody,
		excludeHeader: excludeHeader,
		excludeBody:   excludeBody,
	}, nil
}

// Allows reports whether the raw message passes the filter. A nil filter
// allows everything.
func (f *Filter) Allows(raw []byte) bool {
	if f == nil || (!f.includeMode && !f.excludeMode) {
		return true
	}

	header, body := SplitRawMessage(raw)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.includeMode {
		matched := matchAny(f.includeHeader, header) || matchAny(f.includeBody, body)
		if !matched {
			f.skipped++
		}
		return matched
	}

	if matchAny(f.excludeHeader, header) || matchAny(f.excludeBody, body) {
		f.skipped++
		return false
	}
	return true
}

// Stats reports how often each pattern matched and how many messages were
// filtered out.
type Stats struct {
	Skipped int
	Hits    map[string]int
}

func (f *Filter) Stats() Stats {
	stats := Stats{Hits: make(map[string]int)}
	if f == nil {
		return stats
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stats.Skipped = f.skipped
	for _, group := range [][]*pattern{f.includeHeader, f.includeBody, f.excludeHeader, f.excludeBody} {
		for _, p := range group {
			stats.Hits[p.re.String()] += p.hits
		}
	}
	return stats
}

// SplitRawMessage splits a raw email message into header and body parts.
func SplitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}

func compilePatterns(patterns []string) ([]*pattern, error) {
	compiled := make([]*pattern, 0, len(patterns))
	for _, expr := range patterns {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", expr, err)
		}
		compiled = append(compiled, &pattern{re: re})
	}
	return compiled, nil
}

func matchAny(patterns []*pattern, text []byte) bool {
	for _, p := range patterns {
		if p.re.Match(text) {
			p.hits++
			return true
		}
	}
	return false
}
