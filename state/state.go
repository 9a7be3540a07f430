// Package state keeps the import ledger: which mailbox sources already went
// through a run, keyed by a content hash of the source.
package state

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const LedgerFile = "imported.jsonl"

// Entry describes one completed import.
type Entry struct {
	Hash       string    `json:"hash"`
	Source     string    `json:"source"`
	ImportedAt time.Time `json:"imported_at"`
	Records    int       `json:"records"`
}

type Tracker interface {
	AlreadyImported(hash string) bool
	Lookup(hash string) (Entry, bool)
	MarkImported(entry Entry) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Imported int
}

type MemoryTracker struct {
	mu       sync.RWMutex
	imported map[string]Entry
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{imported: make(map[string]Entry)}
}

func (m *MemoryTracker) AlreadyImported(hash string) bool {
	_, ok := m.Lookup(hash)
	return ok
}

func (m *MemoryTracker) Lookup(hash string) (Entry, bool) {
	if hash == "" {
		return Entry{}, false
	}

	m.mu.RLock()
	entry, ok := m.imported[hash]
	m.mu.RUnlock()
	return entry, ok
}

func (m *MemoryTracker) MarkImported(entry Entry) error {
	if entry.Hash == "" {
		return nil
	}

	m.mu.Lock()
	m.imported[entry.Hash] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.imported)
	m.mu.RUnlock()
	return Snapshot{Imported: count}
}

// FileTracker persists the ledger as JSON lines so future runs can recognise
// sources that were already imported. A later entry for the same hash
// replaces the earlier one when loading.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

func NewFileTracker(stateDir string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, LedgerFile),
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriter(file)
	}

	return tracker, nil
}

func (f *FileTracker) Path() string {
	return f.path
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(text, &entry); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if entry.Hash == "" {
			continue
		}

		f.mu.Lock()
		f.imported[entry.Hash] = entry
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

// MarkImported records entry and, when persisting, appends it to the ledger
// and flushes so a crash after a successful merge is not forgotten.
func (f *FileTracker) MarkImported(entry Entry) error {
	if entry.Hash == "" {
		return nil
	}
	if err := f.MemoryTracker.MarkImported(entry); err != nil {
		return err
	}

	if !f.persist {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush state file: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil

	return firstErr
}

// HashSource returns the hex SHA-256 of a file's content. For a directory
// the relative path and content of every regular file are hashed in lexical
// order, so renaming or editing any file changes the result.
func HashSource(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	h := sha256.New()
	if !info.IsDir() {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk source: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		rel, err := filepath.Rel(path, file)
		if err != nil {
			return "", fmt.Errorf("relative path: %w", err)
		}
		fmt.Fprintf(h, "%d:%s\n", len(rel), filepath.ToSlash(rel))
		if err := hashFile(h, file); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("hash source: %w", err)
	}
	return nil
}
