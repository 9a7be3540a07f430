// Package mbox walks mbox stores and turns every message into a report
// record.
package mbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	mboxlib "github.com/emersion/go-mbox"
)

// ErrNotMbox is returned for files that do not start with an mbox "From " line.
var ErrNotMbox = errors.New("not an mbox store")

var fromLine = []byte("From ")

// eachRaw calls fn with the raw bytes of every message in r, in file order.
// Blank lines before the first "From " line are ignored. An empty input
// yields no messages.
func eachRaw(r io.Reader, fn func(idx int, raw []byte) error) error {
	br := bufio.NewReader(r)
	if err := skipBlankLines(br); err != nil {
		return fmt.Errorf("read mbox: %w", err)
	}
	head, err := br.Peek(len(fromLine))
	if err != nil {
		if errors.Is(err, io.EOF) && len(head) == 0 {
			return nil
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read mbox: %w", err)
		}
	}
	if string(head) != string(fromLine) {
		return ErrNotMbox
	}

	reader := mboxlib.NewReader(br)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		if err := fn(idx, raw); err != nil {
			return err
		}
	}
}

func skipBlankLines(br *bufio.Reader) error {
	for {
		c, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if c != '\n' && c != '\r' {
			return br.UnreadByte()
		}
	}
}

// CountMessages counts the messages in the mbox file at path.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	count := 0
	err = eachRaw(file, func(int, []byte) error {
		count++
		return nil
	})
	if errors.Is(err, ErrNotMbox) {
		return 0, nil
	}
	return count, err
}

// Files lists the regular files below root in lexical order. A root that is
// itself a file is returned as the only entry.
func Files(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
