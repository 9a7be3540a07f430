// Package header decodes transport header blocks that carry nested
// "Key: value" pairs, such as the X-Transport field written by some PST
// exporters.
package header

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/mail-archiver/model"
)

// ErrOrphanContinuation marks a value line that appeared before any key.
var ErrOrphanContinuation = errors.New("continuation line without a preceding key")

var keyPattern = regexp.MustCompile(`^([A-Za-z-]+):(.*)$`)

// Fields is the decoded content of a transport header block.
type Fields struct {
	keys   []string
	values map[string]model.Value
}

func (f *Fields) add(key, value string) {
	if f.values == nil {
		f.values = make(map[string]model.Value)
	}
	existing, ok := f.values[key]
	if !ok {
		f.keys = append(f.keys, key)
		f.values[key] = model.Scalar(value)
		return
	}
	f.values[key] = existing.Append(value)
}

// Keys returns the decoded keys in first-seen order.
func (f Fields) Keys() []string {
	return append([]string(nil), f.keys...)
}

func (f Fields) Get(key string) (model.Value, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f Fields) Len() int {
	return len(f.keys)
}

// Decode parses lines of "Key: value" pairs. Keys are lower-cased; a key
// seen more than once accumulates its values into a list. Lines without a
// key are values of the last key seen. Lines that precede every key are
// skipped and reported as ErrOrphanContinuation; the fields decoded from the
// remaining lines are returned alongside the error.
func Decode(lines []string) (Fields, error) {
	var (
		fields  Fields
		key     string
		orphans []error
	)

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		value := line
		if m := keyPattern.FindStringSubmatch(line); m != nil {
			key = strings.ToLower(strings.TrimSpace(m[1]))
			value = strings.TrimSpace(m[2])
		} else if key == "" {
			orphans = append(orphans, fmt.Errorf("%w: %q", ErrOrphanContinuation, line))
			continue
		}

		fields.add(key, value)
	}

	return fields, errors.Join(orphans...)
}

// Lines splits one raw header field into the lines of its value. The field
// name and the colon that follows it are dropped; folded lines become
// separate entries.
func Lines(raw []byte) []string {
	if idx := bytes.IndexByte(raw, ':'); idx >= 0 {
		raw = raw[idx+1:]
	}

	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
