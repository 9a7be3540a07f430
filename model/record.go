package model

import "strings"

// ListSeparator joins list values when a record is flattened.
const ListSeparator = "; "

// Field names every record carries, in the order they are written.
const (
	FieldSubject         = "subject"
	FieldFrom            = "from"
	FieldTo              = "to"
	FieldCc              = "cc"
	FieldDate            = "date"
	FieldAttachmentsSize = "attachments_size"
	FieldMessageTree     = "message_tree"
	FieldMessageStatus   = "message_status"
)

// CanonicalColumns returns the fixed leading columns of a report.
func CanonicalColumns() []string {
	return []string{
		FieldSubject,
		FieldFrom,
		FieldTo,
		FieldCc,
		FieldDate,
		FieldAttachmentsSize,
		FieldMessageTree,
		FieldMessageStatus,
	}
}

// Value is either a single string or an ordered list of strings.
type Value struct {
	items []string
	list  bool
}

func Scalar(s string) Value {
	return Value{items: []string{s}}
}

func List(items ...string) Value {
	return Value{items: append([]string(nil), items...), list: true}
}

func (v Value) IsList() bool {
	return v.list
}

// Items returns a copy of the underlying strings.
func (v Value) Items() []string {
	return append([]string(nil), v.items...)
}

// Append turns v into a list (if it is not one already) and adds s.
func (v Value) Append(s string) Value {
	return List(append(v.Items(), s)...)
}

func (v Value) String() string {
	if !v.list {
		if len(v.items) == 0 {
			return ""
		}
		return v.items[0]
	}
	return strings.Join(v.items, ListSeparator)
}

// Record is the metadata extracted for one message. Keys keep the order in
// which they were first set.
type Record struct {
	keys   []string
	values map[string]Value
}

func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

func (r *Record) Set(key string, v Value) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

func (r *Record) SetString(key, s string) {
	r.Set(key, Scalar(s))
}

func (r *Record) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Record) Len() int {
	return len(r.keys)
}

// Merge copies every field of other into r; existing keys are overwritten.
func (r *Record) Merge(other *Record) {
	if other == nil {
		return
	}
	for _, key := range other.keys {
		r.Set(key, other.values[key])
	}
}

// Flatten converts the record into a row of plain strings.
func (r *Record) Flatten() Row {
	row := make(Row, len(r.keys))
	for _, key := range r.keys {
		row[key] = r.values[key].String()
	}
	return row
}

// Row is a flattened record as stored in a report or archive.
type Row map[string]string

// Columns is an insertion-ordered set of column names.
type Columns struct {
	names []string
	index map[string]struct{}
}

func NewColumns(names ...string) *Columns {
	c := &Columns{index: make(map[string]struct{}, len(names))}
	c.Add(names...)
	return c
}

// Add appends names not yet present, keeping first-seen order.
func (c *Columns) Add(names ...string) {
	for _, name := range names {
		if _, ok := c.index[name]; ok {
			continue
		}
		c.index[name] = struct{}{}
		c.names = append(c.names, name)
	}
}

func (c *Columns) Contains(name string) bool {
	_, ok := c.index[name]
	return ok
}

func (c *Columns) Names() []string {
	return append([]string(nil), c.names...)
}

func (c *Columns) Len() int {
	return len(c.names)
}
