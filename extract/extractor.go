// Package extract turns a parsed email message into a flat metadata record.
package extract

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/emersion/go-message"

	"github.com/dhcgn/mail-archiver/header"
	"github.com/dhcgn/mail-archiver/model"
	"github.com/dhcgn/mail-archiver/textutil"
)

// NotAvailable is recorded for fixed attributes missing from a message.
const NotAvailable = "N/A"

// DefaultTransportHeader is the header whose nested pairs become extra columns.
const DefaultTransportHeader = "X-Transport"

// collisionPrefix is prepended to transport keys that clash with fixed columns.
const collisionPrefix = "transport-"

var fixedAttributes = []struct {
	field  string
	header string
}{
	{model.FieldSubject, "Subject"},
	{model.FieldFrom, "From"},
	{model.FieldTo, "To"},
	{model.FieldCc, "Cc"},
	{model.FieldDate, "Date"},
}

type Options struct {
	TransportHeader string
}

type Extractor struct {
	transportHeader string
	reserved        map[string]struct{}
	logger          *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Extractor {
	name := strings.TrimSpace(opts.TransportHeader)
	if name == "" {
		name = DefaultTransportHeader
	}
	reserved := make(map[string]struct{})
	for _, column := range model.CanonicalColumns() {
		reserved[column] = struct{}{}
	}
	return &Extractor{transportHeader: name, reserved: reserved, logger: logger}
}

// Extract reads the fixed attributes, the decoded transport header and the
// total attachment size of entity. The entity body is consumed.
func (e *Extractor) Extract(entity *message.Entity) *model.Record {
	record := model.NewRecord()

	for _, attr := range fixedAttributes {
		record.SetString(attr.field, HeaderText(&entity.Header, attr.header, NotAvailable))
	}

	e.mergeTransport(record, &entity.Header)

	record.SetString(model.FieldAttachmentsSize, strconv.FormatInt(e.AttachmentsSize(entity), 10))
	return record
}

// HeaderText returns the unfolded, RFC 2047-decoded value of key, or def when
// the header is absent.
func HeaderText(h *message.Header, key, def string) string {
	if !h.Has(key) {
		return def
	}
	return textutil.DecodeHeader(unfold(h.Get(key)))
}

func unfold(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.TrimSpace(s)
}

func (e *Extractor) mergeTransport(record *model.Record, h *message.Header) {
	var lines []string
	fields := h.FieldsByKey(e.transportHeader)
	for fields.Next() {
		raw, err := fields.Raw()
		if err != nil {
			e.debug("transport header unreadable", "header", e.transportHeader, "err", err)
			continue
		}
		lines = append(lines, header.Lines(raw)...)
	}
	if len(lines) == 0 {
		return
	}

	decoded, err := header.Decode(lines)
	if err != nil {
		e.debug("transport header lines skipped", "header", e.transportHeader, "err", err)
	}

	for _, key := range decoded.Keys() {
		value, _ := decoded.Get(key)
		if _, clash := e.reserved[key]; clash {
			key = collisionPrefix + key
		}
		record.Set(key, value)
	}
}

// AttachmentsSize sums the decoded payload length of every part that names a
// file. Parts whose payload cannot be decoded contribute nothing.
func (e *Extractor) AttachmentsSize(entity *message.Entity) int64 {
	var total int64

	err := entity.Walk(func(path []int, part *message.Entity, err error) error {
		if part == nil {
			return nil
		}
		name := Filename(&part.Header)
		if name == "" {
			return nil
		}
		if err != nil && !message.IsUnknownCharset(err) {
			e.debug("attachment payload not decodable", "filename", name, "path", path, "err", err)
			return nil
		}

		mediaType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		n, err := io.Copy(io.Discard, part.Body)
		if err != nil {
			e.debug("attachment payload not decodable", "filename", name, "path", path, "err", err)
			return nil
		}
		total += n
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		e.debug("mime walk stopped early", "err", err, "attachmentsSize", total)
	}

	return total
}

// Filename returns the file name a part declares through Content-Disposition
// or, failing that, the Content-Type name parameter.
func Filename(h *message.Header) string {
	if _, params, err := h.ContentDisposition(); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	if _, params, err := h.ContentType(); err == nil {
		if name := strings.TrimSpace(params["name"]); name != "" {
			return name
		}
	}
	return ""
}

func (e *Extractor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}
