// Package textutil decodes header text into valid UTF-8.
package textutil

import (
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(strings.ToLower(strings.TrimSpace(charset)))
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// DecodeHeader decodes RFC 2047 encoded words in a header value. Values that
// cannot be decoded are returned as-is after UTF-8 repair.
func DecodeHeader(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		decoded = s
	}
	return EnsureUTF8(decoded)
}

// EnsureUTF8 returns s unchanged when it is valid UTF-8. Otherwise the
// charset is guessed and converted, falling back to Windows-1252 and finally
// to replacing invalid bytes.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	data := []byte(s)
	detector := chardet.NewTextDetector()
	if result, err := detector.DetectBest(data); err == nil && result.Confidence >= 50 {
		if enc, err := htmlindex.Get(strings.ToLower(result.Charset)); err == nil {
			if out, ok := convert(enc, data); ok {
				return out
			}
		}
	}

	if out, ok := convert(charmap.Windows1252, data); ok {
		return out
	}

	return strings.ToValidUTF8(s, "�")
}

func convert(enc encoding.Encoding, data []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}
