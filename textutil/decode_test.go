package textutil

import (
	"testing"
	"unicode/utf8"
)

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello world", "Hello world"},
		{"utf-8 q", "=?UTF-8?Q?Gr=C3=BC=C3=9Fe?=", "Grüße"},
		{"latin1 b", "=?ISO-8859-1?B?R3L832U=?=", "Grüße"},
		{"windows-1252 q", "=?windows-1252?Q?caf=E9?=", "café"},
		{"unknown charset kept", "=?x-bogus?Q?abc?=", "=?x-bogus?Q?abc?="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeHeader(tt.in); got != tt.want {
				t.Errorf("DecodeHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnsureUTF8(t *testing.T) {
	if got := EnsureUTF8("already fine"); got != "already fine" {
		t.Errorf("EnsureUTF8 changed valid input: %q", got)
	}

	got := EnsureUTF8("caf\xe9")
	if !utf8.ValidString(got) {
		t.Errorf("EnsureUTF8 returned invalid UTF-8: %q", got)
	}
}
