package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script converter not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-readpst")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadPST_Success(t *testing.T) {
	// Arguments arrive as: -o <dir> <source>.
	script := writeScript(t, "printf 'From a@b Mon Jan  2 15:04:05 2006\\nSubject: x\\n\\nbody\\n' > \"$2/Inbox\"\n")
	source := filepath.Join(t.TempDir(), "mail.pst")
	if err := os.WriteFile(source, []byte("pst"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "converted")

	if err := NewReadPST(script, nil, nil).Convert(context.Background(), source, out); err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "Inbox")); err != nil {
		t.Errorf("expected converter output: %v", err)
	}
}

func TestReadPST_NonZeroExit(t *testing.T) {
	script := writeScript(t, "echo 'broken pst' >&2\nexit 3\n")
	source := filepath.Join(t.TempDir(), "mail.pst")
	if err := os.WriteFile(source, []byte("pst"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := NewReadPST(script, nil, nil).Convert(context.Background(), source, t.TempDir())
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("Convert() error = %v, want ErrConversionFailed", err)
	}
}

func TestReadPST_MissingSource(t *testing.T) {
	err := NewReadPST("readpst", nil, nil).Convert(context.Background(), filepath.Join(t.TempDir(), "nope.pst"), t.TempDir())
	if !errors.Is(err, ErrConversionFailed) {
		t.Fatalf("Convert() error = %v, want ErrConversionFailed", err)
	}
}
