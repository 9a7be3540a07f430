// Package convert turns PST/OST files into mbox stores by running an
// external converter.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ErrConversionFailed is returned when the converter exits unsuccessfully.
var ErrConversionFailed = errors.New("pst conversion failed")

// DefaultBinary is the converter executable from libpst.
const DefaultBinary = "readpst"

// Converter writes the mbox stores for one source file into outputDir.
type Converter interface {
	Convert(ctx context.Context, source, outputDir string) error
}

type ReadPST struct {
	binary string
	args   []string
	logger *slog.Logger
}

// NewReadPST returns a converter that runs binary (readpst by default) with
// extra arguments placed before the output flag.
func NewReadPST(binary string, extraArgs []string, logger *slog.Logger) *ReadPST {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	return &ReadPST{binary: binary, args: extraArgs, logger: logger}
}

func (r *ReadPST) Convert(ctx context.Context, source, outputDir string) error {
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	args := append(append([]string(nil), r.args...), "-o", outputDir, source)
	cmd := exec.CommandContext(ctx, r.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if r.logger != nil {
		r.logger.Info("converting mailbox", "source", source, "output", outputDir, "converter", r.binary)
	}

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%w: %s %s: %v: %s", ErrConversionFailed, r.binary, source, err, msg)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrConversionFailed, r.binary, source, err)
	}
	return nil
}
