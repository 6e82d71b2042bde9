// Package thumbnail produces the single best-effort still image stored next
// to an asset's original. Failures here are reported to the caller but must
// never fail an ingestion.
package thumbnail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

const (
	// Width and Height are the fixed thumbnail dimensions.
	Width  = 320
	Height = 240

	// captureOffset is how far into the source the frame is grabbed;
	// skipping the very first frame avoids black lead-ins.
	captureOffset = "00:00:01"

	defaultTimeout = 30 * time.Second
	jpegQuality    = 85
)

// Runner executes the frame-grab process; tests substitute it.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stderr io.Writer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = stderr
	return cmd.Run()
}

// Config controls the generator. Zero values fall back to defaults.
type Config struct {
	FFmpegPath string
	Timeout    time.Duration
	Logger     *slog.Logger
	Runner     Runner
}

// Generator extracts one frame from a source via ffmpeg and scales it to the
// fixed thumbnail size.
type Generator struct {
	ffmpeg  string
	timeout time.Duration
	logger  *slog.Logger
	runner  Runner
}

// New constructs a Generator.
func New(cfg Config) *Generator {
	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = execRunner{}
	}
	return &Generator{ffmpeg: ffmpeg, timeout: timeout, logger: logger, runner: runner}
}

// Generate writes a JPEG thumbnail for the media at inputPath to outputPath.
// The frame is staged as PNG in a scratch directory, then resized and
// re-encoded so the on-disk result always has the fixed dimensions.
func (g *Generator) Generate(ctx context.Context, inputPath, outputPath string) error {
	scratch, err := os.MkdirTemp(filepath.Dir(outputPath), ".thumb-*")
	if err != nil {
		return fmt.Errorf("stage thumbnail: %w", err)
	}
	defer os.RemoveAll(scratch)

	framePath := filepath.Join(scratch, "frame.png")
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	args := []string{
		"-y",
		"-ss", captureOffset,
		"-i", inputPath,
		"-frames:v", "1",
		framePath,
	}
	var stderr strings.Builder
	if err := g.runner.Run(runCtx, g.ffmpeg, args, &stderr); err != nil {
		g.logger.Debug("frame grab failed", "input", inputPath, "stderr", strings.TrimSpace(stderr.String()))
		return fmt.Errorf("grab frame: %w", err)
	}

	frame, err := imaging.Open(framePath)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	scaled := imaging.Fill(frame, Width, Height, imaging.Center, imaging.Lanczos)
	if err := imaging.Save(scaled, outputPath, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return nil
}
