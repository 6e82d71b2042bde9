package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"reelhouse/internal/media"
	"reelhouse/internal/observability/metrics"
)

// Runner executes the external encoder. It exists so tests can substitute the
// process boundary; execRunner is the production implementation.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stderr io.Writer) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = stderr
	// Give the process a moment to flush after the kill signal before the
	// pipe is torn down.
	cmd.WaitDelay = 5 * time.Second
	return cmd.Run()
}

// Result reports a successful packaging run.
type Result struct {
	ManifestPath string
	Elapsed      time.Duration
}

// Config controls the orchestrator. Zero values fall back to defaults.
type Config struct {
	FFmpegPath    string
	Ladder        Ladder
	Timeout       time.Duration
	MaxConcurrent int
	MaxQueued     int
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	Runner        Runner
}

const (
	defaultTimeout       = 30 * time.Minute
	defaultMaxConcurrent = 2
	defaultMaxQueued     = 16
	stderrTailLimit      = 4 * 1024
)

// Orchestrator drives one external encoding invocation per asset. It owns the
// subprocess lifecycle, the per-invocation timeout, the global concurrency
// cap, and per-asset serialization. It never retries.
type Orchestrator struct {
	ffmpeg  string
	ladder  Ladder
	timeout time.Duration
	runner  Runner
	logger  *slog.Logger
	metrics *metrics.Recorder

	sem       *semaphore.Weighted
	maxQueued int

	mu       sync.Mutex
	inFlight map[string]struct{}
	waiting  int
}

// New validates the configuration and constructs an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Ladder.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ladder: %w", err)
	}
	ffmpeg := strings.TrimSpace(cfg.FFmpegPath)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	maxQueued := cfg.MaxQueued
	if maxQueued < 0 {
		maxQueued = 0
	} else if maxQueued == 0 {
		maxQueued = defaultMaxQueued
	}
	runner := cfg.Runner
	if runner == nil {
		runner = execRunner{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ffmpeg:    ffmpeg,
		ladder:    cfg.Ladder,
		timeout:   timeout,
		runner:    runner,
		logger:    logger,
		metrics:   cfg.Metrics,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxQueued: maxQueued,
		inFlight:  make(map[string]struct{}),
	}, nil
}

// Ladder exposes the configured representation ladder.
func (o *Orchestrator) Ladder() Ladder {
	return o.ladder
}

// Run packages the original at inputPath into outputDir. The output directory
// must exist and be empty; on success it contains the manifest plus init and
// media segments for every representation the source supports.
//
// Admission rules: at most one in-flight job per asset (ErrAssetBusy), a
// global cap on running jobs with FIFO-fair queuing, and a bounded queue
// (ErrQueueFull) as backpressure.
func (o *Orchestrator) Run(ctx context.Context, assetID, inputPath, outputDir string) (Result, error) {
	if err := o.admit(ctx, assetID); err != nil {
		return Result{}, err
	}
	defer o.release(assetID)

	if err := checkInput(inputPath); err != nil {
		return Result{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	args := buildArgs(inputPath, outputDir, o.ladder)
	tail := newTailWriter(stderrTailLimit)
	logger := o.logger.With("asset_id", assetID)
	logger.Debug("starting encoder", "command", sanitizeForLog(o.ffmpeg, args))

	o.metrics.TranscodeStarted()
	start := time.Now()
	err := o.runner.Run(runCtx, o.ffmpeg, args, tail)
	elapsed := time.Since(start)
	o.metrics.TranscodeFinished(elapsed)

	if err != nil {
		encErr := classify(runCtx, ctx, err, tail.Tail())
		logger.Error("encoder failed",
			"kind", string(encErr.Kind),
			"elapsed", elapsed.Round(time.Millisecond).String(),
			"detail", encErr.Detail,
		)
		return Result{}, encErr
	}

	logger.Info("encoder completed", "elapsed", elapsed.Round(time.Millisecond).String())
	return Result{
		ManifestPath: filepath.Join(outputDir, media.ManifestName),
		Elapsed:      elapsed,
	}, nil
}

// InFlight reports whether a job for the asset is currently admitted.
func (o *Orchestrator) InFlight(assetID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[assetID]
	return ok
}

func (o *Orchestrator) admit(ctx context.Context, assetID string) error {
	o.mu.Lock()
	if _, busy := o.inFlight[assetID]; busy {
		o.mu.Unlock()
		return ErrAssetBusy
	}
	o.inFlight[assetID] = struct{}{}

	if o.sem.TryAcquire(1) {
		o.mu.Unlock()
		return nil
	}
	if o.waiting >= o.maxQueued {
		delete(o.inFlight, assetID)
		o.mu.Unlock()
		return ErrQueueFull
	}
	o.waiting++
	o.mu.Unlock()

	o.metrics.TranscodeQueued()
	err := o.sem.Acquire(ctx, 1)
	o.metrics.TranscodeDequeued()

	o.mu.Lock()
	o.waiting--
	if err != nil {
		delete(o.inFlight, assetID)
		o.mu.Unlock()
		return &EncodingError{Kind: KindCancelled, Err: err}
	}
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) release(assetID string) {
	o.sem.Release(1)
	o.mu.Lock()
	delete(o.inFlight, assetID)
	o.mu.Unlock()
}

func checkInput(inputPath string) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		return &EncodingError{Kind: KindInputUnreadable, Err: fmt.Errorf("stat input: %w", err)}
	}
	if info.IsDir() || info.Size() == 0 {
		return &EncodingError{Kind: KindInputUnreadable, Err: fmt.Errorf("input %s is empty", inputPath)}
	}
	return nil
}

// classify maps a process failure onto the error taxonomy. The encoder's
// stderr is recorded as diagnostic detail; the only content-based decision is
// recognizing undecodable input.
func classify(runCtx, parentCtx context.Context, err error, tail string) *EncodingError {
	switch {
	case parentCtx.Err() != nil && errors.Is(parentCtx.Err(), context.Canceled):
		return &EncodingError{Kind: KindCancelled, Detail: tail, Err: err}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return &EncodingError{Kind: KindTimeout, Detail: tail, Err: err}
	case strings.Contains(tail, "Invalid data found when processing input"):
		return &EncodingError{Kind: KindInputUnreadable, Detail: tail, Err: err}
	default:
		return &EncodingError{Kind: KindEncoderCrashed, Detail: tail, Err: err}
	}
}

// tailWriter keeps the last limit bytes written to it. ffmpeg is chatty and
// only the end of its stderr is useful for diagnostics.
type tailWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func newTailWriter(limit int) *tailWriter {
	return &tailWriter{limit: limit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if w.buf.Len() > w.limit {
		excess := w.buf.Len() - w.limit
		w.buf.Next(excess)
	}
	return len(p), nil
}

func (w *tailWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(w.buf.String())
}
