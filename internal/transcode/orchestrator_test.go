package transcode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelhouse/internal/observability/logging"
)

type fakeRunner struct {
	fn func(ctx context.Context, name string, args []string, stderr io.Writer) error
}

func (f fakeRunner) Run(ctx context.Context, name string, args []string, stderr io.Writer) error {
	return f.fn(ctx, name, args, stderr)
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(path, []byte("not really media, but non-empty"), 0o644); err != nil {
		t.Fatalf("seed input: %v", err)
	}
	return path
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Ladder.Video == nil {
		cfg.Ladder = DefaultLadder()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	orch, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return orch
}

func TestRunSuccessReturnsManifestPath(t *testing.T) {
	input := writeInput(t)
	outDir := t.TempDir()
	orch := newTestOrchestrator(t, Config{
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			return nil
		}},
	})

	result, err := orch.Run(context.Background(), "asset-1", input, outDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ManifestPath != filepath.Join(outDir, "manifest.mpd") {
		t.Fatalf("manifest path = %q", result.ManifestPath)
	}
	if orch.InFlight("asset-1") {
		t.Fatal("asset should be released after completion")
	}
}

func TestRunMissingInputClassifiedUnreadable(t *testing.T) {
	orch := newTestOrchestrator(t, Config{
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			t.Fatal("encoder must not start for a missing input")
			return nil
		}},
	})

	_, err := orch.Run(context.Background(), "asset-1", filepath.Join(t.TempDir(), "absent.mp4"), t.TempDir())
	encErr, ok := AsEncodingError(err)
	if !ok || encErr.Kind != KindInputUnreadable {
		t.Fatalf("expected input_unreadable, got %v", err)
	}
}

func TestRunEmptyInputClassifiedUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.mp4")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	orch := newTestOrchestrator(t, Config{
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			return nil
		}},
	})

	_, err := orch.Run(context.Background(), "asset-1", path, t.TempDir())
	encErr, ok := AsEncodingError(err)
	if !ok || encErr.Kind != KindInputUnreadable {
		t.Fatalf("expected input_unreadable, got %v", err)
	}
}

func TestRunCorruptInputClassifiedFromDiagnostics(t *testing.T) {
	orch := newTestOrchestrator(t, Config{
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			io.WriteString(stderr, "whatever.mp4: Invalid data found when processing input\n")
			return errors.New("exit status 1")
		}},
	})

	_, err := orch.Run(context.Background(), "asset-1", writeInput(t), t.TempDir())
	encErr, ok := AsEncodingError(err)
	if !ok || encErr.Kind != KindInputUnreadable {
		t.Fatalf("expected input_unreadable, got %v", err)
	}
}

func TestRunCrashCapturesStderrTail(t *testing.T) {
	orch := newTestOrchestrator(t, Config{
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			io.WriteString(stderr, "Error while opening encoder for output stream\n")
			return errors.New("exit status 1")
		}},
	})

	_, err := orch.Run(context.Background(), "asset-1", writeInput(t), t.TempDir())
	encErr, ok := AsEncodingError(err)
	if !ok || encErr.Kind != KindEncoderCrashed {
		t.Fatalf("expected encoder_crashed, got %v", err)
	}
	if encErr.Detail == "" {
		t.Fatal("diagnostic detail should carry the stderr tail")
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	orch := newTestOrchestrator(t, Config{
		Timeout: 20 * time.Millisecond,
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			<-ctx.Done()
			return errors.New("signal: killed")
		}},
	})

	_, err := orch.Run(context.Background(), "asset-1", writeInput(t), t.TempDir())
	encErr, ok := AsEncodingError(err)
	if !ok || encErr.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRunCancellationClassified(t *testing.T) {
	started := make(chan struct{})
	orch := newTestOrchestrator(t, Config{
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			close(started)
			<-ctx.Done()
			return errors.New("signal: killed")
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := orch.Run(ctx, "asset-1", writeInput(t), t.TempDir())
	encErr, ok := AsEncodingError(err)
	if !ok || encErr.Kind != KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestPerAssetSerialization(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	orch := newTestOrchestrator(t, Config{
		MaxConcurrent: 4,
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		}},
	})

	input := writeInput(t)
	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(context.Background(), "asset-1", input, t.TempDir())
		done <- err
	}()
	<-started

	_, err := orch.Run(context.Background(), "asset-1", input, t.TempDir())
	if !errors.Is(err, ErrAssetBusy) {
		t.Fatalf("second job for the same asset should be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first job failed: %v", err)
	}
}

func TestGlobalCapAndBoundedQueue(t *testing.T) {
	const maxRunning = 2
	release := make(chan struct{})
	var active, peak atomic.Int64
	orch := newTestOrchestrator(t, Config{
		MaxConcurrent: maxRunning,
		MaxQueued:     1,
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			current := active.Add(1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}
			<-release
			active.Add(-1)
			return nil
		}},
	})

	input := writeInput(t)
	var wg sync.WaitGroup
	runAsset := func(id string) chan error {
		out := make(chan error, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orch.Run(context.Background(), id, input, t.TempDir())
			out <- err
		}()
		return out
	}

	first := runAsset("asset-1")
	second := runAsset("asset-2")

	// Wait until both runners are inside the encoder.
	deadline := time.After(2 * time.Second)
	for active.Load() != maxRunning {
		select {
		case <-deadline:
			t.Fatal("encoders never reached the cap")
		case <-time.After(time.Millisecond):
		}
	}

	third := runAsset("asset-3")
	// Give the third job time to enter the queue.
	time.Sleep(20 * time.Millisecond)

	_, err := orch.Run(context.Background(), "asset-4", input, t.TempDir())
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("fourth job should hit backpressure, got %v", err)
	}

	close(release)
	for _, ch := range []chan error{first, second, third} {
		if err := <-ch; err != nil {
			t.Fatalf("queued job failed: %v", err)
		}
	}
	wg.Wait()

	if got := peak.Load(); got > maxRunning {
		t.Fatalf("in-flight encoders exceeded cap: %d > %d", got, maxRunning)
	}
}

func TestQueuedJobCancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	orch := newTestOrchestrator(t, Config{
		MaxConcurrent: 1,
		MaxQueued:     4,
		Runner: fakeRunner{fn: func(ctx context.Context, name string, args []string, stderr io.Writer) error {
			close(started)
			<-release
			return nil
		}},
	})

	input := writeInput(t)
	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(context.Background(), "asset-1", input, t.TempDir())
		done <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan error, 1)
	go func() {
		_, err := orch.Run(ctx, "asset-2", input, t.TempDir())
		queued <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-queued
	encErr, ok := AsEncodingError(err)
	if !ok || encErr.Kind != KindCancelled {
		t.Fatalf("expected cancelled while queued, got %v", err)
	}
	if orch.InFlight("asset-2") {
		t.Fatal("cancelled waiter should be unregistered")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("running job failed: %v", err)
	}
}

func TestTailWriterKeepsOnlyTail(t *testing.T) {
	w := newTailWriter(8)
	io.WriteString(w, "0123456789abcdef")
	if got := w.Tail(); got != "89abcdef" {
		t.Fatalf("tail = %q", got)
	}
}
