package detection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoFrame is returned by Runner.Frame before any frame has been captured.
var ErrNoFrame = errors.New("detection: no frame available")

// RunnerConfig controls the inference cadence.
type RunnerConfig struct {
	// Interval is the minimum time between inference starts.
	Interval time.Duration

	// FrameTimeout bounds a single frame capture.
	FrameTimeout time.Duration
}

// DefaultRunnerConfig returns a 4 Hz cadence.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval:     250 * time.Millisecond,
		FrameTimeout: 2 * time.Second,
	}
}

// Runner performs inference periodically and publishes each new Set.
// A tick is skipped while the previous frame is still being processed.
type Runner struct {
	engine Inferer
	source FrameSource
	config RunnerConfig
	logger *slog.Logger

	busy     atomic.Bool
	inflight sync.WaitGroup

	mu        sync.RWMutex
	latest    Set
	lastFrame []byte
	highlight string

	subsMu sync.RWMutex
	subs   []func(Set)
}

// NewRunner creates a runner over engine and source.
func NewRunner(engine Inferer, source FrameSource, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRunnerConfig().Interval
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultRunnerConfig().FrameTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine: engine,
		source: source,
		config: cfg,
		logger: logger.With("component", "detection.runner"),
	}
}

// OnDetections registers fn to receive every published Set.
// Callbacks run on the inference goroutine and must not block.
func (r *Runner) OnDetections(fn func(Set)) {
	r.subsMu.Lock()
	r.subs = append(r.subs, fn)
	r.subsMu.Unlock()
}

// Run ticks until ctx is done. It returns only after the frame in
// flight, if any, has been published.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()
	defer r.inflight.Wait()

	r.logger.Info("detection runner started", "interval", r.config.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.busy.CompareAndSwap(false, true) {
				continue
			}
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				defer r.busy.Store(false)
				r.Step(ctx)
			}()
		}
	}
}

// Busy reports whether a frame is currently being processed.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// Step captures one frame, runs inference and publishes the result.
// Any failure publishes an empty Set.
func (r *Runner) Step(ctx context.Context) Set {
	set := Set{At: time.Now()}

	frameCtx, cancel := context.WithTimeout(ctx, r.config.FrameTimeout)
	frame, err := r.source.Frame(frameCtx)
	cancel()

	switch {
	case err != nil:
		r.logger.Warn("frame capture failed", "error", err)
	case len(frame) == 0:
		r.logger.Debug("empty frame")
	default:
		r.mu.Lock()
		r.lastFrame = frame
		r.mu.Unlock()

		result, err := r.engine.Infer(frame)
		if err != nil {
			r.logger.Warn("inference failed, continuing without detections", "error", err)
		} else {
			set = result
			if set.At.IsZero() {
				set.At = time.Now()
			}
		}
	}

	r.mu.Lock()
	r.latest = set
	r.mu.Unlock()

	r.publish(set)
	return set
}

func (r *Runner) publish(set Set) {
	r.subsMu.RLock()
	subs := make([]func(Set), len(r.subs))
	copy(subs, r.subs)
	r.subsMu.RUnlock()

	for _, fn := range subs {
		fn(set.Clone())
	}
}

// Latest returns a copy of the most recent Set.
func (r *Runner) Latest() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest.Clone()
}

// Frame returns the last frame seen by the runner. It implements FrameSource
// so vision queries can reuse the frame the detections came from.
func (r *Runner) Frame(ctx context.Context) ([]byte, error) {
	r.mu.RLock()
	frame := r.lastFrame
	r.mu.RUnlock()
	if len(frame) == 0 {
		return nil, ErrNoFrame
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// HighlightClass marks a class as interesting. It is advisory only and does
// not change inference.
func (r *Runner) HighlightClass(name string) {
	r.mu.Lock()
	r.highlight = name
	r.mu.Unlock()
}

// Highlighted returns the class set by HighlightClass.
func (r *Runner) Highlighted() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.highlight
}
