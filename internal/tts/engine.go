package tts

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/metrics"
	"golang.org/x/sync/semaphore"
)

const (
	// HealthCheckTimeout bounds a single readiness probe.
	HealthCheckTimeout = 10 * time.Second

	defaultProbeInterval = 15 * time.Second
	defaultMaxConcurrent = 1
)

// ErrSynthesisTimeout is returned when the delegate exceeds the engine timeout.
var ErrSynthesisTimeout = errors.New("synthesis timed out")

// EngineOptions tunes an Engine.
type EngineOptions struct {
	// MaxConcurrent is the number of delegate calls allowed at once.
	MaxConcurrent int64
	// Timeout bounds one delegate call. Zero means no bound.
	Timeout time.Duration
	// ProbeInterval is the delay between readiness probes.
	ProbeInterval time.Duration
}

// Engine is the handle through which all synthesis reaches the delegate.
// It starts not ready; Run probes the delegate and flips readiness. Calls
// made while not ready fail with core.ErrEngineUnavailable.
type Engine struct {
	delegate core.Synthesizer
	slots    *semaphore.Weighted
	opts     EngineOptions
	ready    atomic.Bool
	metrics  *metrics.Collector
	logger   *logger.Logger
}

// NewEngine wraps delegate. collector may be nil.
func NewEngine(delegate core.Synthesizer, opts EngineOptions, collector *metrics.Collector, log *logger.Logger) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}

	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = defaultProbeInterval
	}

	engine := &Engine{
		delegate: delegate,
		slots:    semaphore.NewWeighted(opts.MaxConcurrent),
		opts:     opts,
		ready:    atomic.Bool{},
		metrics:  collector,
		logger:   log,
	}
	collector.SetEngineReady(false)

	return engine
}

// Ready reports whether the engine accepts work.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// SetReady forces readiness. Run manages it in normal operation.
func (e *Engine) SetReady(ready bool) {
	previous := e.ready.Swap(ready)
	if previous == ready {
		return
	}

	e.metrics.SetEngineReady(ready)

	if ready {
		e.logger.Info("TTS engine is ready")
	} else {
		e.logger.Warn("TTS engine is no longer ready")
	}
}

// Run probes the delegate until ctx is cancelled. A delegate without a
// health check is considered ready immediately. Run always returns nil once
// ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	checker, ok := e.delegate.(core.HealthChecker)
	if !ok {
		e.SetReady(true)
		<-ctx.Done()

		return nil
	}

	ticker := time.NewTicker(e.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		e.probe(ctx, checker)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) probe(ctx context.Context, checker core.HealthChecker) {
	probeCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := checker.HealthCheck(probeCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		if e.Ready() {
			e.logger.Error("TTS engine health check failed: %v", err)
		}

		e.SetReady(false)

		return
	}

	e.SetReady(true)
}

// Synthesize runs the delegate inside a concurrency slot. Waiting for the
// slot honors ctx; the delegate call itself is detached from ctx
// cancellation and bounded only by the engine timeout, so an abandoned
// request does not abort a synthesis already underway.
func (e *Engine) Synthesize(ctx context.Context, prompt string, params core.SynthesisParams) ([]byte, error) {
	if !e.Ready() {
		e.metrics.SynthesisRejected(metrics.OutcomeUnavailable)

		return nil, core.ErrEngineUnavailable
	}

	err := e.slots.Acquire(ctx, 1)
	if err != nil {
		e.metrics.SynthesisRejected(metrics.OutcomeRejected)

		return nil, fmt.Errorf("waiting for synthesis slot: %w", err)
	}
	defer e.slots.Release(1)

	callCtx := context.WithoutCancel(ctx)

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(callCtx, e.opts.Timeout)
		defer cancel()
	}

	e.metrics.SynthesisStarted()
	start := time.Now()

	audio, err := e.delegate.Synthesize(callCtx, prompt, params)

	elapsed := time.Since(start)

	switch {
	case err == nil:
		e.metrics.SynthesisFinished(metrics.OutcomeSuccess, elapsed)

		return audio, nil
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		e.metrics.SynthesisFinished(metrics.OutcomeTimeout, elapsed)

		return nil, fmt.Errorf("%w after %s: %w", ErrSynthesisTimeout, e.opts.Timeout, err)
	default:
		e.metrics.SynthesisFinished(metrics.OutcomeError, elapsed)

		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
}
