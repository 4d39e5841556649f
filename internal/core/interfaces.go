// Package core defines the core business logic and interfaces for the TTS gateway.
package core

import (
	"context"
	"io"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SynthesisParams holds the generation parameters for a single synthesis call.
// Seed is nil when the caller did not ask for a reproducible run.
type SynthesisParams struct {
	Temperature   float64
	GuidanceScale float64
	TopP          float64
	TopK          int
	Seed          *int
	MaxNewTokens  int
}

// Synthesizer is the opaque speech model: it turns a prompt into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string, params SynthesisParams) ([]byte, error)
}

// HealthChecker is implemented by synthesizers that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DurationProber reports the playback length of an audio file in seconds.
// The extension selects the container format.
type DurationProber interface {
	Probe(r io.ReadSeeker, ext string) (float64, error)
}

// Readiness is implemented by components that start unavailable and become
// usable later, such as the engine handle.
type Readiness interface {
	Ready() bool
}
