package synthesis

import (
	"fmt"
	"strings"

	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
)

// Parameter bounds, inclusive.
const (
	MinTemperature   = 0.1
	MaxTemperature   = 2.0
	MinGuidanceScale = 1.0
	MaxGuidanceScale = 10.0
	MinTopP          = 0.1
	MaxTopP          = 1.0
	MinTopK          = 1
	MaxTopK          = 100

	// MaxBatchItems is the largest accepted batch.
	MaxBatchItems = config.MaxBatchItems
)

const (
	errFmtOutOfRange = "%w: %s must be between %v and %v, got %v"
	previewRunes     = 50
	previewSuffix    = "..."
)

// Request is one synthesis job. Nil parameters take the configured defaults.
type Request struct {
	Text          string   `json:"text"`
	VoiceID       string   `json:"voice_id,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	GuidanceScale *float64 `json:"guidance_scale,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
}

// Parameters are the resolved generation parameters echoed in metadata.
type Parameters struct {
	Temperature   float64 `json:"temperature"`
	GuidanceScale float64 `json:"guidance_scale"`
	TopP          float64 `json:"top_p"`
	TopK          int     `json:"top_k"`
	Seed          *int    `json:"seed"`
}

// Defaults supplies values for parameters a request leaves unset.
type Defaults struct {
	Temperature   float64
	GuidanceScale float64
	TopP          float64
	TopK          int
	MaxNewTokens  int
}

// resolve fills unset parameters from d and checks every bound.
func (r Request) resolve(d Defaults) (Parameters, error) {
	if strings.TrimSpace(r.Text) == "" {
		return Parameters{}, fmt.Errorf("%w: text cannot be empty", core.ErrValidation)
	}

	p := Parameters{
		Temperature:   valueOr(r.Temperature, d.Temperature),
		GuidanceScale: valueOr(r.GuidanceScale, d.GuidanceScale),
		TopP:          valueOr(r.TopP, d.TopP),
		TopK:          valueOr(r.TopK, d.TopK),
		Seed:          r.Seed,
	}

	if p.Temperature < MinTemperature || p.Temperature > MaxTemperature {
		return Parameters{}, fmt.Errorf(errFmtOutOfRange, core.ErrValidation, "temperature", MinTemperature, MaxTemperature, p.Temperature)
	}

	if p.GuidanceScale < MinGuidanceScale || p.GuidanceScale > MaxGuidanceScale {
		return Parameters{}, fmt.Errorf(errFmtOutOfRange, core.ErrValidation, "guidance_scale", MinGuidanceScale, MaxGuidanceScale, p.GuidanceScale)
	}

	if p.TopP < MinTopP || p.TopP > MaxTopP {
		return Parameters{}, fmt.Errorf(errFmtOutOfRange, core.ErrValidation, "top_p", MinTopP, MaxTopP, p.TopP)
	}

	if p.TopK < MinTopK || p.TopK > MaxTopK {
		return Parameters{}, fmt.Errorf(errFmtOutOfRange, core.ErrValidation, "top_k", MinTopK, MaxTopK, p.TopK)
	}

	return p, nil
}

func (p Parameters) synthesisParams(maxNewTokens int) core.SynthesisParams {
	return core.SynthesisParams{
		Temperature:   p.Temperature,
		GuidanceScale: p.GuidanceScale,
		TopP:          p.TopP,
		TopK:          p.TopK,
		Seed:          p.Seed,
		MaxNewTokens:  maxNewTokens,
	}
}

func valueOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}

	return *v
}

// preview returns the first 50 runes of text followed by "...".
func preview(text string) string {
	runes := []rune(text)
	if len(runes) > previewRunes {
		runes = runes[:previewRunes]
	}

	return string(runes) + previewSuffix
}
