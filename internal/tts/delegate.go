package tts

import (
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
)

// NewDelegate builds the delegate selected by cfg.Backend. Per-call
// timeouts are applied by the Engine, not the delegate.
func NewDelegate(cfg config.ModelConfig, log *logger.Logger) (core.Synthesizer, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return NewHTTPClient(cfg.ServiceURL, cfg.ModelName, 0), nil
	case config.BackendCommand:
		return NewCommandSynthesizer(cfg.BinaryPath, cfg.ModelName, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
}
