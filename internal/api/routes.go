package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/artifacts"
	"github.com/book-expert/tts-gateway/internal/auth"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/metrics"
	"github.com/book-expert/tts-gateway/internal/synthesis"
)

// ServiceName identifies the gateway in health responses.
const ServiceName = "tts-gateway"

// Options configures the router.
type Options struct {
	APIPrefix          string
	OutputsURLPrefix   string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	MaxUploadBytes     int64
	Service            string
	Version            string
}

// OptionsFromConfig derives router options from the service configuration.
func OptionsFromConfig(cfg *config.Config, version string) Options {
	return Options{
		APIPrefix:          cfg.APIPrefix(),
		OutputsURLPrefix:   cfg.Paths.OutputsURLPrefix,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitRPS:       cfg.Server.RateLimitRPS,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
		MaxUploadBytes:     cfg.Server.MaxUploadBytes(),
		Service:            ServiceName,
		Version:            version,
	}
}

// NewRouter builds the full HTTP handler. ctx bounds background work owned by
// the middleware.
func NewRouter(
	ctx context.Context,
	opts Options,
	orch *synthesis.Orchestrator,
	store *artifacts.Store,
	gate *auth.Gate,
	collector *metrics.Collector,
	log *logger.Logger,
) http.Handler {
	if opts.Service == "" {
		opts.Service = ServiceName
	}

	h := NewHandler(orch, store, gate, opts, log)
	mux := http.NewServeMux()
	requireAuth := Authenticate(gate, log)

	handle := func(pattern string, fn http.HandlerFunc, protected bool) {
		var handler http.Handler = fn
		if protected {
			handler = requireAuth(handler)
		}

		mux.Handle(pattern, Instrument(collector, pattern)(handler))
	}

	p := opts.APIPrefix

	handle("POST "+p+"/tts/generate", h.Generate, true)
	handle("POST "+p+"/tts/batch", h.Batch, true)
	handle("GET "+p+"/tts/download/{filename}", h.Download, true)
	handle("DELETE "+p+"/tts/audio/{filename}", h.DeleteAudio, true)
	handle("GET "+p+"/tts/list", h.List, true)
	handle("POST "+p+"/voices/clone", h.CloneVoice, true)
	handle("GET "+p+"/voices/list", h.ListVoices, true)
	handle("GET "+p+"/voices/{id}", h.GetVoice, true)
	handle("DELETE "+p+"/voices/{id}", h.DeleteVoice, true)
	handle("POST "+p+"/auth/token", h.IssueToken, false)
	handle("GET /health", h.Health, false)

	if opts.OutputsURLPrefix != "" {
		outputs := strings.TrimRight(opts.OutputsURLPrefix, "/") + "/"
		files := http.StripPrefix(outputs, noDirectoryListing(http.FileServer(http.Dir(store.Dir()))))
		mux.Handle("GET "+outputs, Instrument(collector, "GET "+outputs)(files))
	}

	return Chain(mux,
		Recovery(log),
		RequestID(),
		RequestLogger(log),
		CORS(opts.CORSAllowedOrigins),
		RateLimiter(ctx, opts.RateLimitRPS, opts.RateLimitBurst),
	)
}

