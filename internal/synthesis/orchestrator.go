// Package synthesis turns validated requests into stored audio.
//
// The Orchestrator validates parameters, composes the prompt (dialogue tag
// plus optional cloned-voice transcript), delegates to the engine, writes the
// artifact, and notifies any registered hooks. It also owns the voice clone
// and delete flows, which touch both the registry and the voices directory.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/artifacts"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/metrics"
	"github.com/book-expert/tts-gateway/internal/tts/text"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
	"github.com/book-expert/tts-gateway/internal/voices"
)

// Metadata describes one generated artifact.
type Metadata struct {
	Text       string     `json:"text"`
	VoiceID    *string    `json:"voice_id"`
	Parameters Parameters `json:"parameters"`
	Timestamp  string     `json:"timestamp"`
	Filename   string     `json:"filename"`
}

// Result is the outcome of a successful generation.
type Result struct {
	Success  bool     `json:"success"`
	Filename string   `json:"filename"`
	AudioURL string   `json:"audio_url"`
	Metadata Metadata `json:"metadata"`
}

// errMsgSynthesisFailed is reported for batch items whose error matches no sentinel.
const errMsgSynthesisFailed = "synthesis failed"

// BatchFailure records one failed batch item.
type BatchFailure struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// BatchResult is the outcome of a batch. Success is true iff nothing failed.
type BatchResult struct {
	Success bool           `json:"success"`
	Results []Result       `json:"results"`
	Failed  []BatchFailure `json:"failed"`
	Total   int            `json:"total"`
}

// Artifact is handed to hooks after the audio is on disk.
type Artifact struct {
	Filename string
	Audio    []byte
	Metadata Metadata
}

// ArtifactHook runs after an artifact is persisted. Errors are logged and
// never fail the request.
type ArtifactHook interface {
	OnArtifact(ctx context.Context, artifact Artifact) error
}

// Options configures an Orchestrator.
type Options struct {
	Defaults         Defaults
	MinCloneDuration float64
	MaxCloneDuration float64
	VoicesDir        string
	NormalizeText    bool
	// Now defaults to time.Now.
	Now func() time.Time
	// NewVoiceID defaults to a dash-free random UUID.
	NewVoiceID func() string
}

// OptionsFromConfig derives Options from the service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Defaults: Defaults{
			Temperature:   cfg.Model.Temperature,
			GuidanceScale: cfg.Model.GuidanceScale,
			TopP:          cfg.Model.TopP,
			TopK:          cfg.Model.TopK,
			MaxNewTokens:  cfg.Model.MaxNewTokens,
		},
		MinCloneDuration: cfg.Clone.MinDuration,
		MaxCloneDuration: cfg.Clone.MaxDuration,
		VoicesDir:        cfg.Paths.VoicesDir,
		NormalizeText:    cfg.Model.NormalizeText,
		Now:              time.Now,
		NewVoiceID:       newVoiceID,
	}
}

// Orchestrator coordinates synthesis, persistence, and voice management.
type Orchestrator struct {
	synth      core.Synthesizer
	registry   *voices.Registry
	store      *artifacts.Store
	prober     core.DurationProber
	normalizer *text.Normalizer
	hooks      []ArtifactHook
	opts       Options
	metrics    *metrics.Collector
	logger     *logger.Logger
}

// New creates an Orchestrator. collector may be nil.
func New(
	synth core.Synthesizer,
	registry *voices.Registry,
	store *artifacts.Store,
	prober core.DurationProber,
	opts Options,
	collector *metrics.Collector,
	log *logger.Logger,
) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NewVoiceID == nil {
		opts.NewVoiceID = newVoiceID
	}

	var normalizer *text.Normalizer
	if opts.NormalizeText {
		normalizer = text.NewNormalizer()
	}

	collector.SetVoices(registry.Len())

	return &Orchestrator{
		synth:      synth,
		registry:   registry,
		store:      store,
		prober:     prober,
		normalizer: normalizer,
		hooks:      nil,
		opts:       opts,
		metrics:    collector,
		logger:     log,
	}
}

// AddHook registers a post-persist hook. Not safe to call concurrently with
// Generate.
func (o *Orchestrator) AddHook(hook ArtifactHook) {
	o.hooks = append(o.hooks, hook)
}

// Ready reports whether the synthesis engine accepts work. Synthesizers
// without a readiness notion are always ready.
func (o *Orchestrator) Ready() bool {
	r, ok := o.synth.(core.Readiness)

	return !ok || r.Ready()
}

func (o *Orchestrator) checkReady() error {
	if !o.Ready() {
		return core.ErrEngineUnavailable
	}

	return nil
}

// Generate validates req, synthesizes it, and stores the audio.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Result, error) {
	params, err := req.resolve(o.opts.Defaults)
	if err != nil {
		return Result{}, err
	}

	err = o.checkReady()
	if err != nil {
		return Result{}, err
	}

	return o.generate(ctx, req, params)
}

func (o *Orchestrator) generate(ctx context.Context, req Request, params Parameters) (Result, error) {
	prompt := o.composePrompt(req)

	audio, err := o.synth.Synthesize(ctx, prompt, params.synthesisParams(o.opts.Defaults.MaxNewTokens))
	if err != nil {
		return Result{}, err
	}

	now := o.opts.Now()
	filename := artifacts.DeriveFilename(prompt, now)

	err = o.store.Write(filename, audio)
	if err != nil {
		return Result{}, err
	}

	o.metrics.ArtifactWritten()
	o.logger.Info("Generated audio: %s (%s)", filename, ttsutils.FormatFileSize(int64(len(audio))))

	meta := Metadata{
		Text:       prompt,
		VoiceID:    nil,
		Parameters: params,
		Timestamp:  artifacts.Timestamp(now),
		Filename:   filename,
	}
	if req.VoiceID != "" {
		voiceID := req.VoiceID
		meta.VoiceID = &voiceID
	}

	o.runHooks(ctx, Artifact{Filename: filename, Audio: audio, Metadata: meta})

	return Result{
		Success:  true,
		Filename: filename,
		AudioURL: o.store.URL(filename),
		Metadata: meta,
	}, nil
}

// composePrompt applies optional normalization, the dialogue tag, and the
// cloned voice transcript. Unknown voice ids are ignored.
func (o *Orchestrator) composePrompt(req Request) string {
	body := req.Text
	if o.normalizer != nil {
		body = o.normalizer.Normalize(body)
	}

	transcript := ""

	if req.VoiceID != "" {
		rec, ok := o.registry.Get(req.VoiceID)
		if ok {
			transcript = rec.Transcript
		} else {
			o.logger.Warn("Unknown voice_id %q, synthesizing with the default voice", req.VoiceID)
		}
	}

	return text.ComposePrompt(body, transcript)
}

func (o *Orchestrator) runHooks(ctx context.Context, artifact Artifact) {
	for _, hook := range o.hooks {
		err := hook.OnArtifact(ctx, artifact)
		if err != nil {
			o.logger.Error("Post-persist hook failed for %s: %v", artifact.Filename, err)
		}
	}
}

// Batch validates every item up front, then generates each one in order.
// Item failures are collected; files already written stay on disk.
func (o *Orchestrator) Batch(ctx context.Context, items []Request) (BatchResult, error) {
	if len(items) == 0 {
		return BatchResult{}, fmt.Errorf("%w: batch must contain at least one item", core.ErrValidation)
	}

	if len(items) > MaxBatchItems {
		return BatchResult{}, fmt.Errorf("%w: batch size cannot exceed %d items, got %d",
			core.ErrValidation, MaxBatchItems, len(items))
	}

	params := make([]Parameters, len(items))

	for i, item := range items {
		p, err := item.resolve(o.opts.Defaults)
		if err != nil {
			return BatchResult{}, fmt.Errorf("item %d: %w", i, err)
		}

		params[i] = p
	}

	err := o.checkReady()
	if err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{
		Success: false,
		Results: make([]Result, 0, len(items)),
		Failed:  make([]BatchFailure, 0),
		Total:   len(items),
	}

	for i, item := range items {
		res, genErr := o.generate(ctx, item, params[i])
		if genErr != nil {
			o.logger.Error("Failed to process batch item %d: %v", i, genErr)
			out.Failed = append(out.Failed, BatchFailure{
				Index: i,
				Text:  preview(item.Text),
				Error: batchFailureMessage(genErr),
			})

			continue
		}

		out.Results = append(out.Results, res)
	}

	out.Success = len(out.Failed) == 0

	return out, nil
}

// batchFailureMessage reduces err to its sentinel text. The full error,
// which may carry engine stderr, only goes to the log.
func batchFailureMessage(err error) string {
	for _, sentinel := range []error{
		core.ErrValidation,
		core.ErrEngineUnavailable,
		core.ErrWrite,
		context.DeadlineExceeded,
		context.Canceled,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}

	return errMsgSynthesisFailed
}
