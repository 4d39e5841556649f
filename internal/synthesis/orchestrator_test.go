package synthesis_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/artifacts"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/synthesis"
	"github.com/book-expert/tts-gateway/internal/tts"
	"github.com/book-expert/tts-gateway/internal/voices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errDelegate = errors.New("delegate exploded")
	errHook     = errors.New("mirror offline")
)

var fixedNow = time.Date(2025, 7, 4, 12, 30, 45, 0, time.UTC)

// stubSynth returns the prompt as audio. Prompts containing "FAIL" fail with
// errDelegate and prompts containing "DOWN" fail as an unavailable engine.
type stubSynth struct {
	mu      sync.Mutex
	prompts []string
	params  []core.SynthesisParams
	notDone bool
}

func (s *stubSynth) Synthesize(_ context.Context, prompt string, params core.SynthesisParams) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, prompt)
	s.params = append(s.params, params)

	if strings.Contains(prompt, "FAIL") {
		return nil, errDelegate
	}

	if strings.Contains(prompt, "DOWN") {
		return nil, fmt.Errorf("%w: model stderr: CUDA out of memory", core.ErrEngineUnavailable)
	}

	return []byte("audio:" + prompt), nil
}

func (s *stubSynth) Ready() bool {
	return !s.notDone
}

func (s *stubSynth) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.prompts)
}

type stubProber struct {
	duration float64
	calls    int
}

func (p *stubProber) Probe(r io.ReadSeeker, _ string) (float64, error) {
	p.calls++

	_, err := r.Seek(0, io.SeekStart)
	if err != nil {
		return 0, err
	}

	return p.duration, nil
}

type recordingHook struct {
	artifacts []synthesis.Artifact
	err       error
}

func (h *recordingHook) OnArtifact(_ context.Context, a synthesis.Artifact) error {
	h.artifacts = append(h.artifacts, a)

	return h.err
}

type fixture struct {
	orch      *synthesis.Orchestrator
	synth     *stubSynth
	prober    *stubProber
	registry  *voices.Registry
	store     *artifacts.Store
	voicesDir string
}

func testOptions(voicesDir string) synthesis.Options {
	return synthesis.Options{
		Defaults: synthesis.Defaults{
			Temperature:   1.8,
			GuidanceScale: 3.0,
			TopP:          0.90,
			TopK:          45,
			MaxNewTokens:  3072,
		},
		MinCloneDuration: 5,
		MaxCloneDuration: 10,
		VoicesDir:        voicesDir,
		NormalizeText:    false,
		Now:              func() time.Time { return fixedNow },
	}
}

func newFixture(t *testing.T, mutate ...func(*synthesis.Options)) *fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synthesis-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	voicesDir := t.TempDir()
	registry := voices.NewRegistry(filepath.Join(voicesDir, "voices_db.json"), log)
	store := artifacts.NewStore(t.TempDir(), "/outputs", log)
	synth := &stubSynth{}
	prober := &stubProber{duration: 7}

	opts := testOptions(voicesDir)
	for _, m := range mutate {
		m(&opts)
	}

	return &fixture{
		orch:      synthesis.New(synth, registry, store, prober, opts, nil, log),
		synth:     synth,
		prober:    prober,
		registry:  registry,
		store:     store,
		voicesDir: voicesDir,
	}
}

func ptr[T any](v T) *T {
	return &v
}

func TestGenerate_AppliesDefaultsAndPersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.orch.Generate(context.Background(), synthesis.Request{Text: "Hello world."})
	require.NoError(t, err)

	wantFilename := artifacts.DeriveFilename("[S1] Hello world.", fixedNow)
	assert.True(t, res.Success)
	assert.Equal(t, wantFilename, res.Filename)
	assert.Equal(t, "/outputs/"+wantFilename, res.AudioURL)
	assert.True(t, f.store.Exists(wantFilename))

	meta := res.Metadata
	assert.Equal(t, "[S1] Hello world.", meta.Text)
	assert.Nil(t, meta.VoiceID)
	assert.Equal(t, "20250704_123045", meta.Timestamp)
	assert.Equal(t, wantFilename, meta.Filename)
	assert.InDelta(t, 1.8, meta.Parameters.Temperature, 1e-9)
	assert.InDelta(t, 3.0, meta.Parameters.GuidanceScale, 1e-9)
	assert.InDelta(t, 0.9, meta.Parameters.TopP, 1e-9)
	assert.Equal(t, 45, meta.Parameters.TopK)
	assert.Nil(t, meta.Parameters.Seed)

	require.Len(t, f.synth.params, 1)
	assert.Equal(t, 3072, f.synth.params[0].MaxNewTokens)
}

func TestGenerate_ExplicitParametersReachDelegate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orch.Generate(context.Background(), synthesis.Request{
		Text:          "[S2] Already tagged.",
		Temperature:   ptr(0.1),
		GuidanceScale: ptr(10.0),
		TopP:          ptr(1.0),
		TopK:          ptr(1),
		Seed:          ptr(-7),
	})
	require.NoError(t, err)

	require.Len(t, f.synth.prompts, 1)
	assert.Equal(t, "[S2] Already tagged.", f.synth.prompts[0])

	got := f.synth.params[0]
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	assert.InDelta(t, 10.0, got.GuidanceScale, 1e-9)
	assert.InDelta(t, 1.0, got.TopP, 1e-9)
	assert.Equal(t, 1, got.TopK)
	require.NotNil(t, got.Seed)
	assert.Equal(t, -7, *got.Seed)
}

func TestGenerate_RejectsOutOfRangeBeforeDelegate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  synthesis.Request
	}{
		{"blank text", synthesis.Request{Text: "   \n\t"}},
		{"temperature low", synthesis.Request{Text: "x", Temperature: ptr(0.09)}},
		{"temperature high", synthesis.Request{Text: "x", Temperature: ptr(2.01)}},
		{"guidance low", synthesis.Request{Text: "x", GuidanceScale: ptr(0.5)}},
		{"guidance high", synthesis.Request{Text: "x", GuidanceScale: ptr(10.5)}},
		{"top_p low", synthesis.Request{Text: "x", TopP: ptr(0.0)}},
		{"top_p high", synthesis.Request{Text: "x", TopP: ptr(1.1)}},
		{"top_k low", synthesis.Request{Text: "x", TopK: ptr(0)}},
		{"top_k high", synthesis.Request{Text: "x", TopK: ptr(101)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)

			_, err := f.orch.Generate(context.Background(), tc.req)
			require.ErrorIs(t, err, core.ErrValidation)
			assert.Zero(t, f.synth.calls())
		})
	}
}

func TestGenerate_PrependsClonedVoiceTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.registry.Put(voices.Record{
		ID:         "voice1",
		Name:       "Narrator",
		Transcript: "[S1] This is how I sound.",
		CreatedAt:  fixedNow,
	}))

	res, err := f.orch.Generate(context.Background(), synthesis.Request{Text: "Read this.", VoiceID: "voice1"})
	require.NoError(t, err)

	assert.Equal(t, "[S1] This is how I sound. [S1] Read this.", res.Metadata.Text)
	require.NotNil(t, res.Metadata.VoiceID)
	assert.Equal(t, "voice1", *res.Metadata.VoiceID)
	assert.Equal(t, artifacts.DeriveFilename(res.Metadata.Text, fixedNow), res.Filename)
}

func TestGenerate_UnknownVoiceIsIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.orch.Generate(context.Background(), synthesis.Request{Text: "Hi.", VoiceID: "ghost"})
	require.NoError(t, err)

	assert.Equal(t, "[S1] Hi.", res.Metadata.Text)
	require.NotNil(t, res.Metadata.VoiceID)
	assert.Equal(t, "ghost", *res.Metadata.VoiceID)
}

func TestGenerate_NormalizesWhenEnabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(o *synthesis.Options) { o.NormalizeText = true })

	res, err := f.orch.Generate(context.Background(), synthesis.Request{Text: "  Dr.   Who\n arrived…"})
	require.NoError(t, err)
	assert.Equal(t, "[S1] Doctor Who arrived...", res.Metadata.Text)
}

func TestGenerate_EngineUnavailable(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "synthesis-test.log")
	require.NoError(t, err)

	defer log.Close()

	engine := tts.NewEngine(&stubSynth{}, tts.EngineOptions{}, nil, log)
	registry := voices.NewRegistry(filepath.Join(t.TempDir(), "voices_db.json"), log)
	store := artifacts.NewStore(t.TempDir(), "/outputs", log)
	orch := synthesis.New(engine, registry, store, &stubProber{}, testOptions(t.TempDir()), nil, log)

	assert.False(t, orch.Ready())

	_, err = orch.Generate(context.Background(), synthesis.Request{Text: "hello"})
	require.ErrorIs(t, err, core.ErrEngineUnavailable)

	engine.SetReady(true)
	assert.True(t, orch.Ready())

	_, err = orch.Generate(context.Background(), synthesis.Request{Text: "hello"})
	require.NoError(t, err)
}

func TestGenerate_DelegateFailureWritesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orch.Generate(context.Background(), synthesis.Request{Text: "FAIL please"})
	require.ErrorIs(t, err, errDelegate)

	items, total, err := f.store.List(artifacts.DefaultLimit, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestGenerate_HookFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hook := &recordingHook{err: errHook}
	f.orch.AddHook(hook)

	res, err := f.orch.Generate(context.Background(), synthesis.Request{Text: "hooked"})
	require.NoError(t, err)

	require.Len(t, hook.artifacts, 1)
	assert.Equal(t, res.Filename, hook.artifacts[0].Filename)
	assert.Equal(t, []byte("audio:[S1] hooked"), hook.artifacts[0].Audio)
}

func TestBatch_SizeLimits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orch.Batch(context.Background(), nil)
	require.ErrorIs(t, err, core.ErrValidation)

	items := make([]synthesis.Request, synthesis.MaxBatchItems+1)
	for i := range items {
		items[i] = synthesis.Request{Text: "item"}
	}

	_, err = f.orch.Batch(context.Background(), items)
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Zero(t, f.synth.calls())
}

func TestBatch_InvalidItemRejectsWholeBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.orch.Batch(context.Background(), []synthesis.Request{
		{Text: "fine"},
		{Text: "bad", TopK: ptr(500)},
	})
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Contains(t, err.Error(), "item 1")
	assert.Zero(t, f.synth.calls())
}

func TestBatch_IsolatesItemFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	longFailing := "FAIL " + strings.Repeat("é", 60)

	out, err := f.orch.Batch(context.Background(), []synthesis.Request{
		{Text: "first"},
		{Text: longFailing},
		{Text: "third"},
	})
	require.NoError(t, err)

	assert.False(t, out.Success)
	assert.Equal(t, 3, out.Total)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "[S1] first", out.Results[0].Metadata.Text)
	assert.Equal(t, "[S1] third", out.Results[1].Metadata.Text)

	require.Len(t, out.Failed, 1)
	assert.Equal(t, 1, out.Failed[0].Index)
	assert.Equal(t, string([]rune(longFailing)[:50])+"...", out.Failed[0].Text)
	assert.Equal(t, "synthesis failed", out.Failed[0].Error)
	assert.NotContains(t, out.Failed[0].Error, errDelegate.Error())

	_, total, err := f.store.List(10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestBatch_AllSucceed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	out, err := f.orch.Batch(context.Background(), []synthesis.Request{{Text: "a"}, {Text: "b"}})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Empty(t, out.Failed)
	assert.Len(t, out.Results, 2)
}

func TestBatch_EngineUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.synth.notDone = true

	_, err := f.orch.Batch(context.Background(), []synthesis.Request{{Text: "a"}})
	require.ErrorIs(t, err, core.ErrEngineUnavailable)
	assert.Zero(t, f.synth.calls())
}

func TestBatch_FailureTextStopsAtSentinel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	out, err := f.orch.Batch(context.Background(), []synthesis.Request{
		{Text: "DOWN first"},
		{Text: "FAIL second"},
	})
	require.NoError(t, err)
	require.Len(t, out.Failed, 2)

	assert.Equal(t, core.ErrEngineUnavailable.Error(), out.Failed[0].Error)
	assert.NotContains(t, out.Failed[0].Error, "CUDA")
	assert.Equal(t, "synthesis failed", out.Failed[1].Error)
}
