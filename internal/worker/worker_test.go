package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/artifacts"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/objectstore"
	"github.com/book-expert/tts-gateway/internal/synthesis"
	"github.com/book-expert/tts-gateway/internal/voices"
	"github.com/book-expert/tts-gateway/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jobSubject   = "text.processed"
	audioSubject = "audio.chunk.created"
)

var errMockDownload = errors.New("mock download error")

type mockTextStore struct {
	mu            sync.Mutex
	fail          bool
	downloadedKey string
}

func (m *mockTextStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return []byte("sample text"), nil
}

func (m *mockTextStore) key() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.downloadedKey
}

func (m *mockTextStore) Upload(_ context.Context, _ string, _ []byte) error {
	return nil
}

type mockGenerator struct {
	mu   sync.Mutex
	reqs []synthesis.Request
	jobs []worker.Job
}

func (m *mockGenerator) Generate(ctx context.Context, req synthesis.Request) (synthesis.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reqs = append(m.reqs, req)

	job, _ := worker.JobFromContext(ctx)
	m.jobs = append(m.jobs, job)

	return synthesis.Result{Success: true, Filename: "tts_test.mp3"}, nil
}

type echoSynth struct{}

func (echoSynth) Synthesize(_ context.Context, prompt string, _ core.SynthesisParams) ([]byte, error) {
	return []byte("mp3:" + prompt), nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	return natsConnection
}

func startWorker(t *testing.T, w *worker.NatsWorker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- w.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})
}

func newTextEvent(textKey string) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "user-1",
			TenantID:   "",
		},
		TextKey:           textKey,
		PNGKey:            "",
		PageNumber:        3,
		TotalPages:        9,
		Voice:             "default",
		Seed:              42,
		NGL:               0,
		TopP:              0.8,
		RepetitionPenalty: 1.1,
		Temperature:       1.5,
	}
}

func request(t *testing.T, nc *nats.Conn, event *events.TextProcessedEvent) *events.AudioChunkCreatedEvent {
	t.Helper()

	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	replyMsg, err := nc.Request(jobSubject, eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply events.AudioChunkCreatedEvent
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return &reply
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	nc := createTestNatsClient(t)
	texts := &mockTextStore{}
	gen := &mockGenerator{}

	startWorker(t, worker.NewNatsWorker(nc, jobSubject, texts, gen, time.Minute, newTestLogger(t)))

	event := newTextEvent("test-text-key")

	require.Eventually(t, func() bool {
		eventData, err := json.Marshal(event)
		if err != nil {
			return false
		}

		_, err = nc.Request(jobSubject, eventData, 200*time.Millisecond)

		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	reply := request(t, nc, event)

	assert.Equal(t, "test-text-key", texts.key())
	assert.Equal(t, "tts_test.mp3", reply.AudioKey)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, 3, reply.PageNumber)
	assert.Equal(t, 9, reply.TotalPages)

	gen.mu.Lock()
	defer gen.mu.Unlock()

	require.NotEmpty(t, gen.reqs)

	req := gen.reqs[len(gen.reqs)-1]
	assert.Equal(t, "sample text", req.Text)
	assert.Empty(t, req.VoiceID, "the default voice maps to no cloned voice")
	require.NotNil(t, req.Temperature)
	assert.InEpsilon(t, 1.5, *req.Temperature, 0.001)
	require.NotNil(t, req.TopP)
	assert.InEpsilon(t, 0.8, *req.TopP, 0.001)
	require.NotNil(t, req.Seed)
	assert.Equal(t, 42, *req.Seed)
	assert.Equal(t, event.Header.WorkflowID, gen.jobs[len(gen.jobs)-1].Header.WorkflowID)
}

func TestMessageHandler_DownloadFailureSendsNoReply(t *testing.T) {
	t.Parallel()

	nc := createTestNatsClient(t)
	gen := &mockGenerator{}

	startWorker(t, worker.NewNatsWorker(nc, jobSubject, &mockTextStore{fail: true}, gen, time.Minute, newTestLogger(t)))

	eventData, err := json.Marshal(newTextEvent("missing"))
	require.NoError(t, err)

	_, err = nc.Request(jobSubject, eventData, 500*time.Millisecond)
	require.Error(t, err)

	gen.mu.Lock()
	defer gen.mu.Unlock()

	assert.Empty(t, gen.reqs)
}

func TestPublisher_MirrorsAndAnnounces(t *testing.T) {
	t.Parallel()

	nc := createTestNatsClient(t)

	js, err := nc.JetStream()
	require.NoError(t, err)

	audioStore, err := objectstore.New(js, "AUDIO_FILES")
	require.NoError(t, err)

	announced, err := nc.SubscribeSync(audioSubject)
	require.NoError(t, err)

	publisher := worker.NewPublisher(nc, audioStore, audioSubject, newTestLogger(t))
	ctx := context.Background()

	require.NoError(t, publisher.OnArtifact(ctx, synthesis.Artifact{
		Filename: "tts_a.mp3",
		Audio:    []byte("audio-a"),
		Metadata: synthesis.Metadata{},
	}))

	msg, err := announced.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var event events.AudioChunkCreatedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "tts_a.mp3", event.AudioKey)
	assert.NotEmpty(t, event.Header.WorkflowID)
	assert.NotEmpty(t, event.Header.EventID)

	data, err := audioStore.Download(ctx, "tts_a.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio-a"), data)

	job := worker.Job{
		Header:     events.EventHeader{WorkflowID: "wf-7", UserID: "u"},
		PageNumber: 2,
		TotalPages: 4,
	}
	require.NoError(t, publisher.OnArtifact(worker.WithJob(ctx, job), synthesis.Artifact{
		Filename: "tts_b.mp3",
		Audio:    []byte("audio-b"),
		Metadata: synthesis.Metadata{},
	}))

	msg, err = announced.NextMsg(5 * time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "wf-7", event.Header.WorkflowID)
	assert.Equal(t, 2, event.PageNumber)
	assert.Equal(t, 4, event.TotalPages)
}

// TestPipeline runs a queued job through a real orchestrator, mirror, and
// object buckets.
func TestPipeline(t *testing.T) {
	t.Parallel()

	nc := createTestNatsClient(t)
	log := newTestLogger(t)

	js, err := nc.JetStream()
	require.NoError(t, err)

	textStore, err := objectstore.New(js, "TEXT_FILES")
	require.NoError(t, err)

	audioStore, err := objectstore.New(js, "AUDIO_FILES")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, textStore.Upload(ctx, "page-3.txt", []byte("Chapter one begins.")))

	voicesDir := t.TempDir()
	registry := voices.NewRegistry(filepath.Join(voicesDir, "voices_db.json"), log)
	store := artifacts.NewStore(t.TempDir(), "/outputs", log)
	opts := synthesis.Options{
		Defaults:         synthesis.Defaults{Temperature: 1.8, GuidanceScale: 3, TopP: 0.9, TopK: 45, MaxNewTokens: 3072},
		MinCloneDuration: 5,
		MaxCloneDuration: 10,
		VoicesDir:        voicesDir,
		NormalizeText:    false,
		Now:              time.Now,
	}
	orch := synthesis.New(echoSynth{}, registry, store, nil, opts, nil, log)
	orch.AddHook(worker.NewPublisher(nc, audioStore, audioSubject, log))

	announced, err := nc.SubscribeSync(audioSubject)
	require.NoError(t, err)

	startWorker(t, worker.NewNatsWorker(nc, jobSubject, textStore, orch, time.Minute, log))

	event := newTextEvent("page-3.txt")

	var reply *events.AudioChunkCreatedEvent

	require.Eventually(t, func() bool {
		eventData, marshalErr := json.Marshal(event)
		if marshalErr != nil {
			return false
		}

		msg, reqErr := nc.Request(jobSubject, eventData, time.Second)
		if reqErr != nil {
			return false
		}

		reply = &events.AudioChunkCreatedEvent{}

		return json.Unmarshal(msg.Data, reply) == nil
	}, 5*time.Second, 50*time.Millisecond)

	assert.True(t, store.Exists(reply.AudioKey))

	audio, err := audioStore.Download(ctx, reply.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, "mp3:[S1] Chapter one begins.", string(audio))

	msg, err := announced.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var announcedEvent events.AudioChunkCreatedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &announcedEvent))
	assert.Equal(t, event.Header.WorkflowID, announcedEvent.Header.WorkflowID)
	assert.Equal(t, 3, announcedEvent.PageNumber)
}
