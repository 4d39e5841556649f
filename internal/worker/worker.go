// Package worker connects the gateway to the NATS pipeline.
//
// NatsWorker consumes TextProcessedEvent jobs, synthesizes the referenced
// text, and replies with an AudioChunkCreatedEvent. Publisher mirrors stored
// artifacts to the audio bucket and announces them.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/synthesis"
	"github.com/nats-io/nats.go"
)

const (
	// QueueGroup load-balances jobs across gateway replicas.
	QueueGroup = "tts-gateway"
	// DefaultJobTimeout bounds one job, download to reply.
	DefaultJobTimeout = 10 * time.Minute

	defaultVoice = "default"
)

// Generator produces and persists audio for one request.
type Generator interface {
	Generate(ctx context.Context, req synthesis.Request) (synthesis.Result, error)
}

// Job identifies the queued page an artifact is produced for.
type Job struct {
	Header     events.EventHeader
	PageNumber int
	TotalPages int
}

type jobKey struct{}

// WithJob attaches job to ctx.
func WithJob(ctx context.Context, job Job) context.Context {
	return context.WithValue(ctx, jobKey{}, job)
}

// JobFromContext returns the job attached by WithJob.
func JobFromContext(ctx context.Context) (Job, bool) {
	job, ok := ctx.Value(jobKey{}).(Job)

	return job, ok
}

// NatsWorker listens for synthesis jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	texts          core.ObjectStore
	generator      Generator
	timeout        time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a worker. A non-positive timeout uses DefaultJobTimeout.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	texts core.ObjectStore,
	generator Generator,
	timeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		texts:          texts,
		generator:      generator,
		timeout:        timeout,
		log:            log,
	}
}

// Run subscribes and processes messages until ctx is done, then drains.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for synthesis jobs on %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse event: %v", err)

		return
	}

	result, err := w.processJob(ctx, event)
	if err != nil {
		w.log.Error("Failed to process synthesis job for workflow %s page %d: %v",
			event.Header.WorkflowID, event.PageNumber, err)

		return
	}

	if msg.Reply == "" {
		return
	}

	reply := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   result.Filename,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processJob downloads the page text and synthesizes it.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (synthesis.Result, error) {
	textData, err := w.texts.Download(ctx, event.TextKey)
	if err != nil {
		return synthesis.Result{}, fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	ctx = WithJob(ctx, Job{Header: event.Header, PageNumber: event.PageNumber, TotalPages: event.TotalPages})

	result, err := w.generator.Generate(ctx, requestFor(event, string(textData)))
	if err != nil {
		return synthesis.Result{}, fmt.Errorf("failed to synthesize text '%s': %w", event.TextKey, err)
	}

	w.log.Info("Synthesized page %d/%d of workflow %s into %s",
		event.PageNumber, event.TotalPages, event.Header.WorkflowID, result.Filename)

	return result, nil
}

// requestFor maps event parameters onto a request. Zero values fall back to
// the configured defaults; sampling knobs the model lacks are ignored.
func requestFor(event *events.TextProcessedEvent, text string) synthesis.Request {
	req := synthesis.Request{
		Text:          text,
		VoiceID:       "",
		Temperature:   nil,
		GuidanceScale: nil,
		TopP:          nil,
		TopK:          nil,
		Seed:          nil,
	}

	voice := strings.TrimSpace(event.Voice)
	if voice != "" && voice != defaultVoice {
		req.VoiceID = voice
	}

	if event.Temperature > 0 {
		temperature := event.Temperature
		req.Temperature = &temperature
	}

	if event.TopP > 0 {
		topP := event.TopP
		req.TopP = &topP
	}

	if event.Seed != 0 {
		seed := event.Seed
		req.Seed = &seed
	}

	return req
}

func respond(msg *nats.Msg, reply *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
