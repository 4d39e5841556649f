package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/synthesis"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// AudioStore receives mirrored artifacts.
type AudioStore interface {
	UploadAudio(ctx context.Context, key, contentType string, data []byte) error
}

// Publisher mirrors every stored artifact into an object bucket and announces
// it with an AudioChunkCreatedEvent. It is registered as an artifact hook.
type Publisher struct {
	natsConnection *nats.Conn
	store          AudioStore
	subject        string
	now            func() time.Time
	log            *logger.Logger
}

// NewPublisher creates a Publisher. An empty subject disables announcements.
func NewPublisher(natsConnection *nats.Conn, store AudioStore, subject string, log *logger.Logger) *Publisher {
	return &Publisher{
		natsConnection: natsConnection,
		store:          store,
		subject:        subject,
		now:            time.Now,
		log:            log,
	}
}

// OnArtifact uploads the artifact under its filename and publishes the event.
// Artifacts produced for a queued job carry that job's header and page.
func (p *Publisher) OnArtifact(ctx context.Context, artifact synthesis.Artifact) error {
	err := p.store.UploadAudio(ctx, artifact.Filename, ttsutils.AudioContentType(artifact.Filename), artifact.Audio)
	if err != nil {
		return fmt.Errorf("failed to mirror %s: %w", artifact.Filename, err)
	}

	if p.subject == "" {
		return nil
	}

	event := p.eventFor(ctx, artifact.Filename)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audio event: %w", err)
	}

	err = p.natsConnection.Publish(p.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish audio event to %s: %w", p.subject, err)
	}

	p.log.Info("Published audio event for %s (workflow %s)", artifact.Filename, event.Header.WorkflowID)

	return nil
}

func (p *Publisher) eventFor(ctx context.Context, audioKey string) *events.AudioChunkCreatedEvent {
	job, queued := JobFromContext(ctx)

	header := events.EventHeader{
		Timestamp:  p.now().UTC(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
	if queued {
		header.WorkflowID = job.Header.WorkflowID
		header.UserID = job.Header.UserID
		header.TenantID = job.Header.TenantID
	}

	return &events.AudioChunkCreatedEvent{
		Header:     header,
		AudioKey:   audioKey,
		PageNumber: job.PageNumber,
		TotalPages: job.TotalPages,
	}
}
