package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/metrics"
	"github.com/book-expert/tts-gateway/internal/tts/audio"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
	"github.com/book-expert/tts-gateway/internal/voices"
	"github.com/google/uuid"
)

const (
	tempClipPrefix  = "temp_"
	maxIDAttempts   = 3
	errFmtTooShort  = "%w: audio too short, minimum %gs required (got %.2fs)"
	errFmtTooLong   = "%w: audio too long, maximum %gs allowed (got %.2fs)"
	errFmtBadFormat = "%w: invalid file type %q, allowed: %s"
)

// CloneRequest carries an uploaded reference clip and its description.
type CloneRequest struct {
	// Filename is the client-side name; only its extension is used.
	Filename    string
	Name        string
	Transcript  string
	Description string
	Audio       io.Reader
}

// CloneVoice validates and stores a reference clip and registers a new voice.
func (o *Orchestrator) CloneVoice(ctx context.Context, req CloneRequest) (voices.Record, error) {
	rec, err := o.cloneVoice(ctx, req)
	if err != nil {
		if errors.Is(err, core.ErrValidation) {
			o.metrics.RecordClone(metrics.OutcomeRejected)
		} else {
			o.metrics.RecordClone(metrics.OutcomeError)
		}

		return voices.Record{}, err
	}

	o.metrics.RecordClone(metrics.OutcomeSuccess)
	o.metrics.SetVoices(o.registry.Len())
	o.logger.Info("Voice cloned successfully: %s (ID: %s, %s)", rec.Name, rec.ID, ttsutils.FormatDuration(rec.Duration))

	return rec, nil
}

func (o *Orchestrator) cloneVoice(_ context.Context, req CloneRequest) (voices.Record, error) {
	err := o.checkReady()
	if err != nil {
		return voices.Record{}, err
	}

	ext := ttsutils.Ext(req.Filename)
	if !audio.IsAllowed(ext) {
		return voices.Record{}, fmt.Errorf(errFmtBadFormat,
			core.ErrValidation, ext, strings.Join(audio.AllowedExtensions, ", "))
	}

	if strings.TrimSpace(req.Name) == "" {
		return voices.Record{}, fmt.Errorf("%w: voice name cannot be empty", core.ErrValidation)
	}

	if strings.TrimSpace(req.Transcript) == "" {
		return voices.Record{}, fmt.Errorf("%w: transcript cannot be empty", core.ErrValidation)
	}

	tmp, err := os.CreateTemp(o.opts.VoicesDir, tempClipPrefix+"*"+ext)
	if err != nil {
		return voices.Record{}, fmt.Errorf("failed to create provisional clip: %w", err)
	}

	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()

		removeErr := os.Remove(tmpName)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			o.logger.Warn("Failed to remove provisional clip %s: %v", tmpName, removeErr)
		}
	}()

	_, err = io.Copy(tmp, req.Audio)
	if err != nil {
		return voices.Record{}, fmt.Errorf("failed to store uploaded clip: %w", err)
	}

	duration, err := o.probe(tmp, ext)
	if err != nil {
		return voices.Record{}, err
	}

	err = tmp.Close()
	if err != nil {
		return voices.Record{}, fmt.Errorf("failed to store uploaded clip: %w", err)
	}

	rec, err := o.register(req, ext, duration)
	if err != nil {
		return voices.Record{}, err
	}

	err = os.Rename(tmpName, rec.AudioPath)
	if err != nil {
		_, _, _ = o.registry.Delete(rec.ID)

		return voices.Record{}, fmt.Errorf("failed to move clip into place: %w", err)
	}

	return rec, nil
}

func (o *Orchestrator) probe(clip *os.File, ext string) (float64, error) {
	duration, err := o.prober.Probe(clip, ext)
	if err != nil {
		return 0, fmt.Errorf("%w: unreadable audio clip: %w", core.ErrValidation, err)
	}

	if duration < o.opts.MinCloneDuration {
		return 0, fmt.Errorf(errFmtTooShort, core.ErrValidation, o.opts.MinCloneDuration, duration)
	}

	if duration > o.opts.MaxCloneDuration {
		return 0, fmt.Errorf(errFmtTooLong, core.ErrValidation, o.opts.MaxCloneDuration, duration)
	}

	return duration, nil
}

// register inserts a record under a fresh id. A save failure is logged by
// the registry and does not undo the insert.
func (o *Orchestrator) register(req CloneRequest, ext string, duration float64) (voices.Record, error) {
	for range maxIDAttempts {
		id := o.opts.NewVoiceID()

		rec := voices.Record{
			ID:          id,
			Name:        req.Name,
			Description: req.Description,
			Transcript:  req.Transcript,
			AudioPath:   filepath.Join(o.opts.VoicesDir, id+ext),
			Duration:    duration,
			CreatedAt:   o.opts.Now().UTC(),
		}

		inserted, _ := o.registry.PutIfAbsent(rec)
		if inserted {
			return rec, nil
		}
	}

	return voices.Record{}, fmt.Errorf("%w: could not allocate a voice id", core.ErrAlreadyExists)
}

func newVoiceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetVoice returns the voice with id.
func (o *Orchestrator) GetVoice(id string) (voices.Record, error) {
	err := o.checkReady()
	if err != nil {
		return voices.Record{}, err
	}

	rec, ok := o.registry.Get(id)
	if !ok {
		return voices.Record{}, fmt.Errorf("%w: voice %s", core.ErrNotFound, id)
	}

	return rec, nil
}

// ListVoices returns every voice, newest first.
func (o *Orchestrator) ListVoices() ([]voices.Record, error) {
	err := o.checkReady()
	if err != nil {
		return nil, err
	}

	list := o.registry.List()
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}

		return list[i].CreatedAt.After(list[j].CreatedAt)
	})

	return list, nil
}

// DeleteVoice removes the voice and its clip files. An unknown id is
// core.ErrNotFound and changes nothing.
func (o *Orchestrator) DeleteVoice(id string) error {
	err := o.checkReady()
	if err != nil {
		return err
	}

	rec, ok, _ := o.registry.Delete(id)
	if !ok {
		return fmt.Errorf("%w: voice %s", core.ErrNotFound, id)
	}

	o.metrics.SetVoices(o.registry.Len())
	o.removeClips(rec)
	o.logger.Info("Deleted voice %s (%s), created %s ago", rec.ID, rec.Name, voiceAge(rec, o.opts.Now()))

	return nil
}

// removeClips deletes the record's clip and any {id}.* leftovers.
func (o *Orchestrator) removeClips(rec voices.Record) {
	targets := make(map[string]struct{})
	if rec.AudioPath != "" {
		targets[rec.AudioPath] = struct{}{}
	}

	entries, err := os.ReadDir(o.opts.VoicesDir)
	if err != nil {
		o.logger.Warn("Failed to scan voices directory: %v", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), rec.ID+".") {
			targets[filepath.Join(o.opts.VoicesDir, entry.Name())] = struct{}{}
		}
	}

	for target := range targets {
		removeErr := os.Remove(target)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			o.logger.Warn("Failed to delete voice file %s: %v", target, removeErr)
		}
	}
}

// voiceAge is used in logs.
func voiceAge(rec voices.Record, now time.Time) string {
	return ttsutils.FormatDuration(now.Sub(rec.CreatedAt).Seconds())
}
