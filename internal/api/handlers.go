package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/artifacts"
	"github.com/book-expert/tts-gateway/internal/auth"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/synthesis"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
	"github.com/book-expert/tts-gateway/internal/voices"
)

const (
	maxJSONBodyBytes   = 1 << 20
	multipartMemory    = 8 << 20
	formAudioFile      = "audio_file"
	formName           = "name"
	formTranscript     = "transcript"
	formDescription    = "description"
	queryLimit         = "limit"
	queryOffset        = "offset"
	tokenTypeBearer    = "bearer"
	healthStatus       = "healthy"
	errFmtInvalidBody  = "%w: invalid request body: %s"
	errFmtInvalidQuery = "%w: %s must be an integer, got %q"
)

// BatchRequest is the body of the batch endpoint.
type BatchRequest struct {
	Items []synthesis.Request `json:"items"`
}

// ListResponse is returned by the artifact listing endpoint.
type ListResponse struct {
	Files  []artifacts.Item `json:"files"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// MessageResponse acknowledges a mutation.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CloneResponse is returned after a voice is registered.
type CloneResponse struct {
	Success bool   `json:"success"`
	VoiceID string `json:"voice_id"`
	Message string `json:"message"`
}

// VoiceSummary is one entry of the voice listing.
type VoiceSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Duration    float64   `json:"duration"`
	CreatedAt   time.Time `json:"created_at"`
}

// VoicesResponse is returned by the voice listing endpoint.
type VoicesResponse struct {
	Voices []VoiceSummary `json:"voices"`
	Total  int            `json:"total"`
}

// TokenRequest optionally names the token subject.
type TokenRequest struct {
	Subject string `json:"subject"`
}

// TokenResponse carries a signed access token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// HealthResponse is returned by the liveness endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Version     string `json:"version"`
	EngineReady bool   `json:"engine_ready"`
}

// Handler serves the gateway endpoints.
type Handler struct {
	orch           *synthesis.Orchestrator
	store          *artifacts.Store
	gate           *auth.Gate
	logger         *logger.Logger
	service        string
	version        string
	maxUploadBytes int64
}

// NewHandler creates a Handler.
func NewHandler(
	orch *synthesis.Orchestrator,
	store *artifacts.Store,
	gate *auth.Gate,
	opts Options,
	log *logger.Logger,
) *Handler {
	return &Handler{
		orch:           orch,
		store:          store,
		gate:           gate,
		logger:         log,
		service:        opts.Service,
		version:        opts.Version,
		maxUploadBytes: opts.MaxUploadBytes,
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, err, h.logger)
}

// Health reports liveness and engine readiness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:      healthStatus,
		Service:     h.service,
		Version:     h.version,
		EngineReady: h.orch.Ready(),
	})
}

// Generate synthesizes one request.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req synthesis.Request

	err := decodeJSON(w, r, &req)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	result, err := h.orch.Generate(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// Batch synthesizes up to ten requests sequentially.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest

	err := decodeJSON(w, r, &req)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	result, err := h.orch.Batch(r.Context(), req.Items)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// Download streams a stored audio file as an attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	file, info, err := h.store.Open(filename)
	if err != nil {
		h.fail(w, r, err)

		return
	}
	defer file.Close()

	w.Header().Set(headerContentType, ttsutils.AudioContentType(filename))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": ttsutils.SanitizeFilename(filename),
	}))
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// DeleteAudio removes a stored audio file.
func (h *Handler) DeleteAudio(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	err := h.store.Delete(filename)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	h.logger.Info("Deleted audio file: %s", filename)
	WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: fmt.Sprintf("File %s deleted successfully", filename)})
}

// List pages through stored audio, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, queryLimit, artifacts.DefaultLimit)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	offset, err := queryInt(r, queryOffset, artifacts.DefaultOffset)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	files, total, err := h.store.List(limit, offset)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	WriteJSON(w, http.StatusOK, ListResponse{Files: files, Total: total, Limit: limit, Offset: offset})
}

// CloneVoice registers a voice from a multipart upload.
func (h *Handler) CloneVoice(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		if r.ContentLength > h.maxUploadBytes {
			h.fail(w, r, formError(&http.MaxBytesError{Limit: h.maxUploadBytes}))

			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	err := r.ParseMultipartForm(multipartMemory)
	if err != nil {
		h.fail(w, r, formError(err))

		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(formAudioFile)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %s is required", core.ErrValidation, formAudioFile))

		return
	}
	defer file.Close()

	rec, err := h.orch.CloneVoice(r.Context(), synthesis.CloneRequest{
		Filename:    header.Filename,
		Name:        r.FormValue(formName),
		Transcript:  r.FormValue(formTranscript),
		Description: r.FormValue(formDescription),
		Audio:       file,
	})
	if err != nil {
		h.fail(w, r, err)

		return
	}

	WriteJSON(w, http.StatusOK, CloneResponse{
		Success: true,
		VoiceID: rec.ID,
		Message: fmt.Sprintf("Voice '%s' cloned successfully", rec.Name),
	})
}

// ListVoices returns every registered voice.
func (h *Handler) ListVoices(w http.ResponseWriter, r *http.Request) {
	records, err := h.orch.ListVoices()
	if err != nil {
		h.fail(w, r, err)

		return
	}

	summaries := make([]VoiceSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, summarize(rec))
	}

	WriteJSON(w, http.StatusOK, VoicesResponse{Voices: summaries, Total: len(summaries)})
}

// GetVoice returns one voice record.
func (h *Handler) GetVoice(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orch.GetVoice(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)

		return
	}

	WriteJSON(w, http.StatusOK, rec)
}

// DeleteVoice removes a voice and its clip.
func (h *Handler) DeleteVoice(w http.ResponseWriter, r *http.Request) {
	err := h.orch.DeleteVoice(r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)

		return
	}

	WriteJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Voice deleted successfully"})
}

// IssueToken exchanges the static API key for a signed token.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	err := h.gate.RequireAPIKey(r.Header.Get(headerAuthorization))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tts-gateway"`)
		h.fail(w, r, err)

		return
	}

	var req TokenRequest

	err = decodeJSON(w, r, &req)
	if err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, err)

		return
	}

	subject := req.Subject
	if subject == "" {
		subject = auth.PrincipalAPIUser
	}

	token, err := h.gate.IssueToken(subject)
	if err != nil {
		h.fail(w, r, err)

		return
	}

	WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(h.gate.TokenTTL().Seconds()),
	})
}

func summarize(rec voices.Record) VoiceSummary {
	return VoiceSummary{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Duration:    rec.Duration,
		CreatedAt:   rec.CreatedAt,
	}
}

// decodeJSON reads a bounded JSON body into dst. An empty body yields an
// error wrapping io.EOF.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	err := json.NewDecoder(body).Decode(dst)
	if err == nil {
		return nil
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return fmt.Errorf("request body: %w", err)
	}

	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body is empty: %w", core.ErrValidation, err)
	}

	return fmt.Errorf(errFmtInvalidBody, core.ErrValidation, err.Error())
}

func formError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return fmt.Errorf("upload: %w", err)
	}

	return fmt.Errorf("%w: invalid multipart form: %s", core.ErrValidation, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf(errFmtInvalidQuery, core.ErrValidation, key, raw)
	}

	return v, nil
}
