// Package tts hosts the speech model delegates and the engine handle that
// gates access to them.
//
// The model is opaque: a delegate turns a composed prompt and generation
// parameters into encoded audio. HTTPClient talks to a model service over
// HTTP; CommandSynthesizer runs a local binary. Engine wraps either one with
// readiness tracking, a concurrency slot, and a per-call timeout.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/tts-gateway/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
	audioTypePrefix   = "audio/"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s, body: %s"
)

// Static errors.
var (
	ErrPromptEmpty           = errors.New("prompt cannot be empty")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrEmptyAudio            = errors.New("received empty audio data")
)

// HTTPClient is a delegate backed by a model service speaking JSON over HTTP.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// SpeechRequest is the JSON payload sent to the model service.
type SpeechRequest struct {
	Text          string  `json:"text"`
	Model         string  `json:"model,omitempty"`
	Temperature   float64 `json:"temperature"`
	GuidanceScale float64 `json:"guidance_scale"`
	TopP          float64 `json:"top_p"`
	TopK          int     `json:"top_k"`
	Seed          *int    `json:"seed,omitempty"`
	MaxNewTokens  int     `json:"max_new_tokens"`
}

// ServiceErrorResponse is the structured error body the model service may return.
type ServiceErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the model service at baseURL
// (e.g. "http://localhost:8000"). timeout bounds every HTTP exchange; zero
// leaves the bound to the caller's context.
func NewHTTPClient(baseURL, model string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize sends prompt and params to the model service and returns the
// encoded audio.
func (c *HTTPClient) Synthesize(ctx context.Context, prompt string, params core.SynthesisParams) ([]byte, error) {
	if prompt == "" {
		return nil, ErrPromptEmpty
	}

	requestBody, err := json.Marshal(SpeechRequest{
		Text:          prompt,
		Model:         c.model,
		Temperature:   params.Temperature,
		GuidanceScale: params.GuidanceScale,
		TopP:          params.TopP,
		TopK:          params.TopK,
		Seed:          params.Seed,
		MaxNewTokens:  params.MaxNewTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeMPEG)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, audioTypePrefix) {
		return nil, fmt.Errorf("%w: expected audio/*, got %q", ErrUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the model service is up and ready.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw
// body so the diagnostic is never lost.
func (c *HTTPClient) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ServiceErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
