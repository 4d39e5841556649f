// Package apiclient is a Go client for the gateway HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/tts-gateway/internal/api"
	"github.com/book-expert/tts-gateway/internal/synthesis"
	"github.com/book-expert/tts-gateway/internal/voices"
)

const (
	// DefaultBaseURL matches the default listen port.
	DefaultBaseURL = "http://127.0.0.1:4144"
	// DefaultAPIPrefix matches the default route prefix.
	DefaultAPIPrefix = "/api/v1"

	contentTypeJSON = "application/json"
	maxErrorBody    = 64 << 10
)

// ErrTransport wraps failures below the HTTP status level.
var ErrTransport = errors.New("request failed")

// APIError is a non-2xx reply decoded from the gateway error body.
type APIError struct {
	StatusCode int
	Detail     string
	ErrorCode  string
}

func (e *APIError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Detail)
	}

	return fmt.Sprintf("gateway returned %d %s: %s", e.StatusCode, e.ErrorCode, e.Detail)
}

// Client calls the gateway. A non-empty token is sent as a bearer credential.
type Client struct {
	httpClient *http.Client
	baseURL    string
	prefix     string
	token      string
}

// New creates a Client.
func New(baseURL, apiPrefix, token string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     strings.TrimRight(apiPrefix, "/"),
		token:      token,
	}
}

// Health calls the liveness endpoint.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse

	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/health", nil, &out)

	return out, err
}

// Generate synthesizes one request.
func (c *Client) Generate(ctx context.Context, req synthesis.Request) (synthesis.Result, error) {
	var out synthesis.Result

	err := c.doJSON(ctx, http.MethodPost, c.apiURL("/tts/generate"), req, &out)

	return out, err
}

// Batch synthesizes up to ten requests.
func (c *Client) Batch(ctx context.Context, items []synthesis.Request) (synthesis.BatchResult, error) {
	var out synthesis.BatchResult

	err := c.doJSON(ctx, http.MethodPost, c.apiURL("/tts/batch"), api.BatchRequest{Items: items}, &out)

	return out, err
}

// List pages through generated audio.
func (c *Client) List(ctx context.Context, limit, offset int) (api.ListResponse, error) {
	var out api.ListResponse

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	err := c.doJSON(ctx, http.MethodGet, c.apiURL("/tts/list")+"?"+query.Encode(), nil, &out)

	return out, err
}

// Download streams a generated file into w and returns the bytes written.
func (c *Client) Download(ctx context.Context, filename string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL("/tts/download/"+url.PathEscape(filename)), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read audio body: %w", err)
	}

	return n, nil
}

// DeleteAudio removes a generated file.
func (c *Client) DeleteAudio(ctx context.Context, filename string) (api.MessageResponse, error) {
	var out api.MessageResponse

	err := c.doJSON(ctx, http.MethodDelete, c.apiURL("/tts/audio/"+url.PathEscape(filename)), nil, &out)

	return out, err
}

// CloneVoice uploads the reference clip at path.
func (c *Client) CloneVoice(ctx context.Context, path, name, transcript, description string) (api.CloneResponse, error) {
	var out api.CloneResponse

	body, contentType, err := cloneForm(path, name, transcript, description)
	if err != nil {
		return out, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL("/voices/clone"), body)
	if err != nil {
		return out, err
	}

	req.Header.Set("Content-Type", contentType)

	err = c.do(req, &out)

	return out, err
}

// ListVoices returns registered voices.
func (c *Client) ListVoices(ctx context.Context) (api.VoicesResponse, error) {
	var out api.VoicesResponse

	err := c.doJSON(ctx, http.MethodGet, c.apiURL("/voices/list"), nil, &out)

	return out, err
}

// GetVoice returns one voice record.
func (c *Client) GetVoice(ctx context.Context, id string) (voices.Record, error) {
	var out voices.Record

	err := c.doJSON(ctx, http.MethodGet, c.apiURL("/voices/"+url.PathEscape(id)), nil, &out)

	return out, err
}

// DeleteVoice removes a voice.
func (c *Client) DeleteVoice(ctx context.Context, id string) (api.MessageResponse, error) {
	var out api.MessageResponse

	err := c.doJSON(ctx, http.MethodDelete, c.apiURL("/voices/"+url.PathEscape(id)), nil, &out)

	return out, err
}

// IssueToken exchanges the client's static key for a signed token.
func (c *Client) IssueToken(ctx context.Context, subject string) (api.TokenResponse, error) {
	var out api.TokenResponse

	err := c.doJSON(ctx, http.MethodPost, c.apiURL("/auth/token"), api.TokenRequest{Subject: subject}, &out)

	return out, err
}

func (c *Client) apiURL(path string) string {
	return c.baseURL + c.prefix + path
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, target string, payload, out any) error {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return err
	}

	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{StatusCode: resp.StatusCode, Detail: "", ErrorCode: ""}

	var parsed api.ErrorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		apiErr.Detail = parsed.Detail
		apiErr.ErrorCode = parsed.ErrorCode

		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(body))
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}

	return apiErr
}

func cloneForm(path, name, transcript, description string) (io.Reader, string, error) {
	clip, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open clip: %w", err)
	}
	defer clip.Close()

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("audio_file", filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = io.Copy(part, clip)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read clip: %w", err)
	}

	fields := [][2]string{{"name", name}, {"transcript", transcript}, {"description", description}}
	for _, f := range fields {
		err = mw.WriteField(f[0], f[1])
		if err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}

	err = mw.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}

	return &buf, mw.FormDataContentType(), nil
}
