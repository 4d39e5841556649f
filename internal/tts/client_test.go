package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAudio = "ID3\x03\x00fake-mpeg-frames"

func testParams() core.SynthesisParams {
	seed := 42

	return core.SynthesisParams{
		Temperature:   1.8,
		GuidanceScale: 3.0,
		TopP:          0.9,
		TopK:          45,
		Seed:          &seed,
		MaxNewTokens:  3072,
	}
}

func TestHTTPClient_Synthesize_Success(t *testing.T) {
	t.Parallel()

	var received tts.SpeechRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte(testAudio))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL+"/", "nari-labs/Dia-1.6B-0626", 5*time.Second)

	audio, err := client.Synthesize(context.Background(), "[S1] Hello, world!", testParams())
	require.NoError(t, err)
	assert.Equal(t, []byte(testAudio), audio)

	assert.Equal(t, "[S1] Hello, world!", received.Text)
	assert.Equal(t, "nari-labs/Dia-1.6B-0626", received.Model)
	assert.InDelta(t, 1.8, received.Temperature, 1e-9)
	assert.InDelta(t, 3.0, received.GuidanceScale, 1e-9)
	assert.InDelta(t, 0.9, received.TopP, 1e-9)
	assert.Equal(t, 45, received.TopK)
	require.NotNil(t, received.Seed)
	assert.Equal(t, 42, *received.Seed)
	assert.Equal(t, 3072, received.MaxNewTokens)
}

func TestHTTPClient_Synthesize_OmitsAbsentSeed(t *testing.T) {
	t.Parallel()

	var raw map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF....WAVE"))
	}))
	defer server.Close()

	params := testParams()
	params.Seed = nil

	_, err := tts.NewHTTPClient(server.URL, "", time.Second).Synthesize(context.Background(), "[S1] x", params)
	require.NoError(t, err)
	assert.NotContains(t, raw, "seed")
	assert.NotContains(t, raw, "model")
}

func TestHTTPClient_Synthesize_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantErr     error
		wantMessage string
	}{
		{
			name: "structured error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"detail":"prompt too long","error_code":"PROMPT_TOO_LONG"}`))
			},
			wantMessage: "prompt too long (code: PROMPT_TOO_LONG)",
		},
		{
			name: "plain error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("CUDA out of memory"))
			},
			wantMessage: "CUDA out of memory",
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html></html>"))
			},
			wantErr: tts.ErrUnexpectedContentType,
		},
		{
			name: "empty audio",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "audio/mpeg")
			},
			wantErr: tts.ErrEmptyAudio,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tc.handler)
			defer server.Close()

			_, err := tts.NewHTTPClient(server.URL, "", time.Second).
				Synthesize(context.Background(), "[S1] hi", testParams())
			require.Error(t, err)

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			}

			if tc.wantMessage != "" {
				assert.Contains(t, err.Error(), tc.wantMessage)
			}
		})
	}
}

func TestHTTPClient_Synthesize_EmptyPrompt(t *testing.T) {
	t.Parallel()

	_, err := tts.NewHTTPClient("http://127.0.0.1:1", "", time.Second).
		Synthesize(context.Background(), "", testParams())
	require.ErrorIs(t, err, tts.ErrPromptEmpty)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	require.NoError(t, tts.NewHTTPClient(healthy.URL, "", time.Second).HealthCheck(context.Background()))

	loading := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer loading.Close()

	err := tts.NewHTTPClient(loading.URL, "", time.Second).HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed with status")
}
