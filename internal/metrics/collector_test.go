package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/tts-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsAndExposes(t *testing.T) {
	t.Parallel()

	collector := metrics.NewCollector("tts_test")

	collector.RecordHTTPRequest(http.MethodPost, "/api/v1/tts/generate", http.StatusOK, 20*time.Millisecond)
	collector.SynthesisStarted()
	collector.SynthesisFinished(metrics.OutcomeSuccess, time.Second)
	collector.SynthesisRejected(metrics.OutcomeUnavailable)
	collector.SetEngineReady(true)
	collector.RecordClone(metrics.OutcomeRejected)
	collector.SetVoices(3)
	collector.ArtifactWritten()

	count, err := testutil.GatherAndCount(collector.Registry(),
		"tts_test_synthesis_requests_total",
		"tts_test_engine_ready",
		"tts_test_voices",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	server := httptest.NewServer(collector.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL) //nolint:noctx // test helper
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tts_test_http_requests_total{method="POST",path="/api/v1/tts/generate",status="200"} 1`)
	assert.Contains(t, string(body), "tts_test_synthesis_in_flight 0")
	assert.Contains(t, string(body), "tts_test_artifacts_written_total 1")
}

func TestCollector_NilIsNoop(t *testing.T) {
	t.Parallel()

	var collector *metrics.Collector

	assert.NotPanics(t, func() {
		collector.RecordHTTPRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
		collector.SynthesisStarted()
		collector.SynthesisFinished(metrics.OutcomeError, time.Millisecond)
		collector.SetEngineReady(false)
		collector.SetVoices(1)
		collector.ArtifactWritten()
	})
	assert.Nil(t, collector.Registry())
}
