package tts_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModelScript writes its arguments, one per line, to the --output path.
const fakeModelScript = `#!/bin/sh
out=""
for arg in "$@"; do
  if [ "$prev" = "--output" ]; then out="$arg"; fi
  prev="$arg"
done
printf '%s\n' "$@" > "$out"
`

const failingModelScript = `#!/bin/sh
echo "model exploded" >&2
exit 3
`

// Tests that exec a freshly written script stay serial: a concurrent fork can
// inherit the write descriptor and make exec fail with ETXTBSY.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fake-model")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700)) //nolint:gosec // test executable

	return path
}

func newLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestCommandSynthesizer_Synthesize(t *testing.T) {
	synth := tts.NewCommandSynthesizer(writeScript(t, fakeModelScript), "dia", newLogger(t))

	require.NoError(t, synth.HealthCheck(context.Background()))

	audio, err := synth.Synthesize(context.Background(), "[S1] Hello there.", testParams())
	require.NoError(t, err)

	out := string(audio)
	assert.Contains(t, out, "--text\n[S1] Hello there.\n")
	assert.Contains(t, out, "--temperature\n1.8\n")
	assert.Contains(t, out, "--guidance-scale\n3\n")
	assert.Contains(t, out, "--top-p\n0.9\n")
	assert.Contains(t, out, "--top-k\n45\n")
	assert.Contains(t, out, "--max-new-tokens\n3072\n")
	assert.Contains(t, out, "--model\ndia\n")
	assert.Contains(t, out, "--seed\n42\n")
}

func TestCommandSynthesizer_Failure(t *testing.T) {
	synth := tts.NewCommandSynthesizer(writeScript(t, failingModelScript), "", newLogger(t))

	_, err := synth.Synthesize(context.Background(), "[S1] hi", testParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestCommandSynthesizer_HealthCheckMissingBinary(t *testing.T) {
	t.Parallel()

	synth := tts.NewCommandSynthesizer(filepath.Join(t.TempDir(), "absent"), "", newLogger(t))

	err := synth.HealthCheck(context.Background())
	require.ErrorIs(t, err, tts.ErrBinaryNotFound)
}
