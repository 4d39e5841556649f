package audio_test

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/book-expert/tts-gateway/internal/tts/audio"
	"github.com/book-expert/tts-gateway/internal/tts/audio/audiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForExt(t *testing.T) {
	t.Parallel()

	tests := map[string]audio.Format{
		".mp3":  audio.FormatMP3,
		".WAV":  audio.FormatWAV,
		".flac": audio.FormatFLAC,
		".Ogg":  audio.FormatOGG,
	}

	for ext, want := range tests {
		got, err := audio.FormatForExt(ext)
		require.NoError(t, err, ext)
		assert.Equal(t, want, got)
		assert.True(t, audio.IsAllowed(ext))
	}

	for _, ext := range []string{".m4a", ".aac", "", ".txt"} {
		_, err := audio.FormatForExt(ext)
		require.ErrorIs(t, err, audio.ErrUnsupportedFormat, ext)
		assert.False(t, audio.IsAllowed(ext))
	}
}

func TestClipDuration_WAV(t *testing.T) {
	t.Parallel()

	prober := audio.NewProber()

	for _, seconds := range []float64{1, 4.9, 7, 10.1} {
		duration, err := prober.Probe(bytes.NewReader(audiotest.WAV(seconds)), ".wav")
		require.NoError(t, err)
		assert.InDelta(t, seconds, duration, 0.01)
	}
}

func TestClipDuration_MP3(t *testing.T) {
	t.Parallel()

	prober := audio.NewProber()

	for _, seconds := range []float64{6, 9} {
		duration, err := prober.Probe(bytes.NewReader(audiotest.MP3(seconds)), ".MP3")
		require.NoError(t, err)
		assert.InDelta(t, seconds, duration, 0.03)
	}
}

func TestClipDuration_FLAC(t *testing.T) {
	t.Parallel()

	prober := audio.NewProber()

	for _, seconds := range []float64{4.5, 7.25, 12} {
		duration, err := prober.Probe(bytes.NewReader(audiotest.FLAC(seconds)), ".flac")
		require.NoError(t, err)
		assert.InDelta(t, seconds, duration, 0.001)
	}
}

func TestClipDuration_FLACWithoutSamplesIsInvalid(t *testing.T) {
	t.Parallel()

	_, err := audio.NewProber().Probe(bytes.NewReader(audiotest.FLAC(0)), ".flac")
	require.ErrorIs(t, err, audio.ErrInvalidAudio)
}

func TestClipDuration_LeavesReaderOpen(t *testing.T) {
	t.Parallel()

	clip, err := os.CreateTemp(t.TempDir(), "clip-*.flac")
	require.NoError(t, err)

	_, err = clip.Write(audiotest.FLAC(6))
	require.NoError(t, err)

	duration, err := audio.NewProber().Probe(clip, ".flac")
	require.NoError(t, err)
	assert.InDelta(t, 6.0, duration, 0.001)

	// The clip is still usable by the caller.
	_, err = clip.Seek(0, io.SeekStart)
	require.NoError(t, err)
	require.NoError(t, clip.Close())
}

func TestClipDuration_TruncatedOggIsInvalid(t *testing.T) {
	t.Parallel()

	truncated := append([]byte("OggS\x00\x02"), bytes.Repeat([]byte{0}, 32)...)

	_, err := audio.NewProber().Probe(bytes.NewReader(truncated), ".ogg")
	require.ErrorIs(t, err, audio.ErrInvalidAudio)
}

func TestClipDuration_UnsupportedExtension(t *testing.T) {
	t.Parallel()

	_, err := audio.NewProber().Probe(bytes.NewReader(audiotest.WAV(1)), ".aiff")
	require.ErrorIs(t, err, audio.ErrUnsupportedFormat)
}

func TestClipDuration_GarbageIsInvalid(t *testing.T) {
	t.Parallel()

	garbage := bytes.Repeat([]byte("not audio "), 64)
	prober := audio.NewProber()

	for _, ext := range []string{".wav", ".flac", ".ogg", ".mp3"} {
		_, err := prober.Probe(bytes.NewReader(garbage), ext)
		require.ErrorIs(t, err, audio.ErrInvalidAudio, ext)
	}
}
