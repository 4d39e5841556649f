// Package audio validates reference clips uploaded for voice cloning.
//
// It knows which container formats the gateway accepts and how long a clip
// plays, which is all the clone flow needs before handing the clip to the
// registry.
package audio

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// Format represents supported reference clip formats.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
)

// go-mp3 always decodes to 16-bit stereo PCM.
const mp3BytesPerFrame = 4

const (
	errFmtDecode        = "%w: %s: %w"
	errFmtEmptyStream   = "%w: %s stream reports no samples"
	errFmtUnsupportedEx = "%w: %q"
)

var (
	// ErrUnsupportedFormat is returned for extensions outside the allow-list.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrInvalidAudio is returned when a clip cannot be decoded.
	ErrInvalidAudio = errors.New("invalid audio file")
)

// AllowedExtensions lists the accepted reference clip extensions, in display order.
var AllowedExtensions = []string{".mp3", ".wav", ".flac", ".ogg"}

// FormatForExt maps an extension such as ".WAV" to its Format.
func FormatForExt(ext string) (Format, error) {
	switch strings.ToLower(ext) {
	case ".mp3":
		return FormatMP3, nil
	case ".wav":
		return FormatWAV, nil
	case ".flac":
		return FormatFLAC, nil
	case ".ogg":
		return FormatOGG, nil
	default:
		return "", fmt.Errorf(errFmtUnsupportedEx, ErrUnsupportedFormat, ext)
	}
}

// IsAllowed reports whether ext is an accepted reference clip extension.
func IsAllowed(ext string) bool {
	_, err := FormatForExt(ext)

	return err == nil
}

// Prober measures clip durations by decoding container headers.
// It implements core.DurationProber.
type Prober struct{}

// NewProber creates a Prober.
func NewProber() *Prober {
	return &Prober{}
}

// Probe returns the playback length of r in seconds.
func (p *Prober) Probe(r io.ReadSeeker, ext string) (float64, error) {
	format, err := FormatForExt(ext)
	if err != nil {
		return 0, err
	}

	_, err = r.Seek(0, io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("failed to rewind clip: %w", err)
	}

	switch format {
	case FormatMP3:
		return probeMP3(r)
	case FormatWAV:
		return probeWAV(r)
	case FormatFLAC:
		return probeFLAC(r)
	case FormatOGG:
		return probeOGG(r)
	default:
		return 0, fmt.Errorf(errFmtUnsupportedEx, ErrUnsupportedFormat, ext)
	}
}

func probeMP3(r io.ReadSeeker) (float64, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return 0, fmt.Errorf(errFmtDecode, ErrInvalidAudio, FormatMP3, err)
	}

	length := decoder.Length()
	rate := decoder.SampleRate()

	if length <= 0 || rate <= 0 {
		return 0, fmt.Errorf(errFmtEmptyStream, ErrInvalidAudio, FormatMP3)
	}

	return float64(length) / float64(mp3BytesPerFrame*rate), nil
}

func probeWAV(r io.ReadSeeker) (float64, error) {
	decoder := wav.NewDecoder(r)

	duration, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf(errFmtDecode, ErrInvalidAudio, FormatWAV, err)
	}

	if duration <= 0 {
		return 0, fmt.Errorf(errFmtEmptyStream, ErrInvalidAudio, FormatWAV)
	}

	return duration.Seconds(), nil
}

func probeFLAC(r io.ReadSeeker) (float64, error) {
	// Stream.Close closes its reader when it can; the caller owns r.
	stream, err := flac.New(struct{ io.Reader }{r})
	if err != nil {
		return 0, fmt.Errorf(errFmtDecode, ErrInvalidAudio, FormatFLAC, err)
	}
	defer stream.Close()

	if stream.Info.SampleRate == 0 || stream.Info.NSamples == 0 {
		return 0, fmt.Errorf(errFmtEmptyStream, ErrInvalidAudio, FormatFLAC)
	}

	return float64(stream.Info.NSamples) / float64(stream.Info.SampleRate), nil
}

func probeOGG(r io.ReadSeeker) (float64, error) {
	reader, err := oggvorbis.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf(errFmtDecode, ErrInvalidAudio, FormatOGG, err)
	}

	length := reader.Length()
	rate := reader.SampleRate()

	if length <= 0 || rate <= 0 {
		return 0, fmt.Errorf(errFmtEmptyStream, ErrInvalidAudio, FormatOGG)
	}

	return float64(length) / float64(rate), nil
}
