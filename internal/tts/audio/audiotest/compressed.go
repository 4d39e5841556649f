package audiotest

import (
	"bytes"
	"encoding/binary"
	"math"
)

// MPEG-1 Layer III, 128 kbps, 48 kHz, stereo, no CRC: every frame is
// exactly 384 bytes and plays 1152 samples.
const (
	mp3SampleRate      = 48000
	mp3SamplesPerFrame = 1152
	mp3FrameSize       = 144 * 128000 / mp3SampleRate
)

var mp3FrameHeader = []byte{0xFF, 0xFB, 0x94, 0x00}

// MP3 returns a stream of silent MP3 frames lasting roughly the given
// seconds, rounded to whole frames.
func MP3(seconds float64) []byte {
	frames := int(math.Round(seconds * mp3SampleRate / mp3SamplesPerFrame))

	var buf bytes.Buffer

	for range frames {
		buf.Write(mp3FrameHeader)
		buf.Write(make([]byte, mp3FrameSize-len(mp3FrameHeader)))
	}

	return buf.Bytes()
}

const (
	flacSampleRate     = 16000
	flacBlockSize      = 4096
	flacChannels       = 1
	flacBitsPerSample  = 16
	flacStreamInfoSize = 34
	flacLastBlockFlag  = 0x80
)

// FLAC returns a FLAC stream holding only a STREAMINFO block that declares
// the given seconds of mono audio.
func FLAC(seconds float64) []byte {
	samples := uint64(seconds * flacSampleRate)

	var buf bytes.Buffer

	buf.WriteString("fLaC")

	// Metadata block header: last-block flag, type 0 (STREAMINFO), 24-bit length.
	buf.Write([]byte{flacLastBlockFlag, 0, 0, flacStreamInfoSize})

	_ = binary.Write(&buf, binary.BigEndian, uint16(flacBlockSize))
	_ = binary.Write(&buf, binary.BigEndian, uint16(flacBlockSize))
	// Unknown min and max frame sizes.
	buf.Write(make([]byte, 6))

	packed := uint64(flacSampleRate)<<44 |
		uint64(flacChannels-1)<<41 |
		uint64(flacBitsPerSample-1)<<36 |
		samples&(1<<36-1)
	_ = binary.Write(&buf, binary.BigEndian, packed)

	// Unset MD5 signature.
	buf.Write(make([]byte, 16))

	return buf.Bytes()
}
