// Package audiotest builds small audio fixtures for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
)

const (
	sampleRate    = 8000
	bitsPerSample = 16
	channels      = 1
	bytesPerFrame = channels * bitsPerSample / 8
	pcmFormat     = 1
	fmtChunkSize  = 16
	riffOverhead  = 36
)

// WAV returns a silent mono 16-bit PCM WAV file lasting the given seconds.
func WAV(seconds float64) []byte {
	dataSize := uint32(seconds*sampleRate) * bytesPerFrame

	var buf bytes.Buffer

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, riffOverhead+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(fmtChunkSize))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(pcmFormat))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*bytesPerFrame))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bytesPerFrame))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(make([]byte, dataSize))

	return buf.Bytes()
}
