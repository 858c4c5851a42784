package audio

import (
	"bytes"
	"encoding/binary"
)

const defaultSampleRate = 16000

// WrapPCM16LE wraps raw PCM16LE mono samples in a minimal WAV container.
// Whisper-style transcription endpoints reject bare PCM uploads, so every
// committed utterance is wrapped before it leaves the process.
func WrapPCM16LE(pcm []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	writeLE(&buf, uint32(36)+dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeLE(&buf, uint32(16)) // fmt chunk size
	writeLE(&buf, uint16(1))  // PCM
	writeLE(&buf, uint16(numChannels))
	writeLE(&buf, uint32(sampleRate))
	writeLE(&buf, byteRate)
	writeLE(&buf, blockAlign)
	writeLE(&buf, uint16(bitsPerSample))

	buf.WriteString("data")
	writeLE(&buf, dataSize)
	buf.Write(pcm)

	return buf.Bytes()
}

func writeLE(buf *bytes.Buffer, v any) {
	_ = binary.Write(buf, binary.LittleEndian, v)
}
