package services

import (
	"bytes"
	"context"
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// TTSService: common interface for text-to-speech providers
// Groq (OpenAI-compatible), Cartesia and ElevenLabs implement this interface so the
// audio pool can use whichever is configured without knowing the provider.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int // 0 when the provider could not report it
	Format     string
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	// GenerateSpeech converts text to WAV audio. voiceStyle is a short
	// description of the delivery; providers may ignore it.
	GenerateSpeech(ctx context.Context, text, voiceStyle string) (*TTSResponse, error)
}

// WAVDurationMs reads the duration from a RIFF/WAVE header. It returns 0
// when the payload is not a WAV file or the data chunk size is unknown
// (streamed WAVs carry 0 or 0xFFFFFFFF there).
func WAVDurationMs(data []byte) int {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return 0
	}

	var byteRate uint32
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 || size == 0 || size == 0xFFFFFFFF {
				return 0
			}
			return int(uint64(size) * 1000 / uint64(byteRate))
		}

		next := body + int(size)
		if size%2 == 1 {
			next++
		}
		if next <= offset {
			return 0
		}
		offset = next
	}
	return 0
}

// PCMToWAV prefixes raw 16-bit little-endian PCM with a RIFF/WAVE header.
func PCMToWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * 2

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
