package services

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// speechCreator is the slice of the go-openai client used for synthesis.
type speechCreator interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// SpeechService synthesizes narration through an OpenAI-compatible speech
// endpoint (Groq by default) and always requests WAV.
type SpeechService struct {
	client speechCreator
	model  string
	voice  string
}

// Ensure SpeechService implements TTSService at compile time.
var _ TTSService = (*SpeechService)(nil)

func NewSpeechService(client speechCreator, model, voice string) *SpeechService {
	return &SpeechService{client: client, model: model, voice: voice}
}

// GenerateSpeech implements TTSService. voiceStyle is not supported by the
// endpoint and is ignored.
func (s *SpeechService) GenerateSpeech(ctx context.Context, text, voiceStyle string) (*TTSResponse, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	return &TTSResponse{
		AudioData:  audio,
		DurationMs: WAVDurationMs(audio),
		Format:     "wav",
	}, nil
}
