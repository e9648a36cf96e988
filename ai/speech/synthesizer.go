// Package speech implements the media side-channel: conditional text to
// speech rendering whose failure must never abort the primary text response.
package speech

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"
)

// Synthesizer renders text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error)
}

// Config represents speech synthesis backend configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type openaiSynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
}

// NewSynthesizer creates a Synthesizer backed by an OpenAI-compatible
// speech endpoint.
func NewSynthesizer(cfg *Config) (Synthesizer, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := openai.TTSModel1
	if cfg.Model != "" {
		model = openai.SpeechModel(cfg.Model)
	}
	return &openaiSynthesizer{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

func (s *openaiSynthesizer) Synthesize(ctx context.Context, text string, voiceID string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voiceID),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	return io.ReadAll(resp)
}
