package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lexiqai/device-gateway/internal/audio"
	"github.com/lexiqai/device-gateway/internal/config"
)

// openAIPCMRate is the fixed rate of the speech endpoint's pcm format
const openAIPCMRate = 24000

// SpeechClient synthesizes through an OpenAI compatible /audio/speech endpoint
type SpeechClient struct {
	client oai.Client
	model  string
	voice  string
}

// NewSpeechClient creates a speech client from cfg
func NewSpeechClient(cfg *config.Config, httpClient *http.Client) *SpeechClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &SpeechClient{
		client: oai.NewClient(opts...),
		model:  cfg.SpeechModel,
		voice:  cfg.SpeechVoice,
	}
}

// Synthesize implements Synthesizer
func (s *SpeechClient) Synthesize(ctx context.Context, text string) (audio.PCMClip, error) {
	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return audio.PCMClip{}, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.PCMClip{}, fmt.Errorf("openai speech: read body: %w", err)
	}
	return audio.PCMClip{Samples: audio.BytesToInt16(data), SampleRate: openAIPCMRate}, nil
}
