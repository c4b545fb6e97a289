package provider

import (
	"bytes"
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/scribe/internal/audio"
)

// OpenAIConfig configures the Whisper transcriber. BaseURL is optional.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// OpenAITranscriber sends the whole recording to the Whisper transcription
// endpoint in one request.
type OpenAITranscriber struct {
	client   *openai.Client
	apiKey   string
	model    string
	language string
}

func NewOpenAITranscriber(cfg OpenAIConfig) *OpenAITranscriber {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{
		client:   openai.NewClientWithConfig(clientCfg),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    model,
		language: strings.TrimSpace(cfg.Language),
	}
}

func (t *OpenAITranscriber) Name() string { return "openai" }

func (t *OpenAITranscriber) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", newError(ErrEmptyInput, t.Name(), OpTranscribe, 0, nil)
	}
	if t.apiKey == "" {
		return "", newError(ErrConfiguration, t.Name(), OpTranscribe, 0, nil)
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "recording" + audio.Extension(mimeType),
		Reader:   bytes.NewReader(data),
		Language: t.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", newError(ErrProvider, t.Name(), OpTranscribe, 0, ctx.Err())
		}
		return "", classify(t.Name(), OpTranscribe, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
