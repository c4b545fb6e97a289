package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/scribe/internal/config"
	"github.com/ent0n29/scribe/internal/llm"
)

// Transcriber turns one logical audio object into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	Name() string
}

// Summarizer condenses a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
	Name() string
}

// FromConfig builds the transcriber and summarizer selected by cfg. Auto mode
// picks one backend and falls back to the mocks without credentials; only
// the explicit failover provider makes a second attempt.
func FromConfig(cfg config.Config, logger *log.Logger) (Transcriber, Summarizer, error) {
	tr, err := newTranscriber(cfg)
	if err != nil {
		return nil, nil, err
	}
	sum, err := newSummarizer(cfg)
	if err != nil {
		return nil, nil, err
	}
	if logger != nil {
		logger.Info("adapters ready", "transcriber", tr.Name(), "summarizer", sum.Name())
	}
	return tr, sum, nil
}

func newTranscriber(cfg config.Config) (Transcriber, error) {
	openai := func() Transcriber {
		return NewOpenAITranscriber(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.TranscribeModel, Language: cfg.TranscribeLanguage})
	}
	deepgram := func() Transcriber {
		return NewDeepgramTranscriber(DeepgramConfig{APIKey: cfg.DeepgramAPIKey, Model: cfg.TranscribeModel, Language: cfg.TranscribeLanguage})
	}
	switch strings.ToLower(cfg.TranscribeProvider) {
	case "mock":
		return NewMockTranscriber(), nil
	case "openai":
		return openai(), nil
	case "deepgram":
		return deepgram(), nil
	case "failover":
		return NewFailoverTranscriber(openai(), deepgram()), nil
	case "", "auto":
		switch {
		case cfg.OpenAIAPIKey != "":
			return openai(), nil
		case cfg.DeepgramAPIKey != "":
			return deepgram(), nil
		default:
			return NewMockTranscriber(), nil
		}
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.TranscribeProvider)
	}
}

func newSummarizer(cfg config.Config) (Summarizer, error) {
	if strings.EqualFold(cfg.SummaryModel, "mock") {
		return NewMockSummarizer(), nil
	}
	providerName, model, err := llm.ParseModel(cfg.SummaryModel)
	if err != nil {
		return nil, err
	}
	key := cfg.SummaryAPIKey()
	if key == "" {
		return NewMockSummarizer(), nil
	}
	var opts []llm.Option
	if cfg.SummaryBaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.SummaryBaseURL))
	}
	return NewLLMSummarizer(providerName, key, model, opts...)
}
