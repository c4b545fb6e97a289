package provider

import (
	"context"
	"strings"

	"github.com/ent0n29/scribe/internal/llm"
)

const summaryPrompt = "Summarize the following recording transcript concisely in markdown. " +
	"Include key topics, decisions made, and action items if any. " +
	"Answer with the summary only."

// LLMSummarizer summarizes transcripts with any llm.Client.
type LLMSummarizer struct {
	client   llm.Client
	provider string
}

func NewLLMSummarizer(providerName, apiKey, model string, opts ...llm.Option) (*LLMSummarizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return &LLMSummarizer{provider: providerName}, nil
	}
	c, err := llm.NewClient(providerName, apiKey, model, opts...)
	if err != nil {
		return nil, err
	}
	return &LLMSummarizer{client: c, provider: providerName}, nil
}

// NewSummarizerWithClient wraps an existing client, mainly for tests.
func NewSummarizerWithClient(providerName string, c llm.Client) *LLMSummarizer {
	return &LLMSummarizer{client: c, provider: providerName}
}

func (s *LLMSummarizer) Name() string { return s.provider }

func (s *LLMSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", newError(ErrEmptyInput, s.provider, OpSummarize, 0, nil)
	}
	if s.client == nil {
		return "", newError(ErrConfiguration, s.provider, OpSummarize, 0, nil)
	}
	out, err := s.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: text},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", newError(ErrProvider, s.provider, OpSummarize, 0, ctx.Err())
		}
		return "", classify(s.provider, OpSummarize, err)
	}
	return strings.TrimSpace(out), nil
}
