package provider

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MockTranscriber produces a deterministic transcript without calling any
// service. Used when no credentials are configured.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (MockTranscriber) Name() string { return "mock" }

func (m MockTranscriber) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", newError(ErrEmptyInput, m.Name(), OpTranscribe, 0, nil)
	}
	if err := ctx.Err(); err != nil {
		return "", newError(ErrProvider, m.Name(), OpTranscribe, 0, err)
	}
	if mimeType == "" {
		mimeType = "audio"
	}
	return fmt.Sprintf("Mock transcript of %d bytes of %s.", len(data), mimeType), nil
}

type MockSummarizer struct{}

func NewMockSummarizer() *MockSummarizer { return &MockSummarizer{} }

func (MockSummarizer) Name() string { return "mock" }

func (m MockSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", newError(ErrEmptyInput, m.Name(), OpSummarize, 0, nil)
	}
	if err := ctx.Err(); err != nil {
		return "", newError(ErrProvider, m.Name(), OpSummarize, 0, err)
	}
	if utf8.RuneCountInString(text) > 120 {
		text = string([]rune(text)[:120]) + "..."
	}
	return "Summary: " + text, nil
}
