package provider

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// FailoverTranscriber prefers the primary backend and switches to the
// fallback when the primary fails. Once the fallback succeeds it stays
// active until it fails too; then the primary is tried again.
type FailoverTranscriber struct {
	primary        Transcriber
	fallback       Transcriber
	fallbackActive atomic.Bool
}

func NewFailoverTranscriber(primary, fallback Transcriber) *FailoverTranscriber {
	return &FailoverTranscriber{primary: primary, fallback: fallback}
}

func (f *FailoverTranscriber) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

// Active names the backend the next call will try first.
func (f *FailoverTranscriber) Active() string {
	if f.fallbackActive.Load() {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

func (f *FailoverTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	first, second := f.primary, f.fallback
	if f.fallbackActive.Load() {
		first, second = f.fallback, f.primary
	}

	text, firstErr := first.Transcribe(ctx, audio, mimeType)
	if firstErr == nil || !shouldFailover(ctx, firstErr) {
		return text, firstErr
	}
	text, secondErr := second.Transcribe(ctx, audio, mimeType)
	if secondErr != nil {
		return "", fmt.Errorf("%s failed: %v; %s failed: %w", first.Name(), firstErr, second.Name(), secondErr)
	}
	f.fallbackActive.Store(second == f.fallback)
	return text, nil
}

// shouldFailover is false for failures another backend cannot fix.
func shouldFailover(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrEmptyInput)
}
