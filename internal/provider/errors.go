package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ent0n29/scribe/internal/llm"
	"github.com/ent0n29/scribe/internal/reliability"
)

var (
	ErrEmptyInput    = errors.New("empty input")
	ErrConfiguration = errors.New("provider not configured")
	ErrRateLimit     = errors.New("provider rate limited")
	ErrProvider      = errors.New("provider failure")
)

const (
	OpTranscribe = "transcribe"
	OpSummarize  = "summarize"
)

// Error is a classified adapter failure. Kind is one of the sentinel errors
// above, so errors.Is(err, ErrRateLimit) matches through it.
type Error struct {
	Kind     error
	Provider string
	Op       string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Status > 0 {
		b.WriteString(" (status ")
		b.WriteString(strconv.Itoa(e.Status))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether a caller could reasonably try again. The
// coordinator itself never does.
func (e *Error) Retryable() bool {
	return errors.Is(e.Kind, ErrRateLimit) || reliability.IsRetryableHTTPStatus(e.Status)
}

func newError(kind error, providerName, op string, status int, err error) *Error {
	return &Error{Kind: kind, Provider: providerName, Op: op, Status: status, Err: err}
}

// classify wraps an upstream SDK error into an *Error using its HTTP status.
func classify(providerName, op string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	status := llm.StatusCode(err)
	if status == 0 {
		status = statusFromText(err.Error())
	}
	kind := ErrProvider
	switch {
	case status == 429:
		kind = ErrRateLimit
	case reliability.IsAuthHTTPStatus(status):
		kind = ErrConfiguration
	}
	return newError(kind, providerName, op, status, err)
}

// statusFromText recovers well-known statuses from SDKs that only report
// them inside the message.
func statusFromText(msg string) int {
	for _, code := range []int{429, 401, 403} {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return code
		}
	}
	return 0
}

// Code is a short label for metrics.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	default:
		var pe *Error
		if errors.As(err, &pe) && pe.Status > 0 {
			return fmt.Sprintf("http_%d", pe.Status)
		}
		return "provider"
	}
}

// UserMessage maps an adapter failure to a short reason that is safe to show
// to the client.
func UserMessage(err error) string {
	op := OpTranscribe
	var pe *Error
	if errors.As(err, &pe) && pe.Op != "" {
		op = pe.Op
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Processing timed out"
	case errors.Is(err, ErrEmptyInput) && op == OpSummarize:
		return "No speech was detected in the recording"
	case errors.Is(err, ErrEmptyInput):
		return "No audio data received"
	case errors.Is(err, ErrConfiguration) && op == OpSummarize:
		return "Summary service is not configured"
	case errors.Is(err, ErrConfiguration):
		return "Transcription service is not configured"
	case errors.Is(err, ErrRateLimit) && op == OpSummarize:
		return "Summary service is busy, please try again later"
	case errors.Is(err, ErrRateLimit):
		return "Transcription service is busy, please try again later"
	case op == OpSummarize:
		return "Summary generation failed"
	default:
		return "Transcription failed"
	}
}
