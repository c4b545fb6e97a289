package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	dgapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const (
	deepgramWriteSize = 32 * 1024
	deepgramIdle      = 5 * time.Second
)

var deepgramInit sync.Once

// DeepgramConfig configures the Deepgram transcriber. A Whisper model name is
// replaced by nova-2.
type DeepgramConfig struct {
	APIKey   string
	Model    string
	Language string
	// Idle bounds the quiet period while waiting for the finalize response.
	Idle time.Duration
}

// liveStream is the part of the Deepgram websocket client the transcriber uses.
type liveStream interface {
	Connect() bool
	Write(p []byte) (int, error)
	Finalize() error
	Stop()
}

type dialFunc func(ctx context.Context, apiKey string, opts *interfaces.LiveTranscriptionOptions, cb *deepgramCollector) (liveStream, error)

// DeepgramTranscriber streams the assembled recording through a Deepgram live
// session and joins the final results.
type DeepgramTranscriber struct {
	cfg  DeepgramConfig
	dial dialFunc
}

func NewDeepgramTranscriber(cfg DeepgramConfig) *DeepgramTranscriber {
	model := strings.TrimSpace(cfg.Model)
	if model == "" || strings.HasPrefix(model, "whisper") {
		cfg.Model = "nova-2"
	}
	if cfg.Idle <= 0 {
		cfg.Idle = deepgramIdle
	}
	return &DeepgramTranscriber{cfg: cfg, dial: dialDeepgram}
}

func dialDeepgram(ctx context.Context, apiKey string, opts *interfaces.LiveTranscriptionOptions, cb *deepgramCollector) (liveStream, error) {
	deepgramInit.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})
	return client.NewWSUsingCallback(ctx, apiKey, &interfaces.ClientOptions{}, opts, cb)
}

func (t *DeepgramTranscriber) Name() string { return "deepgram" }

func (t *DeepgramTranscriber) Transcribe(ctx context.Context, data []byte, _ string) (string, error) {
	if len(data) == 0 {
		return "", newError(ErrEmptyInput, t.Name(), OpTranscribe, 0, nil)
	}
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return "", newError(ErrConfiguration, t.Name(), OpTranscribe, 0, nil)
	}

	opts := &interfaces.LiveTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		Punctuate:   true,
		SmartFormat: true,
	}
	collector := newDeepgramCollector()
	stream, err := t.dial(ctx, t.cfg.APIKey, opts, collector)
	if err != nil {
		return "", classify(t.Name(), OpTranscribe, err)
	}
	if !stream.Connect() {
		return "", newError(ErrProvider, t.Name(), OpTranscribe, 0, errors.New("deepgram connect failed"))
	}
	defer stream.Stop()

	for off := 0; off < len(data); off += deepgramWriteSize {
		end := min(off+deepgramWriteSize, len(data))
		if _, err := stream.Write(data[off:end]); err != nil {
			return "", classify(t.Name(), OpTranscribe, fmt.Errorf("deepgram write: %w", err))
		}
		if ctx.Err() != nil {
			return "", newError(ErrProvider, t.Name(), OpTranscribe, 0, ctx.Err())
		}
	}

	// Deepgram holds the trailing utterance open until it is finalized.
	if err := stream.Finalize(); err != nil {
		return "", classify(t.Name(), OpTranscribe, fmt.Errorf("deepgram finalize: %w", err))
	}

	if err := collector.wait(ctx, t.cfg.Idle); err != nil {
		if ctx.Err() != nil {
			return "", newError(ErrProvider, t.Name(), OpTranscribe, 0, ctx.Err())
		}
		return "", classify(t.Name(), OpTranscribe, err)
	}
	return collector.transcript(), nil
}

// deepgramCollector receives live session callbacks and accumulates final
// transcript segments.
type deepgramCollector struct {
	mu       sync.Mutex
	parts    []string
	err      error
	activity  chan struct{}
	closed    chan struct{}
	finalized chan struct{}
	closeOnce sync.Once
	finalOnce sync.Once
}

var errNoFinalize = errors.New("deepgram: no finalize response")

func newDeepgramCollector() *deepgramCollector {
	return &deepgramCollector{
		activity:  make(chan struct{}, 1),
		closed:    make(chan struct{}),
		finalized: make(chan struct{}),
	}
}

func (c *deepgramCollector) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

// wait returns once the finalize response arrived or the stream closed or
// failed. Staying quiet for idle with nothing transcribed is an error.
func (c *deepgramCollector) wait(ctx context.Context, idle time.Duration) error {
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return c.failure()
		case <-c.finalized:
			return c.failure()
		case <-c.activity:
			if err := c.failure(); err != nil {
				return err
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			if err := c.failure(); err != nil {
				return err
			}
			if c.transcript() == "" {
				return errNoFinalize
			}
			return nil
		}
	}
}

func (c *deepgramCollector) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *deepgramCollector) transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.parts, " ")
}

func (c *deepgramCollector) Message(mr *dgapi.MessageResponse) error {
	defer c.touch()
	if mr.IsFinal && len(mr.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript); text != "" {
			c.mu.Lock()
			c.parts = append(c.parts, text)
			c.mu.Unlock()
		}
	}
	if mr.FromFinalize {
		c.finalOnce.Do(func() { close(c.finalized) })
	}
	return nil
}

func (c *deepgramCollector) Open(*dgapi.OpenResponse) error { return nil }

func (c *deepgramCollector) Metadata(*dgapi.MetadataResponse) error {
	c.touch()
	return nil
}

func (c *deepgramCollector) SpeechStarted(*dgapi.SpeechStartedResponse) error {
	c.touch()
	return nil
}

func (c *deepgramCollector) UtteranceEnd(*dgapi.UtteranceEndResponse) error {
	c.touch()
	return nil
}

func (c *deepgramCollector) Close(*dgapi.CloseResponse) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *deepgramCollector) Error(er *dgapi.ErrorResponse) error {
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.Description)
	}
	c.mu.Unlock()
	c.touch()
	return nil
}

func (c *deepgramCollector) UnhandledEvent([]byte) error { return nil }
