package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/provider"
	"github.com/ent0n29/scribe/internal/recording"
	"github.com/ent0n29/scribe/internal/session"
)

const (
	msgNoAudio        = "No audio data received"
	msgNotFound       = "Recording not found"
	msgStatusFailed   = "Failed to update recording status"
	msgShuttingDown   = "Server is shutting down"
	persistTimeout    = 10 * time.Second
	statusQueueLength = 64
)

// Archiver receives recordings after they are durably COMPLETED.
type Archiver interface {
	Export(ctx context.Context, rec recording.Recording) error
}

// Connection identifies one transport connection and the user it was
// authenticated as.
type Connection struct {
	ID     string
	UserID string
}

type Options struct {
	Logger          *log.Logger
	Metrics         *observability.Metrics
	Registry        *session.Registry
	Store           recording.Store
	Transcriber     provider.Transcriber
	Summarizer      provider.Summarizer
	Archiver        Archiver
	MaxChunkBytes   int
	SampleRate      int
	DefaultMimeType string
	// PipelineTimeout bounds transcribe+summarize. Zero means no limit.
	PipelineTimeout time.Duration
}

// Coordinator ingests audio chunks, drives the recording state machine and
// runs the transcribe -> summarize -> persist pipeline in the background.
type Coordinator struct {
	logger          *log.Logger
	metrics         *observability.Metrics
	registry        *session.Registry
	store           recording.Store
	transcriber     provider.Transcriber
	summarizer      provider.Summarizer
	archiver        Archiver
	maxChunkBytes   int
	sampleRate      int
	defaultMimeType string
	pipelineTimeout time.Duration
	now             func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

func New(opts Options) (*Coordinator, error) {
	if opts.Registry == nil || opts.Store == nil {
		return nil, errors.New("coordinator: registry and store are required")
	}
	if opts.Transcriber == nil || opts.Summarizer == nil {
		return nil, errors.New("coordinator: transcriber and summarizer are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = 1 << 20
	}
	if opts.DefaultMimeType == "" {
		opts.DefaultMimeType = "audio/webm"
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:          logger.With("component", "coordinator"),
		metrics:         opts.Metrics,
		registry:        opts.Registry,
		store:           opts.Store,
		transcriber:     opts.Transcriber,
		summarizer:      opts.Summarizer,
		archiver:        opts.Archiver,
		maxChunkBytes:   opts.MaxChunkBytes,
		sampleRate:      opts.SampleRate,
		defaultMimeType: opts.DefaultMimeType,
		pipelineTimeout: opts.PipelineTimeout,
		now:             time.Now,
		baseCtx:         ctx,
		cancel:          cancel,
	}
	c.registry.SetExpireHook(func(s session.LiveSession) {
		c.logger.Info("session expired", "recording_id", s.SessionID, "conn_id", s.ConnectionID, "chunks", s.ChunkCount)
		c.metrics.SessionEvent("expired")
		c.metrics.SetActiveSessions(c.registry.ActiveCount())
	})
	return c, nil
}

// RunConnection is the actor for one connection. It applies inbound client
// events in order until inbound is closed or ctx is done, then drops every
// live session the connection owned. Events already queued when ctx ends are
// still applied, so a complete sent just before a disconnect is honoured.
func (c *Coordinator) RunConnection(ctx context.Context, conn Connection, inbound <-chan any, outbound chan<- any) (err error) {
	logger := c.logger.With("conn_id", conn.ID, "user_id", conn.UserID)
	em := newEmitter(ctx.Done(), outbound, c.metrics)
	statusJobs := make(chan statusJob, statusQueueLength)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.runStatusWriter(conn, statusJobs, em, logger)
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("connection handler panic", "panic", r)
			err = fmt.Errorf("connection %s: panic: %v", conn.ID, r)
		}
		close(statusJobs)
		<-writerDone
		c.disconnect(conn, logger)
	}()

	for {
		select {
		case <-ctx.Done():
			c.drain(conn, inbound, em, statusJobs, logger)
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			c.dispatch(conn, msg, em, statusJobs, logger)
		}
	}
}

func (c *Coordinator) dispatch(conn Connection, msg any, em *emitter, statusJobs chan<- statusJob, logger *log.Logger) {
	switch m := msg.(type) {
	case protocol.AudioChunk:
		c.handleChunk(conn, m, em, logger)
	case protocol.CompleteRecording:
		c.handleComplete(conn, m.RecordingID, em, logger)
	case protocol.PauseRecording:
		c.handlePause(conn, m.RecordingID, true, em, statusJobs, logger)
	case protocol.ResumeRecording:
		c.handlePause(conn, m.RecordingID, false, em, statusJobs, logger)
	default:
		logger.Warn("ignoring unsupported inbound message", "type", fmt.Sprintf("%T", msg))
	}
}

// drain applies whatever is still buffered in inbound without waiting for more.
func (c *Coordinator) drain(conn Connection, inbound <-chan any, em *emitter, statusJobs chan<- statusJob, logger *log.Logger) {
	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			c.dispatch(conn, msg, em, statusJobs, logger)
		default:
			return
		}
	}
}

func (c *Coordinator) handleChunk(conn Connection, m protocol.AudioChunk, em *emitter, logger *log.Logger) {
	ack := protocol.AudioChunkReceived{RecordingID: m.RecordingID}
	if len(m.Chunk) == 0 || len(m.Chunk) > c.maxChunkBytes {
		logger.Warn("rejecting audio chunk", "recording_id", m.RecordingID, "bytes", len(m.Chunk), "max_bytes", c.maxChunkBytes)
		c.metrics.SessionEvent("chunk_rejected_size")
		em.send(ack)
		return
	}
	mimeType := m.MimeType
	if mimeType == "" {
		mimeType = c.defaultMimeType
	}

	res := c.registry.Ingest(m.RecordingID, conn.ID, conn.UserID, mimeType, m.Chunk, m.IsFinal)
	if res.Status != session.IngestAccepted {
		logger.Debug("audio chunk ignored", "recording_id", m.RecordingID, "reason", res.Status)
		c.metrics.SessionEvent("chunk_rejected_" + res.Status.String())
		em.send(ack)
		return
	}
	if res.Created {
		logger.Info("recording started", "recording_id", m.RecordingID, "mime_type", mimeType)
		c.metrics.SessionEvent("started")
		c.metrics.SetActiveSessions(c.registry.ActiveCount())
	}
	c.metrics.Chunk(len(m.Chunk))
	ack.Success = true
	em.send(ack)
}

func (c *Coordinator) handleComplete(conn Connection, id string, em *emitter, logger *log.Logger) {
	if !c.startPipeline() {
		logger.Warn("complete refused during shutdown", "recording_id", id)
		c.metrics.SessionEvent("complete_shutdown")
		em.send(protocol.RecordingError{RecordingID: id, Error: msgShuttingDown})
		return
	}
	live, res := c.registry.Claim(id, conn.ID)
	switch res {
	case session.ClaimOK:
	case session.ClaimInFlight, session.ClaimFinished:
		c.wg.Done()
		logger.Info("duplicate complete ignored", "recording_id", id, "state", res)
		c.metrics.SessionEvent("complete_duplicate")
		return
	default:
		c.wg.Done()
		logger.Warn("complete without audio", "recording_id", id, "reason", res)
		c.metrics.SessionEvent("complete_no_audio")
		c.metrics.SetActiveSessions(c.registry.ActiveCount())
		em.send(protocol.RecordingError{RecordingID: id, Error: msgNoAudio})
		return
	}

	c.metrics.SessionEvent("completing")
	c.metrics.SetActiveSessions(c.registry.ActiveCount())
	em.send(protocol.RecordingStatus{RecordingID: id, Status: string(recording.StatusProcessing)})

	go func() {
		defer c.wg.Done()
		defer c.registry.Finish(id)
		c.runPipeline(conn, live, em)
	}()
}

// startPipeline registers a pipeline with the shutdown wait group. It fails
// once Shutdown has begun.
func (c *Coordinator) startPipeline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Coordinator) handlePause(conn Connection, id string, paused bool, em *emitter, jobs chan<- statusJob, logger *log.Logger) {
	live, ok := c.registry.Get(id)
	if !ok || live.ConnectionID != conn.ID {
		logger.Debug("pause/resume for unknown session ignored", "recording_id", id, "paused", paused)
		return
	}
	c.registry.SetPaused(id, paused)

	status := recording.StatusRecording
	event := "resumed"
	if paused {
		status = recording.StatusPaused
		event = "paused"
	}
	c.metrics.SessionEvent(event)
	em.send(protocol.RecordingStatus{RecordingID: id, Status: string(status)})
	select {
	case jobs <- statusJob{id: id, status: status}:
	default:
		logger.Warn("status queue full, dropping status update", "recording_id", id, "status", status)
	}
}

type statusJob struct {
	id     string
	status recording.Status
}

// runStatusWriter applies pause/resume status writes for one connection in
// the order they were requested. Failures are reported as recording-error.
func (c *Coordinator) runStatusWriter(conn Connection, jobs <-chan statusJob, em *emitter, logger *log.Logger) {
	for job := range jobs {
		ctx, cancel := context.WithTimeout(c.baseCtx, persistTimeout)
		err := c.updateOwned(ctx, job.id, conn.UserID, recording.Patch{Status: recording.StatusPtr(job.status)})
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, recording.ErrInvalidTransition):
			logger.Info("status update skipped", "recording_id", job.id, "status", job.status, "err", err)
		case errors.Is(err, recording.ErrNotFound), errors.Is(err, recording.ErrForbidden):
			logger.Warn("status update for unknown recording", "recording_id", job.id, "status", job.status)
			em.send(protocol.RecordingError{RecordingID: job.id, Error: msgNotFound})
		default:
			logger.Error("persist status failed", "recording_id", job.id, "status", job.status, "err", err)
			em.send(protocol.RecordingError{RecordingID: job.id, Error: msgStatusFailed})
		}
	}
}

func (c *Coordinator) updateOwned(ctx context.Context, id, userID string, patch recording.Patch) error {
	if _, err := recording.GetOwned(ctx, c.store, id, userID); err != nil {
		return err
	}
	_, err := c.store.Update(ctx, id, patch)
	return err
}

func (c *Coordinator) disconnect(conn Connection, logger *log.Logger) {
	removed := c.registry.RemoveByConnection(conn.ID)
	if len(removed) > 0 {
		logger.Warn("connection closed with unfinished recordings; buffered audio dropped", "recordings", removed)
		for range removed {
			c.metrics.SessionEvent("dropped_on_disconnect")
		}
	}
	c.metrics.SetActiveSessions(c.registry.ActiveCount())
}

// Discard drops any live state for a recording, e.g. after it was deleted.
func (c *Coordinator) Discard(id string) {
	c.registry.Forget(id)
	c.metrics.SetActiveSessions(c.registry.ActiveCount())
}

// Shutdown refuses new completions and waits for running pipelines. When ctx
// expires first the pipelines are cancelled and ctx.Err() is returned.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

func (c *Coordinator) ActiveCount() int {
	return c.registry.ActiveCount()
}
