package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/scribe/internal/audio"
	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/policy"
	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/provider"
	"github.com/ent0n29/scribe/internal/recording"
	"github.com/ent0n29/scribe/internal/session"
)

const (
	failureMarker  = "[processing failed] "
	msgAlreadyDone = "Recording has already been processed"
	msgFailed      = "Processing failed"
	previewRunes   = 80
	archiveTimeout = 2 * time.Minute
)

// pipelineRun carries the state of one completion attempt.
type pipelineRun struct {
	c          *Coordinator
	conn       Connection
	live       session.LiveSession
	em         *emitter
	logger     *log.Logger
	durable    bool
	processing bool
	finished   bool
	transcript string
	started    time.Time
}

var errPipelinePanic = errors.New("pipeline panic")

// runPipeline assembles, transcribes, summarizes and persists one claimed
// session. Every failure ends in exactly one recording-error.
func (c *Coordinator) runPipeline(conn Connection, live session.LiveSession, em *emitter) {
	ctx := c.baseCtx
	if c.pipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.pipelineTimeout)
		defer cancel()
	}
	run := &pipelineRun{
		c:       c,
		conn:    conn,
		live:    live,
		em:      em,
		logger:  c.logger.With("recording_id", live.SessionID, "conn_id", conn.ID, "user_id", conn.UserID),
		started: c.now(),
	}
	defer func() {
		if r := recover(); r != nil {
			run.logger.Error("pipeline panic", "panic", r)
			if !run.finished {
				run.fail(provider.OpTranscribe, fmt.Errorf("%w: %v", errPipelinePanic, r))
			}
		}
	}()
	run.execute(ctx)
}

func (p *pipelineRun) execute(ctx context.Context) {
	c := p.c
	id := p.live.SessionID

	rec, err := c.store.Get(ctx, id)
	switch {
	case err == nil && !rec.OwnedBy(p.conn.UserID):
		p.logger.Warn("recording owned by another user, aborting")
		p.reject(msgNotFound)
		return
	case err == nil && rec.Status.Terminal():
		p.logger.Warn("recording already finished, aborting", "status", rec.Status)
		p.reject(msgAlreadyDone)
		return
	case err == nil:
		p.durable = true
	case errors.Is(err, recording.ErrNotFound):
		p.logger.Warn("no durable record for session; results will not be persisted")
	default:
		p.logger.Error("load recording failed; continuing without persistence", "err", err)
	}
	_, p.processing = p.persist(recording.Patch{Status: recording.StatusPtr(recording.StatusProcessing)})

	stageStart := c.now()
	blob, err := audio.Assemble(p.live.Chunks, p.live.MimeType, c.sampleRate)
	c.metrics.ObserveStage(observability.StageAssemble, c.now().Sub(stageStart))
	if err != nil {
		p.fail(provider.OpTranscribe, err)
		return
	}
	p.logger.Info("transcribing", "chunks", p.live.ChunkCount, "bytes", len(blob.Data), "mime_type", blob.MimeType, "provider", c.transcriber.Name())

	stageStart = c.now()
	text, err := c.transcriber.Transcribe(ctx, blob.Data, blob.MimeType)
	c.metrics.ObserveStage(observability.StageTranscribe, c.now().Sub(stageStart))
	if err != nil {
		c.metrics.ProviderError(c.transcriber.Name(), provider.Code(err))
		p.fail(provider.OpTranscribe, err)
		return
	}
	p.transcript = text
	p.em.send(protocol.TranscriptionUpdate{
		RecordingID: id,
		Text:        text,
		Timestamp:   c.now().UTC().Format(time.RFC3339),
		IsFinal:     true,
	})
	p.persist(recording.Patch{Transcript: recording.StringPtr(text)})

	duration := int(c.now().Sub(p.live.StartedAt) / time.Second)
	if duration < 0 {
		duration = 0
	}

	stageStart = c.now()
	summary, err := c.summarizer.Summarize(ctx, text)
	c.metrics.ObserveStage(observability.StageSummarize, c.now().Sub(stageStart))
	if err != nil {
		c.metrics.ProviderError(c.summarizer.Name(), provider.Code(err))
		p.fail(provider.OpSummarize, err)
		return
	}

	// COMPLETED is only reachable from PROCESSING.
	if !p.processing {
		_, p.processing = p.persist(recording.Patch{Status: recording.StatusPtr(recording.StatusProcessing)})
	}
	stageStart = c.now()
	final, persisted := p.persist(recording.Patch{
		Status:     recording.StatusPtr(recording.StatusCompleted),
		Transcript: recording.StringPtr(text),
		Summary:    recording.StringPtr(summary),
		Duration:   recording.IntPtr(duration),
	})
	c.metrics.ObserveStage(observability.StagePersist, c.now().Sub(stageStart))

	p.finished = true
	p.em.send(protocol.RecordingCompleted{
		RecordingID: id,
		Summary:     summary,
		Transcript:  text,
		Duration:    duration,
	})
	c.metrics.ObserveStage(observability.StageTotal, c.now().Sub(p.started))
	c.metrics.PipelineOutcome("completed")
	c.metrics.SessionEvent("completed")

	p.logger.Info("recording completed", "duration_s", duration, "transcript_preview", policy.Preview(text, previewRunes))

	if persisted && c.archiver != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := c.archiver.Export(actx, final); err != nil {
			p.logger.Warn("archive export failed", "err", err)
			c.metrics.SessionEvent("archive_failed")
		}
	}
}

// persist writes patch when a durable record exists. Failures are logged and
// never stop the pipeline.
func (p *pipelineRun) persist(patch recording.Patch) (recording.Recording, bool) {
	if !p.durable {
		return recording.Recording{}, false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.c.baseCtx), persistTimeout)
	defer cancel()
	rec, err := p.c.store.Update(ctx, p.live.SessionID, patch)
	if err != nil {
		p.logger.Error("persist recording failed", "err", err)
		p.c.metrics.SessionEvent("persist_failed")
		return recording.Recording{}, false
	}
	return rec, true
}

// fail records a terminal FAILED state with a sanitized reason and emits the
// single recording-error for this run.
func (p *pipelineRun) fail(op string, err error) {
	var reason string
	switch {
	case errors.Is(err, audio.ErrNoAudio):
		reason = msgNoAudio
	case errors.Is(err, errPipelinePanic):
		reason = msgFailed
	default:
		reason = provider.UserMessage(tagOp(op, err))
	}
	p.logger.Error("recording failed", "op", op, "reason", reason, "err", err)

	marker := failureMarker + reason
	patch := recording.Patch{
		Status:      recording.StatusPtr(recording.StatusFailed),
		ErrorReason: recording.StringPtr(reason),
		Summary:     recording.StringPtr(marker),
	}
	if p.transcript == "" {
		patch.Transcript = recording.StringPtr(marker)
	}
	p.persist(patch)

	p.finished = true
	p.em.send(protocol.RecordingError{RecordingID: p.live.SessionID, Error: reason})
	p.c.metrics.ObserveStage(observability.StageTotal, p.c.now().Sub(p.started))
	p.c.metrics.PipelineOutcome("failed")
	p.c.metrics.SessionEvent("failed")
}

// reject ends the run without touching the durable record.
func (p *pipelineRun) reject(reason string) {
	p.finished = true
	p.em.send(protocol.RecordingError{RecordingID: p.live.SessionID, Error: reason})
	p.c.metrics.PipelineOutcome("rejected")
}

// tagOp makes sure UserMessage knows which call failed even when an adapter
// returned an unclassified error.
func tagOp(op string, err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}
	return &provider.Error{Kind: provider.ErrProvider, Provider: "unknown", Op: op, Err: err}
}
