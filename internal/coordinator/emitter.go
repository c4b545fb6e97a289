package coordinator

import (
	"time"

	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/protocol"
)

const (
	criticalSendTimeout = 2 * time.Second
	ackSendTimeout      = 100 * time.Millisecond
)

// emitter hands server events to one connection's writer. Sends never block
// past their timeout and are dropped once the connection is gone, so a
// background pipeline can outlive its socket.
type emitter struct {
	outbound chan<- any
	done     <-chan struct{}
	metrics  *observability.Metrics
}

func newEmitter(done <-chan struct{}, outbound chan<- any, metrics *observability.Metrics) *emitter {
	return &emitter{outbound: outbound, done: done, metrics: metrics}
}

func (e *emitter) send(ev protocol.ServerEvent) bool {
	kind := string(ev.EventName())
	select {
	case <-e.done:
		e.metrics.Outbound(kind, "disconnected")
		return false
	default:
	}

	timeout := criticalSendTimeout
	if ev.EventName() == protocol.EventAudioChunkReceived {
		timeout = ackSendTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.outbound <- protocol.NewFrame(ev):
		e.metrics.Outbound(kind, "delivered")
		return true
	case <-e.done:
		e.metrics.Outbound(kind, "disconnected")
	case <-timer.C:
		e.metrics.Outbound(kind, "timeout")
		e.metrics.SessionEvent("outbound_drop")
	}
	return false
}
