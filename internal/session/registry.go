package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LiveSession is the in-memory state of a recording that is currently
// streaming. It is never persisted.
type LiveSession struct {
	SessionID      string    `json:"session_id"`
	ConnectionID   string    `json:"connection_id"`
	UserID         string    `json:"user_id"`
	MimeType       string    `json:"mime_type"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Chunks         [][]byte  `json:"-"`
	Paused         bool      `json:"paused"`
	ChunkCount     int       `json:"chunk_count"`
	BufferedBytes  int       `json:"buffered_bytes"`
	FinalReceived  bool      `json:"final_received"`
}

type IngestStatus int

const (
	IngestAccepted IngestStatus = iota
	IngestInFlight
	IngestFinished
	IngestForeign
	IngestFull
)

func (s IngestStatus) String() string {
	switch s {
	case IngestAccepted:
		return "accepted"
	case IngestInFlight:
		return "in_flight"
	case IngestFinished:
		return "finished"
	case IngestForeign:
		return "foreign_connection"
	case IngestFull:
		return "buffer_full"
	default:
		return "unknown"
	}
}

type IngestResult struct {
	Status     IngestStatus
	Created    bool
	ChunkCount int
}

type ClaimResult int

const (
	ClaimOK ClaimResult = iota
	ClaimEmpty
	ClaimUnknown
	ClaimForeign
	ClaimInFlight
	ClaimFinished
)

func (c ClaimResult) String() string {
	switch c {
	case ClaimOK:
		return "ok"
	case ClaimEmpty:
		return "empty"
	case ClaimUnknown:
		return "unknown"
	case ClaimForeign:
		return "foreign_connection"
	case ClaimInFlight:
		return "in_flight"
	case ClaimFinished:
		return "finished"
	default:
		return "invalid"
	}
}

// tombstone marks a session whose buffer has been claimed for completion.
// While in flight, chunks and duplicate completes for the id are refused.
type tombstone struct {
	inFlight bool
	at       time.Time
}

// Registry is the table of sessions currently being recorded. All methods are
// safe for concurrent use and return copies; callers never see the map.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*LiveSession
	tombstones   map[string]tombstone
	tombstoneTTL time.Duration
	maxChunks    int
	onExpire     func(LiveSession)
	now          func() time.Time
}

func NewRegistry(tombstoneTTL time.Duration, maxChunks int) *Registry {
	if tombstoneTTL <= 0 {
		tombstoneTTL = 10 * time.Minute
	}
	if maxChunks <= 0 {
		maxChunks = 20000
	}
	return &Registry{
		sessions:     make(map[string]*LiveSession),
		tombstones:   make(map[string]tombstone),
		tombstoneTTL: tombstoneTTL,
		maxChunks:    maxChunks,
		now:          time.Now,
	}
}

func (r *Registry) SetExpireHook(hook func(LiveSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Ensure returns the live session for sessionID, creating it for the given
// connection when it does not exist yet.
func (r *Registry) Ensure(sessionID, connectionID, userID string) LiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, _ := r.ensureLocked(sessionID, connectionID, userID, "")
	return snapshot(s)
}

// Append adds a chunk to a known session. It reports false when the session
// is unknown, e.g. after cleanup.
func (r *Registry) Append(sessionID string, chunk []byte) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return 0, false
	}
	r.appendLocked(s, chunk)
	return s.ChunkCount, true
}

// Ingest ensures and appends under one lock so a chunk can never land on a
// session that is being claimed or swept concurrently.
func (r *Registry) Ingest(sessionID, connectionID, userID, mimeType string, chunk []byte, final bool) IngestResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ts, ok := r.tombstones[sessionID]; ok {
		if ts.inFlight {
			return IngestResult{Status: IngestInFlight}
		}
		return IngestResult{Status: IngestFinished}
	}
	if existing, ok := r.sessions[sessionID]; ok && existing.ConnectionID != connectionID {
		return IngestResult{Status: IngestForeign, ChunkCount: existing.ChunkCount}
	}

	s, created := r.ensureLocked(sessionID, connectionID, userID, mimeType)
	if s.ChunkCount >= r.maxChunks {
		return IngestResult{Status: IngestFull, ChunkCount: s.ChunkCount}
	}
	r.appendLocked(s, chunk)
	if final {
		s.FinalReceived = true
	}
	return IngestResult{Status: IngestAccepted, Created: created, ChunkCount: s.ChunkCount}
}

func (r *Registry) SetPaused(sessionID string, paused bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.Paused = paused
	s.LastActivityAt = r.now()
	return true
}

// Drain removes and returns the buffered chunks of a session in arrival order.
// The entry itself stays registered.
func (r *Registry) Drain(sessionID string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	chunks := s.Chunks
	s.Chunks = nil
	s.BufferedBytes = 0
	return chunks
}

// Claim atomically removes a session owned by connectionID so its buffer can
// be processed. A successful claim leaves an in-flight marker; a second claim
// for the same id reports ClaimInFlight until Finish, then ClaimFinished
// until the marker expires.
func (r *Registry) Claim(sessionID, connectionID string) (LiveSession, ClaimResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ts, ok := r.tombstones[sessionID]; ok {
		if ts.inFlight {
			return LiveSession{}, ClaimInFlight
		}
		return LiveSession{}, ClaimFinished
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return LiveSession{}, ClaimUnknown
	}
	if s.ConnectionID != connectionID {
		return LiveSession{}, ClaimForeign
	}
	delete(r.sessions, sessionID)
	if s.BufferedBytes == 0 {
		return *s, ClaimEmpty
	}
	r.tombstones[sessionID] = tombstone{inFlight: true, at: r.now()}
	return *s, ClaimOK
}

// Finish marks a claimed session as done processing.
func (r *Registry) Finish(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tombstones[sessionID]; !ok {
		return
	}
	r.tombstones[sessionID] = tombstone{inFlight: false, at: r.now()}
}

func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Forget drops the live entry and any completion marker for sessionID.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	if ts, ok := r.tombstones[sessionID]; ok && !ts.inFlight {
		delete(r.tombstones, sessionID)
	}
}

// RemoveByConnection drops every session owned by connectionID and returns
// their ids in sorted order.
func (r *Registry) RemoveByConnection(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, s := range r.sessions {
		if s.ConnectionID == connectionID {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Sweep removes sessions idle for longer than maxAge and expired completion
// markers. The expire hook runs outside the lock for every removed session.
func (r *Registry) Sweep(maxAge time.Duration) []string {
	now := r.now()
	var expired []LiveSession

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.LastActivityAt) < maxAge {
			continue
		}
		expired = append(expired, snapshot(s))
		delete(r.sessions, id)
	}
	for id, ts := range r.tombstones {
		if !ts.inFlight && now.Sub(ts.at) >= r.tombstoneTTL {
			delete(r.tombstones, id)
		}
	}
	hook := r.onExpire
	r.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		ids = append(ids, s.SessionID)
		if hook != nil {
			hook(s)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) StartJanitor(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(maxAge)
			}
		}
	}()
}

func (r *Registry) Get(sessionID string) (LiveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return LiveSession{}, false
	}
	return snapshot(s), true
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// InFlight reports whether a claimed session is still being processed.
func (r *Registry) InFlight(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.tombstones[sessionID]
	return ok && ts.inFlight
}

func (r *Registry) ensureLocked(sessionID, connectionID, userID, mimeType string) (*LiveSession, bool) {
	if s, ok := r.sessions[sessionID]; ok {
		return s, false
	}
	now := r.now()
	s := &LiveSession{
		SessionID:      sessionID,
		ConnectionID:   connectionID,
		UserID:         userID,
		MimeType:       mimeType,
		StartedAt:      now,
		LastActivityAt: now,
	}
	r.sessions[sessionID] = s
	return s, true
}

func (r *Registry) appendLocked(s *LiveSession, chunk []byte) {
	s.Chunks = append(s.Chunks, chunk)
	s.ChunkCount++
	s.BufferedBytes += len(chunk)
	s.LastActivityAt = r.now()
}

func snapshot(s *LiveSession) LiveSession {
	c := *s
	if s.Chunks != nil {
		c.Chunks = make([][]byte, len(s.Chunks))
		copy(c.Chunks, s.Chunks)
	}
	return c
}
