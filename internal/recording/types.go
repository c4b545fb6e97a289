package recording

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the durable lifecycle state of a recording.
type Status string

const (
	StatusRecording  Status = "RECORDING"
	StatusPaused     Status = "PAUSED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

const (
	DefaultTitle   = "Untitled recording"
	MaxTitleLength = 200
)

var (
	ErrNotFound          = errors.New("recording not found")
	ErrForbidden         = errors.New("recording belongs to another user")
	ErrInvalidTransition = errors.New("invalid recording status transition")
	ErrInvalidStatus     = errors.New("invalid recording status")
)

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(v)))
	switch s {
	case StatusRecording, StatusPaused, StatusProcessing, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// stage orders statuses; RECORDING and PAUSED share a stage so either can
// follow the other.
func (s Status) stage() int {
	switch s {
	case StatusRecording, StatusPaused:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a record may move from one status to another.
// Statuses only move forward, and nothing leaves COMPLETED or FAILED.
// COMPLETED is only reachable from PROCESSING; FAILED may end any live stage.
func CanTransition(from, to Status) bool {
	if from.stage() < 0 || to.stage() < 0 {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusCompleted {
		return from == StatusProcessing
	}
	if from.stage() == 0 && to.stage() == 0 {
		return true
	}
	return to.stage() > from.stage()
}

// Recording is the durable record of one capture.
type Recording struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	Transcript  *string   `json:"transcript"`
	Summary     *string   `json:"summary"`
	Duration    *int      `json:"duration"`
	ErrorReason string    `json:"errorReason,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (r Recording) OwnedBy(userID string) bool {
	return r.UserID == userID
}

// Patch lists the fields to change; nil fields are left untouched.
type Patch struct {
	Title       *string
	Status      *Status
	Transcript  *string
	Summary     *string
	Duration    *int
	ErrorReason *string
}

func (p Patch) empty() bool {
	return p.Title == nil && p.Status == nil && p.Transcript == nil &&
		p.Summary == nil && p.Duration == nil && p.ErrorReason == nil
}

// Store is the persistence gateway for recordings.
type Store interface {
	Create(ctx context.Context, userID, title string) (Recording, error)
	Get(ctx context.Context, id string) (Recording, error)
	Update(ctx context.Context, id string, patch Patch) (Recording, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Recording, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// GetOwned loads a recording and checks that userID owns it.
func GetOwned(ctx context.Context, store Store, id, userID string) (Recording, error) {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return Recording{}, err
	}
	if !rec.OwnedBy(userID) {
		return Recording{}, ErrForbidden
	}
	return rec, nil
}

// NormalizeTitle trims the title, applies the default and caps its length.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:MaxTitleLength]))
	}
	return title
}

func StringPtr(v string) *string { return &v }
func IntPtr(v int) *int          { return &v }
func StatusPtr(v Status) *Status { return &v }

// applyPatch mutates rec in place. Every store runs it inside its own
// read-modify-write critical section.
func applyPatch(rec *Recording, p Patch, now time.Time) error {
	if p.Status != nil {
		if !CanTransition(rec.Status, *p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, *p.Status)
		}
		rec.Status = *p.Status
	}
	if p.Title != nil {
		rec.Title = NormalizeTitle(*p.Title)
	}
	if p.Transcript != nil {
		rec.Transcript = StringPtr(*p.Transcript)
	}
	if p.Summary != nil {
		rec.Summary = StringPtr(*p.Summary)
	}
	if p.Duration != nil {
		d := *p.Duration
		if d < 0 {
			d = 0
		}
		rec.Duration = IntPtr(d)
	}
	if p.ErrorReason != nil {
		rec.ErrorReason = *p.ErrorReason
	}
	if !p.empty() {
		rec.UpdatedAt = now
	}
	return nil
}

func clone(r Recording) Recording {
	c := r
	if r.Transcript != nil {
		c.Transcript = StringPtr(*r.Transcript)
	}
	if r.Summary != nil {
		c.Summary = StringPtr(*r.Summary)
	}
	if r.Duration != nil {
		c.Duration = IntPtr(*r.Duration)
	}
	return c
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
