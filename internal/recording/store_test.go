package recording

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "nested", "scribe.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		pg, err := NewPostgresStore(context.Background(), url)
		if err != nil {
			t.Fatalf("NewPostgresStore() error = %v", err)
		}
		t.Cleanup(func() { _ = pg.Close() })
		stores["postgres"] = pg
	}
	return stores
}

func TestStoreRoundTripsResultFields(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec, err := store.Create(ctx, "u1", "  Standup  ")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if rec.Title != "Standup" || rec.Status != StatusRecording {
				t.Fatalf("unexpected created recording: %+v", rec)
			}
			if rec.Transcript != nil || rec.Summary != nil || rec.Duration != nil {
				t.Fatalf("new recording should have empty results: %+v", rec)
			}

			transcript := "hello\nworld é"
			summary := "- greeting"
			_, err = store.Update(ctx, rec.ID, Patch{Status: StatusPtr(StatusProcessing)})
			if err != nil {
				t.Fatalf("Update(PROCESSING) error = %v", err)
			}
			_, err = store.Update(ctx, rec.ID, Patch{
				Status:     StatusPtr(StatusCompleted),
				Transcript: StringPtr(transcript),
				Summary:    StringPtr(summary),
				Duration:   IntPtr(42),
			})
			if err != nil {
				t.Fatalf("Update(COMPLETED) error = %v", err)
			}

			got, err := store.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Status != StatusCompleted {
				t.Fatalf("Status = %q, want %q", got.Status, StatusCompleted)
			}
			if got.Transcript == nil || *got.Transcript != transcript {
				t.Fatalf("Transcript = %v, want %q", got.Transcript, transcript)
			}
			if got.Summary == nil || *got.Summary != summary {
				t.Fatalf("Summary = %v, want %q", got.Summary, summary)
			}
			if got.Duration == nil || *got.Duration != 42 {
				t.Fatalf("Duration = %v, want 42", got.Duration)
			}
			if got.UserID != "u1" || !got.CreatedAt.Equal(rec.CreatedAt) {
				t.Fatalf("immutable fields changed: %+v", got)
			}
			if got.UpdatedAt.Before(got.CreatedAt) {
				t.Fatalf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, got.CreatedAt)
			}
		})
	}
}

func TestStoreRejectsLeavingTerminalState(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec, err := store.Create(ctx, "u1", "")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if rec.Title != DefaultTitle {
				t.Fatalf("Title = %q, want default", rec.Title)
			}
			if _, err := store.Update(ctx, rec.ID, Patch{Status: StatusPtr(StatusFailed)}); err != nil {
				t.Fatalf("Update(FAILED) error = %v", err)
			}
			_, err = store.Update(ctx, rec.ID, Patch{Status: StatusPtr(StatusRecording)})
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("error = %v, want ErrInvalidTransition", err)
			}
			// Title edits stay possible on finished recordings.
			got, err := store.Update(ctx, rec.ID, Patch{Title: StringPtr("Renamed")})
			if err != nil {
				t.Fatalf("Update(title) error = %v", err)
			}
			if got.Title != "Renamed" || got.Status != StatusFailed {
				t.Fatalf("unexpected recording after rename: %+v", got)
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() error = %v, want ErrNotFound", err)
			}
			if _, err := store.Update(ctx, "missing", Patch{Title: StringPtr("x")}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Update() error = %v, want ErrNotFound", err)
			}
			if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Delete() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreListByUserNewestFirst(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := "list-" + name + "-" + time.Now().Format("150405.000000")
			first, _ := store.Create(ctx, user, "first")
			time.Sleep(2 * time.Millisecond)
			second, _ := store.Create(ctx, user, "second")
			if _, err := store.Create(ctx, user+"-other", "other"); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			got, err := store.ListByUser(ctx, user, 10)
			if err != nil {
				t.Fatalf("ListByUser() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len(ListByUser()) = %d, want 2", len(got))
			}
			if got[0].ID != second.ID || got[1].ID != first.ID {
				t.Fatalf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, second.ID, first.ID)
			}

			if err := store.Delete(ctx, first.ID); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := store.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreConcurrentStatusUpdatesStayMonotonic(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec, err := store.Create(ctx, "u1", "race")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if _, err := store.Update(ctx, rec.ID, Patch{Status: StatusPtr(StatusProcessing)}); err != nil {
				t.Fatalf("Update() error = %v", err)
			}

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					target := StatusCompleted
					if i%2 == 0 {
						target = StatusFailed
					}
					_, _ = store.Update(ctx, rec.ID, Patch{Status: StatusPtr(target)})
				}(i)
			}
			wg.Wait()

			got, err := store.Get(ctx, rec.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !got.Status.Terminal() {
				t.Fatalf("Status = %q, want terminal", got.Status)
			}
		})
	}
}

func TestGetOwned(t *testing.T) {
	store := NewInMemoryStore()
	rec, _ := store.Create(context.Background(), "owner", "x")

	if _, err := GetOwned(context.Background(), store, rec.ID, "owner"); err != nil {
		t.Fatalf("GetOwned(owner) error = %v", err)
	}
	if _, err := GetOwned(context.Background(), store, rec.ID, "intruder"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("GetOwned(intruder) error = %v, want ErrForbidden", err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusRecording, StatusPaused, true},
		{StatusPaused, StatusRecording, true},
		{StatusRecording, StatusProcessing, true},
		{StatusPaused, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusRecording, StatusCompleted, false},
		{StatusPaused, StatusCompleted, false},
		{StatusRecording, StatusFailed, true},
		{StatusProcessing, StatusRecording, false},
		{StatusProcessing, StatusPaused, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCompleted, StatusCompleted, true},
		{StatusRecording, Status("DRAFT"), false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNormalizeTitleCapsLength(t *testing.T) {
	got := NormalizeTitle(strings.Repeat("a", MaxTitleLength+50))
	if len(got) != MaxTitleLength {
		t.Fatalf("len(NormalizeTitle()) = %d, want %d", len(got), MaxTitleLength)
	}
	if _, err := ParseStatus("paused"); err != nil {
		t.Fatalf("ParseStatus(paused) error = %v", err)
	}
	if _, err := ParseStatus("nope"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("ParseStatus(nope) error = %v, want ErrInvalidStatus", err)
	}
}
