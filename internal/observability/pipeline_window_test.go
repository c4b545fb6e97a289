package observability

import (
	"testing"
	"time"
)

func TestPipelineWindowSnapshot(t *testing.T) {
	w := NewPipelineWindow(3)
	for _, ms := range []int{100, 500, 700, 900} {
		w.Observe(StageTranscribe, time.Duration(ms)*time.Millisecond)
	}
	w.Observe(StageSummarize, 40*time.Millisecond)
	w.Observe("", time.Second)
	w.Outcome("completed")
	w.Outcome("completed")
	w.Outcome("failed")

	snap := w.Snapshot()
	if snap.WindowSize != 3 {
		t.Fatalf("WindowSize = %d, want 3", snap.WindowSize)
	}
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	if snap.Stages[0].Stage != StageSummarize || snap.Stages[1].Stage != StageTranscribe {
		t.Fatalf("stages not sorted: %+v", snap.Stages)
	}
	tr := snap.Stages[1]
	if tr.Samples != 3 {
		t.Fatalf("Samples = %d, want 3 (oldest evicted)", tr.Samples)
	}
	if tr.LastMS != 900 || tr.P50MS != 700 || tr.MaxMS != 900 || tr.AvgMS != 700 {
		t.Fatalf("unexpected stats: %+v", tr)
	}
	if tr.P95MS <= 700 || tr.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", tr.P95MS)
	}
	if snap.Outcomes["completed"] != 2 || snap.Outcomes["failed"] != 1 {
		t.Fatalf("Outcomes = %v", snap.Outcomes)
	}
}

func TestNilPipelineWindowIsSafe(t *testing.T) {
	var w *PipelineWindow
	w.Observe(StageTotal, time.Second)
	w.Outcome("completed")
	if snap := w.Snapshot(); len(snap.Stages) != 0 || snap.WindowSize != 0 {
		t.Fatalf("nil window snapshot = %+v", snap)
	}
}
