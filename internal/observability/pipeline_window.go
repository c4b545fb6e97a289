package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Completion pipeline stages recorded by the coordinator.
const (
	StageAssemble   = "assemble"
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
	StagePersist    = "persist"
	StageTotal      = "total"
)

type StageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

type PipelineSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageStats   `json:"stages"`
	Outcomes    map[string]int `json:"outcomes"`
}

// PipelineWindow keeps the most recent stage latencies in fixed-size rings.
type PipelineWindow struct {
	mu       sync.Mutex
	size     int
	rings    map[string]*ring
	outcomes map[string]int
}

type ring struct {
	values []float64
	next   int
	last   float64
}

func NewPipelineWindow(size int) *PipelineWindow {
	if size <= 0 {
		size = 256
	}
	return &PipelineWindow{
		size:     size,
		rings:    make(map[string]*ring),
		outcomes: make(map[string]int),
	}
}

func (w *PipelineWindow) Observe(stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{values: make([]float64, 0, w.size)}
		w.rings[stage] = r
	}
	if len(r.values) < w.size {
		r.values = append(r.values, ms)
	} else {
		r.values[r.next] = ms
	}
	r.next = (r.next + 1) % w.size
	r.last = ms
}

// Outcome counts a finished pipeline by result, e.g. "completed" or "failed".
func (w *PipelineWindow) Outcome(name string) {
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.outcomes[name]++
	w.mu.Unlock()
}

func (w *PipelineWindow) Snapshot() PipelineSnapshot {
	snap := PipelineSnapshot{
		GeneratedAt: time.Now().UTC(),
		Stages:      []StageStats{},
		Outcomes:    map[string]int{},
	}
	if w == nil {
		return snap
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	snap.WindowSize = w.size
	names := make([]string, 0, len(w.rings))
	for name := range w.rings {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r := w.rings[name]
		if len(r.values) == 0 {
			continue
		}
		sorted := slices.Clone(r.values)
		slices.Sort(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:   name,
			Samples: len(sorted),
			LastMS:  round2(r.last),
			AvgMS:   round2(sum / float64(len(sorted))),
			P50MS:   round2(percentile(sorted, 0.50)),
			P95MS:   round2(percentile(sorted, 0.95)),
			MaxMS:   round2(sorted[len(sorted)-1]),
		})
	}
	for k, v := range w.outcomes {
		snap.Outcomes[k] = v
	}
	return snap
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[n-1]
	}
	pos := q * float64(n-1)
	lo := int(pos)
	if lo+1 >= n {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
