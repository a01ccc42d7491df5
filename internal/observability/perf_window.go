package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// CallLatency summarises recent completion calls of one kind.
type CallLatency struct {
	Call    string  `json:"call"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	// OverBudget counts samples in the window that reached the call budget,
	// which for completion calls is the request timeout.
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`
}

// CompactionSummary describes history compactions since start.
type CompactionSummary struct {
	Runs       int     `json:"runs"`
	Degraded   int     `json:"degraded"`
	AvgBefore  float64 `json:"avg_turns_before"`
	AvgAfter   float64 `json:"avg_turns_after"`
	LastBefore int     `json:"last_turns_before"`
	LastAfter  int     `json:"last_turns_after"`
}

type PerfSnapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	WindowSize  int               `json:"window_size"`
	Calls       []CallLatency     `json:"calls"`
	Compaction  CompactionSummary `json:"compaction"`
	Flags       map[string]int    `json:"flags"`
}

// perfWindow backs /v1/perf/latency. Latencies keep the last size samples
// per call; compaction and flag figures are running totals.
type perfWindow struct {
	mu      sync.Mutex
	size    int
	calls   map[string]*latencyRing
	budgets map[string]float64
	flags   map[string]int

	compactions   int
	degraded      int
	turnsBefore   int
	turnsAfter    int
	lastCompacted [2]int
}

type latencyRing struct {
	samples []float64
	pos     int
	count   int
	last    float64
}

func (r *latencyRing) add(ms float64) {
	r.samples[r.pos] = ms
	r.pos = (r.pos + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
	r.last = ms
}

// sorted returns the held samples in ascending order.
func (r *latencyRing) sorted() []float64 {
	out := append([]float64(nil), r.samples[:r.count]...)
	sort.Float64s(out)
	return out
}

func newPerfWindow(size int) *perfWindow {
	if size <= 0 {
		size = 256
	}
	return &perfWindow{
		size:    size,
		calls:   make(map[string]*latencyRing),
		budgets: make(map[string]float64),
		flags:   make(map[string]int),
	}
}

func (w *perfWindow) setBudget(call string, ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.budgets[call] = ms
}

func (w *perfWindow) observeCall(call string, ms float64) {
	if call == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.calls[call]
	if !ok {
		r = &latencyRing{samples: make([]float64, w.size)}
		w.calls[call] = r
	}
	r.add(ms)
}

func (w *perfWindow) observeFlag(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flags[name]++
}

func (w *perfWindow) observeCompaction(before, after int, degraded bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.compactions++
	if degraded {
		w.degraded++
	}
	w.turnsBefore += before
	w.turnsAfter += after
	w.lastCompacted = [2]int{before, after}
}

func (w *perfWindow) snapshot() PerfSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.calls))
	for name := range w.calls {
		names = append(names, name)
	}
	sort.Strings(names)

	calls := make([]CallLatency, 0, len(names))
	for _, name := range names {
		r := w.calls[name]
		if r.count == 0 {
			continue
		}
		samples := r.sorted()
		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		budget := w.budgets[name]
		over := 0
		if budget > 0 {
			// samples is sorted, so everything from the first hit is over.
			over = len(samples) - sort.SearchFloat64s(samples, budget)
		}
		calls = append(calls, CallLatency{
			Call:       name,
			Samples:    len(samples),
			LastMS:     round2(r.last),
			AvgMS:      round2(sum / float64(len(samples))),
			P50MS:      round2(nearestRank(samples, 0.50)),
			P95MS:      round2(nearestRank(samples, 0.95)),
			BudgetMS:   budget,
			OverBudget: over,
		})
	}

	flags := make(map[string]int, len(w.flags))
	for k, v := range w.flags {
		flags[k] = v
	}

	comp := CompactionSummary{
		Runs:       w.compactions,
		Degraded:   w.degraded,
		LastBefore: w.lastCompacted[0],
		LastAfter:  w.lastCompacted[1],
	}
	if w.compactions > 0 {
		comp.AvgBefore = round2(float64(w.turnsBefore) / float64(w.compactions))
		comp.AvgAfter = round2(float64(w.turnsAfter) / float64(w.compactions))
	}

	return PerfSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Calls:       calls,
		Compaction:  comp,
		Flags:       flags,
	}
}

// nearestRank expects sorted input.
func nearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
