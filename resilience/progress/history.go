package progress

import (
	"sort"
	"sync"
	"time"
)

// historyLimit bounds how many timings are kept per operation type.
const historyLimit = 10

// durationHistory keeps a bounded ring of recent wall-clock durations per
// operation type and answers median estimates. It backs the seed estimate a
// record gets at Start, before any progress has been reported.
type durationHistory struct {
	mu     sync.Mutex
	byType map[string][]time.Duration
}

func newDurationHistory() *durationHistory {
	return &durationHistory{byType: make(map[string][]time.Duration)}
}

// record appends a timing for opType, evicting the oldest entry beyond the
// limit. Empty types are ignored.
func (h *durationHistory) record(opType string, d time.Duration) {
	if opType == "" || d < 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	timings := append(h.byType[opType], d)
	if len(timings) > historyLimit {
		timings = timings[len(timings)-historyLimit:]
	}

	h.byType[opType] = timings
}

// estimate returns the median recorded duration for opType. The second return
// is false until at least one timing has been recorded.
func (h *durationHistory) estimate(opType string) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	timings := h.byType[opType]
	if len(timings) == 0 {
		return 0, false
	}

	sorted := make([]time.Duration, len(timings))
	copy(sorted, timings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}

	return (sorted[mid-1] + sorted[mid]) / 2, true
}
