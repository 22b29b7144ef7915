package ingest

import (
	"sync"

	"github.com/example/carbonplane/internal/domain"
)

// streamLocks serialises ingestion per stream key. Cross-stream ingestion
// stays fully parallel; within a stream the prefix-sum invariant of the
// running aggregates requires a critical section.
type streamLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newStreamLocks() *streamLocks {
	return &streamLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire returns the stream's mutex, creating it on first use. Lock
// values are never removed; the key space is bounded by configured streams.
func (s *streamLocks) acquire(key domain.StreamKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()

	lock, ok := s.locks[k]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[k] = lock
	}

	return lock
}

// chainAggregates recomputes the running aggregates of a timestamp-sorted
// stream slice in place, starting from a clean base. For each numeric field
// f: cumulative[f] is the prefix sum, high[f] the max seen, low[f] the min
// seen, last[f] the entry's own value. Monthly summary rows participate in
// the chain like any other entry so archival preserves the totals.
func chainAggregates(entries []*domain.Entry) {
	cumulative := map[string]float64{}
	high := map[string]float64{}
	low := map[string]float64{}

	for _, entry := range entries {
		entry.CumulativeValues = make(map[string]float64, len(entry.DataValues))
		entry.HighData = make(map[string]float64, len(entry.DataValues))
		entry.LowData = make(map[string]float64, len(entry.DataValues))
		entry.LastEnteredData = make(map[string]float64, len(entry.DataValues))

		for field, value := range entry.DataValues {
			cumulative[field] += value

			if prev, seen := high[field]; !seen || value > prev {
				high[field] = value
			}

			if prev, seen := low[field]; !seen || value < prev {
				low[field] = value
			}

			entry.LastEnteredData[field] = value
		}

		// Carry every field seen so far, so later entries expose the full
		// running state even when a field is absent from their own payload.
		for field, sum := range cumulative {
			entry.CumulativeValues[field] = sum
			entry.HighData[field] = high[field]
			entry.LowData[field] = low[field]
		}
	}
}
