package retry

import (
	"slices"

	"tsmill/internal/queue"
)

// DefaultMaxAttempts is the retry budget used when none is configured.
const DefaultMaxAttempts = 3

// Ledger counts failures per source identity. An identity whose count
// reaches the maximum is abandoned and its count is frozen.
type Ledger struct {
	max       int
	counts    map[queue.SourceID]int
	abandoned map[queue.SourceID]struct{}
}

// NewLedger returns an empty ledger. A maxAttempts below 1 uses DefaultMaxAttempts.
func NewLedger(maxAttempts int) *Ledger {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Ledger{
		max:       maxAttempts,
		counts:    make(map[queue.SourceID]int),
		abandoned: make(map[queue.SourceID]struct{}),
	}
}

// RecordFailure increments the failure count for id and returns the new value.
// Abandoned identities keep their frozen count.
func (l *Ledger) RecordFailure(id queue.SourceID) int {
	if _, ok := l.abandoned[id]; ok {
		return l.counts[id]
	}
	l.counts[id]++
	count := l.counts[id]
	if count >= l.max {
		l.abandoned[id] = struct{}{}
	}
	return count
}

// HasExceededLimit reports whether id has used its whole retry budget.
func (l *Ledger) HasExceededLimit(id queue.SourceID) bool {
	return l.counts[id] >= l.max
}

// IsAbandoned reports whether id will never be queued again.
func (l *Ledger) IsAbandoned(id queue.SourceID) bool {
	_, ok := l.abandoned[id]
	return ok
}

// Count returns the recorded failures for id; zero when absent.
func (l *Ledger) Count(id queue.SourceID) int {
	return l.counts[id]
}

// Has reports whether any failure was recorded for id.
func (l *Ledger) Has(id queue.SourceID) bool {
	_, ok := l.counts[id]
	return ok
}

// Max returns the configured retry budget.
func (l *Ledger) Max() int { return l.max }

// Abandoned returns abandoned identities in sorted order.
func (l *Ledger) Abandoned() []queue.SourceID {
	out := make([]queue.SourceID, 0, len(l.abandoned))
	for id := range l.abandoned {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
