package pipeline

import (
	"time"

	"tsmill/internal/queue"
)

// State is the lifecycle position of a source file.
type State string

const (
	StateDiscovered   State = "discovered"
	StateQueued       State = "queued"
	StateStaging      State = "staging"
	StateEncoding     State = "encoding"
	StateSucceeded    State = "succeeded"
	StateRetryPending State = "retry_pending"
	StateAbandoned    State = "abandoned"
)

// Terminal reports whether no further work will happen for a file in s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateAbandoned
}

// Stats counts pipeline events since the driver started.
type Stats struct {
	Cycles          int
	Discovered      int
	Succeeded       int
	StagingFailures int
	EncodeFailures  int
	Retried         int
	Abandoned       int
	CleanupFailures int
	DiscoveryErrors int
	// MaxInFlight is the highest number of files ever staged or encoding at once.
	MaxInFlight int
}

// Status is a point-in-time view of the driver for other goroutines.
type Status struct {
	Current      queue.SourceID
	CurrentState State
	Attempt      int
	Queue        []queue.SourceID
	Abandoned    []queue.SourceID
	// States covers files with work left; succeeded and abandoned entries
	// are dropped when their cycle ends.
	States      map[queue.SourceID]State
	Stats       Stats
	LastCycle   time.Time
	MaxAttempts int
}
