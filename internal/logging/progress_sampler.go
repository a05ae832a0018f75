package logging

import (
	"sync"
	"time"
)

// ProgressSampler suppresses repetitive progress logs. Encoder progress has no
// reliable percentage, so sampling is by wall-clock interval: the first update
// is always emitted, later ones only after interval has elapsed.
type ProgressSampler struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time
	last     time.Time
	emitted  bool
}

// NewProgressSampler constructs a sampler emitting at most once per interval
// (default 30s).
func NewProgressSampler(interval time.Duration) *ProgressSampler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ProgressSampler{interval: interval, now: time.Now}
}

// ShouldLog reports whether a progress event arriving now should be logged.
func (s *ProgressSampler) ShouldLog() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.emitted || now.Sub(s.last) >= s.interval {
		s.emitted = true
		s.last = now
		return true
	}
	return false
}

// Reset clears the sampler state (e.g. when a new encode starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.emitted = false
	s.last = time.Time{}
	s.mu.Unlock()
}

// SetClock replaces the time source; tests use it to step time deterministically.
func (s *ProgressSampler) SetClock(now func() time.Time) {
	if s == nil || now == nil {
		return
	}
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
