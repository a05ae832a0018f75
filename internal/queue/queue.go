package queue

import "slices"

// Excluder reports identities that must never be queued again.
type Excluder interface {
	IsAbandoned(id SourceID) bool
}

// Queue is an ordered, duplicate-free list of source identities.
type Queue struct {
	items    []SourceID
	queued   map[SourceID]struct{}
	excluder Excluder
}

// New returns an empty queue. A nil excluder admits every identity.
func New(excluder Excluder) *Queue {
	return &Queue{
		queued:   make(map[SourceID]struct{}),
		excluder: excluder,
	}
}

// EnqueueIfAbsent appends id to the back unless it is already queued or
// abandoned. It reports whether id was added.
func (q *Queue) EnqueueIfAbsent(id SourceID) bool {
	if _, ok := q.queued[id]; ok {
		return false
	}
	if q.excluder != nil && q.excluder.IsAbandoned(id) {
		return false
	}
	q.items = append(q.items, id)
	q.queued[id] = struct{}{}
	return true
}

// DequeueFront removes and returns the front identity.
func (q *Queue) DequeueFront() (SourceID, bool) {
	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items[0] = ""
	q.items = q.items[1:]
	delete(q.queued, id)
	return id, true
}

// RequeueFront places id at the front. An id that is already queued is moved
// rather than duplicated.
func (q *Queue) RequeueFront(id SourceID) {
	if _, ok := q.queued[id]; ok {
		if idx := slices.Index(q.items, id); idx >= 0 {
			q.items = slices.Delete(q.items, idx, idx+1)
		}
	}
	q.items = slices.Insert(q.items, 0, id)
	q.queued[id] = struct{}{}
}

// Len returns the number of queued identities.
func (q *Queue) Len() int { return len(q.items) }

// Contains reports whether id is queued.
func (q *Queue) Contains(id SourceID) bool {
	_, ok := q.queued[id]
	return ok
}

// Snapshot returns the queued identities front to back.
func (q *Queue) Snapshot() []SourceID {
	return slices.Clone(q.items)
}
