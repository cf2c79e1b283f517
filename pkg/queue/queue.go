// Package queue implements the bounded pending-uplink buffer. Payloads
// that could not be transmitted wait here in FIFO order; when the queue
// is full the oldest entry is evicted, never the newest. An optional
// storage collaborator mirrors entries for durability across power loss;
// without one the queue degrades to memory-only.
package queue

import (
	"errors"
	"log"
	"time"

	"github.com/envsense/aqnode/pkg/platform"
)

// ErrEmpty is returned when reading from an empty queue.
var ErrEmpty = errors.New("queue: empty")

// Handle identifies a stored payload inside the storage collaborator.
type Handle uint32

// Storage is the persistence collaborator. The flash medium behind it is
// shared with other subsystems; its access is serialized externally, and
// re-deriving surviving entries after a restart is the collaborator's
// job, not the queue's.
type Storage interface {
	Append(payload []byte) (Handle, error)
	ReadOldest() (Handle, []byte, error)
	Remove(h Handle) error
}

// Entry is one queued payload plus its retry bookkeeping. Entries carry
// an identity that survives overflow eviction checks: an Entry held by
// the caller across an in-flight re-send can be settled against the
// queue even if eviction removed it in the meantime.
type Entry struct {
	Payload       []byte
	Retries       int
	FirstEnqueued time.Time

	id     uint64
	handle Handle
	stored bool
}

// Pending is the bounded FIFO buffer. It is owned exclusively by the
// measurement loop and is not safe for concurrent use on its own.
type Pending struct {
	capacity  int
	entries   []Entry
	store     Storage
	clock     platform.Clock
	nextID    uint64
	evictions uint32
}

// New creates a queue with the given capacity. store may be nil for
// memory-only operation.
func New(capacity int, store Storage, clock platform.Clock) *Pending {
	if capacity < 1 {
		capacity = 1
	}
	return &Pending{
		capacity: capacity,
		store:    store,
		clock:    clock,
	}
}

// Enqueue appends a payload, evicting the oldest entry first when the
// queue is at capacity. It reports whether an eviction happened.
func (q *Pending) Enqueue(payload []byte) bool {
	evicted := false
	if len(q.entries) >= q.capacity {
		q.removeStored(q.entries[0])
		q.entries = q.entries[1:]
		q.evictions++
		evicted = true
	}

	q.nextID++
	e := Entry{
		Payload:       append([]byte(nil), payload...),
		FirstEnqueued: q.clock.Now(),
		id:            q.nextID,
	}
	if q.store != nil {
		h, err := q.store.Append(e.Payload)
		if err != nil {
			// Storage is best-effort; the in-memory entry still counts.
			log.Printf("queue: storage append failed: %v", err)
		} else {
			e.handle = h
			e.stored = true
		}
	}
	q.entries = append(q.entries, e)
	return evicted
}

// PeekOldest returns the oldest entry without removing it.
func (q *Pending) PeekOldest() (Entry, error) {
	if len(q.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	return q.entries[0], nil
}

// Dequeue removes and returns the oldest entry.
func (q *Pending) Dequeue() (Entry, error) {
	if len(q.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	e := q.entries[0]
	q.removeStored(e)
	q.entries = q.entries[1:]
	return e, nil
}

// Remove deletes e from the queue. Overflow may have evicted e while a
// re-send of it was in flight; removal then reports false and the queue
// is unchanged, so a settle can never discard a different entry.
func (q *Pending) Remove(e Entry) bool {
	for i := range q.entries {
		if q.entries[i].id != e.id {
			continue
		}
		q.removeStored(q.entries[i])
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return true
	}
	return false
}

// MarkRetry counts one failed re-send attempt against e, if it is still
// queued.
func (q *Pending) MarkRetry(e Entry) {
	for i := range q.entries {
		if q.entries[i].id == e.id {
			q.entries[i].Retries++
			return
		}
	}
}

// Size returns the number of queued entries.
func (q *Pending) Size() int { return len(q.entries) }

// Capacity returns the configured bound.
func (q *Pending) Capacity() int { return q.capacity }

// Evictions returns how many entries overflow has dropped so far.
func (q *Pending) Evictions() uint32 { return q.evictions }

func (q *Pending) removeStored(e Entry) {
	if q.store == nil || !e.stored {
		return
	}
	if err := q.store.Remove(e.handle); err != nil {
		log.Printf("queue: storage remove failed: %v", err)
	}
}
