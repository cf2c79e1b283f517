package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envsense/aqnode/pkg/platform"
)

// fakeStore records the calls the queue makes against its storage
// collaborator.
type fakeStore struct {
	next      Handle
	appended  map[Handle][]byte
	removed   []Handle
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{appended: make(map[Handle][]byte)}
}

func (s *fakeStore) Append(payload []byte) (Handle, error) {
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	s.next++
	s.appended[s.next] = append([]byte(nil), payload...)
	return s.next, nil
}

func (s *fakeStore) ReadOldest() (Handle, []byte, error) {
	for h, b := range s.appended {
		return h, b, nil
	}
	return 0, nil, ErrEmpty
}

func (s *fakeStore) Remove(h Handle) error {
	delete(s.appended, h)
	s.removed = append(s.removed, h)
	return nil
}

var _ Storage = (*fakeStore)(nil)

func payloadN(n int) []byte {
	return []byte(fmt.Sprintf("payload-%d", n))
}

func TestEnqueueDequeue_FIFO(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(4, nil, clk)

	for i := 0; i < 3; i++ {
		evicted := q.Enqueue(payloadN(i))
		assert.False(t, evicted)
	}
	assert.Equal(t, 3, q.Size())

	for i := 0; i < 3; i++ {
		e, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, payloadN(i), e.Payload)
	}
	assert.Equal(t, 0, q.Size())
}

func TestOverflow_EvictsExactlyOldest(t *testing.T) {
	const capacity = 4
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(capacity, nil, clk)

	for i := 0; i < capacity; i++ {
		q.Enqueue(payloadN(i))
	}
	assert.Equal(t, capacity, q.Size())

	// K+1th enqueue: the original oldest entry is gone, K-1 prior
	// entries plus the new one remain, order preserved.
	evicted := q.Enqueue(payloadN(capacity))
	assert.True(t, evicted)
	assert.Equal(t, capacity, q.Size())
	assert.Equal(t, uint32(1), q.Evictions())

	for i := 1; i <= capacity; i++ {
		e, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, payloadN(i), e.Payload)
	}
}

func TestNeverExceedsCapacity(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(2, nil, clk)

	for i := 0; i < 10; i++ {
		q.Enqueue(payloadN(i))
		assert.LessOrEqual(t, q.Size(), 2)
	}
	assert.Equal(t, uint32(8), q.Evictions())
}

func TestEmptyQueue(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(2, nil, clk)

	_, err := q.PeekOldest()
	assert.True(t, errors.Is(err, ErrEmpty))
	_, err = q.Dequeue()
	assert.True(t, errors.Is(err, ErrEmpty))
}

func TestPeekDoesNotRemove(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(2, nil, clk)
	q.Enqueue(payloadN(0))

	e, err := q.PeekOldest()
	require.NoError(t, err)
	assert.Equal(t, payloadN(0), e.Payload)
	assert.Equal(t, 1, q.Size())
}

func TestMarkRetry(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(2, nil, clk)
	q.Enqueue(payloadN(0))

	e, err := q.PeekOldest()
	require.NoError(t, err)
	q.MarkRetry(e)
	q.MarkRetry(e)

	e, err = q.PeekOldest()
	require.NoError(t, err)
	assert.Equal(t, 2, e.Retries)
}

func TestRemove_ByIdentity(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(4, nil, clk)
	q.Enqueue(payloadN(0))
	q.Enqueue(payloadN(1))

	e, err := q.PeekOldest()
	require.NoError(t, err)
	assert.True(t, q.Remove(e))
	assert.Equal(t, 1, q.Size())

	// Removing the same entry again finds nothing.
	assert.False(t, q.Remove(e))

	rest, err := q.PeekOldest()
	require.NoError(t, err)
	assert.Equal(t, payloadN(1), rest.Payload)
}

func TestRemove_EvictedEntryDoesNotMatchSuccessor(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(1, nil, clk)

	q.Enqueue(payloadN(0))
	e, err := q.PeekOldest()
	require.NoError(t, err)

	// Overflow evicts the held entry; it must not settle against its
	// replacement.
	q.Enqueue(payloadN(1))
	assert.False(t, q.Remove(e))
	assert.Equal(t, 1, q.Size())

	q.MarkRetry(e)
	rest, err := q.PeekOldest()
	require.NoError(t, err)
	assert.Equal(t, payloadN(1), rest.Payload)
	assert.Zero(t, rest.Retries)
}

func TestFirstEnqueuedTimestamp(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(2, nil, clk)

	q.Enqueue(payloadN(0))
	clk.Advance(time.Minute)
	q.Enqueue(payloadN(1))

	e, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1000, 0), e.FirstEnqueued)
	e, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1060, 0), e.FirstEnqueued)
}

func TestStorage_Mirrored(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	store := newFakeStore()
	q := New(2, store, clk)

	q.Enqueue(payloadN(0))
	q.Enqueue(payloadN(1))
	assert.Len(t, store.appended, 2)

	// Dequeue removes the mirrored copy.
	_, err := q.Dequeue()
	require.NoError(t, err)
	assert.Len(t, store.removed, 1)
	assert.Len(t, store.appended, 1)

	// Overflow eviction removes the mirrored copy too.
	q.Enqueue(payloadN(2))
	q.Enqueue(payloadN(3))
	assert.Len(t, store.removed, 2)
}

func TestStorage_AppendFailureDegradesToMemory(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	store := newFakeStore()
	store.appendErr = errors.New("flash busy")
	q := New(2, store, clk)

	q.Enqueue(payloadN(0))
	assert.Equal(t, 1, q.Size())

	e, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, payloadN(0), e.Payload)
	// Nothing was stored, so nothing must be removed.
	assert.Empty(t, store.removed)
}

func TestMemoryOnly_NilStorage(t *testing.T) {
	clk := platform.NewSimulated(time.Unix(1000, 0))
	q := New(1, nil, clk)

	q.Enqueue(payloadN(0))
	q.Enqueue(payloadN(1))
	e, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, payloadN(1), e.Payload)
}
