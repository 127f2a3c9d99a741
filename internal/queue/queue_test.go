package queue

import (
	"sync"
	"testing"

	"github.com/GriffinCanCode/tracepipe/internal/config"
	"github.com/GriffinCanCode/tracepipe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, queueSize, batchSize int) *config.Store {
	t.Helper()
	cfg := config.Default()
	cfg.MaxQueueEventCount = queueSize
	cfg.MaxBatchEventCount = batchSize
	snap, err := config.NewSnapshot(cfg)
	require.NoError(t, err)
	return config.NewStore(snap)
}

func span(id string) model.Event {
	return &model.Span{ID: id}
}

func ids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.(*model.Span).ID)
	}
	return out
}

func TestEnqueueRespectsBound(t *testing.T) {
	q := New(newStore(t, 3, 2))

	for _, id := range []string{"a", "b", "c"} {
		ok, err := q.Enqueue(span(id))
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := q.Enqueue(span("d"))
	require.NoError(t, err)
	assert.False(t, ok, "full queue rejects the new event")
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"a", "b", "c"}, ids(q.Drain()))
}

func TestDequeueIsFIFO(t *testing.T) {
	q := New(newStore(t, 10, 5))
	for _, id := range []string{"a", "b", "c", "d"} {
		_, _ = q.Enqueue(span(id))
	}

	assert.Equal(t, []string{"a", "b"}, ids(q.Dequeue(2)))
	assert.Equal(t, []string{"c", "d"}, ids(q.Dequeue(10)))
	assert.Nil(t, q.Dequeue(1))
	assert.Nil(t, q.Dequeue(0))
}

func TestReadySignalsAtBatchSize(t *testing.T) {
	q := New(newStore(t, 10, 2))

	_, _ = q.Enqueue(span("a"))
	select {
	case <-q.Ready():
		t.Fatal("signalled below batch size")
	default:
	}

	_, _ = q.Enqueue(span("b"))
	_, _ = q.Enqueue(span("c"))
	select {
	case <-q.Ready():
	default:
		t.Fatal("no signal at batch size")
	}

	// signals coalesce
	select {
	case <-q.Ready():
		t.Fatal("signal was not coalesced")
	default:
	}
}

func TestClose(t *testing.T) {
	q := New(newStore(t, 10, 5))
	_, _ = q.Enqueue(span("a"))

	q.Close()
	q.Close()
	assert.True(t, q.Closed())

	ok, err := q.Enqueue(span("b"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, []string{"a"}, ids(q.Dequeue(5)), "queued events survive close")
}

func TestBoundFollowsSnapshot(t *testing.T) {
	store := newStore(t, 2, 1)
	q := New(store)
	_, _ = q.Enqueue(span("a"))
	_, _ = q.Enqueue(span("b"))
	ok, _ := q.Enqueue(span("c"))
	require.False(t, ok)

	cfg := config.Default()
	cfg.MaxQueueEventCount = 4
	cfg.MaxBatchEventCount = 1
	snap, err := config.NewSnapshot(cfg)
	require.NoError(t, err)
	store.Swap(snap)

	ok, _ = q.Enqueue(span("c"))
	assert.True(t, ok)
}

func TestConcurrentEnqueueNeverExceedsBound(t *testing.T) {
	const bound = 100
	q := New(newStore(t, bound, 10))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if ok, _ := q.Enqueue(span("x")); ok {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, bound, accepted)
	assert.Equal(t, bound, q.Len())
}
