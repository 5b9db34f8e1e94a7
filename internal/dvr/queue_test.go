package dvr

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueueFIFO(t *testing.T) {
	var q eventQueue[int]
	assert.True(t, q.empty())

	for i := 0; i < 5; i++ {
		q.push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.pop()
	assert.False(t, ok)
}

func TestWorkerDrainsInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int

	w := newWorker("test", slog.Default(), func(_ *worker[int], evt int) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	w.request()
	for i := 0; i < 20; i++ {
		w.post(i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	mu.Unlock()

	w.release()
}

func TestWorkerRefcount(t *testing.T) {
	var processed sync.Map

	w := newWorker("test", slog.Default(), func(_ *worker[int], evt int) {
		processed.Store(evt, true)
	})

	// Two users; releasing one keeps the worker alive.
	w.request()
	w.request()
	w.release()

	w.post(1)
	require.Eventually(t, func() bool {
		_, ok := processed.Load(1)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// Releasing the last user joins the goroutine.
	w.release()

	// A fresh request restarts it.
	w.request()
	w.post(2)
	require.Eventually(t, func() bool {
		_, ok := processed.Load(2)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	w.release()
}

func TestWorkerEventBeforeFirstWait(t *testing.T) {
	var seen sync.Map
	w := newWorker("test", slog.Default(), func(_ *worker[int], evt int) {
		seen.Store(evt, true)
	})

	w.request()
	// Post immediately; the worker must not lose the wakeup even if it
	// has not reached its first wait yet.
	w.post(7)
	require.Eventually(t, func() bool {
		_, ok := seen.Load(7)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	w.release()
}
