package dvr

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// eventQueue is a FIFO of collaborator events. Producers are recorder and
// player callbacks on arbitrary goroutines; the single consumer is the
// worker for that kind. The queue lock is a leaf lock and is never held
// across any other acquisition.
type eventQueue[E any] struct {
	mu    sync.Mutex
	items []E
}

func (q *eventQueue[E]) push(evt E) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()
}

func (q *eventQueue[E]) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func (q *eventQueue[E]) pop() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero E
	if len(q.items) == 0 {
		return zero, false
	}
	evt := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return evt, true
}

// worker drains one event queue on a dedicated goroutine. Its lifetime is
// reference counted: the first open of a session of its kind spawns it, the
// last close joins it. dispatch is invoked once per event; it must locate
// the target session itself and drop events whose serial no longer matches.
type worker[E any] struct {
	name  string
	queue *eventQueue[E]

	mu      sync.Mutex
	cond    *sync.Cond
	users   int
	running atomic.Bool
	done    chan struct{}

	dispatch func(w *worker[E], evt E)
	log      *slog.Logger
}

func newWorker[E any](name string, log *slog.Logger, dispatch func(w *worker[E], evt E)) *worker[E] {
	w := &worker[E]{
		name:     name,
		queue:    &eventQueue[E]{},
		dispatch: dispatch,
		log:      log.With(slog.String("component", "worker"), slog.String("kind", name)),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// request increments the user count, spawning the drain goroutine on the
// first user. It has no failure path: starting a goroutine cannot fail
// short of a resource-exhaustion panic.
func (w *worker[E]) request() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.users == 0 {
		w.running.Store(true)
		w.done = make(chan struct{})
		go w.run()
		w.log.Debug("worker started")
	}
	w.users++
}

// release decrements the user count and joins the goroutine when the last
// user departs. Events still queued at that point are removed from the
// queue without being dispatched; with no users left, every session of
// this kind is already closed.
func (w *worker[E]) release() {
	w.mu.Lock()
	w.users--
	last := w.users == 0
	if last {
		w.running.Store(false)
		w.cond.Broadcast()
	}
	done := w.done
	w.mu.Unlock()

	if last && done != nil {
		<-done
		w.log.Debug("worker stopped")
	}
}

// signal wakes the drain loop after a push.
func (w *worker[E]) signal() {
	w.mu.Lock()
	w.cond.Signal()
	w.mu.Unlock()
}

// post enqueues an event and wakes the worker.
func (w *worker[E]) post(evt E) {
	w.queue.push(evt)
	w.signal()
}

func (w *worker[E]) run() {
	defer close(w.done)

	w.mu.Lock()
	for w.running.Load() {
		for w.queue.empty() && w.running.Load() {
			w.cond.Wait()
		}

		w.mu.Unlock()
		// Drain everything queued per wake so no event is left behind
		// when the worker is later asked to stop.
		for {
			evt, ok := w.queue.pop()
			if !ok {
				break
			}
			if w.running.Load() {
				w.dispatch(w, evt)
			}
		}
		w.mu.Lock()
	}
	w.mu.Unlock()
}
