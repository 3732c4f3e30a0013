package session

import "sync"

// Dispatcher runs observer callbacks on the main execution context.
//
// Dispatch must not block and must run callbacks in the order they were
// submitted.
type Dispatcher interface {
	Dispatch(fn func())
}

// MainQueue is a Dispatcher backed by a single goroutine draining an
// unbounded FIFO. All callbacks run on that goroutine, one at a time.
type MainQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewMainQueue starts the dispatch goroutine. Call Close to stop it.
func NewMainQueue() *MainQueue {
	q := &MainQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Dispatch enqueues fn. Callbacks submitted after Close are dropped.
func (q *MainQueue) Dispatch(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.queue = append(q.queue, fn)
	q.cond.Signal()
}

// Close drains the queue and waits for the goroutine to exit. It must not be
// called from a dispatched callback.
func (q *MainQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
}

func (q *MainQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		fn()
	}
}

type inline struct{}

func (inline) Dispatch(fn func()) { fn() }

// Inline returns a Dispatcher that runs callbacks on the calling goroutine.
// Observers attached to an inline store must not call its setters.
func Inline() Dispatcher { return inline{} }
