package negotiation

import "sync"

// fifo is an unbounded queue of closures. Enqueue never blocks, so engine and
// transport callbacks can feed the manager without waiting on it.
type fifo struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool
	items    []func()
}

func newFIFO() *fifo {
	q := &fifo{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends fn. It reports false once the queue is closed.
func (q *fifo) Enqueue(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, fn)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until an item is available or the queue is closed and empty.
func (q *fifo) Dequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

// Close rejects further items. Items already queued are still returned by
// Dequeue.
func (q *fifo) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// run drains q until it is closed and empty.
func (q *fifo) run(done chan<- struct{}) {
	defer close(done)
	for {
		fn, ok := q.Dequeue()
		if !ok {
			return
		}
		fn()
	}
}
