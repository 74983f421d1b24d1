package dc

import (
	"container/list"
	"sync"
)

// blockingQueue is an unbounded multi-producer/multi-consumer FIFO with a
// terminal stop_blocking state and a critical-section drain API
// (spec.md §4.5). It backs the expqueue sender (module 7): the sender's
// send_loop is the sole consumer and drains several entries at a time
// without releasing the lock between them; producers (SendData callers)
// that call Enqueue during such a drain wait on the lock until
// EndCriticalSection.
//
// Naming mirrors the spec's operation names directly:
// Enqueue, Dequeue, DequeueAndBeginCriticalSectionOnSuccess,
// TryDequeueInCriticalSection, EndCriticalSection, StopBlocking.
type blockingQueue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    *list.List
	stopped  bool

	// inCriticalSection is true between a successful
	// DequeueAndBeginCriticalSectionOnSuccess and the matching
	// EndCriticalSection, while mu stays locked. It exists only so misuse
	// of TryDequeueInCriticalSection outside the window panics instead of
	// silently corrupting state.
	inCriticalSection bool
}

func newBlockingQueue[T any]() *blockingQueue[T] {
	q := &blockingQueue[T]{items: list.New()}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an entry and wakes one blocked consumer.
func (q *blockingQueue[T]) Enqueue(v T) {
	q.mu.Lock()
	q.items.PushBack(v)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Dequeue blocks until an entry is available or StopBlocking is called. ok
// is false only in the latter case (spec.md §4.5: "subsequent dequeues
// return (_, false)").
func (q *blockingQueue[T]) Dequeue() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 {
		if q.stopped {
			return v, false
		}
		q.notEmpty.Wait()
	}
	return q.popFront(), true
}

// DequeueAndBeginCriticalSectionOnSuccess blocks like Dequeue, but on
// success leaves the queue's lock held in a logical "critical section"
// until EndCriticalSection is called, letting the consumer call
// TryDequeueInCriticalSection repeatedly to drain a burst without losing
// its place to another consumer. On failure (stopped and empty) no
// critical section is entered.
func (q *blockingQueue[T]) DequeueAndBeginCriticalSectionOnSuccess() (v T, ok bool) {
	q.mu.Lock()
	for q.items.Len() == 0 {
		if q.stopped {
			q.mu.Unlock()
			return v, false
		}
		q.notEmpty.Wait()
	}
	v = q.popFront()
	q.inCriticalSection = true
	// mu is intentionally left locked; EndCriticalSection unlocks it.
	return v, true
}

// TryDequeueInCriticalSection performs one non-blocking dequeue attempt.
// It must only be called between a successful
// DequeueAndBeginCriticalSectionOnSuccess and the matching
// EndCriticalSection.
func (q *blockingQueue[T]) TryDequeueInCriticalSection() (v T, ok bool) {
	if !q.inCriticalSection {
		panic("dc: TryDequeueInCriticalSection called outside a critical section")
	}
	if q.items.Len() == 0 {
		return v, false
	}
	return q.popFront(), true
}

// EndCriticalSection releases the lock acquired by
// DequeueAndBeginCriticalSectionOnSuccess.
func (q *blockingQueue[T]) EndCriticalSection() {
	q.inCriticalSection = false
	q.mu.Unlock()
}

// StopBlocking wakes every blocked Dequeue/DequeueAndBeginCriticalSectionOnSuccess
// waiter and makes all future calls return ok=false once the queue drains.
// Entries already enqueued remain dequeuable until StopBlocking's own call
// observes the queue empty for each waiter — i.e. Enqueue after
// StopBlocking still succeeds, but no blocked waiter will be woken to
// consume it; callers are expected to stop enqueuing before calling this.
func (q *blockingQueue[T]) StopBlocking() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

// Len reports the number of entries currently queued. Safe to call
// concurrently with Enqueue/Dequeue; not safe to call from within a
// critical section on the same goroutine (it would deadlock retaking mu).
func (q *blockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *blockingQueue[T]) popFront() T {
	front := q.items.Front()
	q.items.Remove(front)
	return front.Value.(T)
}
