// Package queue implements the multi-producer, single-consumer ingest
// queue that sits between a Write call and the flusher.
package queue

import (
	"sync/atomic"

	"github.com/waffledb/waffledb/core"
)

type node struct {
	value core.Sample
	next  atomic.Pointer[node]
}

// Queue is a Michael-Scott style MPSC linked queue. Producers push
// concurrently from any number of goroutines; exactly one consumer
// goroutine calls Pop. Go's garbage collector reclaims dequeued nodes,
// so there is no hazard-pointer or epoch bookkeeping to maintain —
// single-consumer delete-after-dequeue is sufficient.
type Queue struct {
	head atomic.Pointer[node] // owned by the single consumer
	tail atomic.Pointer[node] // producers CAS this
	len  atomic.Int64
}

// New returns an empty queue, ready for concurrent producers.
func New() *Queue {
	sentinel := &node{}
	q := &Queue{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Push enqueues a sample. Non-blocking except for the node allocation.
func (q *Queue) Push(s core.Sample) {
	n := &node{value: s}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// Another producer linked a node but hasn't swung tail yet; help it along.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.len.Add(1)
			return
		}
	}
}

// Pop removes and returns the oldest sample. Only safe to call from a
// single consumer goroutine.
func (q *Queue) Pop() (core.Sample, bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return core.Sample{}, false
	}
	q.head.Store(next)
	q.len.Add(-1)
	return next.value, true
}

// DrainInto pops every currently available sample into dst and returns
// the extended slice, used by the flusher's periodic drain cycle.
func (q *Queue) DrainInto(dst []core.Sample) []core.Sample {
	for {
		s, ok := q.Pop()
		if !ok {
			return dst
		}
		dst = append(dst, s)
	}
}

// Len returns an approximate, racy count of samples currently queued.
func (q *Queue) Len() int {
	n := q.len.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
