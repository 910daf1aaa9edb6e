// Package queue implements the admission queue that bounds how many transfers
// run at once.
//
// Work is admitted in priority order (higher first, FIFO among equal
// priorities). Admission is decided inline in Enqueue and every state change is
// serialized under a single mutex, so the queue behaves as if a single logical
// thread owned it. Start and cleanup functions are always invoked outside the
// lock and may call back into the queue.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// State is the lifecycle state of a queue slot.
type State int

// Slot states
const (
	StateWaiting State = iota
	StateRunning
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StartFunc starts admitted work and returns a cleanup function that stops it.
// The cleanup may be nil.
type StartFunc func() (cleanup func())

// Stats is a point-in-time view of the queue.
type Stats struct {
	Running int
	Waiting int
	Limit   int
}

// Queue is a concurrency limiter with priority admission.
// It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	limit   int
	running int
	waiting waitHeap
	seq     uint64
	closed  bool
}

// New creates a queue admitting at most limit slots at once.
// A limit of 0 admits everything immediately.
func New(limit int) *Queue {
	if limit < 0 {
		limit = 0
	}
	return &Queue{limit: limit}
}

// Handle is a slot in the queue.
type Handle struct {
	id       string
	q        *Queue
	priority int
	seq      uint64
	index    int

	// guarded by q.mu
	start    StartFunc
	state    State
	admitted bool
	cleanup  func()
	finished chan struct{}
}

// ID returns the unique slot id.
func (h *Handle) ID() string {
	return h.id
}

// Priority returns the priority the slot was enqueued with.
func (h *Handle) Priority() int {
	return h.priority
}

// State returns the current slot state.
func (h *Handle) State() State {
	h.q.mu.Lock()
	defer h.q.mu.Unlock()
	return h.state
}

// Admitted reports whether the slot was ever admitted, i.e. whether its start
// function has been or is being invoked.
func (h *Handle) Admitted() bool {
	h.q.mu.Lock()
	defer h.q.mu.Unlock()
	return h.admitted
}

// Finished is closed once the slot is Done or Aborted.
func (h *Handle) Finished() <-chan struct{} {
	return h.finished
}

// Done marks the slot as finished, invokes its cleanup and admits the next
// waiting slot. Calling Done more than once has no effect.
// Done on a waiting slot removes it without starting it.
func (h *Handle) Done() {
	h.q.finish(h, StateDone)
}

// Abort removes a waiting slot without starting it, or finishes a running slot
// like Done with state Aborted. The cleanup is expected to cancel the work.
func (h *Handle) Abort() {
	h.q.finish(h, StateAborted)
}

// Withdraw removes a waiting slot without starting it and reports whether it
// did. Admitted and finished slots are left untouched.
func (h *Handle) Withdraw() bool {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if h.state != StateWaiting {
		return false
	}
	heap.Remove(&q.waiting, h.index)
	h.start = nil
	h.state = StateAborted
	close(h.finished)
	return true
}

// Enqueue registers work. If capacity is available the slot is admitted and
// start is invoked before Enqueue returns; otherwise the slot waits.
// Enqueue on a closed queue returns an aborted slot.
func (q *Queue) Enqueue(start StartFunc, priority int) *Handle {
	h := &Handle{
		id:       uuid.NewString(),
		q:        q,
		priority: priority,
		index:    -1,
		start:    start,
		finished: make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		h.start = nil
		h.state = StateAborted
		close(h.finished)
		q.mu.Unlock()
		return h
	}

	q.seq++
	h.seq = q.seq
	if q.hasCapacity() {
		q.admit(h)
		q.mu.Unlock()
		q.run(h)
		return h
	}

	heap.Push(&q.waiting, h)
	q.mu.Unlock()
	return h
}

// Acquire enqueues an empty slot and blocks until it is admitted.
// If ctx is done first the slot is aborted and the context error returned.
func (q *Queue) Acquire(ctx context.Context, priority int) (*Handle, error) {
	admitted := make(chan struct{})
	h := q.Enqueue(func() func() {
		close(admitted)
		return nil
	}, priority)

	select {
	case <-admitted:
		return h, nil
	case <-h.Finished():
		return nil, errors.ErrQueueClosed
	case <-ctx.Done():
		h.Abort()
		return nil, ctx.Err()
	}
}

// Stats returns the number of running and waiting slots.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Running: q.running, Waiting: q.waiting.Len(), Limit: q.limit}
}

// Close aborts every waiting slot and makes later Enqueue calls return aborted
// slots. Running slots are left to their owners.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	for q.waiting.Len() > 0 {
		h := heap.Pop(&q.waiting).(*Handle)
		h.start = nil
		h.state = StateAborted
		close(h.finished)
	}
}

func (q *Queue) hasCapacity() bool {
	return q.limit == 0 || q.running < q.limit
}

// admit must be called with q.mu held.
func (q *Queue) admit(h *Handle) {
	h.state = StateRunning
	h.admitted = true
	q.running++
}

// run invokes the start function of an admitted slot. If the slot finished
// while start was running, the returned cleanup is invoked right away.
func (q *Queue) run(h *Handle) {
	q.mu.Lock()
	start := h.start
	h.start = nil
	q.mu.Unlock()

	var cleanup func()
	if start != nil {
		cleanup = start()
	}

	q.mu.Lock()
	if h.state == StateRunning {
		h.cleanup = cleanup
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
}

func (q *Queue) finish(h *Handle, final State) {
	q.mu.Lock()
	switch h.state {
	case StateDone, StateAborted:
		q.mu.Unlock()
		return
	case StateWaiting:
		heap.Remove(&q.waiting, h.index)
		h.start = nil
		h.state = final
		close(h.finished)
		q.mu.Unlock()
		return
	}

	h.state = final
	close(h.finished)
	q.running--
	cleanup := h.cleanup
	h.cleanup = nil

	var next []*Handle
	for q.hasCapacity() && q.waiting.Len() > 0 {
		n := heap.Pop(&q.waiting).(*Handle)
		q.admit(n)
		next = append(next, n)
	}
	q.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	for _, n := range next {
		q.run(n)
	}
}

// waitHeap orders waiting slots by priority, then arrival.
type waitHeap []*Handle

func (w waitHeap) Len() int { return len(w) }

func (w waitHeap) Less(i, j int) bool {
	if w[i].priority != w[j].priority {
		return w[i].priority > w[j].priority
	}
	return w[i].seq < w[j].seq
}

func (w waitHeap) Swap(i, j int) {
	w[i], w[j] = w[j], w[i]
	w[i].index = i
	w[j].index = j
}

func (w *waitHeap) Push(x any) {
	h := x.(*Handle)
	h.index = len(*w)
	*w = append(*w, h)
}

func (w *waitHeap) Pop() any {
	old := *w
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*w = old[:n-1]
	return h
}
