package queue

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// recorder tracks start order and the number of concurrently running slots.
type recorder struct {
	mu      sync.Mutex
	order   []string
	running int
	maxSeen int
	cleaned map[string]int
}

func newRecorder() *recorder {
	return &recorder{cleaned: make(map[string]int)}
}

func (r *recorder) start(name string) StartFunc {
	return func() func() {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.running++
		if r.running > r.maxSeen {
			r.maxSeen = r.running
		}
		r.mu.Unlock()
		return func() {
			r.mu.Lock()
			r.running--
			r.cleaned[name]++
			r.mu.Unlock()
		}
	}
}

func (r *recorder) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestQueue_LimitNeverExceeded(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 7} {
		rng := rand.New(rand.NewSource(int64(limit)))
		q := New(limit)
		rec := newRecorder()

		var handles []*Handle
		for i := 0; i < 50; i++ {
			handles = append(handles, q.Enqueue(rec.start(string(rune('a'+i%26))), rng.Intn(3)))
			assert.LessOrEqual(t, q.Stats().Running, limit)
		}

		// finish slots in random order, including waiting ones
		rng.Shuffle(len(handles), func(i, j int) { handles[i], handles[j] = handles[j], handles[i] })
		for i, h := range handles {
			if i%5 == 0 {
				h.Abort()
			} else {
				h.Done()
			}
			assert.LessOrEqual(t, q.Stats().Running, limit)
		}

		assert.LessOrEqual(t, rec.maxSeen, limit, "limit %d", limit)
		assert.Equal(t, 0, q.Stats().Running)
		assert.Equal(t, 0, q.Stats().Waiting)
	}
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	q := New(1)
	rec := newRecorder()

	first := q.Enqueue(rec.start("first"), 0)
	low := q.Enqueue(rec.start("low"), 0)
	highA := q.Enqueue(rec.start("highA"), 5)
	highB := q.Enqueue(rec.start("highB"), 5)

	assert.Equal(t, []string{"first"}, rec.started())
	assert.Equal(t, StateWaiting, low.State())

	first.Done()
	assert.Equal(t, []string{"first", "highA"}, rec.started())
	highA.Done()
	assert.Equal(t, []string{"first", "highA", "highB"}, rec.started())
	highB.Done()
	assert.Equal(t, []string{"first", "highA", "highB", "low"}, rec.started())
	low.Done()
}

func TestQueue_UnboundedPassThrough(t *testing.T) {
	q := New(0)
	rec := newRecorder()

	for i := 0; i < 20; i++ {
		h := q.Enqueue(rec.start("x"), i)
		assert.Equal(t, StateRunning, h.State())
	}
	assert.Len(t, rec.started(), 20)
	assert.Equal(t, 0, q.Stats().Waiting)
}

func TestHandle_DoneIsIdempotent(t *testing.T) {
	q := New(1)
	rec := newRecorder()

	a := q.Enqueue(rec.start("a"), 0)
	b := q.Enqueue(rec.start("b"), 0)
	c := q.Enqueue(rec.start("c"), 0)

	a.Done()
	once := q.Stats()
	a.Done()
	assert.Equal(t, once, q.Stats())

	assert.Equal(t, []string{"a", "b"}, rec.started(), "second Done must not promote again")
	assert.Equal(t, 1, rec.cleaned["a"])
	assert.Equal(t, StateWaiting, c.State())

	b.Done()
	c.Done()
}

func TestHandle_AbortWaiting(t *testing.T) {
	q := New(1)
	rec := newRecorder()

	a := q.Enqueue(rec.start("a"), 0)
	b := q.Enqueue(rec.start("b"), 0)

	b.Abort()
	assert.Equal(t, StateAborted, b.State())
	assert.False(t, b.Admitted())
	assert.Equal(t, Stats{Running: 1, Waiting: 0, Limit: 1}, q.Stats())

	a.Done()
	assert.Equal(t, []string{"a"}, rec.started(), "aborted waiting slot must never start")
}

func TestHandle_AbortRunning(t *testing.T) {
	q := New(1)
	rec := newRecorder()

	a := q.Enqueue(rec.start("a"), 0)
	b := q.Enqueue(rec.start("b"), 0)

	a.Abort()
	assert.Equal(t, StateAborted, a.State())
	assert.Equal(t, 1, rec.cleaned["a"], "abort must invoke cleanup")
	assert.Equal(t, StateRunning, b.State())
	assert.True(t, b.Admitted())

	select {
	case <-a.Finished():
	default:
		t.Fatal("finished channel not closed")
	}
	b.Done()
}

func TestHandle_Withdraw(t *testing.T) {
	q := New(2)
	rec := newRecorder()

	a := q.Enqueue(rec.start("a"), 0)
	b := q.Enqueue(rec.start("b"), 0)
	c := q.Enqueue(rec.start("c"), 0)
	d := q.Enqueue(rec.start("d"), 0)

	assert.False(t, a.Withdraw(), "running slot stays admitted")
	assert.Equal(t, StateRunning, a.State())
	assert.True(t, c.Withdraw())
	assert.True(t, d.Withdraw())
	assert.False(t, d.Withdraw(), "withdraw is idempotent")

	a.Abort()
	b.Abort()

	assert.Equal(t, []string{"a", "b"}, rec.started(), "withdrawn slots never start")
	assert.Equal(t, StateAborted, c.State())
	assert.False(t, c.Admitted())
	assert.Equal(t, Stats{Limit: 2}, q.Stats())
}

func TestHandle_DoneDuringStart(t *testing.T) {
	q := New(1)

	var cleaned atomic.Int32
	inStart := make(chan struct{})
	release := make(chan struct{})

	a := q.Enqueue(func() func() { return nil }, 0)
	b := q.Enqueue(func() func() {
		close(inStart)
		<-release
		return func() { cleaned.Add(1) }
	}, 0)

	go a.Done()
	<-inStart

	// b is running its start function; its cleanup is not known yet
	b.Done()
	assert.Equal(t, int32(0), cleaned.Load())
	assert.Equal(t, StateDone, b.State())

	close(release)
	require.Eventually(t, func() bool { return cleaned.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, q.Stats().Running)
}

func TestQueue_Acquire(t *testing.T) {
	q := New(1)

	h1, err := q.Acquire(context.Background(), 0)
	require.NoError(t, err)

	acquired := make(chan *Handle)
	go func() {
		h, err := q.Acquire(context.Background(), 0)
		assert.NoError(t, err)
		acquired <- h
	}()

	select {
	case <-acquired:
		t.Fatal("acquired beyond the limit")
	case <-time.After(30 * time.Millisecond):
	}

	h1.Done()
	h2 := <-acquired
	assert.Equal(t, StateRunning, h2.State())
	h2.Done()
}

func TestQueue_AcquireContextCancelled(t *testing.T) {
	q := New(1)
	h1, err := q.Acquire(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = q.Acquire(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, q.Stats().Waiting)

	h1.Done()
	assert.Equal(t, 0, q.Stats().Running)
}

func TestQueue_Close(t *testing.T) {
	q := New(1)
	rec := newRecorder()

	a := q.Enqueue(rec.start("a"), 0)
	b := q.Enqueue(rec.start("b"), 0)

	q.Close()
	assert.Equal(t, StateAborted, b.State())
	assert.Equal(t, StateRunning, a.State())

	c := q.Enqueue(rec.start("c"), 0)
	assert.Equal(t, StateAborted, c.State())

	_, err := q.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, errors.ErrQueueClosed)

	a.Done()
	assert.Equal(t, []string{"a"}, rec.started())
}

func TestQueue_ConcurrentUse(t *testing.T) {
	const limit = 3
	q := New(limit)

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := q.Acquire(context.Background(), 0)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			h.Done()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, limit)
	assert.Equal(t, Stats{Limit: limit}, q.Stats())
}
