package syncq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/metrics"
	"github.com/roach88/cartsync/internal/testutil"
)

// recorder is an Executor that records ops and fails on demand.
type recorder struct {
	mu       sync.Mutex
	ops      []Op
	failures map[string]int // item id -> remaining failures
	stale    map[uint64]bool
	inFlight int
	maxSeen  int
}

func newRecorder() *recorder {
	return &recorder{failures: map[string]int{}, stale: map[uint64]bool{}}
}

func (r *recorder) exec(ctx context.Context, op Op) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxSeen {
		r.maxSeen = r.inFlight
	}
	r.mu.Unlock()

	time.Sleep(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--
	if r.stale[op.Epoch] {
		return ErrStale
	}
	if n := r.failures[op.TargetID()]; n > 0 {
		r.failures[op.TargetID()] = n - 1
		r.ops = append(r.ops, op)
		return errors.New("boom")
	}
	r.ops = append(r.ops, op)
	return nil
}

func (r *recorder) recorded() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

func startWriter(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func drainWriter(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Drain(ctx))
}

func TestWriter_ProcessesInOrderOneAtATime(t *testing.T) {
	rec := newRecorder()
	w := NewWriter(rec.exec, WithIDGenerator(testutil.NewSequentialIDGenerator("op")))
	startWriter(t, w)

	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, w.Enqueue(appendOp(id, 1)))
	}
	drainWriter(t, w)

	ops := rec.recorded()
	require.Len(t, ops, 4)
	for i, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, id, ops[i].TargetID())
		assert.NotEmpty(t, ops[i].ID)
	}
	assert.Equal(t, 1, rec.maxSeen, "at most one write in flight")
}

func TestWriter_RetriesOnceThenDrops(t *testing.T) {
	rec := newRecorder()
	rec.failures["flaky"] = 1
	rec.failures["down"] = 5
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	w := NewWriter(rec.exec, WithRetries(1, 0), WithMetrics(m))
	startWriter(t, w)

	w.Enqueue(appendOp("flaky", 1))
	w.Enqueue(appendOp("down", 1))
	w.Enqueue(appendOp("ok", 1))
	drainWriter(t, w)

	var got []string
	for _, op := range rec.recorded() {
		got = append(got, op.TargetID())
	}
	assert.Equal(t, []string{"flaky", "flaky", "down", "down", "ok"}, got)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.RemoteWrites.WithLabelValues("cart", "append", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RemoteWrites.WithLabelValues("cart", "append", metrics.OutcomeFailed)))
}

func TestWriter_RetryableFiltersErrors(t *testing.T) {
	rec := newRecorder()
	rec.failures["rejected"] = 5
	w := NewWriter(rec.exec, WithRetries(1, 0), WithRetryable(func(error) bool { return false }))
	startWriter(t, w)

	w.Enqueue(appendOp("rejected", 1))
	drainWriter(t, w)

	require.Len(t, rec.recorded(), 1, "a permanent failure is not retried")
}

func TestWriter_StaleOpsAreNotRetried(t *testing.T) {
	rec := newRecorder()
	rec.stale[1] = true
	m := metrics.New(nil)
	w := NewWriter(rec.exec, WithRetries(3, 0), WithMetrics(m))
	startWriter(t, w)

	w.Enqueue(appendOp("old", 1))
	w.Enqueue(appendOp("new", 2))
	drainWriter(t, w)

	ops := rec.recorded()
	require.Len(t, ops, 1)
	assert.Equal(t, "new", ops[0].TargetID())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RemoteWrites.WithLabelValues("cart", "append", metrics.OutcomeStale)))
}

func TestWriter_CoalescesWhileBusy(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var sent []Op
	exec := func(ctx context.Context, op Op) error {
		if op.TargetID() == "block" {
			<-release
		}
		mu.Lock()
		sent = append(sent, op)
		mu.Unlock()
		return nil
	}
	m := metrics.New(nil)
	w := NewWriter(exec, WithMetrics(m))
	startWriter(t, w)

	w.Enqueue(appendOp("block", 1))
	require.Eventually(t, func() bool { return w.Len() == 0 }, time.Second, time.Millisecond)

	w.Enqueue(replaceOp(1, "a"))
	w.Enqueue(replaceOp(1, "a", "b"))
	w.Enqueue(replaceOp(1, "a", "b", "c"))
	close(release)
	drainWriter(t, w)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 2)
	assert.Equal(t, OpReplace, sent[1].Kind)
	assert.Len(t, sent[1].Items, 3)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Coalesced.WithLabelValues("cart")))
}

func TestWriter_CloseStopsRun(t *testing.T) {
	w := NewWriter(func(context.Context, Op) error { return nil })
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	w.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.False(t, w.Enqueue(appendOp("late", 1)))
}

func TestWriter_DrainHonorsContext(t *testing.T) {
	w := NewWriter(func(context.Context, Op) error { return nil })
	w.Enqueue(appendOp("a", 1)) // no Run loop: never drains

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Drain(ctx), context.DeadlineExceeded)
}
