package syncq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/cartsync/internal/metrics"
)

// DefaultRetries is the number of in-memory retries after a failed write.
const DefaultRetries = 1

// DefaultRetryDelay is the pause before retrying a failed write.
const DefaultRetryDelay = 250 * time.Millisecond

// Executor performs one remote write.
type Executor func(ctx context.Context, op Op) error

// Writer is the single-writer remote write loop for one collection.
//
// Thread-safety model:
//   - Enqueue(), Purge(), Drain(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//
// ERROR HANDLING: a failed write is retried in memory up to the retry
// budget, then logged and dropped. Local state is not rolled back; the next
// successful load reconciles it.
type Writer struct {
	queue      *opQueue
	exec       Executor
	ids        IDGenerator
	logger     *slog.Logger
	metrics    *metrics.Metrics
	retries    int
	retryDelay time.Duration
	retryable  func(error) bool
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMetrics records write outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// WithIDGenerator sets the op id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(w *Writer) {
		if g != nil {
			w.ids = g
		}
	}
}

// WithRetries sets the retry budget and delay. Negative values are ignored.
func WithRetries(n int, delay time.Duration) Option {
	return func(w *Writer) {
		if n >= 0 {
			w.retries = n
		}
		if delay >= 0 {
			w.retryDelay = delay
		}
	}
}

// WithRetryable limits retries to errors for which fn returns true.
// Default: every error except ErrStale is retried.
func WithRetryable(fn func(error) bool) Option {
	return func(w *Writer) { w.retryable = fn }
}

// NewWriter creates a Writer that performs writes with exec.
func NewWriter(exec Executor, opts ...Option) *Writer {
	w := &Writer{
		queue:      newOpQueue(),
		exec:       exec,
		ids:        UUIDv7Generator{},
		logger:     slog.Default(),
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue submits op, assigning an id if it has none. Queued ops that op
// supersedes are dropped. Returns false once the writer is closed.
func (w *Writer) Enqueue(op Op) bool {
	if op.ID == "" {
		op.ID = w.ids.Generate()
	}
	dropped, ok := w.queue.Enqueue(op)
	if !ok {
		return false
	}
	if dropped > 0 {
		w.metrics.ObserveCoalesced(string(op.Collection), dropped)
		w.logger.Debug("coalesced queued writes",
			"collection", op.Collection, "op", op.Kind.String(), "dropped", dropped)
	}
	return true
}

// Purge drops queued ops for which drop returns true.
func (w *Writer) Purge(drop func(Op) bool) int {
	return w.queue.Purge(drop)
}

// Len returns the number of queued ops.
func (w *Writer) Len() int {
	return w.queue.Len()
}

// Drain blocks until the queue is empty and no write is in flight.
func (w *Writer) Drain(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.queue.Idle():
		return nil
	}
}

// Close stops the writer. Queued ops are discarded.
func (w *Writer) Close() {
	w.queue.Close()
}

// Run processes ops until ctx is cancelled or Close is called.
func (w *Writer) Run(ctx context.Context) error {
	for {
		op, ok := w.queue.TryDequeue()
		if ok {
			w.process(ctx, op)
			w.queue.Done()
			continue
		}

		if w.queue.Closed() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.queue.Wait():
		}
	}
}

func (w *Writer) process(ctx context.Context, op Op) {
	log := w.logger.With(
		"op_id", op.ID,
		"op", op.Kind.String(),
		"collection", op.Collection,
		"key", op.Key,
	)
	if target := op.TargetID(); target != "" {
		log = log.With("item", target)
	}

	for attempt := 0; ; attempt++ {
		err := w.exec(ctx, op)
		switch {
		case err == nil:
			w.metrics.ObserveWrite(string(op.Collection), op.Kind.String(), metrics.OutcomeOK)
			log.Debug("remote write applied", "attempt", attempt+1)
			return
		case errors.Is(err, ErrStale):
			w.metrics.ObserveWrite(string(op.Collection), op.Kind.String(), metrics.OutcomeStale)
			log.Debug("discarded write for previous identity")
			return
		case ctx.Err() != nil:
			return
		}

		if attempt < w.retries && (w.retryable == nil || w.retryable(err)) {
			log.Debug("remote write failed, retrying", "attempt", attempt+1, "error", err)
			if waitErr := waitWithContext(ctx, w.retryDelay); waitErr != nil {
				return
			}
			continue
		}

		// Local state stays ahead of remote until the next successful load.
		w.metrics.ObserveWrite(string(op.Collection), op.Kind.String(), metrics.OutcomeFailed)
		log.Warn("remote write failed", "attempts", attempt+1, "error", err)
		return
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
