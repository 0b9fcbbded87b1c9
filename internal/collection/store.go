// Package collection implements the Collection Store: the in-memory source
// of truth for one collection (cart, wishlist or recently viewed) of the
// current actor.
//
// Mutations apply to memory and the local store synchronously and return
// before any network round trip. Remote writes go through a per-store
// syncq.Writer, so at most one is in flight. Remote failures are logged
// and never returned; the next successful Load reconciles.
//
// Every identity change starts a new state with a fresh epoch. Results of
// loads and writes issued for an older state are discarded.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/metrics"
	"github.com/roach88/cartsync/internal/scheduler"
	"github.com/roach88/cartsync/internal/syncq"
)

// ErrUnsupported is returned for mutations a collection does not have,
// such as SetQuantity on a wishlist.
var ErrUnsupported = errors.New("collection: operation not supported")

// KV is the durable local store.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Remote is the remote collection service.
type Remote interface {
	FetchAll(ctx context.Context, token string, kind item.Kind) ([]item.Item, error)
	ReplaceAll(ctx context.Context, token string, kind item.Kind, items []item.Item) error
	AppendOne(ctx context.Context, token string, kind item.Kind, it item.Item) error
	DeleteOne(ctx context.Context, token string, kind item.Kind, id string) error
	RefreshPrices(ctx context.Context, ids []string) (map[string]float64, error)
}

// Identity is an authenticated actor. A nil *Identity is a guest.
type Identity struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// state is one (collection, identity) pair. It is replaced, never
// re-targeted, when identity changes.
type state struct {
	key      string
	epoch    uint64
	identity *Identity
	items    []item.Item
	loaded   bool
	journal  []mutation
}

// Store owns one collection for the current actor.
//
// All methods are safe for concurrent use. Run must be running for remote
// writes to be sent.
type Store struct {
	kind    item.Kind
	kv      KV
	remote  Remote
	cap     int
	pricing Pricing
	logger  *slog.Logger
	metrics *metrics.Metrics

	clock      scheduler.Clock
	delay      time.Duration
	writerOpts []syncq.Option

	writer   *syncq.Writer
	debounce *scheduler.Debouncer

	mu    sync.Mutex
	st    *state
	epoch uint64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records loads and remote writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock sets the debounce clock. Default: scheduler.RealClock.
func WithClock(c scheduler.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithDebounce sets the debounce quiet period. Default: scheduler.DefaultDelay.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.delay = d }
}

// WithCap sets the length limit. It only applies to RecentlyViewed.
func WithCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.cap = n
		}
	}
}

// WithPricing sets the cart summary rules.
func WithPricing(p Pricing) Option {
	return func(s *Store) { s.pricing = p }
}

// WithWriterOptions passes options to the store's write queue.
func WithWriterOptions(opts ...syncq.Option) Option {
	return func(s *Store) { s.writerOpts = append(s.writerOpts, opts...) }
}

// New creates a Store for kind. It holds no state until Load is called;
// mutations made before then are replayed once the first load completes.
func New(kind item.Kind, kv KV, remote Remote, opts ...Option) (*Store, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", item.ErrUnknownKind, kind)
	}
	if kv == nil || remote == nil {
		return nil, errors.New("collection: nil local store or remote")
	}
	s := &Store{
		kind:    kind,
		kv:      kv,
		remote:  remote,
		pricing: DefaultPricing,
		logger:  slog.Default(),
		st:      &state{items: []item.Item{}},
	}
	if kind == item.RecentlyViewed {
		s.cap = item.ViewedCap
	}
	for _, opt := range opts {
		opt(s)
	}
	if kind != item.RecentlyViewed {
		s.cap = 0
	}
	s.logger = s.logger.With("collection", string(kind))

	wopts := append([]syncq.Option{
		syncq.WithLogger(s.logger),
		syncq.WithMetrics(s.metrics),
	}, s.writerOpts...)
	s.writer = syncq.NewWriter(s.execute, wopts...)
	s.debounce = scheduler.NewDebouncer(s.clock, s.delay, s.flushDebounced)
	return s, nil
}

// Kind returns the collection this store owns.
func (s *Store) Kind() item.Kind {
	return s.kind
}

// Cap returns the length limit, 0 for none.
func (s *Store) Cap() int {
	return s.cap
}

// Run drains the write queue until ctx is cancelled or Close is called.
func (s *Store) Run(ctx context.Context) error {
	return s.writer.Run(ctx)
}

// Close cancels any pending debounce and stops the write queue. Queued
// writes are discarded.
func (s *Store) Close() {
	s.debounce.Cancel()
	s.writer.Close()
}

// Flush fires a pending debounce now and waits for queued writes.
func (s *Store) Flush(ctx context.Context) error {
	s.debounce.Flush()
	return s.writer.Drain(ctx)
}

// Drain waits for queued writes without firing a pending debounce.
func (s *Store) Drain(ctx context.Context) error {
	return s.writer.Drain(ctx)
}

// Pending reports whether a debounced flush is scheduled.
func (s *Store) Pending() bool {
	return s.debounce.Pending()
}

// Key returns the local store key of the current state.
func (s *Store) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.key
}

// Loaded reports whether the current state finished loading.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.loaded
}

// Identity returns the actor of the current state, nil for a guest.
func (s *Store) Identity() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.identity == nil {
		return nil
	}
	id := *s.st.identity
	return &id
}

// Items returns a copy of the current items in display order.
func (s *Store) Items() []item.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return item.Clone(s.st.items)
}

// Contains reports whether id is in the collection.
func (s *Store) Contains(id string) bool {
	id = item.NormalizeID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	return item.IndexOf(s.st.items, id) >= 0
}

// readLocal returns the sanitized local copy under key. Missing and
// unreadable entries are empty; ok reports whether the key existed.
func (s *Store) readLocal(ctx context.Context, key string) (items []item.Item, ok bool) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("read local copy", "key", key, "error", err)
		return []item.Item{}, false
	}
	if !ok {
		return []item.Item{}, false
	}
	decoded, err := item.Decode(raw)
	if err != nil {
		s.logger.Warn("corrupt local copy, treating as empty", "key", key, "error", err)
		return []item.Item{}, true
	}
	return item.Truncate(item.Sanitize(s.kind, decoded), s.cap), true
}

func (s *Store) writeLocal(ctx context.Context, key string, items []item.Item) {
	if key == "" {
		return
	}
	raw, err := item.Encode(items)
	if err != nil {
		s.logger.Warn("encode local copy", "key", key, "error", err)
		return
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		s.logger.Warn("write local copy", "key", key, "error", err)
	}
}

// current reports whether epoch still names the live state.
func (s *Store) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.epoch == epoch
}

// execute performs one queued remote write.
func (s *Store) execute(ctx context.Context, op syncq.Op) error {
	s.mu.Lock()
	live := s.st.key
	s.mu.Unlock()
	if op.Key != live {
		return syncq.ErrStale
	}

	switch op.Kind {
	case syncq.OpAppend:
		return s.remote.AppendOne(ctx, op.Token, op.Collection, op.Item)
	case syncq.OpDelete:
		return s.remote.DeleteOne(ctx, op.Token, op.Collection, op.ItemID)
	case syncq.OpReplace:
		return s.remote.ReplaceAll(ctx, op.Token, op.Collection, op.Items)
	}
	return fmt.Errorf("collection: unknown op %s", op.Kind)
}

// flushDebounced enqueues a full replace of the current items. It does
// nothing for guests, before loading completes, or for an empty
// collection, so a transient empty state never overwrites the remote copy.
func (s *Store) flushDebounced() {
	s.mu.Lock()
	st := s.st
	if st.identity == nil || !st.loaded || len(st.items) == 0 {
		s.mu.Unlock()
		return
	}
	op := syncq.Op{
		Kind:       syncq.OpReplace,
		Collection: s.kind,
		Key:        st.key,
		Epoch:      st.epoch,
		Token:      st.identity.Token,
		Items:      item.Clone(st.items),
	}
	s.mu.Unlock()

	s.writer.Enqueue(op)
}
