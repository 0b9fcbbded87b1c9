// Package session wires the cart, wishlist and recently viewed stores to one
// identity source.
//
// A Session is built once per process and passed to whatever needs the
// collections. Identity transitions go through SetIdentity, which reloads
// every store concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/item"
)

// Fetcher returns every remote collection from one call. When the remote
// passed to New implements it, an authenticated load fetches once for all
// three stores instead of once per store.
type Fetcher interface {
	FetchCollections(ctx context.Context, token string) (map[item.Kind][]item.Item, error)
}

// Session owns the three collection stores.
type Session struct {
	Cart     *collection.Store
	Wishlist *collection.Store
	Viewed   *collection.Store

	logger  *slog.Logger
	fetcher Fetcher

	mu       sync.Mutex
	identity *collection.Identity
	started  bool

	runWG  sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a session whose stores share kv, remote and opts.
func New(kv collection.KV, remote collection.Remote, logger *slog.Logger, opts ...collection.Option) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]collection.Option{collection.WithLogger(logger)}, opts...)

	stores := make(map[item.Kind]*collection.Store, len(item.Kinds))
	for _, kind := range item.Kinds {
		s, err := collection.New(kind, kv, remote, opts...)
		if err != nil {
			return nil, err
		}
		stores[kind] = s
	}
	fetcher, _ := remote.(Fetcher)
	return &Session{
		Cart:     stores[item.Cart],
		Wishlist: stores[item.Wishlist],
		Viewed:   stores[item.RecentlyViewed],
		logger:   logger,
		fetcher:  fetcher,
	}, nil
}

// Stores returns the stores in item.Kinds order.
func (s *Session) Stores() []*collection.Store {
	return []*collection.Store{s.Cart, s.Wishlist, s.Viewed}
}

// Store returns the store for kind.
func (s *Session) Store(kind item.Kind) (*collection.Store, error) {
	switch kind {
	case item.Cart:
		return s.Cart, nil
	case item.Wishlist:
		return s.Wishlist, nil
	case item.RecentlyViewed:
		return s.Viewed, nil
	}
	return nil, fmt.Errorf("%w: %q", item.ErrUnknownKind, kind)
}

// Start runs every store's write queue until ctx is cancelled or Close is
// called. Calling Start twice has no effect.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, st := range s.Stores() {
		s.runWG.Add(1)
		go func(st *collection.Store) {
			defer s.runWG.Done()
			if err := st.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("write queue stopped", "collection", st.Kind().String(), "error", err)
			}
		}(st)
	}
}

// Close stops every store and waits for the write loops to exit.
func (s *Session) Close() {
	for _, st := range s.Stores() {
		st.Close()
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.runWG.Wait()
}

// Identity returns the current actor, nil for a guest.
func (s *Session) Identity() *collection.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// SetIdentity switches the actor and reloads every store. Setting the
// current user again does nothing and returns nil results.
func (s *Session) SetIdentity(ctx context.Context, id *collection.Identity) map[item.Kind]collection.LoadResult {
	if id != nil && id.UserID == "" {
		id = nil
	}
	s.mu.Lock()
	same := sameUser(s.identity, id) && s.Cart.Loaded()
	if id == nil {
		s.identity = nil
	} else {
		cp := *id
		s.identity = &cp
	}
	s.mu.Unlock()
	if same {
		return nil
	}
	s.logger.Debug("identity changed", "user", userOf(id))
	return s.loadAll(ctx, id)
}

// Reload re-runs load-and-merge for the current actor.
func (s *Session) Reload(ctx context.Context) map[item.Kind]collection.LoadResult {
	return s.loadAll(ctx, s.Identity())
}

// Flush fires pending debounced writes and waits for every write queue.
func (s *Session) Flush(ctx context.Context) error {
	var errs []error
	for _, st := range s.Stores() {
		if err := st.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drain waits for every write queue without firing debounced writes.
func (s *Session) Drain(ctx context.Context) error {
	var errs []error
	for _, st := range s.Stores() {
		if err := st.Drain(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pickup returns up to n recently viewed items that are not in the cart,
// most recent first. n <= 0 means no limit.
func (s *Session) Pickup(n int) []item.Item {
	var out []item.Item
	for _, it := range s.Viewed.Items() {
		if s.Cart.Contains(it.ID) {
			continue
		}
		out = append(out, it)
	}
	return item.Truncate(item.Clone(out), n)
}

func (s *Session) loadAll(ctx context.Context, id *collection.Identity) map[item.Kind]collection.LoadResult {
	stores := s.Stores()
	shared := s.sharedFetch(ctx, id)
	results := make([]collection.LoadResult, len(stores))

	var wg sync.WaitGroup
	for i, st := range stores {
		wg.Add(1)
		go func(i int, st *collection.Store) {
			defer wg.Done()
			var fetch collection.FetchFunc
			if shared != nil {
				fetch = shared.forKind(st.Kind())
			}
			results[i] = st.LoadWith(ctx, id, fetch)
		}(i, st)
	}
	wg.Wait()

	out := make(map[item.Kind]collection.LoadResult, len(stores))
	for i, st := range stores {
		out[st.Kind()] = results[i]
	}
	return out
}

// sharedFetch prepares one combined remote fetch for an authenticated
// load. It returns nil for a guest or when the remote cannot fetch every
// collection at once; each store then fetches on its own. Writes still
// pending for the state being reloaded are sent first so the fetch
// reflects them.
func (s *Session) sharedFetch(ctx context.Context, id *collection.Identity) *combinedFetch {
	if s.fetcher == nil || id == nil {
		return nil
	}
	for _, st := range s.Stores() {
		if st.Key() != item.Key(st.Kind(), id.UserID) {
			continue
		}
		if err := st.Flush(ctx); err != nil {
			s.logger.Debug("flush before reload", "key", st.Key(), "error", err)
		}
	}
	return &combinedFetch{fetcher: s.fetcher, token: id.Token}
}

// combinedFetch runs FetchCollections once, on the first store that asks,
// and serves every store its slice.
type combinedFetch struct {
	fetcher Fetcher
	token   string

	once sync.Once
	all  map[item.Kind][]item.Item
	err  error
}

func (f *combinedFetch) forKind(kind item.Kind) collection.FetchFunc {
	return func(ctx context.Context) ([]item.Item, error) {
		f.once.Do(func() {
			f.all, f.err = f.fetcher.FetchCollections(ctx, f.token)
		})
		if f.err != nil {
			return nil, f.err
		}
		return item.Clone(f.all[kind]), nil
	}
}

func sameUser(a, b *collection.Identity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UserID == b.UserID
}

func userOf(id *collection.Identity) string {
	if id == nil {
		return item.GuestScope
	}
	return id.UserID
}
