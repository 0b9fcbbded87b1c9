package collection

import (
	"context"
	"log/slog"

	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/merge"
	"github.com/roach88/cartsync/internal/syncq"
)

// Load sources.
const (
	// SourceRemote means the list came from the remote service.
	SourceRemote = "remote"
	// SourceMerged means guest items were merged but the refetch or a
	// push failed, so the locally merged list is shown.
	SourceMerged = "merged"
	// SourceCache means the fetch failed and the authenticated local copy
	// is shown.
	SourceCache = "cache"
	// SourceGuest means a guest list was read from the local store.
	SourceGuest = "guest"
	// SourceStale means identity changed while loading; nothing was applied.
	SourceStale = "stale"
)

// LoadResult describes a completed Load.
type LoadResult struct {
	Key    string
	Source string
	// Pushed counts guest items sent to the remote service.
	Pushed int
	// GuestCleared reports whether the guest copy was absorbed and deleted.
	GuestCleared bool
	// Replayed counts mutations made while loading that were re-applied.
	Replayed int
	// Err is the remote failure that forced a fallback, if any.
	Err error
}

// FetchFunc returns the remote list for an authenticated load. Sessions
// use it to share one combined fetch between their stores.
type FetchFunc func(ctx context.Context) ([]item.Item, error)

// Load starts a new state for id (nil for a guest) and runs the
// load-and-merge sequence for it.
//
// Until Load returns, the store shows the cached local copy for the new
// identity and mutations are applied to it optimistically. Those mutations
// are replayed onto the loaded list and only then sent upstream. If a newer
// Load starts before this one finishes, this one's result is dropped.
func (s *Store) Load(ctx context.Context, id *Identity) LoadResult {
	return s.LoadWith(ctx, id, nil)
}

// LoadWith is Load with the initial remote fetch done by fetch. A nil
// fetch uses the store's remote. Guests never fetch, and a refetch after
// pushing guest items always goes to the store's remote.
func (s *Store) LoadWith(ctx context.Context, id *Identity, fetch FetchFunc) LoadResult {
	if id != nil && id.UserID == "" {
		id = nil
	}
	var ident *Identity
	userID := ""
	if id != nil {
		cp := *id
		ident = &cp
		userID = id.UserID
	}
	key := item.Key(s.kind, userID)

	// A reload of the same state lets queued writes land before fetching,
	// so the fetch reflects them.
	if s.Key() == key {
		s.debounce.Flush()
		if err := s.writer.Drain(ctx); err != nil {
			s.logger.Debug("drain before reload", "key", key, "error", err)
		}
	}

	cached, _ := s.readLocal(ctx, key)

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	prev := s.st
	next := &state{
		key:      key,
		epoch:    epoch,
		identity: ident,
		items:    item.Clone(cached),
	}
	if prev.key == "" || prev.key == key {
		for _, m := range prev.journal {
			next.items, _ = s.apply(next.items, m)
		}
		next.journal = prev.journal
	}
	s.st = next
	s.mu.Unlock()

	s.debounce.Cancel()
	if n := s.writer.Purge(func(op syncq.Op) bool { return op.Key != key }); n > 0 {
		s.logger.Debug("dropped writes for previous identity", "count", n)
	}

	log := s.logger.With("key", key)
	var (
		items []item.Item
		res   = LoadResult{Key: key}
	)
	if ident == nil {
		items = s.loadGuest(ctx, log, cached)
		res.Source = SourceGuest
	} else {
		items = s.loadAuthenticated(ctx, log, epoch, ident, cached, fetch, &res)
	}

	s.mu.Lock()
	if s.st.epoch != epoch {
		s.mu.Unlock()
		log.Debug("discarded load for previous identity")
		s.metrics.ObserveLoad(string(s.kind), SourceStale)
		return LoadResult{Key: key, Source: SourceStale, Pushed: res.Pushed, GuestCleared: res.GuestCleared}
	}
	st := s.st
	items = item.Truncate(item.Sanitize(s.kind, items), s.cap)
	if s.kind == item.Cart && ident != nil {
		items = keepSelection(items, cached)
	}
	var effects []effect
	for _, m := range st.journal {
		var eff effect
		items, eff = s.apply(items, m)
		effects = append(effects, eff)
	}
	res.Replayed = len(st.journal)
	st.items = items
	st.journal = nil
	st.loaded = true
	s.writeLocal(context.WithoutCancel(ctx), key, items)
	for _, eff := range effects {
		s.dispatchLocked(st, eff)
	}
	s.mu.Unlock()

	s.metrics.ObserveLoad(string(s.kind), res.Source)
	log.Debug("loaded", "source", res.Source, "items", len(items), "pushed", res.Pushed, "replayed", res.Replayed)
	return res
}

func (s *Store) loadGuest(ctx context.Context, log *slog.Logger, local []item.Item) []item.Item {
	items := item.Clone(local)
	if s.kind != item.Cart || len(items) == 0 {
		return items
	}
	prices, err := s.remote.RefreshPrices(ctx, item.IDs(items))
	if err != nil {
		log.Warn("refresh guest cart prices", "error", err)
		return items
	}
	for i := range items {
		if p, ok := prices[items[i].ID]; ok {
			items[i].Display.Price = p
		}
	}
	return items
}

func (s *Store) loadAuthenticated(
	ctx context.Context,
	log *slog.Logger,
	epoch uint64,
	id *Identity,
	cached []item.Item,
	fetch FetchFunc,
	res *LoadResult,
) []item.Item {
	if fetch == nil {
		fetch = func(ctx context.Context) ([]item.Item, error) {
			return s.remote.FetchAll(ctx, id.Token, s.kind)
		}
	}
	server, err := fetch(ctx)
	if err != nil {
		log.Warn("fetch remote collection, using local copy", "error", err)
		res.Source = SourceCache
		res.Err = err
		return item.Clone(cached)
	}
	server = item.Sanitize(s.kind, server)
	res.Source = SourceRemote

	guestKey := item.GuestKey(s.kind)
	guest, hasGuest := s.readLocal(ctx, guestKey)
	if !hasGuest {
		return server
	}

	merged := merge.Merge(server, guest, s.cap)
	if len(merged.Push) > 0 {
		if !s.pushGuest(ctx, log, epoch, id, merged, res) {
			res.Source = SourceMerged
			return merged.Merged
		}
		refetched, err := s.remote.FetchAll(ctx, id.Token, s.kind)
		if err != nil {
			log.Warn("refetch after guest merge, using merged list", "error", err)
			res.Source = SourceMerged
			res.Err = err
		} else {
			merged.Merged = refetched
		}
	}

	if !s.current(epoch) {
		return merged.Merged
	}
	if err := s.kv.Delete(ctx, guestKey); err != nil {
		log.Warn("delete absorbed guest copy", "error", err)
	} else {
		res.GuestCleared = true
	}
	return merged.Merged
}

// pushGuest sends unique guest items upstream. Cart and wishlist append
// them one by one; recently viewed replaces the remote list with the merged
// one, which keeps its most-recent-first order. It reports whether every
// push succeeded.
func (s *Store) pushGuest(
	ctx context.Context,
	log *slog.Logger,
	epoch uint64,
	id *Identity,
	merged merge.Result,
	res *LoadResult,
) bool {
	if s.kind == item.RecentlyViewed {
		if !s.current(epoch) {
			return false
		}
		if err := s.remote.ReplaceAll(ctx, id.Token, s.kind, merged.Merged); err != nil {
			log.Warn("push merged guest list", "error", err)
			res.Err = err
			return false
		}
		res.Pushed = len(merged.Push)
		return true
	}

	for _, it := range merged.Push {
		if !s.current(epoch) {
			return false
		}
		if err := s.remote.AppendOne(ctx, id.Token, s.kind, it); err != nil {
			log.Warn("push guest item", "item", it.ID, "error", err)
			res.Err = err
			return false
		}
		res.Pushed++
	}
	return true
}

// keepSelection carries local selection flags over to a freshly loaded
// cart. Selection is client state the remote service does not store.
func keepSelection(items, previous []item.Item) []item.Item {
	selected := make(map[string]bool, len(previous))
	for _, it := range previous {
		if it.Selected {
			selected[it.ID] = true
		}
	}
	if len(selected) == 0 {
		return items
	}
	out := item.Clone(items)
	for i := range out {
		out[i].Selected = selected[out[i].ID]
	}
	return out
}
