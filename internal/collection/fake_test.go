package collection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/localstore"
	"github.com/roach88/cartsync/internal/syncq"
	"github.com/roach88/cartsync/internal/testutil"
)

var errDown = errors.New("remote down")

// fakeRemote is an in-memory remote service for one user.
type fakeRemote struct {
	mu     sync.Mutex
	lists  map[item.Kind][]item.Item
	prices map[string]float64
	calls  []string

	replaces [][]item.Item

	fetchErr   error
	refetchErr error
	appendErr  error
	pricesErr  error

	fetches int
	// gate, when set, blocks the next FetchAll until closed. started
	// receives once the fetch is waiting.
	gate    chan struct{}
	started chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{lists: map[item.Kind][]item.Item{}, prices: map[string]float64{}}
}

func (r *fakeRemote) seed(kind item.Kind, items ...item.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists[kind] = items
}

func (r *fakeRemote) list(kind item.Kind) []item.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return item.Clone(r.lists[kind])
}

func (r *fakeRemote) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRemote) replaceLog() [][]item.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]item.Item(nil), r.replaces...)
}

// block makes the next FetchAll wait for the returned release func.
func (r *fakeRemote) block() (started <-chan struct{}, release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	r.started = make(chan struct{}, 1)
	gate := r.gate
	return r.started, func() { close(gate) }
}

func (r *fakeRemote) FetchAll(ctx context.Context, token string, kind item.Kind) ([]item.Item, error) {
	r.mu.Lock()
	r.calls = append(r.calls, "fetch "+string(kind))
	r.fetches++
	gate, started := r.gate, r.started
	r.gate = nil
	r.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	if r.fetches > 1 && r.refetchErr != nil {
		return nil, r.refetchErr
	}
	return item.Clone(r.lists[kind]), nil
}

func (r *fakeRemote) ReplaceAll(ctx context.Context, token string, kind item.Kind, items []item.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "replace "+string(kind))
	r.replaces = append(r.replaces, item.Clone(items))
	r.lists[kind] = item.Clone(items)
	return nil
}

func (r *fakeRemote) AppendOne(ctx context.Context, token string, kind item.Kind, it item.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "append "+string(kind)+" "+it.ID)
	if r.appendErr != nil {
		return r.appendErr
	}
	list := r.lists[kind]
	if idx := item.IndexOf(list, it.ID); idx >= 0 {
		list[idx] = it
	} else {
		list = append(list, it)
	}
	r.lists[kind] = list
	return nil
}

func (r *fakeRemote) DeleteOne(ctx context.Context, token string, kind item.Kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "delete "+string(kind)+" "+id)
	list := r.lists[kind]
	if idx := item.IndexOf(list, id); idx >= 0 {
		r.lists[kind] = append(list[:idx:idx], list[idx+1:]...)
	}
	return nil
}

func (r *fakeRemote) RefreshPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "prices")
	if r.pricesErr != nil {
		return nil, r.pricesErr
	}
	out := map[string]float64{}
	for _, id := range ids {
		if p, ok := r.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

var alice = &collection.Identity{UserID: "alice", Token: "tok-alice"}

type fixture struct {
	store  *collection.Store
	remote *fakeRemote
	kv     *localstore.Memory
	clock  *testutil.FakeClock
}

func newFixture(t *testing.T, kind item.Kind, opts ...collection.Option) *fixture {
	t.Helper()
	f := &fixture{
		remote: newFakeRemote(),
		kv:     localstore.NewMemory(),
		clock:  testutil.NewFakeClock(),
	}
	opts = append([]collection.Option{
		collection.WithClock(f.clock),
		collection.WithWriterOptions(syncq.WithRetries(0, 0)),
	}, opts...)
	s, err := collection.New(kind, f.kv, f.remote, opts...)
	require.NoError(t, err)
	f.store = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		s.Close()
		<-done
	})
	return f
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.store.Drain(ctx))
}

func (f *fixture) putLocal(t *testing.T, key string, items ...item.Item) {
	t.Helper()
	raw, err := item.Encode(items)
	require.NoError(t, err)
	require.NoError(t, f.kv.Set(context.Background(), key, raw))
}

func (f *fixture) local(t *testing.T, key string) ([]item.Item, bool) {
	t.Helper()
	raw, ok, err := f.kv.Get(context.Background(), key)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	items, err := item.Decode(raw)
	require.NoError(t, err)
	return items, true
}

func cartLine(id string, qty int, price float64) item.Item {
	return item.Item{ID: id, Quantity: qty, Display: item.Display{Name: "Product " + id, Price: price}}
}

func entry(id string) item.Item {
	return item.Item{ID: id}
}
