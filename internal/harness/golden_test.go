package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/item"
)

func TestRender(t *testing.T) {
	r := fixtureResult()
	r.Steps = []StepRecord{
		{Seq: 1, Op: "login alice", Loads: []collection.LoadResult{
			{Key: "cart_alice", Source: collection.SourceRemote, Pushed: 2, GuestCleared: true},
			{Key: "wishlist_alice", Source: collection.SourceCache, Err: errors.New("http://127.0.0.1:1234 down")},
			{Key: "recentlyViewed_alice", Source: collection.SourceStale, Replayed: 1},
		}},
		{Seq: 2, Op: "set_quantity wishlist w1 2", ErrClass: ErrorUnsupported},
	}

	want := `scenario: sample
[1] login alice
    cart_alice: remote pushed=2 guest_cleared
    wishlist_alice: cache err
    recentlyViewed_alice: stale replayed=1
[2] set_quantity wishlist w1 2 -> unsupported
== collections
cart_alice: p1 x2 @10, p2 x1 @5 selected
wishlist_alice: (empty)
recentlyViewed_alice: v1
== server
alice cart: p1 x2 @10
alice wishlist: (empty)
alice recentlyViewed: (empty)
== local
cart_alice
recentlyViewed_alice
== calls
append cart: 1
sync: 3
`
	assert.Equal(t, want, string(Render("sample", r)))
}

func TestRenderItems(t *testing.T) {
	assert.Equal(t, "(empty)", renderItems(item.Cart, nil))
	assert.Equal(t, "a, b", renderItems(item.Wishlist, []item.Item{{ID: "a"}, {ID: "b"}}))
	assert.Equal(t, "p1 x3 @2.25", renderItems(item.Cart, []item.Item{{ID: "p1", Quantity: 3, Display: item.Display{Price: 2.25}}}))
}
