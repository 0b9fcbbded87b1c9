package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/remote"
)

func fixtureResult() *Result {
	r := NewResult()
	r.Collections = []CollectionState{
		{Kind: item.Cart, Key: "cart_alice", Items: []item.Item{
			{ID: "p1", Quantity: 2, Display: item.Display{Price: 10}},
			{ID: "p2", Quantity: 1, Selected: true, Display: item.Display{Price: 5}},
		}},
		{Kind: item.Wishlist, Key: "wishlist_alice", Items: []item.Item{}},
		{Kind: item.RecentlyViewed, Key: "recentlyViewed_alice", Items: []item.Item{{ID: "v1"}}},
	}
	r.Server["alice"] = map[item.Kind][]remote.WireItem{
		item.Cart: {{ID: "p1", Quantity: 2, Price: 10}},
	}
	r.LocalKeys = []string{"cart_alice", "recentlyViewed_alice"}
	r.Calls = map[string]int{"sync": 3, "append cart": 1}
	r.Summary = collection.Summary{Lines: 2, Units: 3, Subtotal: 25, Shipping: 9.99, Tax: 2, Total: 36.99}
	r.SelectedSummary = collection.Summary{Lines: 1, Units: 1, Subtotal: 5, Shipping: 9.99, Tax: 0.4, Total: 15.39}
	r.Pickup = []string{"v1"}
	return r
}

func ptr[T any](v T) *T { return &v }

func TestCheckAssertion(t *testing.T) {
	r := fixtureResult()

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"items match", Assertion{Type: AssertItems, Collection: "cart", IDs: []string{"p1", "p2"}}, ""},
		{"items order", Assertion{Type: AssertItems, Collection: "cart", IDs: []string{"p2", "p1"}}, "cart_alice = [p2, p1]"},
		{"items empty", Assertion{Type: AssertItems, Collection: "wishlist"}, ""},
		{"items alias", Assertion{Type: AssertItems, Collection: "viewed", IDs: []string{"v1"}}, ""},
		{"quantity match", Assertion{Type: AssertItems, Collection: "cart", IDs: []string{"p1", "p2"}, Quantities: map[string]int{"p1": 2}}, ""},
		{"quantity mismatch", Assertion{Type: AssertItems, Collection: "cart", IDs: []string{"p1", "p2"}, Quantities: map[string]int{"p1": 3}}, "quantity 2"},
		{"quantity missing item", Assertion{Type: AssertItems, Collection: "cart", IDs: []string{"p1", "p2"}, Quantities: map[string]int{"p9": 1}}, "item not present"},
		{"server items", Assertion{Type: AssertServerItems, User: "alice", Collection: "cart", IDs: []string{"p1"}}, ""},
		{"server items unknown user", Assertion{Type: AssertServerItems, User: "bob", Collection: "cart", IDs: []string{"p1"}}, "bob cart = [p1]"},
		{"local key present", Assertion{Type: AssertLocalKey, Key: "cart_alice"}, ""},
		{"local key absent", Assertion{Type: AssertLocalKey, Key: "cart_guest", Present: ptr(false)}, ""},
		{"local key missing", Assertion{Type: AssertLocalKey, Key: "wishlist_alice", Present: ptr(true)}, "key wishlist_alice present"},
		{"calls", Assertion{Type: AssertCalls, Call: "sync", Count: 3}, ""},
		{"calls zero", Assertion{Type: AssertCalls, Call: "replace cart", Count: 0}, ""},
		{"calls mismatch", Assertion{Type: AssertCalls, Call: "append cart", Count: 2}, `2 "append cart" calls`},
		{"summary", Assertion{Type: AssertSummary, Subtotal: ptr(25.0), Total: ptr(36.99)}, ""},
		{"summary selected", Assertion{Type: AssertSummary, Selected: true, Total: ptr(15.39)}, ""},
		{"summary mismatch", Assertion{Type: AssertSummary, Shipping: ptr(0.0)}, "shipping 0.00"},
		{"pickup", Assertion{Type: AssertPickup, IDs: []string{"v1"}}, ""},
		{"pickup mismatch", Assertion{Type: AssertPickup}, "pickup = []"},
		{"unknown", Assertion{Type: "bogus"}, "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAssertion(r, tt.a)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertionError(t *testing.T) {
	err := &AssertionError{Type: AssertCalls, Expected: "1", Actual: "2"}
	assert.Equal(t, "calls assertion failed: expected 1, got 2", err.Error())
}

func TestResultAddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
