package merge

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/item"
)

func ids(items []item.Item) []string {
	return item.IDs(items)
}

func TestMerge_EmptyGuestReturnsServer(t *testing.T) {
	server := []item.Item{{ID: "a"}, {ID: "b"}}

	got := Merge(server, nil, 0)

	assert.Equal(t, server, got.Merged)
	assert.Empty(t, got.Push)
}

func TestMerge_EmptyServerAbsorbsGuest(t *testing.T) {
	guest := []item.Item{{ID: "x"}, {ID: "y"}}

	got := Merge(nil, guest, 0)

	assert.Equal(t, guest, got.Merged)
	assert.Equal(t, guest, got.Push)
}

func TestMerge_GuestPrependedServerKept(t *testing.T) {
	server := []item.Item{{ID: "Y"}}
	guest := []item.Item{{ID: "X"}}

	got := Merge(server, guest, 0)

	assert.Equal(t, []string{"X", "Y"}, ids(got.Merged))
	assert.Equal(t, []string{"X"}, ids(got.Push))
}

func TestMerge_ServerWinsOnSharedID(t *testing.T) {
	server := []item.Item{{ID: "p1", Quantity: 1, Display: item.Display{Price: 10}}}
	guest := []item.Item{{ID: "p1", Quantity: 2, Display: item.Display{Price: 8}}}

	got := Merge(server, guest, 0)

	require.Len(t, got.Merged, 1)
	assert.Equal(t, 1, got.Merged[0].Quantity)
	assert.Equal(t, 10.0, got.Merged[0].Display.Price)
	assert.Empty(t, got.Push)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	server := []item.Item{{ID: "a"}, {ID: "b"}}
	guest := []item.Item{{ID: "c"}, {ID: "a"}}
	serverCopy := item.Clone(server)
	guestCopy := item.Clone(guest)

	got := Merge(server, guest, 0)
	got.Merged[0].ID = "mutated"

	assert.Equal(t, serverCopy, server)
	assert.Equal(t, guestCopy, guest)
}

func TestMerge_LimitAppliesToMergedList(t *testing.T) {
	var server, guest []item.Item
	for i := 0; i < 8; i++ {
		server = append(server, item.Item{ID: fmt.Sprintf("s%d", i)})
	}
	for i := 0; i < 4; i++ {
		guest = append(guest, item.Item{ID: fmt.Sprintf("g%d", i)})
	}

	got := Merge(server, guest, item.ViewedCap)

	require.Len(t, got.Merged, item.ViewedCap)
	assert.Equal(t, "g0", got.Merged[0].ID)
	assert.Equal(t, "s5", got.Merged[9].ID)
	assert.Len(t, got.Push, 4)
}

func TestMerge_LimitAppliesToPush(t *testing.T) {
	var guest []item.Item
	for i := 0; i < 12; i++ {
		guest = append(guest, item.Item{ID: fmt.Sprintf("g%d", i)})
	}
	server := []item.Item{{ID: "s0"}}

	got := Merge(server, guest, item.ViewedCap)

	require.Len(t, got.Merged, item.ViewedCap)
	assert.Equal(t, ids(got.Merged), ids(got.Push), "only guest items that survive the limit are pushed")
	assert.NotContains(t, ids(got.Merged), "s0")
}

// For random lists: every server item appears exactly once, every guest
// item absent from the server appears exactly once, and shared ids always
// carry the server copy.
func TestMerge_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		server := randomItems(rng, "srv")
		guest := randomItems(rng, "gst")

		got := Merge(server, guest, 0)

		counts := map[string]int{}
		byID := map[string]item.Item{}
		for _, it := range got.Merged {
			counts[it.ID]++
			byID[it.ID] = it
		}

		serverIDs := map[string]struct{}{}
		for _, s := range server {
			serverIDs[s.ID] = struct{}{}
			require.Equal(t, 1, counts[s.ID], "server item %s", s.ID)
			require.Equal(t, s, byID[s.ID], "server copy must win for %s", s.ID)
		}
		for _, g := range guest {
			if _, ok := serverIDs[g.ID]; ok {
				continue
			}
			require.Equal(t, 1, counts[g.ID], "guest item %s", g.ID)
		}
		require.Len(t, got.Merged, len(counts))
	}
}

// randomItems draws unique ids from a small shared pool so server and guest
// lists overlap often.
func randomItems(rng *rand.Rand, origin string) []item.Item {
	n := rng.Intn(6)
	seen := map[int]bool{}
	var out []item.Item
	for len(out) < n {
		k := rng.Intn(8)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item.Item{
			ID:       fmt.Sprintf("p%d", k),
			Quantity: rng.Intn(3) + 1,
			Display:  item.Display{Name: origin},
		})
	}
	return out
}
