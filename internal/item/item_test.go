package item

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "cart_guest", Key(Cart, ""))
	assert.Equal(t, "cart_u1", Key(Cart, "u1"))
	assert.Equal(t, "wishlist_guest", GuestKey(Wishlist))
	assert.Equal(t, "recentlyViewed_u9", Key(RecentlyViewed, "u9"))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"cart", Cart},
		{" Wishlist ", Wishlist},
		{"viewed", RecentlyViewed},
		{"recentlyViewed", RecentlyViewed},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseKind("orders")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestNormalizeID(t *testing.T) {
	// "é" as e + combining acute vs precomposed.
	decomposed := "cafe\u0301"
	precomposed := "caf\u00e9"
	assert.Equal(t, precomposed, NormalizeID("  "+decomposed+" "))
	assert.Equal(t, NormalizeID(decomposed), NormalizeID(precomposed))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Item{ID: "a", Quantity: 1}.Validate(Cart))
	require.NoError(t, Item{ID: "a"}.Validate(Wishlist))

	err := Item{ID: "a"}.Validate(Cart)
	assert.True(t, errors.Is(err, ErrInvalidItem))

	err = Item{}.Validate(Wishlist)
	assert.True(t, errors.Is(err, ErrInvalidItem))
}

func TestDedupe_KeepsFirstOccurrence(t *testing.T) {
	in := []Item{
		{ID: "a", Quantity: 1},
		{ID: "b"},
		{ID: "a", Quantity: 5},
		{ID: ""},
	}
	out := Dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Quantity)
	assert.Equal(t, "b", out[1].ID)
}

func TestCodec_EmptyAndCorrupt(t *testing.T) {
	items, err := Decode("")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)

	items, err = Decode("null")
	require.NoError(t, err)
	assert.NotNil(t, items)

	_, err = Decode("{not json")
	require.Error(t, err)

	s, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)
}

func TestCodec_PreservesOrderAndDisplay(t *testing.T) {
	in := []Item{
		{ID: "b", Quantity: 2, Selected: true, Display: Display{Name: "Bowl", Price: 4.5}},
		{ID: "a", Quantity: 1},
	}
	s, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSanitize(t *testing.T) {
	in := []Item{
		{ID: " x ", Quantity: 2},
		{ID: "y", Quantity: 0},
		{ID: "x", Quantity: 9},
	}
	out := Sanitize(Cart, in)
	require.Len(t, out, 2)
	assert.Equal(t, "x", out[0].ID)
	assert.Equal(t, 2, out[0].Quantity)
	assert.Equal(t, "y", out[1].ID)
	assert.Equal(t, 1, out[1].Quantity, "a missing quantity counts as one")
	assert.Equal(t, " x ", in[0].ID, "input must not be modified")
	assert.Equal(t, 0, in[1].Quantity, "input must not be modified")

	wl := Sanitize(Wishlist, []Item{{ID: "w", Quantity: 3, Selected: true}})
	assert.Equal(t, []Item{{ID: "w"}}, wl)
}

func TestLineTotalAndRounding(t *testing.T) {
	assert.InDelta(t, 7.5, Item{ID: "a", Quantity: 3, Display: Display{Price: 2.5}}.LineTotal(), 1e-9)
	assert.InDelta(t, 2.5, Item{ID: "a", Display: Display{Price: 2.5}}.LineTotal(), 1e-9)
	assert.Equal(t, 0.3, RoundCents(0.1+0.2))
}

func TestTruncate(t *testing.T) {
	in := []Item{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	assert.Len(t, Truncate(in, 2), 2)
	assert.Len(t, Truncate(in, 0), 3)
	assert.Len(t, Truncate(in, 10), 3)
}
