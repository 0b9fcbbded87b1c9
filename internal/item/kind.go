package item

import (
	"fmt"
	"strings"
)

// Kind names a collection.
type Kind string

const (
	// Cart is the shopping cart. Items carry quantities.
	Cart Kind = "cart"
	// Wishlist is the saved-for-later list.
	Wishlist Kind = "wishlist"
	// RecentlyViewed is the most-recently-viewed list backing pickup items.
	RecentlyViewed Kind = "recentlyViewed"
)

// GuestScope is the identity segment used for unauthenticated actors.
const GuestScope = "guest"

// ViewedCap is the default length limit for RecentlyViewed.
const ViewedCap = 10

// Kinds lists every collection in declaration order.
var Kinds = []Kind{Cart, Wishlist, RecentlyViewed}

// Valid reports whether k is a known collection.
func (k Kind) Valid() bool {
	switch k {
	case Cart, Wishlist, RecentlyViewed:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts a collection name as typed on a command line.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cart":
		return Cart, nil
	case "wishlist", "wish":
		return Wishlist, nil
	case "recentlyviewed", "recently_viewed", "viewed", "recent":
		return RecentlyViewed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Key returns the local store key for kind and actor. An empty userID
// yields the guest key.
func Key(kind Kind, userID string) string {
	if userID == "" {
		return GuestKey(kind)
	}
	return string(kind) + "_" + userID
}

// GuestKey returns the guest accumulation key for kind.
func GuestKey(kind Kind) string {
	return string(kind) + "_" + GuestScope
}
