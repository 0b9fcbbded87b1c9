package item

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidItem is returned for items that cannot be stored.
	ErrInvalidItem = errors.New("item: invalid")
	// ErrUnknownKind is returned for unrecognized collection names.
	ErrUnknownKind = errors.New("item: unknown collection")
)

// Display is the denormalized catalog snapshot carried on an item.
type Display struct {
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Image    string  `json:"image,omitempty"`
	Category string  `json:"category,omitempty"`
}

// Item is one member of a collection.
//
// Quantity and Selected are meaningful for Cart only. Selected is client
// state and is never sent to the remote service.
type Item struct {
	ID       string  `json:"id"`
	Quantity int     `json:"quantity,omitempty"`
	Selected bool    `json:"selected,omitempty"`
	Display  Display `json:"display"`
}

// NormalizeID trims and NFC-normalizes a catalog id.
func NormalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// Validate checks the core fields for a member of kind.
func (it Item) Validate(kind Kind) error {
	if it.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if kind == Cart && it.Quantity <= 0 {
		return fmt.Errorf("%w: %s: quantity must be positive, got %d", ErrInvalidItem, it.ID, it.Quantity)
	}
	return nil
}

// LineTotal is price times quantity (quantity 1 outside the cart).
func (it Item) LineTotal() float64 {
	q := it.Quantity
	if q <= 0 {
		q = 1
	}
	return it.Display.Price * float64(q)
}

// Clone returns a copy of items that shares no backing array with the input.
// A nil input yields an empty, non-nil slice.
func Clone(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// IndexOf returns the position of id in items, or -1.
func IndexOf(items []Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// IDs returns the ids of items in order.
func IDs(items []Item) []string {
	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}
	return ids
}

// Dedupe drops later occurrences of an id and items with an empty id.
func Dedupe(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Truncate limits items to n entries. n <= 0 means no limit.
func Truncate(items []Item, n int) []Item {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}

// RoundCents rounds an amount to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
