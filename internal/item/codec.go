package item

import (
	"encoding/json"
	"fmt"
)

// Encode serializes items for the local store.
func Encode(items []Item) (string, error) {
	if items == nil {
		items = []Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	return string(b), nil
}

// Decode parses a local store value. An empty string decodes to no items.
func Decode(s string) ([]Item, error) {
	if s == "" {
		return []Item{}, nil
	}
	var items []Item
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// Sanitize normalizes ids and drops duplicates. A cart line without a
// positive quantity counts as one; other kinds carry no quantity or
// selection. The result never aliases the input.
func Sanitize(kind Kind, items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		it.ID = NormalizeID(it.ID)
		if kind == Cart && it.Quantity <= 0 {
			it.Quantity = 1
		}
		if kind != Cart {
			it.Quantity = 0
			it.Selected = false
		}
		out = append(out, it)
	}
	return Dedupe(out)
}
