// Package merge reconciles a guest-accumulated collection with the list a
// server returned for the signed-in actor.
package merge

import "github.com/roach88/cartsync/internal/item"

// Result is the outcome of Merge.
type Result struct {
	// Merged is the list to show: unique guest items first, then every
	// server item.
	Merged []item.Item
	// Push holds the guest items the server does not know about yet. It
	// never holds an item the limit cut from Merged.
	Push []item.Item
}

// Merge absorbs guest items whose id is absent from server.
//
// Server copies win outright on shared ids; fields are not reconciled.
// Server items are never dropped except by the limit, which applies only
// when guest items were added (limit <= 0 means no cap). Neither input is
// modified.
func Merge(server, guest []item.Item, limit int) Result {
	known := make(map[string]struct{}, len(server))
	for _, it := range server {
		known[it.ID] = struct{}{}
	}

	var unique []item.Item
	for _, it := range item.Dedupe(guest) {
		if _, ok := known[it.ID]; ok {
			continue
		}
		unique = append(unique, it)
	}

	if len(unique) == 0 {
		return Result{Merged: item.Clone(server), Push: []item.Item{}}
	}

	merged := make([]item.Item, 0, len(unique)+len(server))
	merged = append(merged, unique...)
	merged = append(merged, server...)

	return Result{
		Merged: item.Truncate(merged, limit),
		Push:   item.Truncate(unique, limit),
	}
}
