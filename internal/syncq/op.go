// Package syncq serializes a collection's remote writes.
//
// Each Collection Store owns one Writer: a FIFO queue drained by exactly one
// goroutine, so at most one remote mutation per collection is in flight and
// writes land in the order they were issued. Queued writes that a later
// write makes redundant are coalesced before they are sent; the debounced
// bulk replace of the cart is the common case.
package syncq

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/cartsync/internal/item"
)

// ErrStale is returned by an Executor when an op was issued for an
// identity that is no longer current. Stale ops are dropped, not retried.
var ErrStale = errors.New("syncq: stale identity")

// OpKind distinguishes remote write kinds.
type OpKind int

const (
	// OpAppend sends one item.
	OpAppend OpKind = iota + 1
	// OpDelete removes one item by id.
	OpDelete
	// OpReplace overwrites the whole remote collection.
	OpReplace
)

func (k OpKind) String() string {
	switch k {
	case OpAppend:
		return "append"
	case OpDelete:
		return "delete"
	case OpReplace:
		return "replace"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Op is one queued remote write, tagged with the identity it was issued for.
type Op struct {
	ID         string
	Kind       OpKind
	Collection item.Kind

	// Key and Epoch identify the collection state that issued the op.
	Key   string
	Epoch uint64
	Token string

	Item   item.Item   // OpAppend
	ItemID string      // OpDelete
	Items  []item.Item // OpReplace
}

// TargetID returns the item id an append or delete addresses.
func (o Op) TargetID() string {
	switch o.Kind {
	case OpAppend:
		return o.Item.ID
	case OpDelete:
		return o.ItemID
	}
	return ""
}

// supersedes reports whether o makes the queued op prev redundant.
func (o Op) supersedes(prev Op) bool {
	if prev.Epoch != o.Epoch || prev.Collection != o.Collection {
		return false
	}
	switch o.Kind {
	case OpReplace:
		// A full replace carries the final state of the collection.
		return true
	case OpAppend:
		return prev.Kind == OpAppend && prev.Item.ID == o.Item.ID
	case OpDelete:
		return prev.Kind == OpAppend && prev.Item.ID == o.ItemID
	}
	return false
}

// IDGenerator issues op ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator issues time-sortable UUIDv7 op ids.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
