package collection

import (
	"context"
	"fmt"

	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/syncq"
)

type mutationKind int

const (
	mutAdd mutationKind = iota + 1
	mutRemove
	mutSetQuantity
	mutToggleSelected
)

// mutation is one caller-issued change, kept so it can be replayed onto a
// list that finished loading after the change was made.
type mutation struct {
	kind mutationKind
	item item.Item
	id   string
	qty  int
}

// effect is what a mutation asks of the remote side.
type effect struct {
	changed  bool
	append   *item.Item
	deleteID string
	debounce bool
}

// Add inserts it, or merges it into the existing entry with the same id.
//
// In the cart an existing line's quantity grows by it.Quantity (1 when
// unset). The wishlist ignores ids it already holds. Recently viewed moves
// the item to the front and drops the oldest entry past the cap.
func (s *Store) Add(it item.Item) error {
	it.ID = item.NormalizeID(it.ID)
	if it.ID == "" {
		return fmt.Errorf("%w: empty id", item.ErrInvalidItem)
	}
	if it.Quantity < 0 {
		return fmt.Errorf("%w: %s: negative quantity %d", item.ErrInvalidItem, it.ID, it.Quantity)
	}
	s.mutate(mutation{kind: mutAdd, item: it})
	return nil
}

// Remove drops id. Removing an absent id does nothing.
func (s *Store) Remove(id string) {
	s.mutate(mutation{kind: mutRemove, id: item.NormalizeID(id)})
}

// SetQuantity sets a cart line's quantity. A quantity of zero or less
// removes the line. The remote copy is updated by the debounced flush.
func (s *Store) SetQuantity(id string, quantity int) error {
	if s.kind != item.Cart {
		return fmt.Errorf("%w: set quantity on %s", ErrUnsupported, s.kind)
	}
	s.mutate(mutation{kind: mutSetQuantity, id: item.NormalizeID(id), qty: quantity})
	return nil
}

// ToggleSelected flips a cart line's selection. Selection is kept in the
// local store only.
func (s *Store) ToggleSelected(id string) error {
	if s.kind != item.Cart {
		return fmt.Errorf("%w: toggle selection on %s", ErrUnsupported, s.kind)
	}
	s.mutate(mutation{kind: mutToggleSelected, id: item.NormalizeID(id)})
	return nil
}

// mutate applies m to memory and the local copy in one critical section.
// Before loading completes the mutation is journaled and nothing is sent.
func (s *Store) mutate(m mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	items, eff := s.apply(st.items, m)
	if !eff.changed {
		return
	}
	st.items = items
	s.writeLocal(context.Background(), st.key, items)

	if !st.loaded {
		st.journal = append(st.journal, m)
		return
	}
	s.dispatchLocked(st, eff)
}

// dispatchLocked turns an effect into remote writes for st. Guests have no
// remote copy. s.mu must be held.
func (s *Store) dispatchLocked(st *state, eff effect) {
	if st.identity == nil || !eff.changed {
		return
	}
	base := syncq.Op{
		Collection: s.kind,
		Key:        st.key,
		Epoch:      st.epoch,
		Token:      st.identity.Token,
	}
	if eff.append != nil {
		op := base
		op.Kind = syncq.OpAppend
		op.Item = *eff.append
		s.writer.Enqueue(op)
	}
	if eff.deleteID != "" {
		op := base
		op.Kind = syncq.OpDelete
		op.ItemID = eff.deleteID
		s.writer.Enqueue(op)
	}
	if eff.debounce {
		s.debounce.Trigger()
	}
}

// apply computes the list after m. It never modifies items.
func (s *Store) apply(items []item.Item, m mutation) ([]item.Item, effect) {
	switch m.kind {
	case mutAdd:
		return s.applyAdd(items, m.item)
	case mutRemove:
		return s.applyRemove(items, m.id)
	case mutSetQuantity:
		if m.qty <= 0 {
			return s.applyRemove(items, m.id)
		}
		idx := item.IndexOf(items, m.id)
		if idx < 0 || items[idx].Quantity == m.qty {
			return items, effect{}
		}
		out := item.Clone(items)
		out[idx].Quantity = m.qty
		return out, effect{changed: true, debounce: true}
	case mutToggleSelected:
		idx := item.IndexOf(items, m.id)
		if idx < 0 {
			return items, effect{}
		}
		out := item.Clone(items)
		out[idx].Selected = !out[idx].Selected
		return out, effect{changed: true}
	}
	return items, effect{}
}

func (s *Store) applyAdd(items []item.Item, it item.Item) ([]item.Item, effect) {
	idx := item.IndexOf(items, it.ID)

	switch s.kind {
	case item.Cart:
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		out := item.Clone(items)
		if idx >= 0 {
			out[idx].Quantity += qty
		} else {
			it.Quantity = qty
			out = append(out, it)
			idx = len(out) - 1
		}
		line := out[idx]
		return out, effect{changed: true, append: &line, debounce: true}

	case item.Wishlist:
		if idx >= 0 {
			return items, effect{}
		}
		it.Quantity = 0
		it.Selected = false
		out := append(item.Clone(items), it)
		return out, effect{changed: true, append: &it}

	default:
		it.Quantity = 0
		it.Selected = false
		out := make([]item.Item, 0, len(items)+1)
		out = append(out, it)
		for _, existing := range items {
			if existing.ID != it.ID {
				out = append(out, existing)
			}
		}
		return item.Truncate(out, s.cap), effect{changed: true, debounce: true}
	}
}

func (s *Store) applyRemove(items []item.Item, id string) ([]item.Item, effect) {
	idx := item.IndexOf(items, id)
	if idx < 0 {
		return items, effect{}
	}
	out := make([]item.Item, 0, len(items)-1)
	out = append(out, items[:idx]...)
	out = append(out, items[idx+1:]...)
	return out, effect{changed: true, deleteID: id, debounce: s.kind == item.Cart}
}
