package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/remote"
)

// checkAssertion dispatches to the check for a.Type.
func checkAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case AssertItems:
		return assertItems(r, a)
	case AssertServerItems:
		return assertServerItems(r, a)
	case AssertLocalKey:
		return assertLocalKey(r, a)
	case AssertCalls:
		return assertCalls(r, a)
	case AssertSummary:
		return assertSummary(r, a)
	case AssertPickup:
		return assertIDs(AssertPickup, "pickup", a.IDs, r.Pickup)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertItems(r *Result, a Assertion) error {
	kind, err := item.ParseKind(a.Collection)
	if err != nil {
		return err
	}
	c, ok := r.Collection(kind)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: "collection " + kind.String(), Actual: "no such collection"}
	}
	if err := assertIDs(a.Type, c.Key, a.IDs, item.IDs(c.Items)); err != nil {
		return err
	}
	return assertQuantities(a, c.Key, c.Items)
}

func assertServerItems(r *Result, a Assertion) error {
	kind, err := item.ParseKind(a.Collection)
	if err != nil {
		return err
	}
	wire := r.Server[a.User][kind]
	items := make([]item.Item, len(wire))
	for i, w := range wire {
		items[i] = remote.FromWire(w)
	}
	label := a.User + " " + kind.String()
	if err := assertIDs(a.Type, label, a.IDs, item.IDs(items)); err != nil {
		return err
	}
	return assertQuantities(a, label, items)
}

// assertIDs requires exact order. A nil want matches an empty list.
func assertIDs(typ, label string, want, got []string) error {
	if len(want) == 0 && len(got) == 0 {
		return nil
	}
	if slices.Equal(want, got) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%s = [%s]", label, strings.Join(want, ", ")),
		Actual:   fmt.Sprintf("[%s]", strings.Join(got, ", ")),
	}
}

func assertQuantities(a Assertion, label string, items []item.Item) error {
	for id, want := range a.Quantities {
		idx := item.IndexOf(items, id)
		if idx < 0 {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s to hold %s", label, id),
				Actual:   "item not present",
			}
		}
		if got := items[idx].Quantity; got != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %s quantity %d", label, id, want),
				Actual:   fmt.Sprintf("quantity %d", got),
			}
		}
	}
	return nil
}

func assertLocalKey(r *Result, a Assertion) error {
	want := a.Present == nil || *a.Present
	got := slices.Contains(r.LocalKeys, a.Key)
	if want == got {
		return nil
	}
	state := func(present bool) string {
		if present {
			return "present"
		}
		return "absent"
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("key %s %s", a.Key, state(want)),
		Actual:   state(got),
	}
}

func assertCalls(r *Result, a Assertion) error {
	if got := r.Calls[a.Call]; got != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %q calls", a.Count, a.Call),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func assertSummary(r *Result, a Assertion) error {
	sum := r.Summary
	if a.Selected {
		sum = r.SelectedSummary
	}
	checks := []struct {
		name string
		want *float64
		got  float64
	}{
		{"subtotal", a.Subtotal, sum.Subtotal},
		{"shipping", a.Shipping, sum.Shipping},
		{"tax", a.Tax, sum.Tax},
		{"total", a.Total, sum.Total},
	}
	for _, c := range checks {
		if c.want == nil {
			continue
		}
		if math.Abs(*c.want-c.got) > 0.005 {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %.2f", c.name, *c.want),
				Actual:   fmt.Sprintf("%.2f", c.got),
			}
		}
	}
	return nil
}
