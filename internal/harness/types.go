package harness

import (
	"fmt"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/remote"
)

// StepRecord is what one step did.
type StepRecord struct {
	Seq int
	// Op is the step rendered as a single line, e.g. "add cart p1 qty=2".
	Op string
	// ErrClass is "invalid", "unsupported" or "error" for a rejected
	// mutation, empty otherwise.
	ErrClass string
	// Loads holds the load results of identity steps in item.Kinds order.
	Loads []collection.LoadResult
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool

	Steps []StepRecord

	// Collections is the final live state by local store key, in
	// item.Kinds order.
	Collections []CollectionState

	// Server maps user id to that user's remote collections.
	Server map[string]map[item.Kind][]remote.WireItem

	// LocalKeys lists the local store keys, sorted.
	LocalKeys []string

	// Calls counts served remote operations.
	Calls map[string]int

	// Summary prices the whole cart; SelectedSummary only selected lines.
	Summary         collection.Summary
	SelectedSummary collection.Summary

	// Pickup holds the pickup suggestion ids.
	Pickup []string

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string
}

// CollectionState is one store's final contents.
type CollectionState struct {
	Kind  item.Kind
	Key   string
	Items []item.Item
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Server: map[string]map[item.Kind][]remote.WireItem{},
		Calls:  map[string]int{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Collection returns the final state of kind.
func (r *Result) Collection(kind item.Kind) (CollectionState, bool) {
	for _, c := range r.Collections {
		if c.Kind == kind {
			return c, true
		}
	}
	return CollectionState{}, false
}

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s assertion failed: expected %s, got %s", e.Type, e.Expected, e.Actual)
}
