package harness

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/remote"
)

// Render formats a run as plain text: the steps with their load results,
// then the final collections, remote copies, local store keys and call
// counts. Equal runs render identically.
func Render(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, st := range r.Steps {
		fmt.Fprintf(&b, "[%d] %s", st.Seq, st.Op)
		if st.ErrClass != "" {
			fmt.Fprintf(&b, " -> %s", st.ErrClass)
		}
		b.WriteString("\n")
		for _, res := range st.Loads {
			fmt.Fprintf(&b, "    %s\n", describeLoad(res))
		}
	}

	b.WriteString("== collections\n")
	for _, c := range r.Collections {
		fmt.Fprintf(&b, "%s: %s\n", c.Key, renderItems(c.Kind, c.Items))
	}

	b.WriteString("== server\n")
	users := make([]string, 0, len(r.Server))
	for u := range r.Server {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		for _, kind := range item.Kinds {
			wire := r.Server[u][kind]
			items := make([]item.Item, len(wire))
			for i, w := range wire {
				items[i] = remote.FromWire(w)
			}
			fmt.Fprintf(&b, "%s %s: %s\n", u, kind, renderItems(kind, items))
		}
	}

	b.WriteString("== local\n")
	for _, k := range r.LocalKeys {
		fmt.Fprintf(&b, "%s\n", k)
	}

	b.WriteString("== calls\n")
	calls := make([]string, 0, len(r.Calls))
	for c := range r.Calls {
		calls = append(calls, c)
	}
	sort.Strings(calls)
	for _, c := range calls {
		fmt.Fprintf(&b, "%s: %d\n", c, r.Calls[c])
	}
	return []byte(b.String())
}

// renderItems lists ids; cart lines add quantity, price and selection.
func renderItems(kind item.Kind, items []item.Item) string {
	if len(items) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(items))
	for i, it := range items {
		if kind != item.Cart {
			parts[i] = it.ID
			continue
		}
		s := fmt.Sprintf("%s x%d @%s", it.ID, it.Quantity, strconv.FormatFloat(it.Display.Price, 'f', -1, 64))
		if it.Selected {
			s += " selected"
		}
		parts[i] = s
	}
	return strings.Join(parts, ", ")
}

// RunWithGolden executes a scenario and compares its rendering against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Render(name, result))
}
