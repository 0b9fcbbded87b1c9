package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/devserver"
	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/localstore"
	"github.com/roach88/cartsync/internal/metrics"
	"github.com/roach88/cartsync/internal/remote"
	"github.com/roach88/cartsync/internal/session"
	"github.com/roach88/cartsync/internal/syncq"
	"github.com/roach88/cartsync/internal/testutil"
)

// Harness holds the moving parts of one scenario run.
type Harness struct {
	scenario *Scenario
	logger   *slog.Logger

	server *devserver.Server
	http   *httptest.Server
	kv     *localstore.Memory
	clock  *testutil.FakeClock
	sess   *session.Session
}

// Option configures a run.
type Option func(*Harness)

// WithLogger routes session and devserver logs to l. Runs are silent by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run executes a scenario and evaluates its assertions.
//
// The returned error reports a harness failure (the session could not be
// built or the local store could not be seeded). Unexpected step outcomes
// and failed assertions are recorded on the Result instead.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.setup(ctx); err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	h.record(result, 1, "start", "", h.sess.SetIdentity(ctx, nil))

	for i, step := range scenario.Steps {
		if err := h.step(ctx, result, i+2, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	for i, a := range scenario.Assertions {
		if err := checkAssertion(result, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

func (h *Harness) setup(ctx context.Context) error {
	sc := h.scenario
	h.server = devserver.New(devserver.Config{Logger: h.logger})
	for user, token := range sc.Server.Users {
		h.server.AddUser(token, user)
	}
	for id, price := range sc.Server.Prices {
		h.server.SetPrice(id, price)
	}
	for user, byKind := range sc.Server.Seed {
		for name, items := range byKind {
			kind, err := item.ParseKind(name)
			if err != nil {
				return err
			}
			h.server.Seed(user, kind, items...)
		}
	}
	h.http = httptest.NewServer(h.server.Handler())

	h.kv = localstore.NewMemory()
	for key, raw := range sc.Local {
		if err := h.kv.Set(ctx, key, raw); err != nil {
			h.http.Close()
			return fmt.Errorf("seed local store: %w", err)
		}
	}

	correlation := testutil.NewSequentialIDGenerator("req")
	client := remote.NewClient(h.http.URL, remote.WithCorrelationIDs(correlation.Generate))

	h.clock = testutil.NewFakeClock()
	sess, err := session.New(h.kv, client, h.logger,
		collection.WithClock(h.clock),
		collection.WithMetrics(metrics.New(prometheus.NewRegistry())),
		collection.WithWriterOptions(
			syncq.WithRetries(0, 0),
			syncq.WithIDGenerator(testutil.NewSequentialIDGenerator("op")),
		),
	)
	if err != nil {
		h.http.Close()
		return err
	}
	h.sess = sess
	h.sess.Start(ctx)
	return nil
}

func (h *Harness) close() {
	h.sess.Close()
	h.http.Close()
}

// step runs one scenario step and waits for the writes it caused.
func (h *Harness) step(ctx context.Context, r *Result, seq int, st Step) error {
	var (
		op    string
		loads map[item.Kind]collection.LoadResult
		err   error
	)

	switch {
	case st.Login != "":
		op = "login " + st.Login
		token := st.Token
		if token == "" {
			token = h.scenario.Server.Users[st.Login]
		}
		loads = h.sess.SetIdentity(ctx, &collection.Identity{UserID: st.Login, Token: token})
		if loads == nil {
			loads = h.sess.Reload(ctx)
		}
	case st.Logout:
		op = "logout"
		loads = h.sess.SetIdentity(ctx, nil)
	case st.Add != nil:
		op, err = h.mutate("add", st.Add, func(s *collection.Store, is *ItemStep) (string, error) {
			return "", s.Add(item.Item{
				ID:       is.ID,
				Quantity: is.Quantity,
				Display:  item.Display{Name: is.Name, Price: is.Price, Category: is.Category},
			})
		})
	case st.Remove != nil:
		op, err = h.mutate("remove", st.Remove, func(s *collection.Store, is *ItemStep) (string, error) {
			s.Remove(is.ID)
			return "", nil
		})
	case st.SetQuantity != nil:
		op, err = h.mutate("set_quantity", st.SetQuantity, func(s *collection.Store, is *ItemStep) (string, error) {
			return " " + strconv.Itoa(is.Quantity), s.SetQuantity(is.ID, is.Quantity)
		})
	case st.Toggle != nil:
		op, err = h.mutate("toggle", st.Toggle, func(s *collection.Store, is *ItemStep) (string, error) {
			return "", s.ToggleSelected(is.ID)
		})
	case st.Advance != "":
		d, perr := time.ParseDuration(st.Advance)
		if perr != nil {
			return perr
		}
		op = "advance " + d.String()
		h.clock.Advance(d)
	case st.Flush:
		op = "flush"
		if ferr := h.sess.Flush(ctx); ferr != nil {
			return ferr
		}
	case st.Reload:
		op = "reload"
		loads = h.sess.Reload(ctx)
	case st.Fail != nil:
		op = fmt.Sprintf("fail %d count=%d", st.Fail.Status, st.Fail.Count)
		h.server.Fail(st.Fail.Status, st.Fail.Count)
	case st.Recover:
		op = "recover"
		h.server.Fail(0, 0)
	default:
		return errors.New("step has no action")
	}

	if err := h.sess.Drain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}

	class := ""
	if err != nil {
		class = errorClass(err)
	}
	h.record(r, seq, op, class, loads)
	h.checkExpectedError(r, seq, op, st, class)
	return nil
}

// mutate resolves the target store and renders the step.
func (h *Harness) mutate(
	verb string,
	is *ItemStep,
	apply func(*collection.Store, *ItemStep) (string, error),
) (string, error) {
	kind, err := item.ParseKind(is.Collection)
	if err != nil {
		return "", err
	}
	store, err := h.sess.Store(kind)
	if err != nil {
		return "", err
	}
	suffix, err := apply(store, is)
	op := verb + " " + kind.String() + " " + is.ID + suffix
	if verb == "add" && is.Quantity != 0 {
		op += " qty=" + strconv.Itoa(is.Quantity)
	}
	return op, err
}

func (h *Harness) record(r *Result, seq int, op, class string, loads map[item.Kind]collection.LoadResult) {
	rec := StepRecord{Seq: seq, Op: op, ErrClass: class}
	for _, kind := range item.Kinds {
		if res, ok := loads[kind]; ok {
			rec.Loads = append(rec.Loads, res)
		}
	}
	r.Steps = append(r.Steps, rec)
}

func (h *Harness) checkExpectedError(r *Result, seq int, op string, st Step, class string) {
	want := ""
	for _, is := range []*ItemStep{st.Add, st.Remove, st.SetQuantity, st.Toggle} {
		if is != nil {
			want = is.ExpectError
		}
	}
	if want == class {
		return
	}
	switch {
	case want == "":
		r.AddError(fmt.Sprintf("step %d (%s): unexpected %s error", seq, op, class))
	case class == "":
		r.AddError(fmt.Sprintf("step %d (%s): expected %s error, got none", seq, op, want))
	default:
		r.AddError(fmt.Sprintf("step %d (%s): expected %s error, got %s", seq, op, want, class))
	}
}

// collect snapshots the final session, server and local store state.
func (h *Harness) collect(ctx context.Context, r *Result) error {
	for _, s := range h.sess.Stores() {
		r.Collections = append(r.Collections, CollectionState{
			Kind:  s.Kind(),
			Key:   s.Key(),
			Items: s.Items(),
		})
	}
	r.Summary = h.sess.Cart.Summary(false)
	r.SelectedSummary = h.sess.Cart.Summary(true)
	r.Pickup = item.IDs(h.sess.Pickup(0))

	for _, user := range h.users() {
		byKind := make(map[item.Kind][]remote.WireItem, len(item.Kinds))
		for _, kind := range item.Kinds {
			byKind[kind] = h.server.Items(user, kind)
		}
		r.Server[user] = byKind
	}

	keys, err := h.kv.Keys(ctx, "")
	if err != nil {
		return fmt.Errorf("list local keys: %w", err)
	}
	r.LocalKeys = keys
	r.Calls = h.server.Calls()
	return nil
}

// users returns every user the scenario registers or seeds, sorted.
func (h *Harness) users() []string {
	seen := map[string]struct{}{}
	for u := range h.scenario.Server.Users {
		seen[u] = struct{}{}
	}
	for u := range h.scenario.Server.Seed {
		seen[u] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, item.ErrInvalidItem):
		return ErrorInvalid
	case errors.Is(err, collection.ErrUnsupported):
		return ErrorUnsupported
	}
	return "error"
}

// describeLoad renders a load result without volatile detail such as
// server URLs in error text.
func describeLoad(res collection.LoadResult) string {
	var b strings.Builder
	b.WriteString(res.Key)
	b.WriteString(": ")
	b.WriteString(res.Source)
	if res.Pushed > 0 {
		fmt.Fprintf(&b, " pushed=%d", res.Pushed)
	}
	if res.Replayed > 0 {
		fmt.Fprintf(&b, " replayed=%d", res.Replayed)
	}
	if res.GuestCleared {
		b.WriteString(" guest_cleared")
	}
	if res.Err != nil {
		b.WriteString(" err")
	}
	return b.String()
}
