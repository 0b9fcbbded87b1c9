// Package devserver is an in-memory implementation of the remote collection
// service. It backs the devserver command and end-to-end tests.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/remote"
)

// Config tunes the server.
type Config struct {
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type userKey struct{}

// Server holds every user's collections in memory.
//
// All methods are safe for concurrent use.
type Server struct {
	cfg      Config
	router   chi.Router
	registry *prometheus.Registry
	requests *prometheus.CounterVec

	mu       sync.Mutex
	tokens   map[string]string
	data     map[string]map[item.Kind][]remote.WireItem
	prices   map[string]float64
	calls    map[string]int
	failCode int
	failLeft int
}

// New creates an empty server.
func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartsync",
			Subsystem: "devserver",
			Name:      "requests_total",
			Help:      "Requests served by route and status code.",
		}, []string{"route", "status"}),
		tokens: map[string]string{},
		data:   map[string]map[item.Kind][]remote.WireItem{},
		prices: map[string]float64{},
		calls:  map[string]int{},
	}
	s.registry.MustRegister(s.requests)
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.injectFailures)
		r.Post(remote.PricesPath, s.handlePrices)
		r.Route("/api/user", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/sync", s.handleSync)
			r.Put("/{collection}", s.handleReplace)
			r.Post("/{collection}", s.handleAppend)
			r.Delete("/{collection}/{id}", s.handleDelete)
		})
	})
	return r
}

// AddUser registers a bearer token for userID.
func (s *Server) AddUser(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = userID
}

// Seed replaces a user's collection.
func (s *Server) Seed(userID string, kind item.Kind, items ...remote.WireItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionLocked(userID)[kind] = append([]remote.WireItem{}, items...)
}

// Items returns a copy of a user's collection.
func (s *Server) Items(userID string, kind item.Kind) []remote.WireItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.WireItem{}, s.data[userID][kind]...)
}

// SetPrice sets the catalog price returned by the price refresh endpoint.
func (s *Server) SetPrice(id string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[id] = price
}

// Fail makes the next n API requests answer with status. A negative n
// fails every request until Fail(0, 0) is called.
func (s *Server) Fail(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCode = status
	s.failLeft = n
	if n == 0 {
		s.failCode = 0
	}
}

// Calls returns how often each operation was served, keyed like
// "replace cart" or "sync".
func (s *Server) Calls() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.calls))
	for k, v := range s.calls {
		out[k] = v
	}
	return out
}

// ResetCalls clears the call counters.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[string]int{}
}

func (s *Server) collectionLocked(userID string) map[item.Kind][]remote.WireItem {
	c, ok := s.data[userID]
	if !ok {
		c = map[item.Kind][]remote.WireItem{}
		s.data[userID] = c
	}
	return c
}

func (s *Server) countLocked(op string, kind item.Kind) {
	if kind != "" {
		op += " " + string(kind)
	}
	s.calls[op]++
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.cfg.Logger.Debug("devserver request",
			"method", r.Method, "path", r.URL.Path, "status", status,
			"correlation_id", correlationID(r))
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		code := s.failCode
		if code != 0 {
			if s.failLeft > 0 {
				s.failLeft--
				if s.failLeft == 0 {
					s.failCode = 0
				}
			}
		}
		s.mu.Unlock()
		if code != 0 {
			writeError(w, code, "injected", "injected failure", correlationID(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		userID, known := s.tokens[strings.TrimSpace(token)]
		s.mu.Unlock()
		if !ok || !known {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or unknown bearer token", correlationID(r))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userKey{}).(string)

	s.mu.Lock()
	s.countLocked("sync", "")
	c := s.data[userID]
	snap := remote.Snapshot{
		Cart:           append([]remote.WireItem{}, c[item.Cart]...),
		Wishlist:       append([]remote.WireItem{}, c[item.Wishlist]...),
		RecentlyViewed: append([]remote.WireItem{}, c[item.RecentlyViewed]...),
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	kind, ok := collectionParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Items []remote.WireItem `json:"items"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	userID := r.Context().Value(userKey{}).(string)

	s.mu.Lock()
	s.countLocked("replace", kind)
	s.collectionLocked(userID)[kind] = dedupe(body.Items)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// handleAppend adds one item, or replaces the entry with the same id.
func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	kind, ok := collectionParam(w, r)
	if !ok {
		return
	}
	var in remote.WireItem
	if !s.decodeJSONBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.ID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "item id is required", correlationID(r))
		return
	}
	userID := r.Context().Value(userKey{}).(string)

	s.mu.Lock()
	s.countLocked("append", kind)
	c := s.collectionLocked(userID)
	list := c[kind]
	replaced := false
	for i := range list {
		if list[i].ID == in.ID {
			list[i] = in
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, in)
	}
	c[kind] = list
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, in)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := collectionParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	userID := r.Context().Value(userKey{}).(string)

	s.mu.Lock()
	s.countLocked("delete", kind)
	c := s.collectionLocked(userID)
	list := c[kind]
	out := list[:0:0]
	for _, wi := range list {
		if wi.ID != id {
			out = append(out, wi)
		}
	}
	c[kind] = out
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}

	s.mu.Lock()
	s.countLocked("prices", "")
	out := make(map[string]float64, len(body.IDs))
	for _, id := range body.IDs {
		if p, ok := s.prices[id]; ok {
			out[id] = p
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", correlationID(r))
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body", correlationID(r))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID(r))
		return false
	}
	return true
}

func collectionParam(w http.ResponseWriter, r *http.Request) (item.Kind, bool) {
	kind := item.Kind(chi.URLParam(r, "collection"))
	if !kind.Valid() {
		writeError(w, http.StatusNotFound, "unknown_collection", "unknown collection "+string(kind), correlationID(r))
		return "", false
	}
	return kind, true
}

func dedupe(in []remote.WireItem) []remote.WireItem {
	seen := make(map[string]struct{}, len(in))
	out := make([]remote.WireItem, 0, len(in))
	for _, wi := range in {
		if _, ok := seen[wi.ID]; ok || wi.ID == "" {
			continue
		}
		seen[wi.ID] = struct{}{}
		out = append(out, wi)
	}
	return out
}

func correlationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
