// Package remote is the HTTP client for the remote collection service.
//
// The service is authenticated per request with a bearer token. The engine
// only needs fetch-all, replace-all, append-one, delete-one and a guest
// price refresh.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/cartsync/internal/item"
)

// Endpoint paths.
const (
	SyncPath   = "/api/user/sync"
	PricesPath = "/api/products/prices"
)

// CollectionPath returns the endpoint for one collection.
func CollectionPath(kind item.Kind) string {
	return "/api/user/" + url.PathEscape(string(kind))
}

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsTransient reports whether err is worth retrying later: a transport
// error, a 429 or a 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// ErrMissingToken is returned for authenticated calls made without a token.
var ErrMissingToken = errors.New("remote: missing bearer token")

// Snapshot is the combined sync response.
type Snapshot struct {
	Cart           []WireItem `json:"cart"`
	Wishlist       []WireItem `json:"wishlist"`
	RecentlyViewed []WireItem `json:"recentlyViewed,omitempty"`
}

// Items returns the list for kind.
func (s Snapshot) Items(kind item.Kind) []WireItem {
	switch kind {
	case item.Cart:
		return s.Cart
	case item.Wishlist:
		return s.Wishlist
	case item.RecentlyViewed:
		return s.RecentlyViewed
	}
	return nil
}

// Client talks to the remote collection service. Each call is a single
// HTTP attempt; retrying failed writes is the write queue's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
	newID      func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithCorrelationIDs sets the X-Correlation-Id source.
func WithCorrelationIDs(gen func() string) Option {
	return func(c *Client) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Sync fetches every collection for the token's user in one call.
func (c *Client) Sync(ctx context.Context, token string) (Snapshot, error) {
	var out Snapshot
	if token == "" {
		return out, ErrMissingToken
	}
	err := c.doJSON(ctx, http.MethodGet, SyncPath, token, nil, &out)
	return out, err
}

// FetchAll returns the remote list for one collection.
func (c *Client) FetchAll(ctx context.Context, token string, kind item.Kind) ([]item.Item, error) {
	snap, err := c.Sync(ctx, token)
	if err != nil {
		return nil, err
	}
	return fromWire(snap.Items(kind)), nil
}

// FetchCollections returns every remote collection from one sync call,
// keyed by kind. Collections the response omits are empty.
func (c *Client) FetchCollections(ctx context.Context, token string) (map[item.Kind][]item.Item, error) {
	snap, err := c.Sync(ctx, token)
	if err != nil {
		return nil, err
	}
	out := make(map[item.Kind][]item.Item, len(item.Kinds))
	for _, kind := range item.Kinds {
		out[kind] = fromWire(snap.Items(kind))
	}
	return out, nil
}

// ReplaceAll overwrites one remote collection.
func (c *Client) ReplaceAll(ctx context.Context, token string, kind item.Kind, items []item.Item) error {
	if token == "" {
		return ErrMissingToken
	}
	body := struct {
		Items []WireItem `json:"items"`
	}{Items: toWire(items)}
	return c.doJSON(ctx, http.MethodPut, CollectionPath(kind), token, body, nil)
}

// AppendOne adds or updates one item in a remote collection.
func (c *Client) AppendOne(ctx context.Context, token string, kind item.Kind, it item.Item) error {
	if token == "" {
		return ErrMissingToken
	}
	return c.doJSON(ctx, http.MethodPost, CollectionPath(kind), token, ToWire(it), nil)
}

// DeleteOne removes one item from a remote collection.
func (c *Client) DeleteOne(ctx context.Context, token string, kind item.Kind, id string) error {
	if token == "" {
		return ErrMissingToken
	}
	return c.doJSON(ctx, http.MethodDelete, CollectionPath(kind)+"/"+url.PathEscape(id), token, nil, nil)
}

// RefreshPrices returns current catalog prices for ids. Ids the catalog
// does not know are absent from the result. No token is required.
func (c *Client) RefreshPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	out := map[string]float64{}
	if len(ids) == 0 {
		return out, nil
	}
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	if err := c.doJSON(ctx, http.MethodPost, PricesPath, "", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(
	ctx context.Context,
	method, requestPath, token string,
	body any,
	out any,
) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Correlation-Id", c.newID())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, requestPath, err)
	}
	return nil
}
