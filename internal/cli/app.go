package cli

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/config"
	"github.com/roach88/cartsync/internal/item"
	"github.com/roach88/cartsync/internal/localstore"
	"github.com/roach88/cartsync/internal/metrics"
	"github.com/roach88/cartsync/internal/remote"
	"github.com/roach88/cartsync/internal/session"
	"github.com/roach88/cartsync/internal/syncq"
)

// identityKey holds the logged-in identity. "auth" is not a collection
// name, so no collection key can collide with it.
const identityKey = "auth_session"

// app is everything one command invocation needs.
type app struct {
	opts   *RootOptions
	cfg    config.Config
	logger *slog.Logger
	kv     *localstore.Store
	sess   *session.Session
	out    *OutputFormatter
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if opts.Database == "" && opts.APIURL == "" {
		return cfg, nil
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.APIURL != "" {
		cfg.API.BaseURL = opts.APIURL
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, ErrCodeConfig, "invalid flags", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Log, opts.Verbose)
	slog.SetDefault(logger)

	logger.Debug("opening local store", "path", cfg.Store.Path)
	kv, err := localstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeStore, "failed to open local store", err)
	}

	client := remote.NewClient(cfg.API.BaseURL,
		remote.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout.Std()}),
	)
	sess, err := session.New(kv, client, logger,
		collection.WithMetrics(metrics.New(prometheus.NewRegistry())),
		collection.WithDebounce(cfg.Sync.Debounce.Std()),
		collection.WithCap(cfg.Sync.ViewedCap),
		collection.WithWriterOptions(
			syncq.WithRetries(cfg.API.MaxRetries, syncq.DefaultRetryDelay),
			syncq.WithRetryable(remote.IsTransient),
		),
		collection.WithPricing(collection.Pricing{
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			ShippingFee:           cfg.Pricing.ShippingFee,
			TaxRate:               cfg.Pricing.TaxRate,
		}),
	)
	if err != nil {
		kv.Close()
		return nil, WrapExitError(ExitCommandError, ErrCodeGeneric, "failed to create session", err)
	}
	sess.Start(ctx)

	return &app{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		kv:     kv,
		sess:   sess,
	}, nil
}

// close sends pending writes, then releases the session and the store.
func (a *app) close(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.flushTimeout())
	defer cancel()
	if err := a.sess.Flush(flushCtx); err != nil {
		a.logger.Warn("pending writes not sent", "error", err)
	}
	a.sess.Close()
	if err := a.kv.Close(); err != nil {
		a.logger.Warn("closing local store", "error", err)
	}
}

func (a *app) flushTimeout() time.Duration {
	// Each queued op may use its retry, so allow a few timeouts' worth.
	return time.Duration(a.cfg.API.MaxRetries+2) * a.cfg.API.Timeout.Std()
}

// savedIdentity returns the persisted identity, nil for a guest. A corrupt
// entry is treated as logged out.
func (a *app) savedIdentity(ctx context.Context) (*collection.Identity, error) {
	raw, ok, err := a.kv.Get(ctx, identityKey)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeStore, "failed to read identity", err)
	}
	if !ok {
		return nil, nil
	}
	var id collection.Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil || id.UserID == "" {
		a.logger.Warn("ignoring corrupt saved identity", "error", err)
		return nil, nil
	}
	return &id, nil
}

func (a *app) saveIdentity(ctx context.Context, id *collection.Identity) error {
	if id == nil {
		if err := a.kv.Delete(ctx, identityKey); err != nil {
			return WrapExitError(ExitCommandError, ErrCodeStore, "failed to clear identity", err)
		}
		return nil
	}
	data, err := json.Marshal(id)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeGeneric, "failed to encode identity", err)
	}
	if err := a.kv.Set(ctx, identityKey, string(data)); err != nil {
		return WrapExitError(ExitCommandError, ErrCodeStore, "failed to save identity", err)
	}
	return nil
}

// restore loads every collection for the saved identity.
func (a *app) restore(ctx context.Context) (*collection.Identity, map[item.Kind]collection.LoadResult, error) {
	id, err := a.savedIdentity(ctx)
	if err != nil {
		return nil, nil, err
	}
	results := a.sess.SetIdentity(ctx, id)
	if a.out != nil {
		for _, kind := range item.Kinds {
			if res, ok := results[kind]; ok {
				a.out.VerboseLog("%s loaded from %s (%s)", kind, res.Source, res.Key)
			}
		}
	}
	return id, results, nil
}

// withApp opens the app, optionally restores state, runs fn and closes.
func withApp(cmd *cobra.Command, opts *RootOptions, restore bool, fn func(ctx context.Context, a *app) error) error {
	out := newFormatter(cmd, opts)
	ctx := commandContext(cmd)

	a, err := openApp(ctx, cmd, opts)
	if err != nil {
		return out.Fail(err)
	}
	a.out = out
	defer a.close(ctx)

	if restore {
		if _, _, err := a.restore(ctx); err != nil {
			return out.Fail(err)
		}
	}
	if err := fn(ctx, a); err != nil {
		return out.Fail(err)
	}
	return nil
}

// mutationError maps a collection error to an exit error.
func mutationError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, item.ErrInvalidItem):
		return WrapExitError(ExitFailure, ErrCodeInvalidItem, "item rejected", err)
	case errors.Is(err, collection.ErrUnsupported):
		return WrapExitError(ExitFailure, ErrCodeUnsupported, "not supported", err)
	}
	return WrapExitError(ExitFailure, ErrCodeGeneric, "operation failed", err)
}
