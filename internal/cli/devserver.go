package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/config"
	"github.com/roach88/cartsync/internal/devserver"
)

// DevserverOptions holds flags for the devserver command.
type DevserverOptions struct {
	*RootOptions
	Addr   string
	Users  []string
	Prices []string

	// ready is called with the listener address once serving. Tests use it.
	ready func(addr string)
}

// NewDevserverCommand creates the devserver command.
func NewDevserverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DevserverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve an in-memory remote collection service",
		Long: `Serve every remote endpoint from memory for local development.

Users are bearer tokens mapped to user ids. Prices feed the guest cart
price refresh. State is lost on exit.

Example:
  cartsync devserver --addr :8080 --user alice=tok-alice --price p1=19.99`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevserver(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringArrayVar(&opts.Users, "user", nil, "user as id=token (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Prices, "price", nil, "catalog price as id=amount (repeatable)")

	return cmd
}

func runDevserver(cmd *cobra.Command, opts *DevserverOptions) error {
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return out.Fail(err)
	}
	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Log, opts.Verbose)

	srv := devserver.New(devserver.Config{Logger: logger})
	users, err := parsePairs(opts.Users)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, ErrCodeArgs, "invalid --user", err))
	}
	for _, user := range sortedKeys(users) {
		srv.AddUser(users[user], user)
	}
	prices, err := parsePairs(opts.Prices)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, ErrCodeArgs, "invalid --price", err))
	}
	for id, raw := range prices {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p < 0 {
			return out.Fail(NewExitError(ExitCommandError, ErrCodeArgs, fmt.Sprintf("invalid price for %s: %q", id, raw)))
		}
		srv.SetPrice(id, p)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := listen(ctx, opts.Addr)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, ErrCodeGeneric, "failed to listen", err))
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("devserver listening", "addr", ln.Addr().String(), "users", len(users), "prices", len(prices))
	if opts.ready != nil {
		opts.ready(ln.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return out.Fail(WrapExitError(ExitFailure, ErrCodeGeneric, "server failed", err))
		}
	case <-ctx.Done():
		logger.Info("shutting down devserver")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return out.Fail(WrapExitError(ExitFailure, ErrCodeGeneric, "shutdown failed", err))
		}
	}
	return out.Success(map[string]string{"status": "stopped"}, func(w io.Writer) {
		fmt.Fprintln(w, "devserver stopped")
	})
}

func listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}

// parsePairs parses repeated key=value flags.
func parsePairs(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("expected key=value, got %q", kv)
		}
		out[k] = v
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
