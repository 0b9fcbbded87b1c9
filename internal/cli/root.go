// Package cli implements the cartsync command tree.
//
// Every collection command opens the local store, restores the persisted
// identity, runs one operation against the session and flushes pending
// remote writes before exiting. The CLI is the identity source: login and
// logout are the only identity transitions.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath string
	Database   string
	APIURL     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cartsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cartsync",
		Short: "cartsync - cart, wishlist and recently viewed sync",
		Long: `Keep a shopping cart, wishlist and recently viewed list in step between
a local store and a remote collection service.

Guest activity accumulates locally and is merged into the account on login.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default $CARTSYNC_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "local store path (overrides store.path)")
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", "", "remote service URL (overrides api.base_url)")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewCartCommand(opts))
	cmd.AddCommand(NewCollectionCommand(opts, wishlistDef))
	cmd.AddCommand(NewCollectionCommand(opts, viewedDef))
	cmd.AddCommand(NewPickupCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewKeysCommand(opts))
	cmd.AddCommand(NewDevserverCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
