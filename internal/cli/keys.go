package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// KeyInfo describes one local store entry.
type KeyInfo struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
}

// NewKeysCommand creates the keys command.
func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List local store keys",
		Long: `List the keys held in the local store with their write versions.

Collection keys look like cart_<user> or cart_guest. The signed-in identity
is kept under auth_session.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, false, func(ctx context.Context, a *app) error {
				keys, err := a.kv.Keys(ctx, prefix)
				if err != nil {
					return WrapExitError(ExitCommandError, ErrCodeStore, "failed to list keys", err)
				}
				infos := make([]KeyInfo, 0, len(keys))
				for _, k := range keys {
					v, err := a.kv.Version(ctx, k)
					if err != nil {
						return WrapExitError(ExitCommandError, ErrCodeStore, "failed to read key version", err)
					}
					infos = append(infos, KeyInfo{Key: k, Version: v})
				}
				return a.out.Success(infos, func(w io.Writer) {
					for _, info := range infos {
						fmt.Fprintf(w, "%s\tv%d\n", info.Key, info.Version)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only keys with this prefix")
	return cmd
}
