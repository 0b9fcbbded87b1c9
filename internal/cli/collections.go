package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/cartsync/internal/collection"
	"github.com/roach88/cartsync/internal/item"
)

// collectionDef describes a collection subcommand.
type collectionDef struct {
	kind    item.Kind
	use     string
	aliases []string
	short   string
}

var (
	cartDef     = collectionDef{kind: item.Cart, use: "cart", short: "Manage the shopping cart"}
	wishlistDef = collectionDef{kind: item.Wishlist, use: "wishlist", aliases: []string{"wish"}, short: "Manage the wishlist"}
	viewedDef   = collectionDef{kind: item.RecentlyViewed, use: "viewed", aliases: []string{"recent"}, short: "Manage the recently viewed list"}
)

// ItemsResult is the output of show, pickup and every mutation.
type ItemsResult struct {
	Collection string      `json:"collection"`
	Key        string      `json:"key"`
	Count      int         `json:"count"`
	Total      float64     `json:"total,omitempty"`
	Items      []item.Item `json:"items"`
}

// displayFlags collect the catalog snapshot stored with an item.
type displayFlags struct {
	name     string
	price    float64
	image    string
	category string
}

func (d *displayFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.name, "name", "", "display name")
	cmd.Flags().Float64Var(&d.price, "price", 0, "unit price")
	cmd.Flags().StringVar(&d.image, "image", "", "image URL")
	cmd.Flags().StringVar(&d.category, "category", "", "catalog category")
}

func (d *displayFlags) display() item.Display {
	return item.Display{Name: d.name, Price: d.price, Image: d.image, Category: d.category}
}

// NewCollectionCommand creates the add/remove/show commands for a wishlist
// or recently viewed list.
func NewCollectionCommand(rootOpts *RootOptions, def collectionDef) *cobra.Command {
	cmd := &cobra.Command{
		Use:     def.use,
		Aliases: def.aliases,
		Short:   def.short,
	}
	cmd.AddCommand(newAddCommand(rootOpts, def))
	cmd.AddCommand(newRemoveCommand(rootOpts, def))
	cmd.AddCommand(newShowCommand(rootOpts, def))
	return cmd
}

func newAddCommand(rootOpts *RootOptions, def collectionDef) *cobra.Command {
	var (
		qty  int
		disp displayFlags
	)
	cmd := &cobra.Command{
		Use:           "add <id>",
		Short:         fmt.Sprintf("Add an item to the %s", def.use),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app) error {
				st, err := a.sess.Store(def.kind)
				if err != nil {
					return err
				}
				it := item.Item{ID: args[0], Quantity: qty, Display: disp.display()}
				if err := st.Add(it); err != nil {
					return mutationError(err)
				}
				return showItems(a.out, st)
			})
		},
	}
	if def.kind == item.Cart {
		cmd.Flags().IntVarP(&qty, "qty", "q", 1, "quantity to add")
	}
	disp.register(cmd)
	return cmd
}

func newRemoveCommand(rootOpts *RootOptions, def collectionDef) *cobra.Command {
	return &cobra.Command{
		Use:           "remove <id>",
		Aliases:       []string{"rm"},
		Short:         fmt.Sprintf("Remove an item from the %s", def.use),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app) error {
				st, err := a.sess.Store(def.kind)
				if err != nil {
					return err
				}
				st.Remove(args[0])
				return showItems(a.out, st)
			})
		},
	}
}

func newShowCommand(rootOpts *RootOptions, def collectionDef) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Aliases:       []string{"ls"},
		Short:         fmt.Sprintf("List the %s", def.use),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app) error {
				st, err := a.sess.Store(def.kind)
				if err != nil {
					return err
				}
				return showItems(a.out, st)
			})
		},
	}
}

// NewCartCommand creates the cart command tree.
func NewCartCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := NewCollectionCommand(rootOpts, cartDef)
	cmd.AddCommand(newQuantityCommand(rootOpts))
	cmd.AddCommand(newSelectCommand(rootOpts))
	cmd.AddCommand(newSummaryCommand(rootOpts))
	return cmd
}

func newQuantityCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "qty <id> <quantity>",
		Short: "Set a cart line's quantity",
		Long: `Set a cart line's quantity. Zero or less removes the line.

The new quantity is sent upstream with the debounced full-cart write.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := strconv.Atoi(args[1])
			if err != nil {
				return newFormatter(cmd, rootOpts).Fail(
					WrapExitError(ExitCommandError, ErrCodeArgs, "invalid quantity", err))
			}
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app) error {
				if err := a.sess.Cart.SetQuantity(args[0], q); err != nil {
					return mutationError(err)
				}
				return showItems(a.out, a.sess.Cart)
			})
		},
	}
}

func newSelectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "select <id>",
		Short:         "Toggle whether a cart line is selected for checkout",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app) error {
				if err := a.sess.Cart.ToggleSelected(args[0]); err != nil {
					return mutationError(err)
				}
				return showItems(a.out, a.sess.Cart)
			})
		},
	}
}

func newSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	var selectedOnly bool
	cmd := &cobra.Command{
		Use:           "summary",
		Short:         "Show subtotal, shipping, tax and total",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app) error {
				sum := a.sess.Cart.Summary(selectedOnly)
				return a.out.Success(sum, func(w io.Writer) {
					writeSummary(w, sum)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&selectedOnly, "selected", false, "only count selected lines")
	return cmd
}

// NewPickupCommand creates the pickup command.
func NewPickupCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:           "pickup",
		Short:         "Show recently viewed items that are not in the cart",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, true, func(ctx context.Context, a *app) error {
				items := a.sess.Pickup(limit)
				res := ItemsResult{Collection: "pickup", Count: len(items), Items: items}
				return a.out.Success(res, func(w io.Writer) {
					writeItems(w, item.RecentlyViewed, items)
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum items (0 for no limit)")
	return cmd
}

func showItems(out *OutputFormatter, st *collection.Store) error {
	items := st.Items()
	res := ItemsResult{
		Collection: st.Kind().String(),
		Key:        st.Key(),
		Count:      st.Count(),
		Items:      items,
	}
	if st.Kind() == item.Cart {
		res.Total = st.Total()
	}
	return out.Success(res, func(w io.Writer) {
		writeItems(w, st.Kind(), items)
		switch {
		case st.Kind() == item.Cart && len(items) > 0:
			fmt.Fprintf(w, "%d unit(s), %s\n", res.Count, formatMoney(res.Total))
		default:
			fmt.Fprintf(w, "%d item(s)\n", res.Count)
		}
	})
}

func writeItems(w io.Writer, kind item.Kind, items []item.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "(empty)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, it := range items {
		if kind == item.Cart {
			mark := " "
			if it.Selected {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s %s\tx%d\t%s\t%s\n", mark, it.ID, it.Quantity, formatMoney(it.LineTotal()), it.Display.Name)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.ID, formatMoney(it.Display.Price), it.Display.Name)
	}
	tw.Flush()
}

func writeSummary(w io.Writer, s collection.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Lines\t%d\t\n", s.Lines)
	fmt.Fprintf(tw, "Units\t%d\t\n", s.Units)
	fmt.Fprintf(tw, "Subtotal\t%s\t\n", formatMoney(s.Subtotal))
	fmt.Fprintf(tw, "Shipping\t%s\t\n", formatMoney(s.Shipping))
	fmt.Fprintf(tw, "Tax\t%s\t\n", formatMoney(s.Tax))
	fmt.Fprintf(tw, "Total\t%s\t\n", formatMoney(s.Total))
	tw.Flush()
}
