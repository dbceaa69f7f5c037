package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/selection"
)

var checkoutComplete bool

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Choose which cart lines go to checkout",
	Long: `Lines are addressed as <product-id>:<variant-id>. The selection lives in
session storage and is pruned whenever a selected line leaves the cart.`,
}

var selectToggleCmd = &cobra.Command{
	Use:   "toggle <line-id>...",
	Short: "Flip selection of one or more lines",
	Args:  cobra.MinimumNArgs(1),
	RunE: withCart(func(_ context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, args []string) error {
		var missing []string
		for _, id := range args {
			key, ok := model.ParseLineID(id)
			if ok {
				_, ok = c.cart.Item(key.ID, key.VariantID)
			}
			if !ok {
				missing = append(missing, id)
				continue
			}
			sel.Toggle(id)
		}
		printSelection(cmd, c, sel)
		if len(missing) > 0 {
			return fmt.Errorf("not in cart: %s", strings.Join(missing, ", "))
		}
		return nil
	}),
}

var selectAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Select every line",
	Args:  cobra.NoArgs,
	RunE: withCart(func(_ context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, _ []string) error {
		sel.SelectAll()
		printSelection(cmd, c, sel)
		return nil
	}),
}

var selectClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deselect every line",
	Args:  cobra.NoArgs,
	RunE: withCart(func(_ context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, _ []string) error {
		sel.Clear()
		printSelection(cmd, c, sel)
		return nil
	}),
}

var selectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cart with the current selection",
	Args:  cobra.NoArgs,
	RunE: withCart(func(_ context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, _ []string) error {
		printSelection(cmd, c, sel)
		return nil
	}),
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Prepare the checkout payload for the selected lines",
	Long: `Write the selected ids, items and total to session storage and print the
payload. With --complete the purchased lines are removed from the cart and the
session entries are discarded.`,
	Args: cobra.NoArgs,
	RunE: runCheckout,
}

func runCheckout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	sel, err := c.overlay(ctx)
	if err != nil {
		return err
	}
	defer sel.Close()

	co, err := sel.PrepareCheckout(ctx)
	if err != nil {
		return err
	}
	if co.Count == 0 {
		return fmt.Errorf("nothing selected")
	}
	if err := printJSON(cmd.OutOrStdout(), co); err != nil {
		return err
	}
	if !checkoutComplete {
		return nil
	}
	for _, it := range co.Items {
		if !c.cart.RemoveItem(ctx, it.ID, it.VariantID) {
			return fmt.Errorf("remove purchased line %s failed", it.LineID())
		}
	}
	return sel.Discard(ctx)
}

func printSelection(cmd *cobra.Command, c *client, sel *selection.Overlay) {
	out := cmd.OutOrStdout()
	printItems(out, c.cart, sel)
	fmt.Fprintf(out, "selected=%d selected_total=%s\n", sel.SelectedCount(), sel.SelectedTotal().StringFixed(2))
}

func init() {
	checkoutCmd.Flags().BoolVar(&checkoutComplete, "complete", false, "remove purchased lines and discard the session entries")
	selectCmd.AddCommand(selectToggleCmd, selectAllCmd, selectClearCmd, selectShowCmd)
}
