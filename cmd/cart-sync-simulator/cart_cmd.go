package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/cart-sync-simulator/internal/debounce"
	"github.com/fairyhunter13/cart-sync-simulator/internal/identity"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
	"github.com/fairyhunter13/cart-sync-simulator/internal/outbox"
	"github.com/fairyhunter13/cart-sync-simulator/internal/selection"
)

const tokenTTL = 24 * time.Hour

var (
	loginName    string
	loginEmail   string
	addName      string
	addPrice     string
	addSize      string
	addColor     string
	editInterval time.Duration
	syncWatch    bool
	syncFor      time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login <user-id>",
	Short: "Sign in as a user",
	Long: `Store the current-user profile. When AUTH_SECRET is set a signed token is
stored as well and becomes the source of the cart owner.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out; the next load treats the cart as a guest cart",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Inspect and mutate the local cart",
}

var cartLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the cart, reconciling with the backend when needed",
	Args:  cobra.NoArgs,
	RunE: withCart(func(_ context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, _ []string) error {
		if err := c.cart.Err(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
		printItems(cmd.OutOrStdout(), c.cart, sel)
		return nil
	}),
}

var cartListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the cart as JSON",
	Args:  cobra.NoArgs,
	RunE: withCart(func(_ context.Context, cmd *cobra.Command, c *client, _ *selection.Overlay, _ []string) error {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"ownerId": model.OwnerRef(c.cart.Owner()),
			"items":   c.cart.Items(),
			"total":   c.cart.Total(),
		})
	}),
}

var cartAddCmd = &cobra.Command{
	Use:   "add <product-id> <variant-id> [quantity]",
	Short: "Add units of a product variant",
	Args:  cobra.RangeArgs(2, 3),
	RunE: withCart(func(ctx context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, args []string) error {
		qty := 1
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("quantity: %w", err)
			}
			qty = n
		}
		p, err := c.lookupProduct(ctx, args[0], addName, addPrice)
		if err != nil {
			return err
		}
		if !c.cart.AddItem(ctx, p, args[1], qty, model.VariantInfo{Size: addSize, Color: addColor}) {
			return fmt.Errorf("add %s:%s rejected", args[0], args[1])
		}
		printItems(cmd.OutOrStdout(), c.cart, sel)
		return nil
	}),
}

var cartUpdateCmd = &cobra.Command{
	Use:   "update <product-id> <variant-id> <quantity>",
	Short: "Set the quantity of a line; 0 removes it",
	Args:  cobra.ExactArgs(3),
	RunE: withCart(func(ctx context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, args []string) error {
		qty, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
		if !c.cart.UpdateQuantity(ctx, args[0], args[1], qty) {
			return fmt.Errorf("update %s:%s failed", args[0], args[1])
		}
		printItems(cmd.OutOrStdout(), c.cart, sel)
		return nil
	}),
}

var cartEditCmd = &cobra.Command{
	Use:   "edit <product-id> <variant-id> <quantity>...",
	Short: "Type quantities into a line; only the last one is committed",
	Long: `Simulate a user typing several quantities into a line's quantity field.
Edits are debounced by DEBOUNCE_MS; the final value is confirmed with the
backend and rolled back to the last confirmed quantity if that fails.`,
	Args: cobra.MinimumNArgs(3),
	RunE: withCart(func(ctx context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, args []string) error {
		item, ok := c.cart.Item(args[0], args[1])
		if !ok {
			return fmt.Errorf("line %s:%s is not in the cart", args[0], args[1])
		}
		out := cmd.OutOrStdout()
		e := debounce.NewQuantityEditor(ctx, c.cart, item, debounce.Real{}, cfg.DebounceDelay,
			debounce.OnChange(func(d int, err error) {
				if err != nil {
					fmt.Fprintf(out, "displayed=%d (%v)\n", d, err)
					return
				}
				fmt.Fprintf(out, "displayed=%d\n", d)
			}))
		for i, a := range args[2:] {
			qty, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("quantity %q: %w", a, err)
			}
			if i > 0 && editInterval > 0 {
				time.Sleep(editInterval)
			}
			e.Edit(qty)
		}
		e.Wait()
		fmt.Fprintf(out, "confirmed=%d\n", e.Confirmed())
		printItems(out, c.cart, sel)
		return e.Err()
	}),
}

var cartRemoveCmd = &cobra.Command{
	Use:   "remove <product-id> <variant-id>",
	Short: "Remove a line",
	Args:  cobra.ExactArgs(2),
	RunE: withCart(func(ctx context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, args []string) error {
		if !c.cart.RemoveItem(ctx, args[0], args[1]) {
			return fmt.Errorf("remove %s:%s failed", args[0], args[1])
		}
		printItems(cmd.OutOrStdout(), c.cart, sel)
		return nil
	}),
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every line",
	Args:  cobra.NoArgs,
	RunE: withCart(func(ctx context.Context, cmd *cobra.Command, c *client, sel *selection.Overlay, _ []string) error {
		if !c.cart.Clear(ctx) {
			return fmt.Errorf("clear failed")
		}
		printItems(cmd.OutOrStdout(), c.cart, sel)
		return nil
	}),
}

var cartSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued remote calls for the current user",
	Long: `Replay queued remote calls once. With --watch, keep replaying every
outbox.replay_interval until interrupted (or for --for).`,
	Args: cobra.NoArgs,
	RunE: withCart(func(ctx context.Context, cmd *cobra.Command, c *client, _ *selection.Overlay, _ []string) error {
		if c.ob == nil {
			return fmt.Errorf("outbox is disabled")
		}
		owner, signedIn := c.ident.CurrentOwner(ctx)
		if !signedIn {
			return fmt.Errorf("sign in first; guest carts are never synced")
		}
		if syncWatch {
			return watchOutbox(ctx, cmd, c, owner)
		}
		sent, err := c.ob.Replay(ctx, c.rc, owner)
		left, lerr := c.ob.Len(ctx)
		if lerr != nil {
			return lerr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replayed=%d pending=%d\n", sent, left)
		return err
	}),
}

// watchOutbox runs a Replayer for owner until the command is interrupted or
// --for elapses.
func watchOutbox(ctx context.Context, cmd *cobra.Command, c *client, owner string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if syncFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, syncFor)
		defer cancel()
	}
	r := outbox.NewReplayer(c.ob, c.rc, cfg.Outbox.ReplayInterval, outbox.OnlyOwner(owner))
	r.Start(ctx)
	r.Kick()
	obs.Logger.Info("outbox_watch_started", "owner_id", owner, "interval", cfg.Outbox.ReplayInterval.String())
	<-ctx.Done()
	r.Stop()

	left, err := c.ob.Len(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replayed=%d pending=%d\n", r.Sent(), left)
	return nil
}

// withCart opens the client and the selection overlay around fn, saving the
// (possibly pruned) selection afterwards.
func withCart(fn func(context.Context, *cobra.Command, *client, *selection.Overlay, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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
		runErr := fn(ctx, cmd, c, sel, args)
		if err := sel.Save(ctx); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	local, _, err := openStorage()
	if err != nil {
		return err
	}
	defer local.Close()
	profile := model.UserProfile{ID: args[0], Name: loginName, Email: loginEmail}
	if err := identity.SignIn(ctx, local, cfg.Keys.User, profile); err != nil {
		return err
	}
	if cfg.AuthSecret != "" {
		tok, err := identity.IssueToken(cfg.AuthSecret, profile.ID, tokenTTL)
		if err != nil {
			return err
		}
		if err := local.Set(ctx, cfg.Keys.Token, []byte(tok)); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", profile.ID)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	local, _, err := openStorage()
	if err != nil {
		return err
	}
	defer local.Close()
	if err := identity.SignOut(cmd.Context(), local, cfg.Keys.User, cfg.Keys.Token); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "signed out")
	return nil
}

func init() {
	loginCmd.Flags().StringVar(&loginName, "name", "", "display name")
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "email")

	cartAddCmd.Flags().StringVar(&addName, "name", "", "product name when adding offline")
	cartAddCmd.Flags().StringVar(&addPrice, "price", "", "unit price; skips the catalog lookup")
	cartAddCmd.Flags().StringVar(&addSize, "size", "", "variant size")
	cartAddCmd.Flags().StringVar(&addColor, "color", "", "variant color")
	cartEditCmd.Flags().DurationVar(&editInterval, "interval", 0, "pause between edits")
	cartSyncCmd.Flags().BoolVar(&syncWatch, "watch", false, "keep replaying on outbox.replay_interval")
	cartSyncCmd.Flags().DurationVar(&syncFor, "for", 0, "stop watching after this long (0 waits for a signal)")

	cartCmd.AddCommand(cartLoadCmd, cartListCmd, cartAddCmd, cartUpdateCmd, cartEditCmd, cartRemoveCmd, cartClearCmd, cartSyncCmd)
}
