package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/cart-sync-simulator/internal/cart"
	"github.com/fairyhunter13/cart-sync-simulator/internal/identity"
	"github.com/fairyhunter13/cart-sync-simulator/internal/kv"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
	"github.com/fairyhunter13/cart-sync-simulator/internal/outbox"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote"
	"github.com/fairyhunter13/cart-sync-simulator/internal/selection"
)

// client is the cart engine wired to local files and the configured backend.
type client struct {
	local   *kv.SQLite
	session *kv.SQLite
	ident   identity.Provider
	rc      *remote.HTTPClient
	ob      *outbox.Outbox
	cart    *cart.Store
}

func openStorage() (*kv.SQLite, *kv.SQLite, error) {
	local, err := kv.OpenSQLite(cfg.DataPath, "local_storage")
	if err != nil {
		return nil, nil, err
	}
	session, err := kv.NewSQLite(local.DB(), "session_storage")
	if err != nil {
		_ = local.Close()
		return nil, nil, err
	}
	return local, session, nil
}

func provider(local kv.Store) identity.Provider {
	if cfg.AuthSecret != "" {
		return identity.FromToken(local, cfg.Keys.Token, cfg.AuthSecret)
	}
	return identity.FromStorage(local, cfg.Keys.User)
}

// openClient builds the engine and loads the cart.
func openClient(ctx context.Context) (*client, error) {
	local, session, err := openStorage()
	if err != nil {
		return nil, err
	}
	c := &client{local: local, session: session, ident: provider(local)}
	c.rc = remote.NewHTTPClient(cfg.BackendURL, cfg.RemoteTimeout,
		remote.WithTokenSource(identity.StoredToken(local, cfg.Keys.Token)))
	opts := []cart.Option{cart.WithKey(cfg.Keys.Cart), cart.WithRemoteTimeout(cfg.RemoteTimeout)}
	if cfg.Outbox.Enabled {
		c.ob = outbox.New(local, cfg.Outbox.Key, cfg.Outbox.MaxAttempts)
		opts = append(opts, cart.WithOutbox(c.ob))
	}
	c.cart = cart.New(local, c.ident, c.rc, opts...)
	c.cart.Load(ctx)
	if err := c.cart.Err(); err != nil {
		obs.Logger.Warn("cart_load_degraded", "error", err)
	}
	return c, nil
}

// overlay attaches a selection overlay and restores the saved selection.
func (c *client) overlay(ctx context.Context) (*selection.Overlay, error) {
	o := selection.New(c.cart, c.session, selection.Keys{
		Selection: cfg.Keys.Selection,
		Items:     cfg.Keys.CheckoutItems,
		Total:     cfg.Keys.CheckoutTotal,
	})
	if _, err := o.Restore(ctx); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

// Close waits for background syncs, then releases the database.
func (c *client) Close() error {
	c.cart.Wait()
	return c.local.Close()
}

func printItems(w io.Writer, c *cart.Store, sel *selection.Overlay) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEL\tLINE\tNAME\tQTY\tUNIT\tTOTAL")
	for _, it := range c.Items() {
		mark := " "
		if sel != nil && sel.IsSelected(it.LineID()) {
			mark = "x"
		}
		fmt.Fprintf(tw, "[%s]\t%s\t%s\t%d\t%s\t%s\n", mark, it.LineID(), it.Name, it.Quantity, it.UnitPrice.StringFixed(2), it.TotalPrice().StringFixed(2))
	}
	_ = tw.Flush()
	owner := c.Owner()
	if owner == "" {
		owner = "guest"
	}
	fmt.Fprintf(w, "owner=%s lines=%d units=%d total=%s\n", owner, c.Count(), c.Units(), c.Total().StringFixed(2))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// lookupProduct resolves the product for an add, preferring explicit flags so
// adds work while the backend is unreachable.
func (c *client) lookupProduct(ctx context.Context, id, name, price string) (model.Product, error) {
	if price != "" {
		d, err := decimal.NewFromString(price)
		if err != nil {
			return model.Product{}, fmt.Errorf("price: %w", err)
		}
		return model.Product{ID: id, Name: name, Price: d}, nil
	}
	p, err := c.rc.Product(ctx, id)
	if err != nil {
		return model.Product{}, errors.Join(fmt.Errorf("look up product %s (pass --price to add offline)", id), err)
	}
	return p, nil
}
