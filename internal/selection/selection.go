// Package selection tracks which cart lines the user marked for checkout.
//
// The overlay never mutates the cart. It follows the cart's change feed and
// drops ids whose line disappeared, so a selection never points at a missing
// line. The selected ids are written to session storage only around a
// checkout navigation.
package selection

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/cart-sync-simulator/internal/cart"
	"github.com/fairyhunter13/cart-sync-simulator/internal/kv"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
)

// Keys names the session storage entries used by the overlay.
type Keys struct {
	Selection string
	Items     string
	Total     string
}

// DefaultKeys matches the config defaults.
func DefaultKeys() Keys {
	return Keys{Selection: "cart.selection", Items: "checkout.items", Total: "checkout.total"}
}

// Checkout is the payload prepared for the checkout view.
type Checkout struct {
	IDs   []string             `json:"ids"`
	Items []model.CartLineItem `json:"items"`
	Total decimal.Decimal      `json:"total"`
	Count int                  `json:"count"`
}

type Overlay struct {
	cart    *cart.Store
	session kv.Store
	keys    Keys

	mu       sync.Mutex
	selected map[string]struct{}

	unsubscribe func()
}

// New attaches an overlay to c. Call Close to detach it.
func New(c *cart.Store, session kv.Store, keys Keys) *Overlay {
	o := &Overlay{cart: c, session: session, keys: keys, selected: make(map[string]struct{})}
	o.unsubscribe = c.Subscribe(o.prune)
	return o
}

// Close stops following the cart.
func (o *Overlay) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

func (o *Overlay) prune(items []model.CartLineItem) {
	present := lineIDs(items)
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.selected {
		if _, ok := present[id]; !ok {
			delete(o.selected, id)
			obs.Logger.Debug("selection_pruned", "line_id", id)
		}
	}
}

func lineIDs(items []model.CartLineItem) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it.LineID()] = struct{}{}
	}
	return m
}

// Toggle flips the membership of lineID and reports whether it is now
// selected. Ids that are not in the cart are ignored.
// The cart is read under o.mu, so a racing prune always runs after Toggle.
func (o *Overlay) Toggle(lineID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	present := lineIDs(o.cart.Items())
	if _, ok := present[lineID]; !ok {
		return false
	}
	if _, ok := o.selected[lineID]; ok {
		delete(o.selected, lineID)
		return false
	}
	o.selected[lineID] = struct{}{}
	return true
}

// SelectAll selects every line currently in the cart.
func (o *Overlay) SelectAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selected = lineIDs(o.cart.Items())
}

func (o *Overlay) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selected = make(map[string]struct{})
}

func (o *Overlay) IsSelected(lineID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.selected[lineID]
	return ok
}

// SelectedItems returns the selected cart lines in cart order.
func (o *Overlay) SelectedItems() []model.CartLineItem {
	items := o.cart.Items()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.CartLineItem, 0, len(o.selected))
	for _, it := range items {
		if _, ok := o.selected[it.LineID()]; ok {
			out = append(out, it)
		}
	}
	return out
}

// SelectedIDs returns the selected line ids in cart order.
func (o *Overlay) SelectedIDs() []string {
	items := o.SelectedItems()
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.LineID()
	}
	return ids
}

// SelectedTotal sums quantity * unit price over the selected lines.
func (o *Overlay) SelectedTotal() decimal.Decimal { return model.Total(o.SelectedItems()) }

// SelectedCount is the number of selected lines, not units.
func (o *Overlay) SelectedCount() int { return len(o.SelectedItems()) }

// Save writes the selected ids to session storage.
func (o *Overlay) Save(ctx context.Context) error {
	if err := kv.SetJSON(ctx, o.session, o.keys.Selection, o.SelectedIDs()); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

// PrepareCheckout stores the selection and the checkout payload in session
// storage and returns the payload.
func (o *Overlay) PrepareCheckout(ctx context.Context) (Checkout, error) {
	items := o.SelectedItems()
	co := Checkout{Items: items, Total: model.Total(items), Count: len(items), IDs: make([]string, len(items))}
	for i, it := range items {
		co.IDs[i] = it.LineID()
	}
	if err := kv.SetJSON(ctx, o.session, o.keys.Selection, co.IDs); err != nil {
		return Checkout{}, fmt.Errorf("save selection: %w", err)
	}
	if err := kv.SetJSON(ctx, o.session, o.keys.Items, co.Items); err != nil {
		return Checkout{}, fmt.Errorf("save checkout items: %w", err)
	}
	if err := kv.SetJSON(ctx, o.session, o.keys.Total, co.Total); err != nil {
		return Checkout{}, fmt.Errorf("save checkout total: %w", err)
	}
	obs.Logger.Info("checkout_prepared", "count", co.Count, "total", co.Total.String())
	return co, nil
}

// Restore reloads the selection saved in session storage, keeping only ids
// still present in the cart. It reports whether a saved selection was found.
func (o *Overlay) Restore(ctx context.Context) (bool, error) {
	var ids []string
	found, err := kv.GetJSON(ctx, o.session, o.keys.Selection, &ids)
	if err != nil {
		return found, fmt.Errorf("restore selection: %w", err)
	}
	if !found {
		return false, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	present := lineIDs(o.cart.Items())
	o.selected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := present[id]; ok {
			o.selected[id] = struct{}{}
		}
	}
	return true, nil
}

// Discard removes the saved selection and checkout payload.
func (o *Overlay) Discard(ctx context.Context) error {
	for _, k := range []string{o.keys.Selection, o.keys.Items, o.keys.Total} {
		if err := o.session.Delete(ctx, k); err != nil {
			return fmt.Errorf("discard %s: %w", k, err)
		}
	}
	return nil
}
