package debounce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
)

// ErrRolledBack is reported when a committed quantity was rejected and the
// displayed value went back to the last confirmed one.
var ErrRolledBack = errors.New("debounce: quantity rolled back")

// Committer applies a quantity with remote confirmation and can put a line back.
// *cart.Store satisfies it.
type Committer interface {
	CommitQuantity(ctx context.Context, id, variantID string, quantity int) error
	Restore(ctx context.Context, item model.CartLineItem) bool
}

// QuantityEditor shows typed quantities immediately and commits them after a
// quiet period. If the latest commit fails, the display and the cart line go
// back to the last confirmed quantity.
type QuantityEditor struct {
	ctx context.Context
	c   Committer
	deb *Debouncer

	mu        sync.Mutex
	confirmed model.CartLineItem
	displayed int
	edits     uint64
	err       error
	onChange  func(displayed int, err error)
}

// EditorOption configures a QuantityEditor.
type EditorOption func(*QuantityEditor)

// OnChange registers a callback run after every display change, including rollbacks.
func OnChange(fn func(displayed int, err error)) EditorOption {
	return func(e *QuantityEditor) { e.onChange = fn }
}

// NewQuantityEditor edits item, whose Quantity is taken as server-confirmed.
func NewQuantityEditor(ctx context.Context, c Committer, item model.CartLineItem, sched Scheduler, delay time.Duration, opts ...EditorOption) *QuantityEditor {
	e := &QuantityEditor{
		ctx:       ctx,
		c:         c,
		deb:       NewDebouncer(sched, delay),
		confirmed: item,
		displayed: item.Quantity,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Edit displays qty at once and schedules its commit.
func (e *QuantityEditor) Edit(qty int) {
	e.mu.Lock()
	e.displayed = qty
	e.err = nil
	e.edits++
	gen := e.edits
	e.mu.Unlock()
	e.changed()
	e.deb.Trigger(func() { e.commit(gen, qty) })
}

func (e *QuantityEditor) commit(gen uint64, qty int) {
	item := e.snapshot()
	err := e.c.CommitQuantity(e.ctx, item.ID, item.VariantID, qty)

	e.mu.Lock()
	if err == nil {
		e.confirmed.Quantity = qty
		e.mu.Unlock()
		return
	}
	if gen != e.edits {
		// a newer edit owns the display
		e.mu.Unlock()
		obs.Logger.Info("quantity_commit_superseded", "product_id", item.ID, "variant_id", item.VariantID, "quantity", qty, "error", err)
		return
	}
	restore := e.confirmed
	e.displayed = restore.Quantity
	e.err = fmt.Errorf("%w: %v", ErrRolledBack, err)
	e.mu.Unlock()

	obs.Logger.Warn("quantity_rolled_back", "product_id", item.ID, "variant_id", item.VariantID, "quantity", qty, "restored", restore.Quantity, "error", err)
	if restore.Quantity >= 1 && !e.c.Restore(e.ctx, restore) {
		obs.Logger.Error("quantity_restore_failed", "product_id", item.ID, "variant_id", item.VariantID)
	}
	e.changed()
}

func (e *QuantityEditor) snapshot() model.CartLineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed
}

func (e *QuantityEditor) changed() {
	e.mu.Lock()
	fn, d, err := e.onChange, e.displayed, e.err
	e.mu.Unlock()
	if fn != nil {
		fn(d, err)
	}
}

// Displayed is the quantity the user currently sees.
func (e *QuantityEditor) Displayed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.displayed
}

// Confirmed is the last quantity the remote side accepted.
func (e *QuantityEditor) Confirmed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.confirmed.Quantity
}

// Err is the inline error of the last rollback; it clears on the next Edit.
func (e *QuantityEditor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Pending reports whether an edit is waiting to be committed.
func (e *QuantityEditor) Pending() bool { return e.deb.Pending() }

// Flush commits the pending edit now.
func (e *QuantityEditor) Flush() { e.deb.Flush() }

// Wait blocks until the pending edit, if any, has been committed or rolled back.
func (e *QuantityEditor) Wait() { e.deb.Wait() }

// Close drops a pending edit without committing it.
func (e *QuantityEditor) Close() { e.deb.Cancel() }
