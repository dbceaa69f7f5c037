// Package remotetest provides an in-memory remote.Cart for tests.
package remotetest

import (
	"context"
	"sync"

	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote"
)

// Call records one request made to the Fake.
type Call struct {
	Method    string
	OwnerID   string
	ProductID string
	VariantID string
	Quantity  int
}

// Fake is a scriptable remote.Cart. The zero value is not usable; call New.
type Fake struct {
	mu     sync.Mutex
	carts  map[string][]model.CartLineItem
	calls  []Call
	errs   map[string]error
	always error
	block  chan struct{}
}

var _ remote.Cart = (*Fake)(nil)

func New() *Fake {
	return &Fake{carts: make(map[string][]model.CartLineItem), errs: make(map[string]error)}
}

// Seed sets the authoritative items for owner.
func (f *Fake) Seed(owner string, items ...model.CartLineItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[owner] = model.Clone(items)
}

// FailAll makes every call return err until cleared with nil.
func (f *Fake) FailAll(err error) {
	f.mu.Lock()
	f.always = err
	f.mu.Unlock()
}

// FailOn makes calls to method ("Fetch", "Add", ...) return err until cleared with nil.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// Block makes every call wait until Release is called.
func (f *Fake) Block() {
	f.mu.Lock()
	f.block = make(chan struct{})
	f.mu.Unlock()
}

// Release unblocks calls held by Block.
func (f *Fake) Release() {
	f.mu.Lock()
	if f.block != nil {
		close(f.block)
		f.block = nil
	}
	f.mu.Unlock()
}

// Calls returns the recorded calls in arrival order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded calls to method.
func (f *Fake) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Items returns the current authoritative items for owner.
func (f *Fake) Items(owner string) []model.CartLineItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.Clone(f.carts[owner])
}

func (f *Fake) record(ctx context.Context, c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	block := f.block
	err := f.always
	if e, ok := f.errs[c.Method]; ok {
		err = e
	}
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *Fake) Fetch(ctx context.Context, ownerID string) ([]model.CartLineItem, error) {
	if err := f.record(ctx, Call{Method: "Fetch", OwnerID: ownerID}); err != nil {
		return nil, err
	}
	return f.Items(ownerID), nil
}

func (f *Fake) Add(ctx context.Context, ownerID string, req remote.AddRequest) error {
	if err := f.record(ctx, Call{Method: "Add", OwnerID: ownerID, ProductID: req.ProductID, VariantID: req.VariantID, Quantity: req.Quantity}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.carts[ownerID]
	for i := range items {
		if items[i].ID == req.ProductID && items[i].VariantID == req.VariantID {
			items[i].Quantity += req.Quantity
			return nil
		}
	}
	f.carts[ownerID] = append(items, model.CartLineItem{ID: req.ProductID, VariantID: req.VariantID, Quantity: req.Quantity})
	return nil
}

func (f *Fake) Update(ctx context.Context, ownerID, variantID string, quantity int) error {
	if err := f.record(ctx, Call{Method: "Update", OwnerID: ownerID, VariantID: variantID, Quantity: quantity}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.carts[ownerID] {
		if it.VariantID == variantID {
			f.carts[ownerID][i].Quantity = quantity
		}
	}
	return nil
}

func (f *Fake) Remove(ctx context.Context, ownerID, variantID string) error {
	if err := f.record(ctx, Call{Method: "Remove", OwnerID: ownerID, VariantID: variantID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.carts[ownerID][:0]
	for _, it := range f.carts[ownerID] {
		if it.VariantID != variantID {
			kept = append(kept, it)
		}
	}
	f.carts[ownerID] = kept
	return nil
}

func (f *Fake) Clear(ctx context.Context, ownerID string) error {
	if err := f.record(ctx, Call{Method: "Clear", OwnerID: ownerID}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, ownerID)
	return nil
}
