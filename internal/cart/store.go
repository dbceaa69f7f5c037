// Package cart keeps a locally durable, best-effort remotely synced shopping cart.
//
// Every mutation writes the full snapshot to local storage before touching
// memory, then fires the matching remote call in the background. Local state
// is authoritative; the remote side catches up eventually (and through the
// outbox when one is configured).
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/cart-sync-simulator/internal/identity"
	"github.com/fairyhunter13/cart-sync-simulator/internal/kv"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
	"github.com/fairyhunter13/cart-sync-simulator/internal/outbox"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote"
)

var errNoRemote = errors.New("no remote cart configured")

const (
	DefaultKey           = "cart"
	DefaultRemoteTimeout = 10 * time.Second
)

// Store is the cart engine. Mutations are serialized; reads may run concurrently.
type Store struct {
	storage       kv.Store
	ident         identity.Provider
	rc            remote.Cart
	key           string
	now           func() time.Time
	ob            *outbox.Outbox
	remoteTimeout time.Duration

	writeMu sync.Mutex // serializes load and mutations

	mu      sync.RWMutex
	items   []model.CartLineItem
	owner   string
	loadErr error

	subMu   sync.Mutex
	subs    map[int]func([]model.CartLineItem)
	nextSub int

	inflight sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithKey sets the storage key of the snapshot.
func WithKey(key string) Option { return func(s *Store) { s.key = key } }

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithOutbox queues failed remote calls in ob and replays the owner's queue on every signed-in Load.
func WithOutbox(ob *outbox.Outbox) Option { return func(s *Store) { s.ob = ob } }

// WithRemoteTimeout bounds each background remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.remoteTimeout = d
		}
	}
}

// New builds a Store. storage holds the snapshot, ident names the owner and rc
// is the authoritative remote cart. A nil rc keeps the cart local only.
func New(storage kv.Store, ident identity.Provider, rc remote.Cart, opts ...Option) *Store {
	s := &Store{
		storage:       storage,
		ident:         ident,
		rc:            rc,
		key:           DefaultKey,
		now:           time.Now,
		remoteTimeout: DefaultRemoteTimeout,
		items:         []model.CartLineItem{},
		subs:          make(map[int]func([]model.CartLineItem)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) currentOwner(ctx context.Context) (string, bool) {
	if s.ident == nil {
		return "", false
	}
	return s.ident.CurrentOwner(ctx)
}

func (s *Store) readSnapshot(ctx context.Context) (model.CartSnapshot, bool, error) {
	var snap model.CartSnapshot
	found, err := kv.GetJSON(ctx, s.storage, s.key, &snap)
	if err != nil {
		return model.CartSnapshot{}, false, err
	}
	return snap, found, nil
}

// commit persists items as the full snapshot and only then adopts them.
// Callers hold writeMu.
func (s *Store) commit(ctx context.Context, owner string, items []model.CartLineItem) error {
	if err := s.persist(ctx, owner, items); err != nil {
		return err
	}
	s.adopt(owner, items, nil, false)
	return nil
}

func (s *Store) adopt(owner string, items []model.CartLineItem, loadErr error, setErr bool) {
	s.mu.Lock()
	s.items = items
	s.owner = owner
	if setErr {
		s.loadErr = loadErr
	}
	s.mu.Unlock()
	s.notify(items)
}

// Load initializes the in-memory cart from local storage and, for a signed-in
// owner whose local copy is missing, empty or belongs to someone else, from the
// remote cart. A signed-in owner's queued remote calls are replayed first,
// whichever source wins. It never fails: a remote failure falls back to local
// data and is reported by Err.
func (s *Store) Load(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	owner, signedIn := s.currentOwner(ctx)
	if signedIn {
		s.replayOutbox(ctx, owner)
	}
	snap, found, err := s.readSnapshot(ctx)
	if err != nil {
		obs.Logger.Warn("cart_snapshot_unreadable", "key", s.key, "error", err)
		found = false
	}

	var items []model.CartLineItem
	var loadErr error
	source := "local"
	switch {
	case !signedIn:
		items = snap.Items
	case found && snap.Owner() == owner && len(snap.Items) > 0:
		items = snap.Items
	default:
		fetched, ferr := s.fetch(ctx, owner)
		if ferr == nil {
			source = "remote"
			items = model.Normalize(fetched)
			if err := s.persist(ctx, owner, items); err != nil {
				obs.Logger.Error("cart_persist_failed", "owner_id", owner, "error", err)
				loadErr = err
			}
			break
		}
		loadErr = fmt.Errorf("%w: %v", ErrInitialization, ferr)
		obs.Logger.Warn("cart_fetch_failed", "owner_id", owner, "error", ferr)
		source = "fallback"
		// another owner's lines are never shown to this owner
		if found && (snap.OwnerID == nil || snap.Owner() == owner) {
			items = snap.Items
		}
	}
	items = model.Normalize(items)
	if !signedIn {
		owner = ""
	}
	s.adopt(owner, items, loadErr, true)
	obs.Logger.Info("cart_loaded", "owner_id", owner, "source", source, "line_count", len(items))
}

func (s *Store) persist(ctx context.Context, owner string, items []model.CartLineItem) error {
	snap := model.CartSnapshot{OwnerID: model.OwnerRef(owner), Items: items, UpdatedAt: s.now().UTC()}
	if err := kv.SetJSON(ctx, s.storage, s.key, snap); err != nil {
		return fmt.Errorf("%w: %v", ErrLocalWrite, err)
	}
	return nil
}

func (s *Store) fetch(ctx context.Context, owner string) ([]model.CartLineItem, error) {
	if s.rc == nil {
		return nil, errNoRemote
	}
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	return s.rc.Fetch(rctx, owner)
}

// replayOutbox sends owner's queued calls. Failures stay queued for the next
// load or replayer pass.
func (s *Store) replayOutbox(ctx context.Context, owner string) {
	if s.rc == nil || s.ob == nil {
		return
	}
	sent, err := s.ob.Replay(ctx, s.rc, owner)
	if err != nil {
		obs.Logger.Warn("outbox_replay_stopped", "owner_id", owner, "sent", sent, "error", err)
	}
}

// sync sends op in the background. Failures are logged and, when an outbox is
// configured and the failure is not permanent, queued for replay.
func (s *Store) sync(ctx context.Context, op outbox.Op) {
	if s.rc == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		rctx, cancel := context.WithTimeout(base, s.remoteTimeout)
		err := op.Apply(rctx, s.rc)
		cancel()
		if err == nil {
			return
		}
		obs.Logger.Warn("remote_sync_failed",
			"kind", op.Kind,
			"owner_id", op.OwnerID,
			"product_id", op.ProductID,
			"variant_id", op.VariantID,
			"quantity", op.Quantity,
			"error", err,
		)
		if s.ob == nil || remote.IsPermanent(err) {
			return
		}
		op.LastError = err.Error()
		if err := s.ob.Append(base, op); err != nil {
			obs.Logger.Error("outbox_append_failed", "kind", op.Kind, "owner_id", op.OwnerID, "error", err)
		}
	}()
}

// Wait blocks until every background remote call has finished.
func (s *Store) Wait() { s.inflight.Wait() }

func indexOf(items []model.CartLineItem, key model.LineKey) int {
	for i, it := range items {
		if it.Key() == key {
			return i
		}
	}
	return -1
}

// AddItem adds quantity units of product's variant, merging into an existing
// line with the same key. quantity < 1 is treated as 1. It reports whether the
// local mutation succeeded; the remote call never affects the result.
func (s *Store) AddItem(ctx context.Context, product model.Product, variantID string, quantity int, info model.VariantInfo) bool {
	if quantity < 1 {
		quantity = 1
	}
	line, err := model.NewLineItem(product, variantID, quantity, info)
	if err != nil {
		obs.Logger.Warn("cart_mutation_rejected", "op", "add", "product_id", product.ID, "variant_id", variantID, "error", fmt.Errorf("%w: %v", ErrValidation, err))
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	owner, signedIn := s.currentOwner(ctx)
	items := s.Items()
	if i := indexOf(items, line.Key()); i >= 0 {
		items[i].Quantity += quantity
	} else {
		items = append(items, line)
	}
	if err := s.commit(ctx, owner, items); err != nil {
		obs.Logger.Error("cart_persist_failed", "op", "add", "error", err)
		return false
	}
	if signedIn {
		s.sync(ctx, outbox.Op{Kind: outbox.KindAdd, OwnerID: owner, ProductID: line.ID, VariantID: line.VariantID, Quantity: quantity})
	}
	return true
}

// UpdateQuantity sets the quantity of a line. quantity < 1 removes the line.
// Updating a missing line is a successful no-op.
func (s *Store) UpdateQuantity(ctx context.Context, id, variantID string, quantity int) bool {
	if quantity < 1 {
		return s.RemoveItem(ctx, id, variantID)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	owner, signedIn, found, ok := s.setQuantity(ctx, model.LineKey{ID: id, VariantID: variantID}, quantity)
	if !ok {
		return false
	}
	if found && signedIn {
		s.sync(ctx, outbox.Op{Kind: outbox.KindUpdate, OwnerID: owner, ProductID: id, VariantID: variantID, Quantity: quantity})
	}
	return true
}

// setQuantity commits quantity for key. found is false when the line is
// missing and nothing was written. Callers hold writeMu.
func (s *Store) setQuantity(ctx context.Context, key model.LineKey, quantity int) (owner string, signedIn, found, ok bool) {
	items := s.Items()
	i := indexOf(items, key)
	if i < 0 {
		return "", false, false, true
	}
	owner, signedIn = s.currentOwner(ctx)
	items[i].Quantity = quantity
	if err := s.commit(ctx, owner, items); err != nil {
		obs.Logger.Error("cart_persist_failed", "op", "update", "error", err)
		return "", false, false, false
	}
	return owner, signedIn, true, true
}

// RemoveItem deletes a line. Removing a missing line is a successful no-op.
func (s *Store) RemoveItem(ctx context.Context, id, variantID string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	owner, signedIn, removed, ok := s.remove(ctx, model.LineKey{ID: id, VariantID: variantID})
	if !ok {
		return false
	}
	if removed && signedIn {
		s.sync(ctx, outbox.Op{Kind: outbox.KindRemove, OwnerID: owner, ProductID: id, VariantID: variantID})
	}
	return true
}

// remove commits the list without key. Callers hold writeMu.
func (s *Store) remove(ctx context.Context, key model.LineKey) (owner string, signedIn, removed, ok bool) {
	items := s.Items()
	kept := items[:0]
	for _, it := range items {
		if it.Key() != key {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return "", false, false, true
	}
	owner, signedIn = s.currentOwner(ctx)
	if err := s.commit(ctx, owner, kept); err != nil {
		obs.Logger.Error("cart_persist_failed", "op", "remove", "error", err)
		return "", false, false, false
	}
	return owner, signedIn, true, true
}

// SetChecked updates the legacy per-line checked flag. It is local only.
//
// Deprecated: use selection.Overlay to track lines picked for checkout.
func (s *Store) SetChecked(ctx context.Context, lineID string, checked bool) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	items := s.Items()
	changed := false
	for i := range items {
		if items[i].LineID() == lineID && items[i].Checked != checked {
			items[i].Checked = checked
			changed = true
		}
	}
	if !changed {
		return true
	}
	owner, _ := s.currentOwner(ctx)
	if err := s.commit(ctx, owner, items); err != nil {
		obs.Logger.Error("cart_persist_failed", "op", "set_checked", "error", err)
		return false
	}
	return true
}

// Clear empties the cart, typically after a successful checkout.
func (s *Store) Clear(ctx context.Context) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	owner, signedIn := s.currentOwner(ctx)
	if err := s.commit(ctx, owner, []model.CartLineItem{}); err != nil {
		obs.Logger.Error("cart_persist_failed", "op", "clear", "error", err)
		return false
	}
	if signedIn {
		s.sync(ctx, outbox.Op{Kind: outbox.KindClear, OwnerID: owner})
	}
	return true
}

// CommitQuantity applies quantity locally and then waits for the remote
// confirmation. It is the commit path of the debounced quantity editor: a
// remote failure is returned (wrapping ErrRemoteSync) instead of being queued,
// so the caller can roll back. Guests have nothing to confirm.
func (s *Store) CommitQuantity(ctx context.Context, id, variantID string, quantity int) error {
	key := model.LineKey{ID: id, VariantID: variantID}
	s.writeMu.Lock()
	var (
		owner    string
		signedIn bool
		touched  bool
		op       outbox.Op
	)
	if quantity < 1 {
		var removed, ok bool
		owner, signedIn, removed, ok = s.remove(ctx, key)
		if !ok {
			s.writeMu.Unlock()
			return ErrLocalWrite
		}
		touched = removed
		op = outbox.Op{Kind: outbox.KindRemove, OwnerID: owner, ProductID: id, VariantID: variantID}
	} else {
		var found, ok bool
		owner, signedIn, found, ok = s.setQuantity(ctx, key, quantity)
		if !ok {
			s.writeMu.Unlock()
			return ErrLocalWrite
		}
		touched = found
		op = outbox.Op{Kind: outbox.KindUpdate, OwnerID: owner, ProductID: id, VariantID: variantID, Quantity: quantity}
	}
	s.writeMu.Unlock()

	if !touched || !signedIn || s.rc == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()
	if err := op.Apply(rctx, s.rc); err != nil {
		obs.Logger.Warn("remote_sync_failed", "kind", op.Kind, "owner_id", owner, "variant_id", variantID, "quantity", quantity, "error", err)
		return fmt.Errorf("%w: %v", ErrRemoteSync, err)
	}
	return nil
}

// Restore writes item back into the cart locally, replacing any line with the
// same key. It is the rollback path of the quantity editor and never calls the
// remote cart.
func (s *Store) Restore(ctx context.Context, item model.CartLineItem) bool {
	if err := item.Validate(); err != nil {
		obs.Logger.Warn("cart_mutation_rejected", "op", "restore", "error", fmt.Errorf("%w: %v", ErrValidation, err))
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	items := s.Items()
	if i := indexOf(items, item.Key()); i >= 0 {
		items[i] = item
	} else {
		items = append(items, item)
	}
	owner, _ := s.currentOwner(ctx)
	if err := s.commit(ctx, owner, items); err != nil {
		obs.Logger.Error("cart_persist_failed", "op", "restore", "error", err)
		return false
	}
	return true
}

// Items returns a copy of the current lines in cart order.
func (s *Store) Items() []model.CartLineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Clone(s.items)
}

// Item returns the line with the given key.
func (s *Store) Item(id, variantID string) (model.CartLineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.items, model.LineKey{ID: id, VariantID: variantID}); i >= 0 {
		return s.items[i], true
	}
	return model.CartLineItem{}, false
}

// Count returns the number of lines.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Units returns the sum of line quantities.
func (s *Store) Units() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

// Total returns the sum of line totals.
func (s *Store) Total() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Total(s.items)
}

// Owner returns the owner the current state was loaded or last written for.
func (s *Store) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// Err returns the failure recorded by the last Load, if any.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Subscribe registers fn to receive the full line list after every change.
// fn runs synchronously while the store is serializing writes, so it must not
// call mutating Store methods. The returned func unsubscribes.
func (s *Store) Subscribe(fn func([]model.CartLineItem)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(items []model.CartLineItem) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]model.CartLineItem), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(model.Clone(items))
	}
}
