// Package outbox persists remote cart calls that failed so they can be replayed later.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/cart-sync-simulator/internal/kv"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote"
)

// Kind names the remote call an Op stands for.
type Kind string

const (
	KindAdd    Kind = "add"
	KindUpdate Kind = "update"
	KindRemove Kind = "remove"
	KindClear  Kind = "clear"
)

// Op is one pending remote call.
type Op struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Kind       Kind      `json:"kind"`
	OwnerID    string    `json:"ownerId"`
	ProductID  string    `json:"productId,omitempty"`
	VariantID  string    `json:"variantId,omitempty"`
	Quantity   int       `json:"quantity,omitempty"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	LastError  string    `json:"lastError,omitempty"`
}

// Apply issues op against rc.
func (op Op) Apply(ctx context.Context, rc remote.Cart) error {
	switch op.Kind {
	case KindAdd:
		return rc.Add(ctx, op.OwnerID, remote.AddRequest{ProductID: op.ProductID, VariantID: op.VariantID, Quantity: op.Quantity})
	case KindUpdate:
		return rc.Update(ctx, op.OwnerID, op.VariantID, op.Quantity)
	case KindRemove:
		return rc.Remove(ctx, op.OwnerID, op.VariantID)
	case KindClear:
		return rc.Clear(ctx, op.OwnerID)
	}
	return fmt.Errorf("outbox: unknown op kind %q", op.Kind)
}

// Outbox is a FIFO of Ops persisted as one JSON document under a storage key.
type Outbox struct {
	store       kv.Store
	key         string
	maxAttempts int
	seq         Sequencer

	mu        sync.Mutex // guards the persisted document
	replaying sync.Mutex // one Replay at a time
}

// New returns an Outbox stored under key. maxAttempts <= 0 means retry forever.
func New(store kv.Store, key string, maxAttempts int) *Outbox {
	return &Outbox{store: store, key: key, maxAttempts: maxAttempts}
}

func (o *Outbox) load(ctx context.Context) ([]Op, error) {
	var ops []Op
	if _, err := kv.GetJSON(ctx, o.store, o.key, &ops); err != nil {
		return nil, err
	}
	for _, op := range ops {
		o.seq.Advance(op.Seq)
	}
	return ops, nil
}

func (o *Outbox) save(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return o.store.Delete(ctx, o.key)
	}
	return kv.SetJSON(ctx, o.store, o.key, ops)
}

// Append persists op at the tail of the outbox, filling ID, Seq and EnqueuedAt.
func (o *Outbox) Append(ctx context.Context, op Op) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ops, err := o.load(ctx)
	if err != nil {
		return err
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.Seq = o.seq.Next()
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	ops = append(ops, op)
	if err := o.save(ctx, ops); err != nil {
		return err
	}
	obs.Logger.Info("outbox_appended", "op_id", op.ID, "kind", op.Kind, "owner_id", op.OwnerID, "backlog_size", len(ops))
	return nil
}

// Pending returns a copy of the queued ops in order.
func (o *Outbox) Pending(ctx context.Context) ([]Op, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx)
}

// Len returns the number of queued ops.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	ops, err := o.Pending(ctx)
	return len(ops), err
}

type outcome struct {
	done    bool
	attempt bool
	lastErr string
}

// Replay sends pending ops to rc in FIFO order. ownerID restricts replay to one
// owner; "" replays every owner. Ops that succeed, fail permanently, or run out
// of attempts leave the outbox. The first transient failure stops the replay so
// later ops are not reordered ahead of it. It returns the number of ops sent
// successfully and the transient error that stopped it, if any.
func (o *Outbox) Replay(ctx context.Context, rc remote.Cart, ownerID string) (int, error) {
	o.replaying.Lock()
	defer o.replaying.Unlock()

	ops, err := o.Pending(ctx)
	if err != nil {
		return 0, err
	}
	results := make(map[string]outcome, len(ops))
	sent := 0
	var stopErr error
	for _, op := range ops {
		if ownerID != "" && op.OwnerID != ownerID {
			continue
		}
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		err := op.Apply(ctx, rc)
		switch {
		case err == nil:
			results[op.ID] = outcome{done: true}
			sent++
		case remote.IsPermanent(err):
			obs.Logger.Warn("outbox_op_dropped", "op_id", op.ID, "kind", op.Kind, "owner_id", op.OwnerID, "reason", "permanent", "error", err)
			results[op.ID] = outcome{done: true}
		case o.maxAttempts > 0 && op.Attempts+1 >= o.maxAttempts:
			obs.Logger.Warn("outbox_op_dropped", "op_id", op.ID, "kind", op.Kind, "owner_id", op.OwnerID, "reason", "max_attempts", "error", err)
			results[op.ID] = outcome{done: true}
		default:
			results[op.ID] = outcome{attempt: true, lastErr: err.Error()}
			stopErr = err
		}
		if stopErr != nil {
			break
		}
	}
	if len(results) == 0 {
		return 0, stopErr
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	cur, err := o.load(ctx)
	if err != nil {
		return sent, err
	}
	kept := cur[:0]
	for _, op := range cur {
		r, ok := results[op.ID]
		if ok && r.done {
			continue
		}
		if ok && r.attempt {
			op.Attempts++
			op.LastError = r.lastErr
		}
		kept = append(kept, op)
	}
	if err := o.save(ctx, kept); err != nil {
		return sent, err
	}
	obs.Logger.Info("outbox_replayed", "sent", sent, "remaining", len(kept), "owner_id", ownerID)
	return sent, stopErr
}
