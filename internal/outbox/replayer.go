package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote"
)

// Replayer drains an Outbox in the background on an interval and on Kick.
type Replayer struct {
	ob       *Outbox
	rc       remote.Cart
	interval time.Duration
	owner    string
	notify   chan struct{}
	sent     atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// OnlyOwner restricts replay to ops of ownerID. Ops of other owners stay queued.
func OnlyOwner(ownerID string) ReplayerOption {
	return func(r *Replayer) { r.owner = ownerID }
}

// NewReplayer constructs a Replayer for ob sending to rc every interval.
func NewReplayer(ob *Outbox, rc remote.Cart, interval time.Duration, opts ...ReplayerOption) *Replayer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	r := &Replayer{ob: ob, rc: rc, interval: interval, notify: make(chan struct{}, 1)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Sent returns the number of ops delivered since construction.
func (r *Replayer) Sent() uint64 { return r.sent.Load() }

// Start begins replaying in the background. Calling Start twice is a no-op.
func (r *Replayer) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
}

// Stop cancels the background loop and waits for it to exit.
func (r *Replayer) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Kick requests an immediate replay, e.g. after connectivity returns.
func (r *Replayer) Kick() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Replayer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-r.notify:
		}
		n, err := r.ob.Replay(ctx, r.rc, r.owner)
		r.sent.Add(uint64(n))
		if err != nil && ctx.Err() == nil {
			obs.Logger.Warn("outbox_replay_stopped", "owner_id", r.owner, "error", err)
		}
	}
}
