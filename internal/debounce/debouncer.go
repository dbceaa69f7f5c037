package debounce

import (
	"sync"
	"time"
)

// Debouncer runs the most recently triggered func once the delay passes
// without another Trigger.
type Debouncer struct {
	sched Scheduler
	delay time.Duration

	mu      sync.Mutex
	idle    *sync.Cond
	timer   Timer
	fn      func()
	gen     uint64
	running int
}

func NewDebouncer(sched Scheduler, delay time.Duration) *Debouncer {
	if sched == nil {
		sched = Real{}
	}
	d := &Debouncer{sched: sched, delay: delay}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Trigger schedules fn, cancelling the pending call if there is one.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.fn = fn
	d.timer = d.sched.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.fn == nil {
		d.mu.Unlock()
		return
	}
	fn := d.take()
	d.mu.Unlock()
	d.run(fn)
}

// take clears the pending call and marks it running. d.mu must be held.
func (d *Debouncer) take() func() {
	fn := d.fn
	d.fn, d.timer = nil, nil
	d.gen++
	if fn != nil {
		d.running++
	}
	return fn
}

func (d *Debouncer) run(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		d.mu.Lock()
		d.running--
		d.idle.Broadcast()
		d.mu.Unlock()
	}()
	fn()
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.fn, d.timer = nil, nil
	d.gen++
	d.idle.Broadcast()
}

// Flush runs the pending call now, on the caller's goroutine.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	fn := d.take()
	d.mu.Unlock()
	d.run(fn)
}

// Pending reports whether a call is waiting for its delay.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}

// Wait blocks until no call is pending or running. With a Manual scheduler
// a pending call only fires on Advance, so Wait must not be used there.
func (d *Debouncer) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.fn != nil || d.running > 0 {
		d.idle.Wait()
	}
}
