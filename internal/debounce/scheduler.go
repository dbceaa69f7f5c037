// Package debounce defers quantity commits behind a cancellable timer.
//
// Time comes from a Scheduler so the rollback path can be driven
// deterministically in tests with Manual.
package debounce

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled call that can be cancelled.
type Timer interface {
	// Stop prevents the call from running. It reports false if the call
	// already ran or was stopped.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Real schedules on the runtime timer.
type Real struct{}

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Manual is a Scheduler whose clock only moves on Advance. Due calls run on
// the goroutine calling Advance, in due order.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	timers map[*manualTimer]struct{}
}

type manualTimer struct {
	m   *Manual
	at  time.Duration
	seq uint64
	f   func()
}

func NewManual() *Manual {
	return &Manual{timers: make(map[*manualTimer]struct{})}
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, f: f}
	m.timers[t] = struct{}{}
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.timers[t]; !ok {
		return false
	}
	delete(t.m.timers, t)
	return true
}

// Advance moves the clock forward by d and runs every call that became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	now := m.now
	m.mu.Unlock()
	for {
		t := m.nextDue(now)
		if t == nil {
			return
		}
		t.f()
	}
}

func (m *Manual) nextDue(now time.Duration) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*manualTimer
	for t := range m.timers {
		if t.at <= now {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	delete(m.timers, due[0])
	return due[0]
}

// Pending returns the number of scheduled calls that have not run or been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}
