package debounce

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fairyhunter13/cart-sync-simulator/internal/cart"
	"github.com/fairyhunter13/cart-sync-simulator/internal/identity"
	"github.com/fairyhunter13/cart-sync-simulator/internal/kv"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote/remotetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const delay = 500 * time.Millisecond

var lineA = model.CartLineItem{ID: "A", VariantID: "a1", Name: "Alpha", Quantity: 3, UnitPrice: decimal.NewFromInt(1000)}

func loadedStore(t *testing.T) (*cart.Store, *remotetest.Fake) {
	t.Helper()
	ctx := context.Background()
	local := kv.NewMemory()
	snap := model.CartSnapshot{OwnerID: model.OwnerRef("42"), Items: []model.CartLineItem{lineA}}
	require.NoError(t, kv.SetJSON(ctx, local, cart.DefaultKey, snap))
	rc := remotetest.New()
	rc.Seed("42", lineA)
	s := cart.New(local, identity.Static("42"), rc)
	t.Cleanup(s.Wait)
	s.Load(ctx)
	require.NoError(t, s.Err())
	return s, rc
}

func TestManualRunsDueCallsInOrder(t *testing.T) {
	m := NewManual()
	var got []int
	m.AfterFunc(20*time.Millisecond, func() { got = append(got, 2) })
	m.AfterFunc(10*time.Millisecond, func() { got = append(got, 1) })
	stopped := m.AfterFunc(15*time.Millisecond, func() { got = append(got, 99) })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	m.Advance(10 * time.Millisecond)
	assert.Equal(t, []int{1}, got)
	m.Advance(10 * time.Millisecond)
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 0, m.Pending())
}

func TestDebouncerKeepsLatest(t *testing.T) {
	m := NewManual()
	d := NewDebouncer(m, delay)
	var got []string
	d.Trigger(func() { got = append(got, "first") })
	m.Advance(delay - time.Millisecond)
	d.Trigger(func() { got = append(got, "second") })
	m.Advance(delay - time.Millisecond)
	assert.Empty(t, got)
	assert.True(t, d.Pending())
	m.Advance(time.Millisecond)
	assert.Equal(t, []string{"second"}, got)
	assert.False(t, d.Pending())
}

func TestDebouncerCancelAndFlush(t *testing.T) {
	m := NewManual()
	d := NewDebouncer(m, delay)
	calls := 0
	d.Trigger(func() { calls++ })
	d.Cancel()
	m.Advance(delay)
	assert.Equal(t, 0, calls)

	d.Trigger(func() { calls++ })
	d.Flush()
	assert.Equal(t, 1, calls)
	m.Advance(delay)
	assert.Equal(t, 1, calls, "flushed call must not run again")
	d.Flush()
	assert.Equal(t, 1, calls)
}

func TestDebouncerRealScheduler(t *testing.T) {
	d := NewDebouncer(Real{}, 10*time.Millisecond)
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		d.Trigger(func() { n.Add(1) })
	}
	d.Wait()
	assert.Equal(t, int32(1), n.Load())
	assert.False(t, d.Pending())
}

func TestEditorCoalescesEdits(t *testing.T) {
	s, rc := loadedStore(t)
	m := NewManual()
	e := NewQuantityEditor(context.Background(), s, lineA, m, delay)

	e.Edit(5)
	assert.Equal(t, 5, e.Displayed())
	m.Advance(200 * time.Millisecond)
	e.Edit(1)
	assert.Equal(t, 1, e.Displayed())
	m.Advance(delay - time.Millisecond)
	assert.Empty(t, rc.CallsTo("Update"))

	m.Advance(time.Millisecond)
	updates := rc.CallsTo("Update")
	require.Len(t, updates, 1)
	assert.Equal(t, 1, updates[0].Quantity)
	assert.Equal(t, "a1", updates[0].VariantID)
	assert.Equal(t, 1, e.Confirmed())
	assert.NoError(t, e.Err())

	it, ok := s.Item("A", "a1")
	require.True(t, ok)
	assert.Equal(t, 1, it.Quantity)
}

func TestEditorRollsBackOnFailure(t *testing.T) {
	s, rc := loadedStore(t)
	rc.FailOn("Update", errors.New("boom"))
	m := NewManual()
	var seen []int
	e := NewQuantityEditor(context.Background(), s, lineA, m, delay, OnChange(func(d int, _ error) { seen = append(seen, d) }))

	e.Edit(5)
	e.Edit(1)
	m.Advance(delay)

	require.Len(t, rc.CallsTo("Update"), 1)
	assert.Equal(t, 3, e.Displayed())
	assert.Equal(t, 3, e.Confirmed())
	assert.ErrorIs(t, e.Err(), ErrRolledBack)
	assert.Equal(t, []int{5, 1, 3}, seen)

	it, ok := s.Item("A", "a1")
	require.True(t, ok)
	assert.Equal(t, 3, it.Quantity, "cart line should be restored")

	rc.FailOn("Update", nil)
	e.Edit(4)
	assert.NoError(t, e.Err(), "a new edit clears the inline error")
	e.Flush()
	assert.Equal(t, 4, e.Confirmed())
}

type scriptedCommitter struct {
	results  []error
	calls    []int
	restored []model.CartLineItem
	before   func(n int)
}

func (c *scriptedCommitter) CommitQuantity(_ context.Context, _, _ string, qty int) error {
	c.calls = append(c.calls, qty)
	n := len(c.calls)
	if c.before != nil {
		c.before(n)
	}
	return c.results[n-1]
}

func (c *scriptedCommitter) Restore(_ context.Context, item model.CartLineItem) bool {
	c.restored = append(c.restored, item)
	return true
}

func TestEditorSupersededFailureKeepsNewerEdit(t *testing.T) {
	m := NewManual()
	c := &scriptedCommitter{results: []error{errors.New("late failure"), nil}}
	e := NewQuantityEditor(context.Background(), c, lineA, m, delay)
	c.before = func(n int) {
		if n == 1 {
			// the user keeps typing while the first commit is in flight
			e.Edit(7)
		}
	}

	e.Edit(5)
	m.Advance(delay)
	assert.Equal(t, 7, e.Displayed())
	assert.NoError(t, e.Err())
	assert.Empty(t, c.restored)

	m.Advance(delay)
	assert.Equal(t, []int{5, 7}, c.calls)
	assert.Equal(t, 7, e.Confirmed())
}

func TestEditorCloseDropsPendingEdit(t *testing.T) {
	m := NewManual()
	c := &scriptedCommitter{}
	e := NewQuantityEditor(context.Background(), c, lineA, m, delay)
	e.Edit(9)
	assert.True(t, e.Pending())
	e.Close()
	m.Advance(delay)
	assert.Empty(t, c.calls)
}
