package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cart-sync-simulator/internal/cart"
	"github.com/fairyhunter13/cart-sync-simulator/internal/config"
	httpapi "github.com/fairyhunter13/cart-sync-simulator/internal/http"
	"github.com/fairyhunter13/cart-sync-simulator/internal/identity"
	"github.com/fairyhunter13/cart-sync-simulator/internal/kv"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/outbox"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote"
	"github.com/fairyhunter13/cart-sync-simulator/internal/selection"
	"github.com/fairyhunter13/cart-sync-simulator/internal/store"
)

const secret = "integration-secret"

type backend struct {
	url   string
	carts *store.Carts
	down  *atomic.Bool
}

// startBackend runs the simulator behind a switch that answers 503 while down.
func startBackend(t *testing.T, authSecret string) backend {
	t.Helper()
	cfg := config.Default()
	cfg.AuthSecret = authSecret
	catalog := store.NewCatalog()
	for _, p := range []model.Product{
		{ID: "A", Name: "Alpha", Price: decimal.NewFromInt(1000)},
		{ID: "B", Name: "Bravo", Price: decimal.NewFromInt(500)},
		{ID: "C", Name: "Charlie", Price: decimal.NewFromInt(200)},
	} {
		catalog.Upsert(p)
	}
	carts := store.NewCarts(catalog)
	h := httpapi.NewRouter(httpapi.NewApp(cfg, catalog, carts))
	down := &atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			httpapi.WriteJSONError(w, http.StatusServiceUnavailable, "unavailable", "")
			return
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return backend{url: srv.URL, carts: carts, down: down}
}

func localStorage(t *testing.T) *kv.SQLite {
	t.Helper()
	db, err := kv.OpenSQLite(filepath.Join(t.TempDir(), "cart.db"), "local_storage")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func product(t *testing.T, rc *remote.HTTPClient, id string) model.Product {
	t.Helper()
	p, err := rc.Product(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestIntegration_SignedInCartAndCheckout(t *testing.T) {
	ctx := context.Background()
	be := startBackend(t, secret)
	local := localStorage(t)
	tok, err := identity.IssueToken(secret, "42", time.Hour)
	require.NoError(t, err)
	require.NoError(t, local.Set(ctx, "token", []byte(tok)))

	rc := remote.NewHTTPClient(be.url, time.Second, remote.WithTokenSource(identity.StoredToken(local, "token")))
	s := cart.New(local, identity.FromToken(local, "token", secret), rc)
	s.Load(ctx)
	require.NoError(t, s.Err())
	assert.Equal(t, "42", s.Owner())

	require.True(t, s.AddItem(ctx, product(t, rc, "A"), "a1", 2, model.VariantInfo{Size: "M"}))
	s.Wait()
	require.True(t, s.AddItem(ctx, product(t, rc, "B"), "b1", 1, model.VariantInfo{}))
	s.Wait()
	require.True(t, s.AddItem(ctx, product(t, rc, "C"), "c1", 3, model.VariantInfo{}))
	s.Wait()
	require.True(t, s.AddItem(ctx, product(t, rc, "A"), "a1", 1, model.VariantInfo{}))
	s.Wait()

	remoteItems := be.carts.Get("42")
	require.Len(t, remoteItems, 3)
	assert.Equal(t, 3, remoteItems[0].Quantity, "remote add carries the increment")

	sel := selection.New(s, kv.NewMemory(), selection.DefaultKeys())
	defer sel.Close()
	sel.Toggle("A:a1")
	sel.Toggle("C:c1")
	co, err := sel.PrepareCheckout(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, co.Count)
	assert.True(t, co.Total.Equal(decimal.NewFromInt(3600)), "got %s", co.Total)

	require.True(t, s.RemoveItem(ctx, "A", "a1"))
	s.Wait()
	assert.Equal(t, []string{"C:c1"}, sel.SelectedIDs())
	assert.Len(t, be.carts.Get("42"), 2)

	// a second device sees the same cart
	other := cart.New(localStorage(t), identity.FromToken(local, "token", secret), rc)
	other.Load(ctx)
	require.NoError(t, other.Err())
	assert.Equal(t, 2, other.Count())
	assert.True(t, other.Total().Equal(decimal.NewFromInt(1100)))
}

func TestIntegration_FreshOwnerLoadsRemote(t *testing.T) {
	ctx := context.Background()
	be := startBackend(t, "")
	_, err := be.carts.Add("42", "B", "b1", 2)
	require.NoError(t, err)

	local := localStorage(t)
	stale := model.CartSnapshot{OwnerID: model.OwnerRef("7"), Items: []model.CartLineItem{{ID: "A", VariantID: "a1", Quantity: 9, UnitPrice: decimal.NewFromInt(1000)}}}
	require.NoError(t, kv.SetJSON(ctx, local, cart.DefaultKey, stale))

	rc := remote.NewHTTPClient(be.url, time.Second)
	s := cart.New(local, identity.Static("42"), rc)
	s.Load(ctx)
	require.NoError(t, s.Err())
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "B", items[0].ID)

	var snap model.CartSnapshot
	found, err := kv.GetJSON(ctx, local, cart.DefaultKey, &snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "42", snap.Owner())
}

func TestIntegration_OfflineEditsReplay(t *testing.T) {
	ctx := context.Background()
	be := startBackend(t, "")
	local := localStorage(t)
	rc := remote.NewHTTPClient(be.url, time.Second)
	ob := outbox.New(local, "cart.outbox", 5)
	s := cart.New(local, identity.Static("42"), rc, cart.WithOutbox(ob))
	s.Load(ctx)

	be.down.Store(true)
	require.True(t, s.AddItem(ctx, model.Product{ID: "A", Price: decimal.NewFromInt(1000)}, "a1", 2, model.VariantInfo{}))
	s.Wait()
	require.True(t, s.UpdateQuantity(ctx, "A", "a1", 5))
	s.Wait()
	assert.Equal(t, 5, s.Units(), "local state is authoritative while offline")
	n, err := ob.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, be.carts.Get("42"))

	be.down.Store(false)
	r := outbox.NewReplayer(ob, rc, time.Hour)
	r.Start(ctx)
	defer r.Stop()
	r.Kick()
	require.Eventually(t, func() bool {
		n, _ := ob.Len(ctx)
		return n == 0
	}, 3*time.Second, 20*time.Millisecond)
	items := be.carts.Get("42")
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestIntegration_ForbiddenOwnerIsNotQueued(t *testing.T) {
	ctx := context.Background()
	be := startBackend(t, secret)
	local := localStorage(t)
	tok, err := identity.IssueToken(secret, "7", time.Hour)
	require.NoError(t, err)
	rc := remote.NewHTTPClient(be.url, time.Second, remote.WithTokenSource(func(context.Context) string { return tok }))
	ob := outbox.New(local, "cart.outbox", 5)
	s := cart.New(local, identity.Static("42"), rc, cart.WithOutbox(ob))
	s.Load(ctx)
	assert.ErrorIs(t, s.Err(), cart.ErrInitialization)

	require.True(t, s.AddItem(ctx, model.Product{ID: "A", Price: decimal.NewFromInt(1000)}, "a1", 1, model.VariantInfo{}))
	s.Wait()
	n, err := ob.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "403 is permanent and must not be retried")
	assert.Equal(t, 1, s.Count())
}
