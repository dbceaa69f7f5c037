package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cart-sync-simulator/internal/config"
	httpapi "github.com/fairyhunter13/cart-sync-simulator/internal/http"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/selection"
	"github.com/fairyhunter13/cart-sync-simulator/internal/store"
)

func setupCLI(t *testing.T) *store.Carts {
	t.Helper()
	catalog := store.NewCatalog()
	catalog.Upsert(model.Product{ID: "A", Name: "Alpha", Price: decimal.NewFromInt(1000)})
	catalog.Upsert(model.Product{ID: "C", Name: "Charlie", Price: decimal.NewFromInt(200)})
	carts := store.NewCarts(catalog)
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.NewApp(config.Default(), catalog, carts)))
	t.Cleanup(srv.Close)

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DOTENV_FILE", filepath.Join(t.TempDir(), "none.env"))
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATA_PATH", filepath.Join(t.TempDir(), "cart.db"))
	t.Setenv("BACKEND_URL", srv.URL)
	t.Setenv("DEBOUNCE_MS", "20")
	return carts
}

func deadBackend(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	addName, addPrice, addSize, addColor = "", "", "", ""
	checkoutComplete = false
	syncWatch, syncFor = false, 0
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "%v: %s", args, out.String())
	return out.String()
}

func TestCLIGuestCartIsLocal(t *testing.T) {
	carts := setupCLI(t)
	out := run(t, "cart", "add", "X", "x1", "2", "--price", "150", "--name", "Offline")
	assert.Contains(t, out, "owner=guest lines=1 units=2 total=300.00")
	out = run(t, "cart", "update", "X", "x1", "5")
	assert.Contains(t, out, "units=5")
	c, _ := carts.Stats()
	assert.Equal(t, 0, c, "guest carts never reach the backend")
}

func TestCLISignedInFlow(t *testing.T) {
	carts := setupCLI(t)
	assert.Contains(t, run(t, "login", "42", "--name", "Ann"), "signed in as 42")

	run(t, "cart", "add", "A", "a1", "2")
	run(t, "cart", "add", "C", "c1", "3")
	remote := carts.Get("42")
	require.Len(t, remote, 2)
	assert.Equal(t, 2, remote[0].Quantity)

	out := run(t, "select", "toggle", "A:a1", "C:c1")
	assert.Contains(t, out, "selected=2 selected_total=2600.00")

	// selection survives across invocations and is pruned on removal
	out = run(t, "cart", "remove", "A", "a1")
	assert.Contains(t, out, "lines=1")
	out = run(t, "select", "show")
	assert.Contains(t, out, "selected=1 selected_total=600.00")

	out = run(t, "cart", "edit", "C", "c1", "5", "1")
	assert.Contains(t, out, "confirmed=1")
	assert.Equal(t, 1, carts.Get("42")[0].Quantity)

	out = run(t, "checkout", "--complete")
	var co selection.Checkout
	require.NoError(t, json.NewDecoder(strings.NewReader(out)).Decode(&co))
	assert.Equal(t, 1, co.Count)
	assert.True(t, co.Total.Equal(decimal.NewFromInt(200)))
	assert.Empty(t, carts.Get("42"), "purchased lines are removed remotely too")

	assert.Contains(t, run(t, "logout"), "signed out")
	assert.Contains(t, run(t, "cart", "load"), "owner=guest")
}

func TestCLIOfflineEditsReplayOnNextRun(t *testing.T) {
	carts := setupCLI(t)
	live := os.Getenv("BACKEND_URL")
	t.Setenv("OUTBOX_REPLAY_INTERVAL_MS", "20")
	run(t, "login", "42")

	t.Setenv("BACKEND_URL", deadBackend(t))
	out := run(t, "cart", "add", "A", "a1", "2", "--price", "1000", "--name", "Alpha")
	assert.Contains(t, out, "owner=42 lines=1 units=2")
	assert.Empty(t, carts.Get("42"))

	t.Setenv("BACKEND_URL", live)
	run(t, "cart", "list")
	remote := carts.Get("42")
	require.Len(t, remote, 1, "queued add is sent by the next load")
	assert.Equal(t, 2, remote[0].Quantity)

	out = run(t, "cart", "sync", "--watch", "--for", "100ms")
	assert.Contains(t, out, "pending=0")
	assert.Len(t, carts.Get("42"), 1, "nothing is replayed twice")
}
