package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/cart-sync-simulator/internal/config"
	httpopenapi "github.com/fairyhunter13/cart-sync-simulator/internal/http/openapi"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote"
	"github.com/fairyhunter13/cart-sync-simulator/internal/store"
)

// App serves the backend cart contract the client engine syncs against.
type App struct {
	Cfg     config.Config
	Catalog *store.Catalog
	Carts   *store.Carts

	closing   atomic.Bool
	started   time.Time
	mutations atomic.Uint64
	rejected  atomic.Uint64
}

func NewApp(cfg config.Config, catalog *store.Catalog, carts *store.Carts) *App {
	return &App{Cfg: cfg, Catalog: catalog, Carts: carts, started: time.Now()}
}

// StartShutdown makes mutating endpoints answer 503 while in-flight requests drain.
func (a *App) StartShutdown() { a.closing.Store(true) }

// decodeJSON enforces the JSON content type and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

// mutating reports false and answers 503 once shutdown has started.
func (a *App) mutating(w http.ResponseWriter) bool {
	if a.closing.Load() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return false
	}
	return true
}

func (a *App) reject(w http.ResponseWriter, status int, message, details string) {
	a.rejected.Add(1)
	WriteJSONError(w, status, message, details)
}

func (a *App) getCartHandler(w http.ResponseWriter, r *http.Request) {
	writeItems(w, a.Carts.Get(r.PathValue("ownerId")))
}

func (a *App) addItemHandler(w http.ResponseWriter, r *http.Request) {
	if !a.mutating(w) {
		return
	}
	var req remote.AddRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" || strings.TrimSpace(req.VariantID) == "" {
		a.reject(w, http.StatusBadRequest, "validation_error", "productId and variantId are required")
		return
	}
	owner := r.PathValue("ownerId")
	items, err := a.Carts.Add(owner, req.ProductID, req.VariantID, req.Quantity)
	switch {
	case errors.Is(err, store.ErrUnknownProduct):
		a.reject(w, http.StatusNotFound, "unknown_product", req.ProductID)
		return
	case err != nil:
		a.reject(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	a.mutations.Add(1)
	obs.Logger.Info("cart_item_added",
		"request_id", RequestIDFromContext(r.Context()),
		"subject", SubjectFromContext(r.Context()),
		"owner_id", owner,
		"product_id", req.ProductID,
		"variant_id", req.VariantID,
		"quantity", req.Quantity,
	)
	writeItems(w, items)
}

func (a *App) updateItemHandler(w http.ResponseWriter, r *http.Request) {
	if !a.mutating(w) {
		return
	}
	var req remote.UpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	owner, variant := r.PathValue("ownerId"), r.PathValue("variantId")
	items, err := a.Carts.SetQuantity(owner, variant, req.Quantity)
	if errors.Is(err, store.ErrNotFound) {
		a.reject(w, http.StatusNotFound, "not_found", "variant "+variant)
		return
	}
	a.mutations.Add(1)
	obs.Logger.Info("cart_item_updated",
		"request_id", RequestIDFromContext(r.Context()),
		"subject", SubjectFromContext(r.Context()),
		"owner_id", owner,
		"variant_id", variant,
		"quantity", req.Quantity,
	)
	writeItems(w, items)
}

func (a *App) removeItemHandler(w http.ResponseWriter, r *http.Request) {
	if !a.mutating(w) {
		return
	}
	owner, variant := r.PathValue("ownerId"), r.PathValue("variantId")
	items := a.Carts.Remove(owner, variant)
	a.mutations.Add(1)
	obs.Logger.Info("cart_item_removed", "request_id", RequestIDFromContext(r.Context()), "subject", SubjectFromContext(r.Context()), "owner_id", owner, "variant_id", variant)
	writeItems(w, items)
}

func (a *App) clearCartHandler(w http.ResponseWriter, r *http.Request) {
	if !a.mutating(w) {
		return
	}
	owner := r.PathValue("ownerId")
	a.Carts.Clear(owner)
	a.mutations.Add(1)
	obs.Logger.Info("cart_cleared", "request_id", RequestIDFromContext(r.Context()), "subject", SubjectFromContext(r.Context()), "owner_id", owner)
	writeItems(w, nil)
}

func (a *App) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"products": a.Catalog.List()})
}

func (a *App) getProductHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := a.Catalog.Get(r.PathValue("id"))
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *App) putProductHandler(w http.ResponseWriter, r *http.Request) {
	if !a.mutating(w) {
		return
	}
	var patch store.ProductPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if patch.Price != nil && patch.Price.IsNegative() {
		a.reject(w, http.StatusBadRequest, "validation_error", "price must be >= 0")
		return
	}
	id := r.PathValue("id")
	p, applied := a.Catalog.Apply(id, patch)
	if !applied {
		a.reject(w, http.StatusConflict, "stale_sequence", "")
		return
	}
	obs.Logger.Info("product_updated", "request_id", RequestIDFromContext(r.Context()), "product_id", id, "sequence", patch.Sequence)
	writeJSON(w, http.StatusOK, p)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if a.closing.Load() {
		status = "shutting_down"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (a *App) metricsHandler(w http.ResponseWriter, r *http.Request) {
	carts, lines := a.Carts.Stats()
	m := map[string]any{
		"carts":              carts,
		"cart_lines":         lines,
		"products":           a.Catalog.Len(),
		"mutations_applied":  a.mutations.Load(),
		"mutations_rejected": a.rejected.Load(),
		"uptime_sec":         time.Since(a.started).Seconds(),
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *App) openapiHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(httpopenapi.YAML)
}

func (a *App) docsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	html := `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Cart API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui'
      });
    </script>
  </body>
</html>`
	_, _ = w.Write([]byte(html))
}
