package httpapi

import (
	"expvar"
	"net/http"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart/{ownerId}", app.getCartHandler)
	mux.HandleFunc("POST /cart/{ownerId}/add", app.addItemHandler)
	mux.HandleFunc("PUT /cart/{ownerId}/item/{variantId}", app.updateItemHandler)
	mux.HandleFunc("DELETE /cart/{ownerId}/item/{variantId}", app.removeItemHandler)
	mux.HandleFunc("DELETE /cart/{ownerId}/clear", app.clearCartHandler)
	mux.HandleFunc("GET /products", app.listProductsHandler)
	mux.HandleFunc("GET /products/{id}", app.getProductHandler)
	mux.HandleFunc("PUT /products/{id}", app.putProductHandler)
	mux.HandleFunc("/healthz", app.healthHandler)
	mux.HandleFunc("/debug/metrics", app.metricsHandler)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/openapi.yaml", app.openapiHandler)
	mux.HandleFunc("/docs", app.docsHandler)
	return WithRequestID(WithLogging(WithAuth(app.Cfg.AuthSecret)(mux)))
}
