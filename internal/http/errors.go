// Package httpapi exposes the simulated backend cart service over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/remote"
)

// jsonError represents a JSON error payload.
type jsonError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeItems answers with the cart body shared by every cart endpoint.
// A missing cart is an empty list, never null.
func writeItems(w http.ResponseWriter, items []model.CartLineItem) {
	if items == nil {
		items = []model.CartLineItem{}
	}
	writeJSON(w, http.StatusOK, remote.CartResponse{Items: items})
}
