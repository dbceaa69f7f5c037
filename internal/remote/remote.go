// Package remote talks to the backend cart service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
)

// AddRequest is the body of POST /cart/{ownerId}/add.
type AddRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// UpdateRequest is the body of PUT /cart/{ownerId}/item/{variantId}.
type UpdateRequest struct {
	Quantity int `json:"quantity"`
}

// CartResponse is the body of GET /cart/{ownerId}.
type CartResponse struct {
	Items []model.CartLineItem `json:"items"`
}

// Cart is the authoritative remote cart.
type Cart interface {
	Fetch(ctx context.Context, ownerID string) ([]model.CartLineItem, error)
	Add(ctx context.Context, ownerID string, req AddRequest) error
	Update(ctx context.Context, ownerID, variantID string, quantity int) error
	Remove(ctx context.Context, ownerID, variantID string) error
	Clear(ctx context.Context, ownerID string) error
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// IsPermanent reports whether retrying err cannot succeed (4xx except 408 and 429).
func IsPermanent(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Status == http.StatusRequestTimeout || se.Status == http.StatusTooManyRequests {
		return false
	}
	return se.Status >= 400 && se.Status < 500
}
