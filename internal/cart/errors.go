package cart

import "errors"

var (
	// ErrInitialization marks a failed remote fetch during Load. Load recovers
	// from it and exposes it through Store.Err.
	ErrInitialization = errors.New("cart: initialization failed")
	// ErrRemoteSync marks a failed best-effort remote call.
	ErrRemoteSync = errors.New("cart: remote sync failed")
	// ErrValidation marks a mutation rejected at the construction boundary.
	ErrValidation = errors.New("cart: invalid mutation")
	// ErrLocalWrite marks a failed write to local storage.
	ErrLocalWrite = errors.New("cart: local write failed")
)
