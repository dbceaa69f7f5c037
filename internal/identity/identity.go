// Package identity resolves who owns the cart being edited.
package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/fairyhunter13/cart-sync-simulator/internal/kv"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
	"github.com/fairyhunter13/cart-sync-simulator/internal/obs"
)

// Provider reports the signed-in owner. ok is false for a guest.
type Provider interface {
	CurrentOwner(ctx context.Context) (ownerID string, ok bool)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, bool)

func (f ProviderFunc) CurrentOwner(ctx context.Context) (string, bool) { return f(ctx) }

// Static returns a Provider with a fixed owner. An empty id is a guest.
func Static(ownerID string) Provider {
	return ProviderFunc(func(context.Context) (string, bool) {
		return ownerID, ownerID != ""
	})
}

type storageProvider struct {
	store kv.Store
	key   string
}

// FromStorage reads the current-user profile JSON stored under key.
func FromStorage(store kv.Store, key string) Provider {
	return &storageProvider{store: store, key: key}
}

func (p *storageProvider) CurrentOwner(ctx context.Context) (string, bool) {
	var u model.UserProfile
	found, err := kv.GetJSON(ctx, p.store, p.key, &u)
	if err != nil {
		obs.Logger.Warn("identity_profile_unreadable", "key", p.key, "error", err)
		return "", false
	}
	if !found || strings.TrimSpace(u.ID) == "" {
		return "", false
	}
	return u.ID, true
}

// SignIn stores profile as the current user.
func SignIn(ctx context.Context, store kv.Store, key string, profile model.UserProfile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return errors.New("identity: profile id is required")
	}
	return kv.SetJSON(ctx, store, key, profile)
}

// SignOut deletes the given keys (profile, token, ...).
func SignOut(ctx context.Context, store kv.Store, keys ...string) error {
	var errs []error
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := store.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
