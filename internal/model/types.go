// Package model defines domain types used by the cart engine and the simulator.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidLineItem is returned when a line item fails construction checks.
var ErrInvalidLineItem = errors.New("model: invalid line item")

// Product is the catalog view of a product at the moment it is added to a cart.
type Product struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name,omitempty" yaml:"name"`
	ImageURL string          `json:"imageUrl,omitempty" yaml:"image_url"`
	Price    decimal.Decimal `json:"price" yaml:"price"`
}

// VariantInfo carries the free-text variant descriptors of a line.
type VariantInfo struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
}

// LineKey is the composite identity of a line item inside one cart.
type LineKey struct {
	ID        string
	VariantID string
}

// lineSep joins the parts of a LineKey. Ids may not contain it.
const lineSep = ":"

func (k LineKey) String() string { return k.ID + lineSep + k.VariantID }

// ParseLineID splits a LineID back into its key.
func ParseLineID(s string) (LineKey, bool) {
	id, variant, ok := strings.Cut(s, lineSep)
	if !ok || id == "" || variant == "" || strings.Contains(variant, lineSep) {
		return LineKey{}, false
	}
	return LineKey{ID: id, VariantID: variant}, true
}

// CartLineItem is one row in the cart, keyed by (ID, VariantID).
type CartLineItem struct {
	ID        string          `json:"id"`
	VariantID string          `json:"variantId"`
	Name      string          `json:"name,omitempty"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`

	// Checked is the legacy per-line selection flag. Selection is tracked
	// by the selection overlay; this field only survives for old snapshots.
	Checked bool `json:"checked"`
}

// Key returns the composite key of the line.
func (it CartLineItem) Key() LineKey { return LineKey{ID: it.ID, VariantID: it.VariantID} }

// LineID is the string form of Key, used by selection sets and storage.
func (it CartLineItem) LineID() string { return it.Key().String() }

// TotalPrice is Quantity * UnitPrice.
func (it CartLineItem) TotalPrice() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Validate checks the invariants every stored line must satisfy.
func (it CartLineItem) Validate() error {
	switch {
	case strings.TrimSpace(it.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidLineItem)
	case strings.TrimSpace(it.VariantID) == "":
		return fmt.Errorf("%w: variantId is required", ErrInvalidLineItem)
	case strings.Contains(it.ID, lineSep) || strings.Contains(it.VariantID, lineSep):
		return fmt.Errorf("%w: id and variantId must not contain %q", ErrInvalidLineItem, lineSep)
	case it.Quantity < 1:
		return fmt.Errorf("%w: quantity must be >= 1", ErrInvalidLineItem)
	case it.UnitPrice.IsNegative():
		return fmt.Errorf("%w: unitPrice must be >= 0", ErrInvalidLineItem)
	}
	return nil
}

// NewLineItem builds a validated line item from a product and variant selection.
func NewLineItem(p Product, variantID string, qty int, info VariantInfo) (CartLineItem, error) {
	it := CartLineItem{
		ID:        strings.TrimSpace(p.ID),
		VariantID: strings.TrimSpace(variantID),
		Name:      p.Name,
		ImageURL:  p.ImageURL,
		Quantity:  qty,
		UnitPrice: p.Price,
		Size:      info.Size,
		Color:     info.Color,
	}
	if err := it.Validate(); err != nil {
		return CartLineItem{}, err
	}
	return it, nil
}

// CartSnapshot is the persisted unit. A nil OwnerID denotes a guest cart.
type CartSnapshot struct {
	OwnerID   *string        `json:"ownerId"`
	Items     []CartLineItem `json:"items"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Owner returns the owner id, or "" for a guest snapshot.
func (s CartSnapshot) Owner() string {
	if s.OwnerID == nil {
		return ""
	}
	return *s.OwnerID
}

// OwnerRef converts an owner id into the nullable form used by snapshots.
func OwnerRef(owner string) *string {
	if owner == "" {
		return nil
	}
	return &owner
}

// UserProfile is the current-user record kept in local storage.
type UserProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// UnmarshalJSON accepts the id either as a string or as a number.
func (u *UserProfile) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID    json.RawMessage `json:"id"`
		Name  string          `json:"name"`
		Email string          `json:"email"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	u.Name, u.Email = raw.Name, raw.Email
	u.ID = ""
	if len(raw.ID) == 0 || string(raw.ID) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		u.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err != nil {
		return fmt.Errorf("user profile id: %w", err)
	}
	u.ID = n.String()
	return nil
}

// Normalize drops invalid lines and merges duplicate keys, keeping first-seen order.
func Normalize(items []CartLineItem) []CartLineItem {
	out := make([]CartLineItem, 0, len(items))
	idx := make(map[LineKey]int, len(items))
	for _, it := range items {
		if it.Validate() != nil {
			continue
		}
		if i, ok := idx[it.Key()]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.Key()] = len(out)
		out = append(out, it)
	}
	return out
}

// Total sums TotalPrice over items.
func Total(items []CartLineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.TotalPrice())
	}
	return sum
}

// Clone returns an independent copy of items.
func Clone(items []CartLineItem) []CartLineItem {
	if items == nil {
		return []CartLineItem{}
	}
	out := make([]CartLineItem, len(items))
	copy(out, items)
	return out
}
