// Package store holds the simulator's authoritative state: the product
// catalog and one cart per owner.
package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrUnknownProduct  = errors.New("store: unknown product")
	ErrInvalidQuantity = errors.New("store: quantity must be >= 1")
)

// ProductPatch is a partial product update. Nil fields are left unchanged.
// A zero Sequence takes the next one; an explicit Sequence not newer than the
// last applied one is ignored.
type ProductPatch struct {
	Name     *string          `json:"name,omitempty"`
	ImageURL *string          `json:"imageUrl,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Sequence uint64           `json:"sequence,omitempty"`
}

type productState struct {
	p            model.Product
	lastSequence uint64
}

type Catalog struct {
	mu  sync.RWMutex
	m   map[string]productState
	seq uint64
}

func NewCatalog() *Catalog {
	return &Catalog{m: make(map[string]productState)}
}

func (c *Catalog) Get(id string) (model.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.m[id]
	if !ok {
		return model.Product{}, false
	}
	return st.p, true
}

// Upsert replaces the product with the same id.
func (c *Catalog) Upsert(p model.Product) {
	if p.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.m[p.ID] = productState{p: p, lastSequence: c.seq}
}

// Apply merges patch into product id, creating it when missing. It reports
// false when the patch was stale.
func (c *Catalog) Apply(id string, patch ProductPatch) (model.Product, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := patch.Sequence
	if seq == 0 {
		seq = c.seq + 1
	}
	st, ok := c.m[id]
	if ok && seq <= st.lastSequence {
		return st.p, false
	}
	if !ok {
		st.p = model.Product{ID: id}
	}
	if patch.Name != nil {
		st.p.Name = *patch.Name
	}
	if patch.ImageURL != nil {
		st.p.ImageURL = *patch.ImageURL
	}
	if patch.Price != nil {
		st.p.Price = *patch.Price
	}
	st.lastSequence = seq
	if seq > c.seq {
		c.seq = seq
	}
	c.m[id] = st
	return st.p, true
}

func (c *Catalog) List() []model.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Product, 0, len(c.m))
	for _, st := range c.m {
		out = append(out, st.p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

type catalogFile struct {
	Products []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		ImageURL string `yaml:"image_url"`
		Price    string `yaml:"price"`
	} `yaml:"products"`
}

// LoadYAML seeds the catalog from a file of the form
//
//	products:
//	  - id: A
//	    name: Alpha
//	    price: "1000"
//
// and returns the number of products loaded.
func (c *Catalog) LoadYAML(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("parse catalog: %w", err)
	}
	for i, p := range f.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return i, fmt.Errorf("catalog entry %d: id is required", i)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(p.Price))
		if err != nil {
			return i, fmt.Errorf("catalog entry %s: price: %w", id, err)
		}
		c.Upsert(model.Product{ID: id, Name: p.Name, ImageURL: p.ImageURL, Price: price})
	}
	return len(f.Products), nil
}

// Carts is the authoritative cart per owner.
type Carts struct {
	catalog *Catalog

	mu sync.RWMutex
	m  map[string][]model.CartLineItem
}

func NewCarts(catalog *Catalog) *Carts {
	return &Carts{catalog: catalog, m: make(map[string][]model.CartLineItem)}
}

// Get returns a copy of owner's lines. Unknown owners have an empty cart.
func (s *Carts) Get(owner string) []model.CartLineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Clone(s.m[owner])
}

// Add increments the (productID, variantID) line by qty, creating it from the
// catalog entry when missing.
func (s *Carts) Add(owner, productID, variantID string, qty int) ([]model.CartLineItem, error) {
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	p, ok := s.catalog.Get(productID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	line, err := model.NewLineItem(p, variantID, qty, model.VariantInfo{})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.m[owner]
	for i := range items {
		if items[i].Key() == line.Key() {
			items[i].Quantity += qty
			return model.Clone(items), nil
		}
	}
	s.m[owner] = append(items, line)
	return model.Clone(s.m[owner]), nil
}

// SetQuantity sets every line of owner with variantID to qty. qty < 1
// removes them.
func (s *Carts) SetQuantity(owner, variantID string, qty int) ([]model.CartLineItem, error) {
	if qty < 1 {
		return s.Remove(owner, variantID), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.m[owner]
	found := false
	for i := range items {
		if items[i].VariantID == variantID {
			items[i].Quantity = qty
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: variant %s", ErrNotFound, variantID)
	}
	return model.Clone(items), nil
}

// Remove drops owner's lines with variantID. Removing a missing line is fine.
func (s *Carts) Remove(owner, variantID string) []model.CartLineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.m[owner]
	kept := items[:0]
	for _, it := range items {
		if it.VariantID != variantID {
			kept = append(kept, it)
		}
	}
	s.m[owner] = kept
	return model.Clone(kept)
}

func (s *Carts) Clear(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, owner)
}

// Stats returns the number of non-empty carts and the number of lines across them.
func (s *Carts) Stats() (carts, lines int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, items := range s.m {
		if len(items) > 0 {
			carts++
			lines += len(items)
		}
	}
	return carts, lines
}
