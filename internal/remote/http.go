package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/cart-sync-simulator/internal/identity"
	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
)

// HTTPClient implements Cart over the backend REST API.
type HTTPClient struct {
	base   string
	hc     *http.Client
	tokens identity.TokenSource
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.hc = hc }
}

// WithTokenSource attaches a bearer token to every request when the source yields one.
func WithTokenSource(ts identity.TokenSource) Option {
	return func(c *HTTPClient) { c.tokens = ts }
}

// NewHTTPClient builds a client for baseURL. timeout bounds each request.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		base: strings.TrimRight(baseURL, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.tokens != nil {
		if tok := c.tokens(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, Status: resp.StatusCode}
		var eb errorBody
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb) == nil {
			se.Message = strings.TrimSpace(eb.Error + " " + eb.Details)
		}
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func cartPath(ownerID string, rest ...string) string {
	parts := []string{"/cart", url.PathEscape(ownerID)}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return strings.Join(parts, "/")
}

func (c *HTTPClient) Fetch(ctx context.Context, ownerID string) ([]model.CartLineItem, error) {
	var resp CartResponse
	if err := c.do(ctx, http.MethodGet, cartPath(ownerID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []model.CartLineItem{}
	}
	return resp.Items, nil
}

func (c *HTTPClient) Add(ctx context.Context, ownerID string, req AddRequest) error {
	return c.do(ctx, http.MethodPost, cartPath(ownerID, "add"), req, nil)
}

func (c *HTTPClient) Update(ctx context.Context, ownerID, variantID string, quantity int) error {
	return c.do(ctx, http.MethodPut, cartPath(ownerID, "item", variantID), UpdateRequest{Quantity: quantity}, nil)
}

func (c *HTTPClient) Remove(ctx context.Context, ownerID, variantID string) error {
	return c.do(ctx, http.MethodDelete, cartPath(ownerID, "item", variantID), nil, nil)
}

func (c *HTTPClient) Clear(ctx context.Context, ownerID string) error {
	return c.do(ctx, http.MethodDelete, cartPath(ownerID, "clear"), nil, nil)
}

// Product looks up a catalog entry. It is not part of Cart; callers use it to
// build the line they add locally.
func (c *HTTPClient) Product(ctx context.Context, id string) (model.Product, error) {
	var p model.Product
	if err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, &p); err != nil {
		return model.Product{}, err
	}
	return p, nil
}
