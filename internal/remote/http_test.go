package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cart-sync-simulator/internal/model"
)

type seen struct {
	Method string
	Path   string
	Body   map[string]any
	Auth   string
	ReqID  string
}

func recordingServer(t *testing.T, status int, reply any) (*httptest.Server, *[]seen) {
	t.Helper()
	var mu sync.Mutex
	var calls []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := seen{Method: r.Method, Path: r.URL.EscapedPath(), Auth: r.Header.Get("Authorization"), ReqID: r.Header.Get("X-Request-Id")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&s.Body)
		}
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if reply != nil {
			_ = json.NewEncoder(w).Encode(reply)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestHTTPClientRoutes(t *testing.T) {
	srv, calls := recordingServer(t, http.StatusOK, map[string]any{})
	c := NewHTTPClient(srv.URL+"/", time.Second, WithTokenSource(func(context.Context) string { return "tok" }))
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, "42", AddRequest{ProductID: "p1", VariantID: "v1", Quantity: 2}))
	require.NoError(t, c.Update(ctx, "42", "v 1", 3))
	require.NoError(t, c.Remove(ctx, "42", "v1"))
	require.NoError(t, c.Clear(ctx, "42"))

	got := *calls
	require.Len(t, got, 4)
	assert.Equal(t, "POST", got[0].Method)
	assert.Equal(t, "/cart/42/add", got[0].Path)
	assert.Equal(t, map[string]any{"productId": "p1", "variantId": "v1", "quantity": float64(2)}, got[0].Body)
	assert.Equal(t, "PUT", got[1].Method)
	assert.Equal(t, "/cart/42/item/v%201", got[1].Path)
	assert.Equal(t, float64(3), got[1].Body["quantity"])
	assert.Equal(t, "DELETE", got[2].Method)
	assert.Equal(t, "/cart/42/item/v1", got[2].Path)
	assert.Equal(t, "/cart/42/clear", got[3].Path)
	for _, s := range got {
		assert.Equal(t, "Bearer tok", s.Auth)
		assert.NotEmpty(t, s.ReqID)
	}
}

func TestHTTPClientFetch(t *testing.T) {
	reply := CartResponse{Items: []model.CartLineItem{
		{ID: "p1", VariantID: "v1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.50")},
	}}
	srv, calls := recordingServer(t, http.StatusOK, reply)
	c := NewHTTPClient(srv.URL, time.Second)

	items, err := c.Fetch(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "p1:v1", items[0].LineID())
	assert.True(t, items[0].UnitPrice.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "/cart/7", (*calls)[0].Path)
	assert.Empty(t, (*calls)[0].Auth)
}

func TestHTTPClientEmptyFetch(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusOK, map[string]any{"items": nil})
	items, err := NewHTTPClient(srv.URL, time.Second).Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestHTTPClientStatusErrors(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusNotFound, map[string]string{"error": "not_found", "details": "no line"})
	err := NewHTTPClient(srv.URL, time.Second).Update(context.Background(), "1", "v", 2)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "not_found no line", se.Message)
	assert.True(t, IsPermanent(err))

	srv2, _ := recordingServer(t, http.StatusServiceUnavailable, nil)
	err = NewHTTPClient(srv2.URL, time.Second).Clear(context.Background(), "1")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	assert.False(t, IsPermanent(&StatusError{Status: http.StatusTooManyRequests}))
	assert.False(t, IsPermanent(errors.New("dial tcp: refused")))
}

func TestHTTPClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	err := NewHTTPClient(url, 200*time.Millisecond).Clear(context.Background(), "1")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHTTPClientCustomTransport(t *testing.T) {
	offline := errors.New("offline")
	var paths []string
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.URL.Path)
		return nil, offline
	})}
	c := NewHTTPClient("http://backend.invalid", time.Second, WithHTTPClient(hc))

	err := c.Remove(context.Background(), "42", "a1")
	require.ErrorIs(t, err, offline)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, []string{"/cart/42/item/a1"}, paths)
}

func TestHTTPClientProduct(t *testing.T) {
	srv, calls := recordingServer(t, http.StatusOK, model.Product{ID: "A", Name: "Alpha", Price: decimal.NewFromInt(1000)})
	c := NewHTTPClient(srv.URL, time.Second)
	p, err := c.Product(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", p.Name)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "/products/A", (*calls)[0].Path)

	missing, _ := recordingServer(t, http.StatusNotFound, map[string]string{"error": "not_found"})
	_, err = NewHTTPClient(missing.URL, time.Second).Product(context.Background(), "Z")
	assert.True(t, IsPermanent(err))
}
