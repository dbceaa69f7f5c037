package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", []byte("v1")))
	require.NoError(t, s.Set(ctx, "k", []byte("v2")))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	type doc struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	require.NoError(t, SetJSON(ctx, s, "doc", doc{A: 1, B: "x"}))
	var got doc
	found, err := GetJSON(ctx, s, "doc", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, doc{A: 1, B: "x"}, got)

	require.NoError(t, s.Set(ctx, "bad", []byte("{")))
	found, err = GetJSON(ctx, s, "bad", &got)
	assert.True(t, found)
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemory())
}

func TestMemoryQuota(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithQuota(8))
	require.NoError(t, m.Set(ctx, "a", []byte("1234")))
	require.NoError(t, m.Set(ctx, "a", []byte("12345678")))
	assert.ErrorIs(t, m.Set(ctx, "b", []byte("1")), ErrQuotaExceeded)

	v, _, _ := m.Get(ctx, "a")
	assert.Equal(t, "12345678", string(v), "failed write must not change state")

	require.NoError(t, m.Delete(ctx, "a"))
	require.NoError(t, m.Set(ctx, "b", []byte("1")))
	m.SetQuota(0)
	require.NoError(t, m.Set(ctx, "c", make([]byte, 64)))
	assert.Equal(t, 2, m.Keys())
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'z'
	v, _, _ := m.Get(ctx, "k")
	v[1] = 'z'
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "local.db")
	s, err := OpenSQLite(path, "local_storage")
	require.NoError(t, err)
	defer s.Close()
	exercise(t, s)
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	s, err := OpenSQLite(path, "local_storage")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "cart", []byte(`{"items":[]}`)))

	session, err := NewSQLite(s.DB(), "session_storage")
	require.NoError(t, err)
	require.NoError(t, session.Set(ctx, "sel", []byte(`["a"]`)))
	require.NoError(t, session.Reset(ctx))
	require.NoError(t, session.Close())
	require.NoError(t, s.Close())

	s2, err := OpenSQLite(path, "local_storage")
	require.NoError(t, err)
	defer s2.Close()
	v, ok, err := s2.Get(ctx, "cart")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"items":[]}`, string(v))

	session2, err := NewSQLite(s2.DB(), "session_storage")
	require.NoError(t, err)
	_, ok, err = session2.Get(ctx, "sel")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteRejectsBadTable(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), "drop table;")
	assert.Error(t, err)
}
