// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rcache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2)

	v, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	v, _ = c.Get(ctx, "a")
	assert.Equal(t, []byte("1"), v)

	// "b" is now the least recently used entry.
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))
	v, _ = c.Get(ctx, "b")
	assert.Nil(t, v)
	assert.Equal(t, 2, c.Len())
	assert.NotContains(t, c.keys, "b")
}

func TestLRUExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10)
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("v"), v)

	now = now.Add(time.Minute)
	v, _ = c.Get(ctx, "k")
	assert.Nil(t, v)
	assert.Equal(t, 0, c.Len())
}

func TestLRUDeletePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10)
	for _, k := range []string{"users:1", "users:2", "posts:1"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), 0))
	}
	require.NoError(t, c.DeletePrefix(ctx, TablePrefix("users")))
	v, _ := c.Get(ctx, "users:1")
	assert.Nil(t, v)
	v, _ = c.Get(ctx, "posts:1")
	assert.Equal(t, []byte("posts:1"), v)

	require.NoError(t, c.Delete(ctx, "posts:1"))
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Set(ctx, "x", []byte("x"), 0))
	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Len())
	require.NoError(t, c.Set(ctx, "y", []byte("y"), 0))
	assert.Equal(t, 1, c.Len())
}

func TestKey(t *testing.T) {
	k1, err := Key("users", "SELECT id FROM users WHERE id = ?", []any{int64(1)})
	require.NoError(t, err)
	k2, err := Key("users", "SELECT id FROM users WHERE id = ?", []any{int64(2)})
	require.NoError(t, err)
	k3, err := Key("users", "SELECT id FROM users WHERE id = ?", []any{int64(1)})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(k1, "users:"))
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, k1, k3)
}

type row struct {
	ID      int64
	Name    string
	Created time.Time
}

func TestEncodeDecode(t *testing.T) {
	in := make([]row, 50)
	for i := range in {
		in[i] = row{ID: int64(i), Name: strings.Repeat("n", 20), Created: time.Unix(int64(i), 0).UTC()}
	}
	b, err := Encode(in)
	require.NoError(t, err)

	var out []row
	require.NoError(t, Decode(b, &out))
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].ID, out[i].ID)
		assert.Equal(t, in[i].Name, out[i].Name)
		assert.True(t, in[i].Created.Equal(out[i].Created))
	}
}
