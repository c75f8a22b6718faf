// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_BasicOperations(t *testing.T) {
	cache := New[string, string](time.Minute)
	defer cache.Close()

	cache.Set("key1", "value1")
	value, found := cache.Get("key1")
	require.True(t, found)
	assert.Equal(t, "value1", value)

	_, found = cache.Get("nonexistent")
	assert.False(t, found)

	cache.Set("key2", "value2")
	assert.Equal(t, 2, cache.Size())

	cache.Delete("key1")
	_, found = cache.Get("key1")
	assert.False(t, found)
	assert.Equal(t, 1, cache.Size())

	cache.Clear()
	assert.Equal(t, 0, cache.Size())
}

func TestCache_SetResetsTTL(t *testing.T) {
	cache := New[string, int](time.Minute)
	defer cache.Close()

	cache.Set("key", 1)
	cache.Set("key", 2)

	value, found := cache.Get("key")
	require.True(t, found)
	assert.Equal(t, 2, value)
	assert.Equal(t, 1, cache.Size())
}

func TestCache_TTL(t *testing.T) {
	cache := New[string, string](100 * time.Millisecond)
	defer cache.Close()

	cache.Set("key1", "value1")

	value, found := cache.Get("key1")
	require.True(t, found)
	assert.Equal(t, "value1", value)

	time.Sleep(150 * time.Millisecond)

	_, found = cache.Get("key1")
	assert.False(t, found)
}

func TestCache_Cleanup(t *testing.T) {
	cache := New[string, string](50 * time.Millisecond)
	defer cache.Close()

	cache.Set("key1", "value1")
	cache.Set("key2", "value2")
	assert.Equal(t, 2, cache.Size())

	time.Sleep(100 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return cache.Size() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	cache := New[string, string](time.Minute)
	cache.Close()
	cache.Close()
}
