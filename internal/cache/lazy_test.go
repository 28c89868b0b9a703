package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazy_GetLoadsOnce(t *testing.T) {
	var calls int32
	lazy := NewLazy(func(ctx context.Context, key string) (int, error) {
		atomic.AddInt32(&calls, 1)
		return len(key), nil
	})

	ctx := context.Background()

	v, err := lazy.Get(ctx, "normalize")
	require.NoError(t, err)
	assert.Equal(t, 9, v)

	v, err = lazy.Get(ctx, "normalize")
	require.NoError(t, err)
	assert.Equal(t, 9, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, err = lazy.Get(ctx, "cluster")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLazy_FailedLoadRetries(t *testing.T) {
	var calls int32
	lazy := NewLazy(func(ctx context.Context, key string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", fmt.Errorf("transient")
		}
		return "ok", nil
	})

	ctx := context.Background()

	_, err := lazy.Get(ctx, "k")
	require.Error(t, err)

	v, err := lazy.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLazy_PeekPutInvalidate(t *testing.T) {
	lazy := NewLazy(func(ctx context.Context, key string) (string, error) {
		return "loaded", nil
	})

	_, ok := lazy.Peek("k")
	assert.False(t, ok)

	lazy.Put("k", "pinned")
	v, ok := lazy.Peek("k")
	require.True(t, ok)
	assert.Equal(t, "pinned", v)

	// A stored value shadows the loader.
	v, err := lazy.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "pinned", v)

	lazy.Invalidate("k")
	_, ok = lazy.Peek("k")
	assert.False(t, ok)

	v, err = lazy.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
}

func TestLazy_ClearAndKeys(t *testing.T) {
	lazy := NewLazy(func(ctx context.Context, key string) (int, error) {
		return 0, nil
	})

	lazy.Put("a", 1)
	lazy.Put("b", 2)
	assert.Equal(t, 2, lazy.Len())
	assert.ElementsMatch(t, []string{"a", "b"}, lazy.Keys())

	lazy.Clear()
	assert.Equal(t, 0, lazy.Len())
	assert.Empty(t, lazy.Keys())
}

func TestLazy_ConcurrentGet(t *testing.T) {
	var calls int32
	lazy := NewLazy(func(ctx context.Context, key int) (int, error) {
		atomic.AddInt32(&calls, 1)
		return key * 2, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := lazy.Get(context.Background(), 21)
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
