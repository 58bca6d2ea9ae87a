package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asquebay/farm-market/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCache(t *testing.T) {
	c := NewOrderCache()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.LoadAll([]model.OrderSnapshot{
		{OrderID: "o-1", CustomerID: "c-1"},
		{OrderID: "o-2", CustomerID: "c-2"},
	})

	got, ok := c.Get("o-2")
	require.True(t, ok)
	assert.Equal(t, "c-2", got.CustomerID)

	c.Set(model.OrderSnapshot{OrderID: "o-2", CustomerID: "c-3"})
	got, _ = c.Get("o-2")
	assert.Equal(t, "c-3", got.CustomerID)
}

func TestOrderCache_Concurrent(t *testing.T) {
	c := NewOrderCache()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Set(model.OrderSnapshot{OrderID: "o", CustomerID: "c"})
			c.Get("o")
		}()
	}
	wg.Wait()

	_, ok := c.Get("o")
	assert.True(t, ok)
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	release, err := l.Obtain(ctx, "products:bulk:f-1", time.Minute)
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "products:bulk:f-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotObtained)

	// другой ключ не занят
	releaseOther, err := l.Obtain(ctx, "products:bulk:f-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, releaseOther(ctx))

	require.NoError(t, release(ctx))

	release, err = l.Obtain(ctx, "products:bulk:f-1", time.Minute)
	require.NoError(t, err)
	assert.NoError(t, release(ctx))
}

func TestLocalLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	stale, err := l.Obtain(ctx, "k", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	fresh, err := l.Obtain(ctx, "k", time.Minute)
	require.NoError(t, err)

	// снятие просроченной блокировки не освобождает новую
	require.NoError(t, stale(ctx))
	_, err = l.Obtain(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotObtained)

	require.NoError(t, fresh(ctx))
}

func TestProductCache_Disabled(t *testing.T) {
	ctx := context.Background()
	c := NewProductCache(nil, time.Minute)

	assert.False(t, c.Enabled())

	found, err := c.GetMany(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NoError(t, c.SetMany(ctx, []model.Product{{ID: "a"}}))
	assert.NoError(t, c.Delete(ctx, "a"))
}
