package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClaimHasSingleOwner(t *testing.T) {
	t.Parallel()

	c := New[string]()
	var owners atomic.Int32
	var wg sync.WaitGroup
	results := make(chan string, 32)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, owner := c.Claim("http://x/b.html")
			if owner {
				owners.Add(1)
				time.Sleep(5 * time.Millisecond)
				if err := c.Publish("http://x/b.html", "200 OK"); err != nil {
					return
				}
			}
			v, err := entry.Wait(context.Background())
			if err == nil {
				results <- v
			}
		}()
	}
	wg.Wait()
	close(results)

	require.Equal(t, int32(1), owners.Load())
	count := 0
	for v := range results {
		require.Equal(t, "200 OK", v)
		count++
	}
	require.Equal(t, 32, count)
	require.Equal(t, 1, c.Len())
}

func TestPublishRequiresClaim(t *testing.T) {
	t.Parallel()

	c := New[int]()
	require.ErrorIs(t, c.Publish("k", 1), ErrNotClaimed)

	_, owner := c.Claim("k")
	require.True(t, owner)
	require.False(t, c.Has("k"))
	require.NoError(t, c.Publish("k", 1))
	require.ErrorIs(t, c.Publish("k", 2), ErrNotClaimed)

	v, ok := c.Lookup("k")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	c := New[int]()
	entry, _ := c.Claim("slow")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := entry.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, entry.Ready())
}
