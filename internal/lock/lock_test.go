package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			unlock, err := l.Lock(ctx, "cart:u1")
			if err != nil {
				return err
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.held())
}

func TestLocal_DifferentKeysDoNotContend(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := l.Lock(ctx, "cart:a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.Lock(ctx, "cart:b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_RespectsContext(t *testing.T) {
	l := NewLocal()

	unlock, err := l.Lock(context.Background(), "order:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "order:1")
	require.ErrorIs(t, err, ErrTimeout)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.held())

	again, err := l.Lock(context.Background(), "order:1")
	require.NoError(t, err)
	again()
}
