package workpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMapPreservesInputOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	results := Map(context.Background(), items, 8, func(_ context.Context, _ int, item int) int {
		// Stagger completion so later items often finish first.
		time.Sleep(time.Duration(50-item) * time.Microsecond)
		return item * 2
	})

	for i, r := range results {
		assert.Equal(t, i*2, r)
	}
}

func TestMapBoundsConcurrency(t *testing.T) {
	var inFlight, peak int64
	var mu sync.Mutex

	Map(context.Background(), make([]struct{}, 40), 5, func(_ context.Context, _ int, _ struct{}) struct{} {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return struct{}{}
	})

	assert.LessOrEqual(t, peak, int64(5))
	assert.Greater(t, peak, int64(1))
}

func TestMapEmptyInput(t *testing.T) {
	results := Map(context.Background(), nil, 4, func(_ context.Context, _ int, item int) int {
		return item
	})
	assert.Empty(t, results)
}

func TestMapCancelledContextStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started int64
	done := make(chan struct{})
	go func() {
		Map(ctx, make([]struct{}, 1000), 2, func(_ context.Context, i int, _ struct{}) int {
			atomic.AddInt64(&started, 1)
			if i == 0 {
				cancel()
			}
			return i
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Map did not return after cancellation")
	}
	assert.Less(t, atomic.LoadInt64(&started), int64(1000))
}
