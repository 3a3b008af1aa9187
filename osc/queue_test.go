package osc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkt(s string) Packet {
	return Packet{Data: []byte(s)}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(4)
	for _, s := range []string{"a", "b", "c"} {
		assert.False(t, q.Push(pkt(s)))
	}
	assert.Equal(t, 3, q.Len())
	for _, s := range []string{"a", "b", "c"} {
		p, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, s, string(p.Data))
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2)
	q.Push(pkt("1"))
	q.Push(pkt("2"))
	assert.True(t, q.Push(pkt("3")))
	assert.True(t, q.Push(pkt("4")))
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, 2, q.Len())

	p, _ := q.TryPop()
	assert.Equal(t, "3", string(p.Data))
	p, _ = q.TryPop()
	assert.Equal(t, "4", string(p.Data))
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan Packet, 1)
	go func() {
		p, err := q.Pop(ctx)
		if err == nil {
			got <- p
		}
	}()
	time.Sleep(20 * time.Millisecond)
	q.Push(pkt("late"))

	select {
	case p := <-got:
		assert.Equal(t, "late", string(p.Data))
	case <-ctx.Done():
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueuePopHonoursCancel(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueManyConsumers(t *testing.T) {
	q := NewQueue(1000)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 500
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[string(p.Data)] = true
				done := len(seen) == n
				mu.Unlock()
				if done {
					cancel()
				}
			}
		}()
	}
	for i := 0; i < n; i++ {
		q.Push(pkt(fmt.Sprintf("cmd-%d", i)))
	}
	wg.Wait()
	assert.Len(t, seen, n)
}
