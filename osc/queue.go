package osc

import (
	"context"
	"net"
	"sync"
	"time"
)

// Packet is one received datagram.
type Packet struct {
	Data     []byte
	From     net.Addr
	Received time.Time
}

// Queue is a bounded FIFO handing packets from the receive loop to the router workers.
//
// Push never blocks. When the queue is full the oldest packet is discarded so that the most
// recent commands win.
type Queue struct {
	mu      sync.Mutex
	items   []Packet
	head    int
	size    int
	dropped uint64
	ready   chan struct{}
}

// NewQueue creates a queue holding at most capacity packets.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		items: make([]Packet, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push enqueues p, dropping the oldest packet if the queue is full. It reports whether a
// packet was dropped.
func (q *Queue) Push(p Packet) bool {
	q.mu.Lock()
	dropped := false
	if q.size == len(q.items) {
		q.items[q.head] = Packet{}
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.dropped++
		dropped = true
	}
	q.items[(q.head+q.size)%len(q.items)] = p
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// TryPop dequeues the oldest packet if there is one.
func (q *Queue) TryPop() (Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return Packet{}, false
	}
	p := q.items[q.head]
	q.items[q.head] = Packet{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	if q.size > 0 {
		// Keep other waiting consumers awake.
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return p, true
}

// Pop blocks until a packet is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Packet, error) {
	for {
		if p, ok := q.TryPop(); ok {
			return p, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		}
	}
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns how many packets have been discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
