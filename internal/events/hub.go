package events

import (
	"sync"
	"sync/atomic"
)

// Hub is an in-memory fanout Sink.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels.
//   - Slow subscribers drop updates.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]chan Update
	seq  atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]chan Update{}}
}

func (h *Hub) Publish(u Update) {
	h.mu.RLock()
	chs := make([]chan Update, 0, len(h.subs))
	for _, ch := range h.subs {
		chs = append(chs, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chs {
		// a concurrent unsubscribe may close ch under us
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- u:
			default:
			}
		}()
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Update, buffer)
	id := h.seq.Add(1)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
