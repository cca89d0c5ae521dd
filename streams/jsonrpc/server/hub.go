package server

import (
	"sync"
	"sync/atomic"
)

// subscriber receives broadcasts on a buffered channel. When the buffer is
// full the value is dropped and lagged is set, so the reader can resync.
type subscriber[T any] struct {
	ch     chan T
	lagged atomic.Bool
}

// hub fans values out to subscribers without ever blocking the sender.
type hub[T any] struct {
	size int

	mu   sync.RWMutex
	subs map[*subscriber[T]]struct{}
}

func newHub[T any](size int) *hub[T] {
	return &hub[T]{size: size, subs: make(map[*subscriber[T]]struct{})}
}

func (h *hub[T]) subscribe() *subscriber[T] {
	sub := &subscriber[T]{ch: make(chan T, h.size)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub[T]) unsubscribe(sub *subscriber[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *hub[T]) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// broadcast returns how many subscribers missed v.
func (h *hub[T]) broadcast(v T) (dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
			sub.lagged.Store(true)
			dropped++
		}
	}
	return dropped
}
