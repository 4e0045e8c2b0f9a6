package notify

import (
	"context"
	"sync"
)

// Hub fans signals out to in-process subscribers. Slow subscribers lose
// signals instead of blocking the publisher.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[*subscription]struct{}
	bufferSize int
	closed     bool
}

type subscription struct {
	ch   chan Signal
	once sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{subs: make(map[string]map[*subscription]struct{}), bufferSize: 8}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe returns a channel of signals for channel. The subscription ends
// when ctx is done or the hub closes, and the returned channel is then closed.
func (h *Hub) Subscribe(ctx context.Context, channel string) <-chan Signal {
	sub := &subscription{ch: make(chan Signal, h.bufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*subscription]struct{})
	}
	h.subs[channel][sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(channel, sub)
	}()
	return sub.ch
}

func (h *Hub) remove(channel string, sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, channel)
		}
	}
	sub.close()
}

// Trigger delivers locally.
func (h *Hub) Trigger(_ context.Context, channel, event string) error {
	if err := validate(channel, event); err != nil {
		return err
	}
	h.Deliver(Signal{Channel: channel, Event: event})
	return nil
}

// Deliver hands a signal to every subscriber of its channel and reports how
// many received it.
func (h *Hub) Deliver(sig Signal) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0
	}
	n := 0
	for sub := range h.subs[sig.Channel] {
		select {
		case sub.ch <- sig:
			n++
		default:
		}
	}
	return n
}

// Subscribers counts live subscriptions on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Close ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			sub.close()
		}
	}
	h.subs = nil
	return nil
}
