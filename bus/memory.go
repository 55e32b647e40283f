package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus using in-memory channels.
// Useful for testing and single-process scenarios.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	closed atomic.Bool
}

type memorySub struct {
	pattern string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config: cfg,
	}
}

// Publish sends a message to every subscription whose pattern matches.
// Subscribers with a full buffer miss the message.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Subject: subject,
		Data:    data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.closed.Load() || !Match(sub.pattern, subject) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Buffer full, drop message
		}
	}

	return nil
}

// Subscribe creates a subscription to a subject pattern.
func (b *MemoryBus) Subscribe(pattern string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		pattern: pattern,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// Flush is a no-op; delivery is synchronous.
func (b *MemoryBus) Flush() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close shuts down the bus and closes every subscription channel.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.closed.Swap(true) {
			close(sub.ch)
		}
	}
	b.subs = nil

	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}

	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}

	close(s.ch)
	return nil
}
