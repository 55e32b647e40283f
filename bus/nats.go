package bus

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/thunderclient/errors"
)

// NATSBus implements MessageBus using NATS.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	Config // Embed base config

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// FlushTimeout bounds Flush.
	FlushTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		Name:           "thunderclient",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
		FlushTimeout:   5 * time.Second,
	}
}

// NewNATSBus connects to a NATS server.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect", errors.WithMetadata("url", cfg.URL))
	}

	return NewNATSBusFromConn(conn, cfg), nil
}

// NewNATSBusFromConn creates a NATSBus from an existing connection.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultNATSConfig().FlushTimeout
	}

	return &NATSBus{
		conn:   conn,
		config: cfg,
	}
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// Publish sends a message to a subject.
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return errors.Wrap(err, "nats publish", errors.WithMetadata("subject", subject))
	}

	return nil
}

// Subscribe creates a subscription to a subject pattern.
func (b *NATSBus) Subscribe(pattern string) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	sub := &natsSubscription{
		ch: make(chan *Message, b.config.BufferSize),
	}

	natsSub, err := b.conn.Subscribe(pattern, sub.deliver)
	if err != nil {
		close(sub.ch)
		return nil, errors.Wrap(err, "nats subscribe", errors.WithMetadata("subject", pattern))
	}
	sub.sub = natsSub

	return sub, nil
}

// Flush waits until the server has acknowledged everything published so far.
func (b *NATSBus) Flush() error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if err := b.conn.FlushTimeout(b.config.FlushTimeout); err != nil {
		return errors.Wrap(err, "nats flush")
	}
	return nil
}

// Close shuts down the NATS connection.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// Conn returns the underlying NATS connection for advanced use.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

// natsSubscription adapts a NATS callback subscription to a channel.
type natsSubscription struct {
	sub *nats.Subscription
	ch  chan *Message

	mu     sync.Mutex
	closed bool
}

func (s *natsSubscription) deliver(m *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- &Message{Subject: m.Subject, Data: m.Data}:
	default:
		// Buffer full
	}
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)

	err := s.sub.Unsubscribe()
	if err != nil && err != nats.ErrConnectionClosed && err != nats.ErrBadSubscription {
		return errors.Wrap(err, "nats unsubscribe")
	}
	return nil
}
