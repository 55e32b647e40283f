package transport

import (
	"fmt"
	"net/http"
	"time"
)

// Subprotocol is the WebSocket sub-protocol the feed expects.
const Subprotocol = "echo-protocol"

// HandshakeError is returned by Dial when the server answers the upgrade
// request with a non-101 status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("unexpected server response: %d", e.StatusCode)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the server rejected the credentials.
func (e *HandshakeError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Config holds transport configuration.
type Config struct {
	// HandshakeTimeout bounds the opening handshake (0 = library default).
	HandshakeTimeout time.Duration

	// WriteTimeout for control frames.
	WriteTimeout time.Duration

	// MaxMessageSize limits incoming frame size.
	MaxMessageSize int64

	// RecvBufferSize is the size of the receive channel buffer.
	RecvBufferSize int

	// PingInterval for keepalive pings (0 = disabled).
	PingInterval time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1024 * 1024, // 1MB
		RecvBufferSize: 100,
		PingInterval:   30 * time.Second,
	}
}
