package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where a new connection may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where reconnecting will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors inside the client.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Transient errors
	ErrCodeTimeout    ErrorCode = "TIMEOUT"     // No heartbeat within the liveness window
	ErrCodeNetworkErr ErrorCode = "NETWORK_ERR" // Dial, read or write failure on the socket
	ErrCodeClosed     ErrorCode = "CLOSED"      // Connection closed before the handshake completed

	// Permanent errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"  // Feed answered the handshake with 401
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Frame or configuration could not be parsed
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Caller gave up waiting

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeNetworkErr, ErrCodeClosed:
		return CategoryTransient
	case ErrCodeUnauthorized, ErrCodeInvalidInput, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:      "heartbeat timeout",
	ErrCodeNetworkErr:   "network error",
	ErrCodeClosed:       "connection closed",
	ErrCodeUnauthorized: "unauthorized",
	ErrCodeInvalidInput: "invalid input",
	ErrCodeCanceled:     "canceled",
	ErrCodeInternal:     "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
