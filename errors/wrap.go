package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// An *Error keeps its code and connection; context errors map to
// TIMEOUT/CANCELED; anything else becomes NETWORK_ERR, since the only
// foreign errors the client sees come from the socket.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var feedErr *Error
	if errors.As(err, &feedErr) {
		wrapped := &Error{
			code:      feedErr.code,
			category:  feedErr.category,
			message:   message,
			cause:     err,
			metadata:  feedErr.Metadata(),
			retryable: feedErr.retryable,
			timestamp: feedErr.timestamp,
			connID:    feedErr.connID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeNetworkErr, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsFeedError extracts a FeedError from an error chain, or nil.
func AsFeedError(err error) FeedError {
	var feedErr *Error
	if errors.As(err, &feedErr) {
		return feedErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var feedErr *Error
	if errors.As(err, &feedErr) {
		return feedErr.code == code
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Errors outside the taxonomy are not.
func IsRetryable(err error) bool {
	var feedErr *Error
	if errors.As(err, &feedErr) {
		return feedErr.Retryable()
	}
	return false
}

// Code extracts the error code from an error, or "".
func Code(err error) ErrorCode {
	var feedErr *Error
	if errors.As(err, &feedErr) {
		return feedErr.code
	}
	return ""
}
