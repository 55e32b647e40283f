package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		code         ErrorCode
		message      string
		wantCategory ErrorCategory
		wantRetry    bool
	}{
		{"timeout", ErrCodeTimeout, "no heartbeat", CategoryTransient, true},
		{"network", ErrCodeNetworkErr, "connection reset", CategoryTransient, true},
		{"closed", ErrCodeClosed, "closed before open", CategoryTransient, true},
		{"unauthorized", ErrCodeUnauthorized, "bad credentials", CategoryPermanent, false},
		{"invalid_input", ErrCodeInvalidInput, "bad frame", CategoryPermanent, false},
		{"internal", ErrCodeInternal, "bug", CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message)
			if err.Code() != tt.code {
				t.Errorf("Code() = %v, want %v", err.Code(), tt.code)
			}
			if err.Category() != tt.wantCategory {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.wantCategory)
			}
			if err.Retryable() != tt.wantRetry {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.wantRetry)
			}
			if err.Error() != tt.message {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.message)
			}
			if err.Timestamp().IsZero() {
				t.Error("Timestamp() should not be zero")
			}
		})
	}
}

func TestFromCode(t *testing.T) {
	err := FromCode(ErrCodeUnauthorized, WithConnID("c-1"))
	if err.Error() != "unauthorized" {
		t.Errorf("Error() = %q, want %q", err.Error(), "unauthorized")
	}
	if err.ConnID() != "c-1" {
		t.Errorf("ConnID() = %q, want c-1", err.ConnID())
	}
	if ErrorCode("BOGUS").Description() != "unknown error" {
		t.Error("unknown code should have generic description")
	}
}

func TestWithRetryableOverride(t *testing.T) {
	err := Unauthorized("rejected", WithRetryable(true))
	if !err.Retryable() {
		t.Error("explicit retryable should override category")
	}
}

func TestMetadataImmutability(t *testing.T) {
	err := New(ErrCodeNetworkErr, "x", WithMetadata("url", "ws://a"))
	md := err.Metadata()
	md["url"] = "changed"
	if err.Metadata()["url"] != "ws://a" {
		t.Error("Metadata() should return a copy")
	}
}

func TestWrap(t *testing.T) {
	base := fmt.Errorf("read tcp: connection reset")
	err := Wrap(base, "reading frame", WithConnID("c-2"))
	if err.Code() != ErrCodeNetworkErr {
		t.Errorf("Code() = %v, want NETWORK_ERR", err.Code())
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
	if err.ConnID() != "c-2" {
		t.Errorf("ConnID() = %q, want c-2", err.ConnID())
	}
	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestWrapPreservesFeedError(t *testing.T) {
	inner := Unauthorized("401", WithConnID("c-3"))
	outer := Wrap(inner, "handshake")
	if outer.Code() != ErrCodeUnauthorized {
		t.Errorf("Code() = %v, want UNAUTHORIZED", outer.Code())
	}
	if outer.ConnID() != "c-3" {
		t.Errorf("ConnID() = %q, want c-3", outer.ConnID())
	}
	if outer.Error() != "handshake: 401" {
		t.Errorf("Error() = %q", outer.Error())
	}
}

func TestWrapContextErrors(t *testing.T) {
	if Code(Wrap(context.DeadlineExceeded, "dial")) != ErrCodeTimeout {
		t.Error("deadline should map to TIMEOUT")
	}
	if Code(Wrap(context.Canceled, "dial")) != ErrCodeCanceled {
		t.Error("cancel should map to CANCELED")
	}
}

func TestWrapWithCode(t *testing.T) {
	err := WrapWithCode(fmt.Errorf("unexpected end of JSON input"), ErrCodeInvalidInput, "parsing frame")
	if !Is(err, ErrCodeInvalidInput) {
		t.Error("expected INVALID_INPUT")
	}
	if WrapWithCode(nil, ErrCodeInternal, "x") != nil {
		t.Error("WrapWithCode(nil) should be nil")
	}
}

func TestIsAndIsRetryable(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Timeout("no heartbeat"))
	if !Is(wrapped, ErrCodeTimeout) {
		t.Error("Is should see through fmt wrapping")
	}
	if !IsRetryable(wrapped) {
		t.Error("timeout should be retryable")
	}
	plain := fmt.Errorf("plain")
	if Is(plain, ErrCodeTimeout) || IsRetryable(plain) || Code(plain) != "" {
		t.Error("plain errors are outside the taxonomy")
	}
	if AsFeedError(plain) != nil {
		t.Error("AsFeedError(plain) should be nil")
	}
	if AsFeedError(wrapped) == nil {
		t.Error("AsFeedError should find wrapped error")
	}
}

func TestJSONRoundtrip(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	orig := New(ErrCodeNetworkErr, "read failed",
		WithCause(fmt.Errorf("EOF")),
		WithConnID("c-4"),
		WithMetadata("url", "ws://feed"),
	)
	orig.timestamp = ts

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Error
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Code() != ErrCodeNetworkErr || got.Category() != CategoryTransient {
		t.Errorf("code/category = %v/%v", got.Code(), got.Category())
	}
	if got.ConnID() != "c-4" {
		t.Errorf("ConnID() = %q", got.ConnID())
	}
	if got.Error() != "read failed: EOF" {
		t.Errorf("Error() = %q", got.Error())
	}
	if !got.Timestamp().Equal(ts) {
		t.Errorf("Timestamp() = %v, want %v", got.Timestamp(), ts)
	}
	if !got.Retryable() {
		t.Error("Retryable should survive roundtrip")
	}
}
