package apperr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("fetch stack: %w", New(CodeAuth, "stack.get", "api key rejected"))

	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected errors.Is(err, ErrAuth) to be true for %v", err)
	}
	if errors.Is(err, ErrConfiguration) {
		t.Fatal("did not expect a configuration error match")
	}
	if got := CodeOf(err); got != CodeAuth {
		t.Errorf("CodeOf = %q, want %q", got, CodeAuth)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	if Wrap(CodeUpstream, "op", nil) != nil {
		t.Fatal("Wrap(nil) should return nil")
	}

	err := Wrap(CodeUpstream, "paginate", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected wrapped cause to be reachable, got %v", err)
	}
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream code, got %v", err)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", New(CodeConfiguration, "", "bad locale"), "bad locale (CONFIGURATION)"},
		{"with op", New(CodeConfiguration, "reconcile", "bad locale"), "reconcile: bad locale (CONFIGURATION)"},
		{"message and cause", &Error{Code: CodeUpstream, Op: "get", Message: "page 2", Err: io.EOF}, "get: page 2: EOF (UPSTREAM)"},
		{"cause only", &Error{Code: CodeUpstream, Err: io.EOF}, "EOF (UPSTREAM)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassification(t *testing.T) {
	if !IsRetryable(New(CodeUpstreamTransient, "call", "503")) {
		t.Error("transient error should be retryable")
	}
	if IsRetryable(New(CodeUpstreamPermanent, "call", "404")) {
		t.Error("permanent error should not be retryable")
	}
	if !IsFatal(New(CodeConfiguration, "", "x")) || !IsFatal(New(CodeAuth, "", "x")) {
		t.Error("configuration and auth errors should be fatal")
	}
	if IsFatal(New(CodeUpstreamPermanent, "", "x")) {
		t.Error("per-job upstream errors should not be fatal")
	}
}
