package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorStringAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeInternal, "actor invocation failed", cause)
	if got := err.Error(); got != "internal: actor invocation failed: boom" {
		t.Fatalf("unexpected error string: %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable via errors.Is")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodeConflict, "nickname taken")); got != CodeConflict {
		t.Fatalf("got %q, want conflict", got)
	}
	wrapped := fmt.Errorf("handler: %w", New(CodeNotFound, "profile not found"))
	if got := CodeOf(wrapped); got != CodeNotFound {
		t.Fatalf("got %q, want not_found through wrapping", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Fatalf("got %q, want internal for untyped errors", got)
	}
}

func TestMessageOfNeverLeaksInternals(t *testing.T) {
	if got := MessageOf(errors.New("pq: connection refused")); got != "internal error" {
		t.Fatalf("untyped error leaked: %q", got)
	}
	if got := MessageOf(New(CodeTooLarge, "voice payload exceeds cap")); got != "voice payload exceeds cap" {
		t.Fatalf("got %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeBadRequest, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeForbidden, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeTooLarge, http.StatusRequestEntityTooLarge},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeCooldownActive, http.StatusTooManyRequests},
		{CodeBadGateway, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
		{Code("unknown"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.code); got != tc.want {
			t.Fatalf("HTTPStatus(%q) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
