package retry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Hook is notified before each re-issued attempt.
type Hook func(req *http.Request, attempt int, err error)

// roundTripper is an http.RoundTripper re-issuing idempotent requests
// according to a Policy.
type roundTripper struct {
	policy Policy
	next   http.RoundTripper
	logFn  func() *slog.Logger
	hook   Hook
}

// NewRoundTripper wraps next with policy. hook may be nil.
func NewRoundTripper(policy Policy, logFn func() *slog.Logger, hook Hook, next http.RoundTripper) (http.RoundTripper, error) {
	if policy == nil {
		return nil, errors.New("policy must not be nil")
	}
	if next == nil {
		return nil, errors.New("transport must not be nil")
	}
	if logFn == nil {
		logFn = slog.Default
	}

	return &roundTripper{policy: policy, next: next, logFn: logFn, hook: hook}, nil
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	idempotent := Idempotent(req)

	for attempt := 1; ; attempt++ {
		resp, err := rt.next.RoundTrip(req)
		if err == nil {
			return resp, nil
		}

		if !rt.policy.Retry(err, attempt, idempotent) {
			if attempt > 1 {
				return nil, fmt.Errorf("attempt %d: %w", attempt, err)
			}
			return nil, err
		}

		if logger := rt.logFn(); logger != nil {
			logger.Debug("retrying request", "method", req.Method, "url", req.URL.Redacted(), "attempt", attempt, "error", err)
		}
		if rt.hook != nil {
			rt.hook(req, attempt, err)
		}

		if err := req.Context().Err(); err != nil {
			return nil, err
		}
	}
}

// Idempotent reports whether req carries no body and may therefore be
// re-issued without duplicating side effects.
func Idempotent(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody
}
