package retry

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/adamwoolhether/hostclient/client/errs"
)

func TestDefault(t *testing.T) {
	genericIO := errors.New("connection reset by peer")
	timeout := fmt.Errorf("read: %w", os.ErrDeadlineExceeded)

	testCases := []struct {
		name       string
		err        error
		attempt    int
		idempotent bool
		exp        bool
	}{
		{name: "timeout", err: timeout, attempt: 1, idempotent: true, exp: false},
		{name: "generic io", err: genericIO, attempt: 1, idempotent: true, exp: true},
		{name: "generic io exhausted", err: genericIO, attempt: 3, idempotent: true, exp: false},
		{name: "generic io not idempotent", err: genericIO, attempt: 1, idempotent: false, exp: false},
		{name: "generic io second attempt", err: genericIO, attempt: 2, idempotent: true, exp: true},
		{name: "unknown host", err: &net.DNSError{Err: "no such host", IsNotFound: true}, attempt: 1, idempotent: true, exp: false},
		{name: "connect timeout", err: &errs.ConnectionError{Kind: errs.KindConnectTimeout, Err: genericIO}, attempt: 1, idempotent: true, exp: false},
		{name: "pool timeout", err: &errs.ConnectionError{Kind: errs.KindPoolTimeout, Err: genericIO}, attempt: 1, idempotent: true, exp: false},
		{name: "tls", err: x509.UnknownAuthorityError{}, attempt: 1, idempotent: true, exp: false},
		{name: "cancelled", err: context.Canceled, attempt: 1, idempotent: true, exp: false},
		{name: "config", err: errs.Config("op", genericIO), attempt: 1, idempotent: true, exp: false},
	}

	policy := Default()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Retry(tc.err, tc.attempt, tc.idempotent); got != tc.exp {
				t.Errorf("exp %t, got %t", tc.exp, got)
			}
		})
	}
}

func TestNever(t *testing.T) {
	if Never().Retry(errors.New("boom"), 0, true) {
		t.Error("exp Never to refuse every attempt")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRoundTripper(t *testing.T) {
	okResp := &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}
	resetErr := errors.New("connection reset by peer")

	testCases := []struct {
		name      string
		method    string
		body      io.Reader
		failures  int
		expCalls  int32
		expErr    bool
		expHooked int32
	}{
		{name: "succeeds after retries", method: http.MethodGet, failures: 2, expCalls: 3, expHooked: 2},
		{name: "exhausted", method: http.MethodGet, failures: 5, expCalls: 3, expErr: true, expHooked: 2},
		{name: "body is never retried", method: http.MethodPost, body: strings.NewReader("a=b"), failures: 1, expCalls: 1, expErr: true},
		{name: "no failure", method: http.MethodGet, expCalls: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var calls, hooked atomic.Int32
			next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
				if int(calls.Add(1)) <= tc.failures {
					return nil, resetErr
				}
				return okResp, nil
			})

			rt, err := NewRoundTripper(Default(), func() *slog.Logger { return nil }, func(*http.Request, int, error) { hooked.Add(1) }, next)
			if err != nil {
				t.Fatalf("creating round tripper: %v", err)
			}

			req, err := http.NewRequestWithContext(t.Context(), tc.method, "http://example.test/", tc.body)
			if err != nil {
				t.Fatalf("creating request: %v", err)
			}

			_, err = rt.RoundTrip(req)
			if tc.expErr != (err != nil) {
				t.Fatalf("exp err %t, got %v", tc.expErr, err)
			}
			if tc.expErr && !errors.Is(err, resetErr) {
				t.Errorf("exp last failure to propagate, got %v", err)
			}
			if got := calls.Load(); got != tc.expCalls {
				t.Errorf("exp %d calls, got %d", tc.expCalls, got)
			}
			if got := hooked.Load(); got != tc.expHooked {
				t.Errorf("exp %d hook calls, got %d", tc.expHooked, got)
			}
		})
	}
}

func TestNewRoundTripper_Validation(t *testing.T) {
	if _, err := NewRoundTripper(nil, nil, nil, http.DefaultTransport); err == nil {
		t.Error("exp error for nil policy")
	}
	if _, err := NewRoundTripper(Default(), nil, nil, nil); err == nil {
		t.Error("exp error for nil transport")
	}
}
