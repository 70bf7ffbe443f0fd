// Package retry decides whether a failed attempt may be re-issued and
// provides an [http.RoundTripper] that applies that decision.
package retry

import (
	"context"
	"errors"

	"github.com/adamwoolhether/hostclient/client/errs"
)

// MaxAttempts is the total number of attempts the default policy allows.
const MaxAttempts = 3

// Policy decides, per failed attempt, whether to re-issue the request.
// attempt counts from 1.
type Policy interface {
	Retry(err error, attempt int, idempotent bool) bool
}

// PolicyFunc adapts a func to a [Policy].
type PolicyFunc func(err error, attempt int, idempotent bool) bool

func (f PolicyFunc) Retry(err error, attempt int, idempotent bool) bool {
	return f(err, attempt, idempotent)
}

// Default returns the standard policy: at most MaxAttempts attempts, never
// for timeouts, unknown hosts, connect timeouts or TLS failures, and only
// for idempotent requests.
func Default() Policy {
	return PolicyFunc(func(err error, attempt int, idempotent bool) bool {
		if attempt >= MaxAttempts {
			return false
		}

		if !Safe(err) {
			return false
		}

		return idempotent
	})
}

// Never returns a policy that never retries.
func Never() Policy {
	return PolicyFunc(func(error, int, bool) bool { return false })
}

// Safe reports whether err is a failure kind that may be retried at all.
func Safe(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, errs.ErrPoolClosed) {
		return false
	}

	var cfgErr *errs.ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}

	var connErr *errs.ConnectionError
	if !errors.As(errs.Classify("", err), &connErr) {
		return false
	}

	switch connErr.Kind {
	case errs.KindTimeout, errs.KindPoolTimeout, errs.KindUnknownHost, errs.KindConnectTimeout, errs.KindTLS:
		return false
	}

	return true
}
