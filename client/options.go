package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"

	"github.com/adamwoolhether/hostclient/client/keepalive"
	"github.com/adamwoolhether/hostclient/client/retry"
	"github.com/adamwoolhether/hostclient/client/throttle"
)

// Option is a functional option for configuring an [Executor] via [New].
type Option func(*options) error
type options struct {
	logger            *slog.Logger
	tlsConfig         *tls.Config
	retryPolicy       retry.Policy
	keepAlivePolicy   keepalive.Policy
	throttle          *throttle.Config
	tracer            trace.Tracer
	propagate         bool
	registerer        prometheus.Registerer
	metricsName       string
	newJar            func() http.CookieJar
	noFollowRedirects bool
	transport         func(http.RoundTripper) http.RoundTripper
}

// WithLogger injects a custom [slog.Logger] into the [Executor].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithTLSConfig supplies the TLS context used as is, pinned to TLS 1.2.
// It takes precedence over trust material in the host config.
func WithTLSConfig(tc *tls.Config) Option {
	return func(o *options) error {
		if tc == nil {
			return errors.New("tls config must not be nil")
		}
		o.tlsConfig = tc
		return nil
	}
}

// WithRetryPolicy replaces the default retry policy. Use [retry.Never] to
// disable retries.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) error {
		if p == nil {
			return errors.New("retry policy must not be nil")
		}
		o.retryPolicy = p
		return nil
	}
}

// WithKeepAlivePolicy replaces how long an idle connection is kept after a
// response.
func WithKeepAlivePolicy(p keepalive.Policy) Option {
	return func(o *options) error {
		if p == nil {
			return errors.New("keep-alive policy must not be nil")
		}
		o.keepAlivePolicy = p
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given requests
// per second and burst capacity, one bucket per host when perHost is set.
func WithThrottle(rps, burst int, perHost bool) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.throttle = &throttle.Config{RPS: rps, Burst: burst, PerHost: perHost}
		return nil
	}
}

// WithTracer starts a span per call on tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithTracePropagation injects the global text map propagator's headers
// into every outgoing request.
func WithTracePropagation() Option {
	return func(o *options) error {
		o.propagate = true
		return nil
	}
}

// WithMetrics registers Prometheus collectors labelled with name.
func WithMetrics(registerer prometheus.Registerer, name string) Option {
	return func(o *options) error {
		if registerer == nil {
			return errors.New("registerer must not be nil")
		}
		o.registerer = registerer
		o.metricsName = name
		return nil
	}
}

// WithCookieJar replaces the cookie jar constructor. A shared client calls
// it once; multiclient mode calls it per request.
func WithCookieJar(newJar func() http.CookieJar) Option {
	return func(o *options) error {
		if newJar == nil {
			return errors.New("cookie jar constructor must not be nil")
		}
		o.newJar = newJar
		return nil
	}
}

// WithNoFollowRedirects returns redirect responses to the consumer instead
// of following them.
func WithNoFollowRedirects() Option {
	return func(o *options) error {
		o.noFollowRedirects = true
		return nil
	}
}

// WithTransportMiddleware wraps the transport chain just above the pool,
// beneath header normalization.
func WithTransportMiddleware(mw func(http.RoundTripper) http.RoundTripper) Option {
	return func(o *options) error {
		if mw == nil {
			return errors.New("middleware must not be nil")
		}
		o.transport = mw
		return nil
	}
}

// DefaultCookieJar returns an in-memory jar scoped by the public suffix
// list.
func DefaultCookieJar() http.CookieJar {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never fails.
		panic(err)
	}
	return jar
}
