// Package throttle provides an [http.RoundTripper] that rate-limits
// outbound requests with the token bucket of [golang.org/x/time/rate].
//
// A single limiter covers every request by default. With PerHost set, each
// host:port gets its own bucket, so one slow upstream cannot starve the
// budget of another:
//
//	rt, err := throttle.NewRoundTripper(
//		throttle.Config{RPS: 10, Burst: 5, PerHost: true},
//		func() *slog.Logger { return slog.Default() },
//		next,
//	)
//
// When tokens run out, requests block until one is available or the request
// context ends.
package throttle
