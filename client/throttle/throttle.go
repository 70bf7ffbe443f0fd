package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the requests per second and burst of each bucket.
type Config struct {
	RPS   int
	Burst int
	// PerHost keys a separate bucket by request host.
	PerHost bool
}

// throttle is an http.RoundTripper, using the time/rate token
// bucket limiter to restrict outbound calls.
type throttle struct {
	cfg   Config
	next  http.RoundTripper
	logFn func() *slog.Logger

	mu       sync.Mutex
	shared   *rate.Limiter
	limiters map[string]*rate.Limiter
}

// NewRoundTripper returns an http.RoundTripper that throttles outbound
// requests. logFn lazily resolves the logger at request time; a nil logger
// skips the exhaustion logs.
func NewRoundTripper(cfg Config, logFn func() *slog.Logger, next http.RoundTripper) (http.RoundTripper, error) {
	if cfg.RPS <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", cfg.RPS, cfg.Burst, ErrMustNotBeZero)
	}
	if next == nil {
		return nil, errors.New("transport must not be nil")
	}
	if logFn == nil {
		logFn = func() *slog.Logger { return nil }
	}

	t := &throttle{
		cfg:   cfg,
		next:  next,
		logFn: logFn,
	}
	if cfg.PerHost {
		t.limiters = make(map[string]*rate.Limiter)
	} else {
		t.shared = t.newLimiter()
	}

	return t, nil
}

func (t *throttle) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(t.cfg.RPS), t.cfg.Burst)
}

func (t *throttle) limiter(host string) *rate.Limiter {
	if t.shared != nil {
		return t.shared
	}

	key := strings.ToLower(host)

	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[key]
	if !ok {
		l = t.newLimiter()
		t.limiters[key] = l
	}

	return l
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w early: %w", ErrContextEnded, err)
	}

	limiter := t.limiter(r.URL.Host)

	var waited time.Duration
	logger := t.logFn()
	if logger != nil && !limiter.Allow() {
		logger.Info("throttle tokens exhausted", "rate", t.cfg.RPS, "burst", t.cfg.Burst, "host", r.URL.Host)

		defer func() {
			logger.Info("throttle wait complete", "waited", waited.String(), "host", r.URL.Host)
		}()
	}

	start := time.Now()

	err := limiter.Wait(ctx)
	waited = time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w post-wait: %w", ErrContextEnded, err)
	}

	return t.next.RoundTrip(r)
}
