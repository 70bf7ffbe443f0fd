// Package pool provides a route-keyed pool of persistent HTTP/1.1
// connections with per-route and total caps, a bounded acquire wait, and a
// background reaper for expired and idle connections.
package pool

import (
	"cmp"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adamwoolhether/hostclient/client/errs"
	"github.com/adamwoolhether/hostclient/client/keepalive"
)

const (
	DefaultReapInterval  = 5 * time.Second
	DefaultMaxIdle       = 30 * time.Second
	DefaultValidateAfter = 2 * time.Second
)

// Limits caps the number of connections the pool will hold.
type Limits struct {
	// MaxTotal bounds connections across all routes.
	MaxTotal int
	// MaxPerRoute bounds connections for any route without an override.
	MaxPerRoute int
	// RouteCaps overrides MaxPerRoute for specific routes.
	RouteCaps map[Route]int
}

// CapFor returns the connection cap for route.
func (l Limits) CapFor(route Route) int {
	if n, ok := l.RouteCaps[route]; ok {
		return n
	}
	return l.MaxPerRoute
}

// Timeouts is the request-level timeout set. A copy carried in a request
// context overrides the pool defaults for that call only.
type Timeouts struct {
	// Acquire bounds the wait for a pooled connection. Zero waits forever.
	Acquire time.Duration
	// Connect bounds TCP connect and TLS handshake.
	Connect time.Duration
	// Read bounds the wait between bytes read from the socket.
	Read time.Duration
}

type timeoutsKey struct{}

// WithTimeouts returns a context carrying t for a single call.
func WithTimeouts(ctx context.Context, t Timeouts) context.Context {
	return context.WithValue(ctx, timeoutsKey{}, t)
}

// TimeoutsFrom returns the timeouts carried by ctx, or def.
func TimeoutsFrom(ctx context.Context, def Timeouts) Timeouts {
	if t, ok := ctx.Value(timeoutsKey{}).(Timeouts); ok {
		return t
	}
	return def
}

// Config configures a Pool.
type Config struct {
	Limits   Limits
	Timeouts Timeouts
	// KeepAlive enables SO_KEEPALIVE and connection reuse.
	KeepAlive bool
	// TLS is used for https routes.
	TLS *tls.Config
	// KeepAlivePolicy derives a connection's reuse duration from the
	// response headers. Defaults to keepalive.Duration.
	KeepAlivePolicy keepalive.Policy
	ReapInterval    time.Duration
	// MaxIdle evicts connections idle for longer than this.
	MaxIdle time.Duration
	// ValidateAfter checks connections idle for longer than this before
	// reuse. Negative disables the check.
	ValidateAfter time.Duration
	Logger        *slog.Logger
}

type routeState struct {
	leased int
	idle   []*Conn
}

func (rs *routeState) size() int {
	return rs.leased + len(rs.idle)
}

// Pool is a route-keyed connection pool. Its zero value is not usable;
// create one with New.
type Pool struct {
	cfg    Config
	log    *slog.Logger
	nextID atomic.Int64

	mu      sync.Mutex
	routes  map[Route]*routeState
	total   int
	wake    chan struct{}
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg and constructs a Pool. The reaper does not run until
// Start is called.
func New(cfg Config) (*Pool, error) {
	if cfg.Limits.MaxTotal <= 0 {
		return nil, fmt.Errorf("max total must be positive, got %d", cfg.Limits.MaxTotal)
	}
	if cfg.Limits.MaxPerRoute <= 0 {
		return nil, fmt.Errorf("max per route must be positive, got %d", cfg.Limits.MaxPerRoute)
	}
	for r, n := range cfg.Limits.RouteCaps {
		if n <= 0 {
			return nil, fmt.Errorf("cap for route %s must be positive, got %d", r, n)
		}
	}

	if cfg.KeepAlivePolicy == nil {
		cfg.KeepAlivePolicy = keepalive.Duration
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}
	if cfg.ValidateAfter == 0 {
		cfg.ValidateAfter = DefaultValidateAfter
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Pool{
		cfg:    cfg,
		log:    log,
		routes: make(map[Route]*routeState),
		wake:   make(chan struct{}),
	}, nil
}

// Timeouts returns the pool's default request-level timeouts.
func (p *Pool) Timeouts() Timeouts {
	return p.cfg.Timeouts
}

// Start launches the idle reaper. Calling Start more than once, or after
// Close, has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.reap(ctx)
}

func (p *Pool) reap(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := p.Sweep(now); n > 0 {
				p.log.Debug("pool reaped idle connections", "count", n)
			}
		}
	}
}

// Sweep closes idle connections that expired or sat idle longer than
// MaxIdle as of now, returning how many were closed.
func (p *Pool) Sweep(now time.Time) int {
	var stale []*Conn

	p.mu.Lock()
	for route, rs := range p.routes {
		kept := rs.idle[:0]
		for _, c := range rs.idle {
			if c.expired(now) || now.Sub(c.idleSince) > p.cfg.MaxIdle {
				stale = append(stale, c)
				continue
			}
			kept = append(kept, c)
		}
		clear(rs.idle[len(kept):])
		rs.idle = kept
		p.dropEmpty(route, rs)
	}
	p.total -= len(stale)
	if len(stale) > 0 {
		p.signal()
	}
	p.mu.Unlock()

	for _, c := range stale {
		c.close()
	}

	return len(stale)
}

// Close stops the reaper and closes every idle connection. Leased
// connections are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}

	var idle []*Conn
	for route, rs := range p.routes {
		idle = append(idle, rs.idle...)
		rs.idle = nil
		p.dropEmpty(route, rs)
	}
	p.total -= len(idle)
	p.signal()
	p.mu.Unlock()

	p.wg.Wait()

	for _, c := range idle {
		c.close()
	}

	p.log.Debug("pool closed", "idle_closed", len(idle))

	return nil
}

// Acquire leases a connection for route, reusing an idle one when
// possible. It blocks until a slot frees, the context ends, or the acquire
// timeout elapses.
func (p *Pool) Acquire(ctx context.Context, route Route) (*Conn, error) {
	t := TimeoutsFrom(ctx, p.cfg.Timeouts)

	var expire <-chan time.Time
	if t.Acquire > 0 {
		timer := time.NewTimer(t.Acquire)
		defer timer.Stop()
		expire = timer.C
	}

	for {
		c, check, reserved, wake, err := p.tryAcquire(route)
		if err != nil {
			return nil, err
		}
		if c != nil {
			if check && !c.alive() {
				p.log.Debug("pool discarded stale connection", "route", route.String(), "conn", c.id)
				p.Release(c, false, 0)
				continue
			}
			c.lease(t.Read)
			return c, nil
		}

		if reserved {
			c, err := p.dial(ctx, route, t)
			if err != nil {
				p.unreserve(route)
				return nil, err
			}
			c.lease(t.Read)
			p.log.Debug("pool opened connection", "route", route.String(), "conn", c.id)
			return c, nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, errs.Classify(route.String(), ctx.Err())
		case <-expire:
			return nil, &errs.ConnectionError{
				Kind:  errs.KindPoolTimeout,
				Route: route.String(),
				Err:   fmt.Errorf("no connection available within %v", t.Acquire),
			}
		}
	}
}

// tryAcquire returns a leased idle connection, reporting whether it sat idle
// long enough to need a liveness check, or reserves a slot for a new one,
// or returns the channel to wait on. The check runs without p.mu held.
func (p *Pool) tryAcquire(route Route) (*Conn, bool, bool, <-chan struct{}, error) {
	var discard []*Conn
	defer func() {
		for _, c := range discard {
			c.close()
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, false, nil, errs.ErrPoolClosed
	}

	rs := p.routes[route]
	if rs == nil {
		rs = &routeState{}
		p.routes[route] = rs
	}

	now := time.Now()
	for len(rs.idle) > 0 {
		c := rs.idle[len(rs.idle)-1]
		rs.idle[len(rs.idle)-1] = nil
		rs.idle = rs.idle[:len(rs.idle)-1]

		if c.expired(now) {
			discard = append(discard, c)
			p.total--
			continue
		}

		rs.leased++
		check := p.cfg.ValidateAfter > 0 && now.Sub(c.idleSince) > p.cfg.ValidateAfter
		return c, check, false, nil, nil
	}

	if rs.size() < p.cfg.Limits.CapFor(route) {
		if p.total >= p.cfg.Limits.MaxTotal {
			if victim := p.evictIdle(route); victim != nil {
				discard = append(discard, victim)
			}
		}
		if p.total < p.cfg.Limits.MaxTotal {
			rs.leased++
			p.total++
			return nil, false, true, nil, nil
		}
	}

	if len(discard) > 0 {
		p.signal()
	}
	p.dropEmpty(route, rs)

	return nil, false, false, p.wake, nil
}

// evictIdle removes the longest-idle connection of any other route to make
// room under the total cap. Caller holds p.mu.
func (p *Pool) evictIdle(except Route) *Conn {
	var (
		victimRoute Route
		victimIdx   = -1
		oldest      time.Time
	)

	for route, rs := range p.routes {
		if route == except {
			continue
		}
		for i, c := range rs.idle {
			if victimIdx < 0 || c.idleSince.Before(oldest) {
				victimRoute, victimIdx, oldest = route, i, c.idleSince
			}
		}
	}
	if victimIdx < 0 {
		return nil
	}

	rs := p.routes[victimRoute]
	c := rs.idle[victimIdx]
	rs.idle = slices.Delete(rs.idle, victimIdx, victimIdx+1)
	p.dropEmpty(victimRoute, rs)
	p.total--

	return c
}

func (p *Pool) unreserve(route Route) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rs := p.routes[route]; rs != nil {
		rs.leased--
		p.dropEmpty(route, rs)
	}
	p.total--
	p.signal()
}

// Release returns a leased connection. When reuse is true and the pool is
// open, the connection is kept idle until expiry; otherwise it is closed.
func (p *Pool) Release(c *Conn, reuse bool, keepFor time.Duration) {
	now := time.Now()

	p.mu.Lock()
	rs := p.routes[c.route]
	if rs != nil {
		rs.leased--
	}

	keep := reuse && p.cfg.KeepAlive && !p.closed && rs != nil && keepFor > 0 && c.br.Buffered() == 0
	if keep {
		c.idleSince = now
		c.expires = now.Add(keepFor)
		rs.idle = append(rs.idle, c)
	} else {
		p.total--
		if rs != nil {
			p.dropEmpty(c.route, rs)
		}
	}
	p.signal()
	p.mu.Unlock()

	if !keep {
		c.close()
	}
}

// keepAliveFor applies the keep-alive policy to response headers.
func (p *Pool) keepAliveFor(h http.Header) time.Duration {
	return p.cfg.KeepAlivePolicy(h)
}

// signal wakes every waiter. Caller holds p.mu.
func (p *Pool) signal() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// dropEmpty forgets a route with no connections. Caller holds p.mu.
func (p *Pool) dropEmpty(route Route, rs *routeState) {
	if rs.size() == 0 {
		delete(p.routes, route)
	}
}

// RouteStats describes one route's connections.
type RouteStats struct {
	Route  string
	Leased int
	Idle   int
	Max    int
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Leased   int
	Idle     int
	MaxTotal int
	Routes   []RouteStats
}

// Total is leased plus idle.
func (s Stats) Total() int {
	return s.Leased + s.Idle
}

// Stats returns a snapshot of pool occupancy, routes sorted by name.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{MaxTotal: p.cfg.Limits.MaxTotal}
	for route, rs := range p.routes {
		st.Leased += rs.leased
		st.Idle += len(rs.idle)
		st.Routes = append(st.Routes, RouteStats{
			Route:  route.String(),
			Leased: rs.leased,
			Idle:   len(rs.idle),
			Max:    p.cfg.Limits.CapFor(route),
		})
	}
	slices.SortFunc(st.Routes, func(a, b RouteStats) int {
		return cmp.Compare(a.Route, b.Route)
	})

	return st
}
