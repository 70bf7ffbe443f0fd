// Package hostconfig describes the logical target host of an executor: where
// requests go, how many connections may be pooled, the timeouts that bound
// each phase of a call, and the TLS trust material. A HostConfig is built
// once with New and treated as read-only afterwards.
package hostconfig

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/adamwoolhether/hostclient/client/charset"
	"github.com/adamwoolhether/hostclient/client/errs"
	"github.com/adamwoolhether/hostclient/client/header"
	"github.com/adamwoolhether/hostclient/client/pool"
)

const (
	DefaultPoolSize  = 70
	LoadPoolSize     = 50
	SharedPoolSize   = 150
	DefaultHostCount = 10

	// Headroom is added to the total cap of a bound host for auxiliary
	// routes such as redirects to other hosts.
	Headroom = 30
	// AuxRouteCap caps each auxiliary route of a bound host.
	AuxRouteCap = 5

	DefaultConnectionRequestTimeout = 500 * time.Millisecond
	DefaultConnectTimeout           = 10 * time.Second
	DefaultSocketTimeout            = 10 * time.Second
)

// HostConfig is the immutable configuration of one logical target.
type HostConfig struct {
	// Host binds the pool to one route. Nil serves arbitrary hosts.
	Host *pool.Route `koanf:"-"`
	// HostURL is the base for relative request URLs.
	HostURL string `koanf:"host_url" validate:"omitempty,http_url"`

	PoolSize  int `koanf:"pool_size" validate:"gte=1"`
	HostCount int `koanf:"host_count" validate:"gte=1"`

	ConnectionRequestTimeout time.Duration `koanf:"connection_request_timeout" validate:"gte=0"`
	ConnectTimeout           time.Duration `koanf:"connect_timeout" validate:"gte=0"`
	SocketTimeout            time.Duration `koanf:"socket_timeout" validate:"gte=0"`

	Charset   string `koanf:"charset" validate:"required,charset"`
	UserAgent string `koanf:"user_agent"`
	Referer   string `koanf:"referer"`

	// CA holds PKCS#12 trust store or PEM bytes; CAFile is read when CA is
	// empty.
	CA         []byte `koanf:"-"`
	CAFile     string `koanf:"ca_file" validate:"omitempty,file"`
	CAPassword string `koanf:"ca_password"`
	TrustAll   bool   `koanf:"trust_all"`

	// Multiclient builds a fresh client, and so a fresh cookie jar, per call.
	Multiclient bool `koanf:"multiclient"`
	KeepAlive   bool `koanf:"keep_alive"`
}

// Option configures a HostConfig under construction.
type Option func(*HostConfig) error

func defaults() HostConfig {
	return HostConfig{
		PoolSize:                 DefaultPoolSize,
		HostCount:                DefaultHostCount,
		ConnectionRequestTimeout: DefaultConnectionRequestTimeout,
		ConnectTimeout:           DefaultConnectTimeout,
		SocketTimeout:            DefaultSocketTimeout,
		Charset:                  charset.Default,
		UserAgent:                header.DefaultUserAgent,
		KeepAlive:                true,
	}
}

// New builds and validates a HostConfig.
func New(opts ...Option) (HostConfig, error) {
	return build(defaults(), opts...)
}

// Shared returns the preset used for a client shared by many callers of
// one host: a larger pool bound to hostURL's route.
func Shared(hostURL string, opts ...Option) (HostConfig, error) {
	base := []Option{WithHost(hostURL), WithPoolSize(SharedPoolSize)}
	return New(append(base, opts...)...)
}

// Unbound returns a config that serves arbitrary hosts.
func Unbound(opts ...Option) (HostConfig, error) {
	return New(opts...)
}

func build(cfg HostConfig, opts ...Option) (HostConfig, error) {
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return HostConfig{}, errs.Config("hostconfig", err)
		}
	}

	if cfg.HostURL == "" && cfg.Host != nil {
		cfg.HostURL = cfg.Host.URL()
	}
	cfg.HostURL = strings.TrimSuffix(cfg.HostURL, "/")

	if cfg.Charset == "" {
		cfg.Charset = charset.Default
	}
	if cs, err := charset.Lookup(cfg.Charset); err == nil {
		cfg.Charset = cs.Name()
	}

	if err := Validate(cfg); err != nil {
		return HostConfig{}, errs.Config("hostconfig", err)
	}

	return cfg, nil
}

// Limits derives the pool caps. A bound host gets the whole pool size for
// its route plus headroom for auxiliary routes; an unbound config splits
// the pool size evenly across HostCount routes.
func (c HostConfig) Limits() pool.Limits {
	if c.Host != nil {
		return pool.Limits{
			MaxTotal:    c.PoolSize + Headroom,
			MaxPerRoute: AuxRouteCap,
			RouteCaps:   map[pool.Route]int{*c.Host: c.PoolSize},
		}
	}

	return pool.Limits{
		MaxTotal:    c.PoolSize,
		MaxPerRoute: max(1, c.PoolSize/max(1, c.HostCount)),
	}
}

// Timeouts returns the request-level timeout defaults.
func (c HostConfig) Timeouts() pool.Timeouts {
	return pool.Timeouts{
		Acquire: c.ConnectionRequestTimeout,
		Connect: c.ConnectTimeout,
		Read:    c.SocketTimeout,
	}
}

// Bound reports whether the config targets a single route.
func (c HostConfig) Bound() bool {
	return c.Host != nil
}

// =============================================================================

// WithHost binds the config to the route of rawURL and, unless set
// explicitly, uses it as the base URL.
func WithHost(rawURL string) Option {
	return func(c *HostConfig) error {
		r, err := pool.ParseRoute(rawURL)
		if err != nil {
			return fmt.Errorf("host: %w", err)
		}
		c.Host = &r
		return nil
	}
}

// WithRoute binds the config to route. Scheme and host are matched case
// insensitively and a zero port means the scheme's default.
func WithRoute(route pool.Route) Option {
	return func(c *HostConfig) error {
		r, err := route.Normalize()
		if err != nil {
			return fmt.Errorf("route: %w", err)
		}
		c.Host = &r
		return nil
	}
}

// WithHTTPHost binds the config to route.
//
// Deprecated: use WithRoute.
func WithHTTPHost(route pool.Route) Option {
	return WithRoute(route)
}

// WithHostURL sets the base URL for relative request paths.
func WithHostURL(rawURL string) Option {
	return func(c *HostConfig) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("host url: %w", err)
		}
		if !u.IsAbs() {
			return fmt.Errorf("host url %q is not absolute", rawURL)
		}
		c.HostURL = rawURL
		return nil
	}
}

func WithPoolSize(n int) Option {
	return func(c *HostConfig) error {
		if n < 1 {
			return fmt.Errorf("pool size must be at least 1, got %d", n)
		}
		c.PoolSize = n
		return nil
	}
}

// WithHostCount sets how many routes an unbound pool is split across.
func WithHostCount(n int) Option {
	return func(c *HostConfig) error {
		if n < 1 {
			return fmt.Errorf("host count must be at least 1, got %d", n)
		}
		c.HostCount = n
		return nil
	}
}

// WithConnectionRequestTimeout bounds the wait for a pooled connection.
func WithConnectionRequestTimeout(d time.Duration) Option {
	return durationOption("connection request timeout", d, func(c *HostConfig) { c.ConnectionRequestTimeout = d })
}

func WithConnectTimeout(d time.Duration) Option {
	return durationOption("connect timeout", d, func(c *HostConfig) { c.ConnectTimeout = d })
}

// WithSocketTimeout bounds the wait between bytes read from a connection.
func WithSocketTimeout(d time.Duration) Option {
	return durationOption("socket timeout", d, func(c *HostConfig) { c.SocketTimeout = d })
}

func durationOption(name string, d time.Duration, set func(*HostConfig)) Option {
	return func(c *HostConfig) error {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, d)
		}
		set(c)
		return nil
	}
}

// WithCharset sets the default text encoding by IANA name.
func WithCharset(name string) Option {
	return func(c *HostConfig) error {
		cs, err := charset.Lookup(name)
		if err != nil {
			return err
		}
		c.Charset = cs.Name()
		return nil
	}
}

func WithUserAgent(ua string) Option {
	return func(c *HostConfig) error {
		c.UserAgent = ua
		return nil
	}
}

func WithReferer(referer string) Option {
	return func(c *HostConfig) error {
		c.Referer = referer
		return nil
	}
}

// WithCA sets trust store or PEM bytes and the store password.
func WithCA(material []byte, password string) Option {
	return func(c *HostConfig) error {
		if len(material) == 0 {
			return errors.New("ca: empty material")
		}
		c.CA = material
		c.CAPassword = password
		return nil
	}
}

// WithCAFile reads trust material from path when the executor is built.
func WithCAFile(path, password string) Option {
	return func(c *HostConfig) error {
		if path == "" {
			return errors.New("ca file: empty path")
		}
		c.CAFile = path
		c.CAPassword = password
		return nil
	}
}

// WithTrustAll disables certificate and hostname verification when no CA
// material is configured.
func WithTrustAll(trustAll bool) Option {
	return func(c *HostConfig) error {
		c.TrustAll = trustAll
		return nil
	}
}

func WithMulticlient(multiclient bool) Option {
	return func(c *HostConfig) error {
		c.Multiclient = multiclient
		return nil
	}
}

// WithIsMulticlient sets multiclient mode.
//
// Deprecated: use WithMulticlient.
func WithIsMulticlient(multiclient bool) Option {
	return WithMulticlient(multiclient)
}

// WithKeepAlive toggles connection reuse and SO_KEEPALIVE.
func WithKeepAlive(keepAlive bool) Option {
	return func(c *HostConfig) error {
		c.KeepAlive = keepAlive
		return nil
	}
}
