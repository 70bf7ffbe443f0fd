package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/hostclient/client/charset"
	"github.com/adamwoolhether/hostclient/client/errs"
	"github.com/adamwoolhether/hostclient/client/header"
	"github.com/adamwoolhether/hostclient/client/hostconfig"
	"github.com/adamwoolhether/hostclient/client/keepalive"
	"github.com/adamwoolhether/hostclient/client/metrics"
	"github.com/adamwoolhether/hostclient/client/pool"
	"github.com/adamwoolhether/hostclient/client/retry"
	"github.com/adamwoolhether/hostclient/client/throttle"
	"github.com/adamwoolhether/hostclient/client/trust"
)

const (
	stateNew int32 = iota
	stateReady
	stateShutdown
)

// Executor turns request specs into wire requests and runs them over a
// shared connection pool. It is safe for concurrent use. The zero value
// is not initialized; create one with New.
type Executor struct {
	cfg       hostconfig.HostConfig
	logger    *slog.Logger
	charset   charset.Charset
	pool      *pool.Pool
	transport http.RoundTripper
	client    *http.Client
	newJar    func() http.CookieJar
	redirect  func(*http.Request, []*http.Request) error
	tracer    trace.Tracer
	propagate bool
	metrics   *metrics.Metrics
	trustMode trust.Mode

	state    atomic.Int32
	shutdown sync.Once
}

// New builds the pool, trust, retry, and keep-alive policies for cfg once
// and starts the pool's idle reaper. Callers must Shutdown the executor to
// release its connections.
func New(cfg hostconfig.HostConfig, optFns ...Option) (*Executor, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, errs.Config("applying executor option", err)
		}
	}

	if err := hostconfig.Validate(cfg); err != nil {
		return nil, errs.Config("validating host config", err)
	}

	e := &Executor{
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer(""),
		newJar:    DefaultCookieJar,
		propagate: opts.propagate,
	}
	if opts.logger != nil {
		e.logger = opts.logger
	}
	if opts.tracer != nil {
		e.tracer = opts.tracer
	}
	if opts.newJar != nil {
		e.newJar = opts.newJar
	}
	if opts.noFollowRedirects {
		e.redirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	cs, err := charset.Lookup(cfg.Charset)
	if err != nil {
		return nil, errs.Config("resolving charset", err)
	}
	e.charset = cs

	tlsConfig, mode, err := trust.Resolve(trust.Config{
		TLS:        opts.tlsConfig,
		CA:         cfg.CA,
		CAFile:     cfg.CAFile,
		CAPassword: cfg.CAPassword,
		TrustAll:   cfg.TrustAll,
	})
	if err != nil {
		return nil, errs.Config("resolving trust", err)
	}
	e.trustMode = mode
	if mode == trust.ModeInsecure {
		e.logger.Warn("tls verification disabled, trusting all certificates", "host_url", cfg.HostURL)
	}

	kaPolicy := keepalive.Policy(keepalive.Duration)
	if opts.keepAlivePolicy != nil {
		kaPolicy = opts.keepAlivePolicy
	}

	p, err := pool.New(pool.Config{
		Limits:          cfg.Limits(),
		Timeouts:        cfg.Timeouts(),
		KeepAlive:       cfg.KeepAlive,
		TLS:             tlsConfig,
		KeepAlivePolicy: kaPolicy,
		Logger:          e.logger,
	})
	if err != nil {
		return nil, errs.Config("building pool", err)
	}
	e.pool = p

	if opts.registerer != nil {
		e.metrics = metrics.New(opts.registerer, opts.metricsName)
		e.metrics.ObservePool(p.Stats)
	}

	if err := e.buildTransport(opts); err != nil {
		p.Close()
		return nil, err
	}

	if !cfg.Multiclient {
		e.client = e.newClient(e.newJar())
	}

	p.Start()
	e.state.Store(stateReady)

	e.logger.Debug("executor initialized",
		"host_url", cfg.HostURL,
		"pool_size", cfg.PoolSize,
		"trust", mode.String(),
		"multiclient", cfg.Multiclient,
	)

	return e, nil
}

// buildTransport assembles, outermost first: metrics, retry, throttle,
// header normalization, optional middleware, and the pool.
func (e *Executor) buildTransport(opts options) error {
	var rt http.RoundTripper = e.pool.Transport()

	if opts.transport != nil {
		rt = opts.transport(rt)
	}

	norm, err := header.NewNormalizer(header.Defaults{
		HostURL:   e.cfg.HostURL,
		UserAgent: e.cfg.UserAgent,
		Referer:   e.cfg.Referer,
	}, rt)
	if err != nil {
		return errs.Config("building normalizer", err)
	}
	rt = norm

	if opts.throttle != nil {
		rt, err = throttle.NewRoundTripper(*opts.throttle, func() *slog.Logger { return e.logger }, rt)
		if err != nil {
			return errs.Config("configuring throttle", err)
		}
	}

	policy := retry.Default()
	if opts.retryPolicy != nil {
		policy = opts.retryPolicy
	}
	var hook retry.Hook
	if e.metrics != nil {
		hook = e.metrics.RetryHook()
	}
	rt, err = retry.NewRoundTripper(policy, func() *slog.Logger { return e.logger }, hook, rt)
	if err != nil {
		return errs.Config("configuring retry", err)
	}

	if e.metrics != nil {
		rt = e.metrics.InstrumentRoundTripper(rt)
	}

	e.transport = rt

	return nil
}

func (e *Executor) newClient(jar http.CookieJar) *http.Client {
	return &http.Client{
		Transport:     e.transport,
		Jar:           jar,
		CheckRedirect: e.redirect,
	}
}

// Config returns the host config the executor was built from.
func (e *Executor) Config() hostconfig.HostConfig {
	return e.cfg
}

// TrustMode reports the resolved TLS trust strategy.
func (e *Executor) TrustMode() trust.Mode {
	return e.trustMode
}

// Stats returns a snapshot of the connection pool.
func (e *Executor) Stats() pool.Stats {
	if e.pool == nil {
		return pool.Stats{}
	}
	return e.pool.Stats()
}

// Shutdown stops the idle reaper and closes pooled connections. It is
// irreversible; later calls fail with errs.ErrShutdown.
func (e *Executor) Shutdown() error {
	if e.state.Load() == stateNew {
		return errs.Config("shutdown", errs.ErrNotInitialized)
	}

	var err error
	e.shutdown.Do(func() {
		e.state.Store(stateShutdown)
		err = e.pool.Close()
		e.logger.Debug("executor shut down")
	})

	return err
}

func (e *Executor) ready() error {
	if e == nil {
		return errs.Config("execute", errs.ErrNotInitialized)
	}

	switch e.state.Load() {
	case stateReady:
		return nil
	case stateShutdown:
		return errs.Config("execute", errs.ErrShutdown)
	default:
		return errs.Config("execute", errs.ErrNotInitialized)
	}
}

// Do builds the request described by s, executes it, and hands the
// response to c. The response body is drained and closed before Do
// returns.
func Do[T any](s *Spec, c Consumer[T]) (T, error) {
	var zero T

	if s == nil {
		return zero, errs.Config("execute", errors.New("nil spec"))
	}
	e := s.exec
	if err := e.ready(); err != nil {
		return zero, err
	}
	if c.handle == nil {
		return zero, errs.Config("execute", errNoHandler)
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	callID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "hostclient.do",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", s.method),
			attribute.String("hostclient.call_id", callID),
			attribute.String("hostclient.consumer", c.kind.String()),
		),
	)
	defer span.End()

	logger := e.logger.With("call_id", callID)

	fail := func(err error) (T, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug("request failed", "method", s.method, "url", s.url, "error", err)
		return zero, err
	}

	req, err := e.build(ctx, s, c.kind, c.mediaType)
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.String("url.full", req.URL.Redacted()))

	if e.propagate {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	hc := e.client
	if hc == nil {
		hc = e.newClient(e.newJar())
	}
	if s.jar != nil {
		scoped := *hc
		scoped.Jar = s.jar
		hc = &scoped
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return fail(unwrapURLError(err))
	}
	defer func() {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			logger.Debug("discarding unread body", "error", err)
		}
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	logger.Debug("response received",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"took", time.Since(start).String(),
	)

	v, err := c.handle(ctx, resp, logger)
	if err != nil {
		return fail(err)
	}

	return v, nil
}

// unwrapURLError strips the *url.Error added by http.Client when the
// transport already returned a typed error.
func unwrapURLError(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}

	var (
		connErr *errs.ConnectionError
		cfgErr  *errs.ConfigError
	)
	if errors.As(ue.Err, &connErr) || errors.As(ue.Err, &cfgErr) {
		return ue.Err
	}

	return err
}
