package client_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/adamwoolhether/hostclient/client"
	"github.com/adamwoolhether/hostclient/client/hostconfig"
	"github.com/adamwoolhether/hostclient/client/trust"
)

func TestOption_Throttle(t *testing.T) {
	ts := httptest.NewServer(okText())
	defer ts.Close()

	testCases := []struct {
		name    string
		opts    []client.Option
		minTook time.Duration
		maxTook time.Duration
	}{
		{name: "unthrottled", maxTook: 250 * time.Millisecond},
		{name: "five per second", opts: []client.Option{client.WithThrottle(5, 1, false)}, minTook: 300 * time.Millisecond},
		{name: "per host", opts: []client.Option{client.WithThrottle(5, 1, true)}, minTook: 300 * time.Millisecond},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newExecutor(t, ts.URL, nil, tc.opts...)

			start := time.Now()
			for range 3 {
				if _, err := e.Get("/").Text(); err != nil {
					t.Fatalf("exp no error, got %v", err)
				}
			}
			took := time.Since(start)

			if took < tc.minTook {
				t.Errorf("exp at least %v, took %v", tc.minTook, took)
			}
			if tc.maxTook > 0 && took > tc.maxTook {
				t.Errorf("exp at most %v, took %v", tc.maxTook, took)
			}
		})
	}
}

func TestOption_Tracing(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	var traceparent atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent.Store(r.Header.Get("Traceparent"))
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	testCases := []struct {
		name      string
		propagate bool
	}{
		{name: "span only"},
		{name: "span and propagation", propagate: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
			t.Cleanup(func() { tp.Shutdown(context.Background()) })

			opts := []client.Option{client.WithTracer(tp.Tracer("test"))}
			if tc.propagate {
				opts = append(opts, client.WithTracePropagation())
			}
			e := newExecutor(t, ts.URL, nil, opts...)

			if _, err := e.Get("/traced").Text(); err != nil {
				t.Fatalf("exp no error, got %v", err)
			}

			spans := rec.Ended()
			if len(spans) != 1 {
				t.Fatalf("exp 1 span, got %d", len(spans))
			}
			span := spans[0]
			if span.Name() != "hostclient.do" {
				t.Errorf("exp span hostclient.do, got %s", span.Name())
			}

			var status int64
			for _, kv := range span.Attributes() {
				if kv.Key == "http.response.status_code" {
					status = kv.Value.AsInt64()
				}
			}
			if status != http.StatusOK {
				t.Errorf("exp status attribute 200, got %d", status)
			}

			got, _ := traceparent.Load().(string)
			traceID := span.SpanContext().TraceID().String()
			switch {
			case tc.propagate && !strings.Contains(got, traceID):
				t.Errorf("exp traceparent carrying %s, got %q", traceID, got)
			case !tc.propagate && got != "":
				t.Errorf("exp no traceparent, got %q", got)
			}
		})
	}
}

func TestOption_TLSConfig(t *testing.T) {
	var version atomic.Uint32
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version.Store(uint32(r.TLS.Version))
		io.WriteString(w, "secure")
	}))
	defer ts.Close()

	roots := x509.NewCertPool()
	roots.AddCert(ts.Certificate())

	e := newExecutor(t, ts.URL, nil, client.WithTLSConfig(&tls.Config{RootCAs: roots}))

	if got := e.TrustMode(); got != trust.ModeCustom {
		t.Errorf("exp custom trust, got %s", got)
	}

	got, err := e.Get("/").Text()
	if err != nil {
		t.Fatalf("exp no error, got %v", err)
	}
	if got != "secure" {
		t.Errorf("exp secure, got %q", got)
	}
	if v := uint16(version.Load()); v != trust.Version {
		t.Errorf("exp tls version %x, got %x", trust.Version, v)
	}
}

func TestOption_CookieJar(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1", Path: "/"})
			return
		}
		io.WriteString(w, r.Header.Get("Cookie"))
	}))
	defer ts.Close()

	testCases := []struct {
		name        string
		multiclient bool
		expJars     int64
	}{
		{name: "shared client builds one jar", expJars: 1},
		{name: "multiclient builds a jar per call", multiclient: true, expJars: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var jars atomic.Int64
			newJar := func() http.CookieJar {
				jars.Add(1)
				return client.DefaultCookieJar()
			}

			e := newExecutor(t, ts.URL,
				[]hostconfig.Option{hostconfig.WithMulticlient(tc.multiclient)},
				client.WithCookieJar(newJar),
			)

			for range 2 {
				if _, err := e.Get("/echo").Text(); err != nil {
					t.Fatalf("exp no error, got %v", err)
				}
			}

			if got := jars.Load(); got != tc.expJars {
				t.Errorf("exp %d jars, got %d", tc.expJars, got)
			}
		})
	}

	t.Run("per call jar", func(t *testing.T) {
		e := newExecutor(t, ts.URL, nil)
		jar := client.DefaultCookieJar()

		if _, err := e.Get("/set").Jar(jar).NoResult(); err != nil {
			t.Fatalf("set: %v", err)
		}

		u, err := url.Parse(ts.URL)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if n := len(jar.Cookies(u)); n != 1 {
			t.Fatalf("exp cookie stored in call jar, got %d", n)
		}

		got, err := e.Get("/echo").Text()
		if err != nil {
			t.Fatalf("echo: %v", err)
		}
		if got != "" {
			t.Errorf("exp executor jar untouched, got %q", got)
		}

		got, err = e.Get("/echo").Jar(jar).Text()
		if err != nil {
			t.Fatalf("echo with jar: %v", err)
		}
		if got != "sid=1" {
			t.Errorf("exp sid=1, got %q", got)
		}
	})
}

func TestOption_KeepAlivePolicy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Keep-Alive", "timeout=7")
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	var seen atomic.Value
	testCases := []struct {
		name    string
		policy  func(http.Header) time.Duration
		expIdle int
	}{
		{name: "default keeps connection", expIdle: 1},
		{
			name: "policy disables reuse",
			policy: func(h http.Header) time.Duration {
				if h != nil {
					seen.Store(h.Get("Keep-Alive"))
				}
				return 0
			},
			expIdle: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var opts []client.Option
			if tc.policy != nil {
				opts = append(opts, client.WithKeepAlivePolicy(tc.policy))
			}
			e := newExecutor(t, ts.URL, nil, opts...)

			if _, err := e.Get("/").Text(); err != nil {
				t.Fatalf("exp no error, got %v", err)
			}

			if st := e.Stats(); st.Idle != tc.expIdle || st.Leased != 0 {
				t.Errorf("exp %d idle, got %+v", tc.expIdle, st)
			}
		})
	}

	if got, _ := seen.Load().(string); got != "timeout=7" {
		t.Errorf("exp policy to see response headers, got %q", got)
	}
}

func TestOption_NoFollowRedirects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		io.WriteString(w, "moved")
	}))
	defer ts.Close()

	testCases := []struct {
		name      string
		opts      []client.Option
		expStatus int
	}{
		{name: "follows by default", expStatus: http.StatusOK},
		{name: "returns redirect", opts: []client.Option{client.WithNoFollowRedirects()}, expStatus: http.StatusFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newExecutor(t, ts.URL, nil, tc.opts...)

			status, err := e.Get("/old").NoResult()
			if err != nil {
				t.Fatalf("exp no error, got %v", err)
			}
			if status != tc.expStatus {
				t.Errorf("exp status %d, got %d", tc.expStatus, status)
			}
		})
	}
}

func okText() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
}
