package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/adamwoolhether/hostclient/client/errs"
	"github.com/adamwoolhether/hostclient/client/metrics"
	"github.com/adamwoolhether/hostclient/client/pool"
)

type failingTransport struct{ err error }

func (f failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, f.err
}

func TestInstrumentRoundTripper(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry, "test")

	c := &http.Client{Transport: m.InstrumentRoundTripper(http.DefaultTransport)}
	for range 2 {
		resp, err := c.Get(ts.URL)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
	}

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("418", "get")); got != 2 {
		t.Errorf("exp 2 requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.InFlight); got != 0 {
		t.Errorf("exp no requests in flight, got %v", got)
	}
	if n := testutil.CollectAndCount(m.RequestDuration); n != 1 {
		t.Errorf("exp one duration series, got %d", n)
	}
}

func TestInstrumentRoundTripper_ErrorKinds(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind string
	}{
		{name: "timeout", err: &errs.ConnectionError{Kind: errs.KindTimeout, Err: errors.New("slow")}, kind: errs.KindTimeout.String()},
		{name: "config", err: errs.Config("op", errors.New("bad")), kind: "config"},
		{name: "other", err: errors.New("boom"), kind: "other"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry(), "test")
			c := &http.Client{Transport: m.InstrumentRoundTripper(failingTransport{err: tc.err})}

			if _, err := c.Get("http://example.test"); err == nil {
				t.Fatal("exp error")
			}

			if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(tc.kind)); got != 1 {
				t.Errorf("exp 1 %s error, got %v", tc.kind, got)
			}
		})
	}
}

func TestRetryHook(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), "test")

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	hook := m.RetryHook()
	hook(req, 1, errors.New("x"))
	hook(req, 2, errors.New("x"))

	if got := testutil.ToFloat64(m.RetriesTotal.WithLabelValues(http.MethodGet)); got != 2 {
		t.Errorf("exp 2 retries, got %v", got)
	}
}

func TestObservePool(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry, "test")

	m.ObservePool(func() pool.Stats {
		return pool.Stats{Leased: 3, Idle: 2, MaxTotal: 10}
	})

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	got := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if g := metric.GetGauge(); g != nil {
				got[mf.GetName()] = g.GetValue()
			}
		}
	}

	exp := map[string]float64{
		"hostclient_pool_leased_connections": 3,
		"hostclient_pool_idle_connections":   2,
		"hostclient_pool_max_connections":    10,
		"hostclient_requests_in_flight":      0,
	}
	for name, v := range exp {
		if got[name] != v {
			t.Errorf("%s: exp %v, got %v", name, v, got[name])
		}
	}
}
