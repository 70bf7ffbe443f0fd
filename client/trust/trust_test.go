package trust_test

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/adamwoolhether/hostclient/client/trust"
	"software.sslmate.com/src/go-pkcs12"
)

func newTLSServer(t *testing.T) *httptest.Server {
	t.Helper()

	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	return ts
}

func dial(t *testing.T, ts *httptest.Server, tc *tls.Config) error {
	t.Helper()

	conn, err := tls.Dial("tcp", ts.Listener.Addr().String(), tc)
	if err != nil {
		return err
	}
	return conn.Close()
}

func TestResolve_System(t *testing.T) {
	tc, mode, err := trust.Resolve(trust.Config{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mode != trust.ModeSystem {
		t.Errorf("exp system mode, got %v", mode)
	}

	ts := newTLSServer(t)
	if err := dial(t, ts, tc); err == nil {
		t.Error("exp self-signed server to be rejected by system roots")
	}
}

func TestResolve_TrustAll(t *testing.T) {
	tc, mode, err := trust.Resolve(trust.Config{TrustAll: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mode != trust.ModeInsecure || !tc.InsecureSkipVerify {
		t.Fatalf("exp insecure mode, got %v", mode)
	}

	ts := newTLSServer(t)
	if err := dial(t, ts, tc); err != nil {
		t.Errorf("exp insecure dial to succeed: %v", err)
	}
}

func TestResolve_PEM(t *testing.T) {
	ts := newTLSServer(t)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw})

	tc, mode, err := trust.Resolve(trust.Config{CA: pemBytes, TrustAll: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mode != trust.ModeCA {
		t.Errorf("exp ca mode to win over trust all, got %v", mode)
	}
	if tc.MinVersion != trust.Version || tc.MaxVersion != trust.Version {
		t.Errorf("exp pinned protocol version")
	}

	if err := dial(t, ts, tc); err != nil {
		t.Errorf("exp ca-trusted dial to succeed: %v", err)
	}
}

func TestResolve_PKCS12File(t *testing.T) {
	ts := newTLSServer(t)

	store, err := pkcs12.Modern.EncodeTrustStore([]*x509.Certificate{ts.Certificate()}, "changeit")
	if err != nil {
		t.Fatalf("encoding trust store: %v", err)
	}

	path := filepath.Join(t.TempDir(), "ca.p12")
	if err := os.WriteFile(path, store, 0o600); err != nil {
		t.Fatalf("writing trust store: %v", err)
	}

	tc, mode, err := trust.Resolve(trust.Config{CAFile: path, CAPassword: "changeit"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mode != trust.ModeCA {
		t.Errorf("exp ca mode, got %v", mode)
	}
	if err := dial(t, ts, tc); err != nil {
		t.Errorf("exp ca-trusted dial to succeed: %v", err)
	}

	if _, _, err := trust.Resolve(trust.Config{CAFile: path, CAPassword: "wrong"}); err == nil {
		t.Error("exp bad password to fail")
	}
}

func TestResolve_Custom(t *testing.T) {
	custom := &tls.Config{ServerName: "custom.test"}

	tc, mode, err := trust.Resolve(trust.Config{TLS: custom, TrustAll: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mode != trust.ModeCustom {
		t.Errorf("exp custom mode, got %v", mode)
	}
	if tc == custom {
		t.Error("exp supplied config to be cloned")
	}
	if tc.ServerName != "custom.test" || tc.InsecureSkipVerify {
		t.Errorf("exp supplied config to be used as is")
	}
}

func TestResolve_BadMaterial(t *testing.T) {
	testCases := []struct {
		name string
		cfg  trust.Config
	}{
		{name: "missing file", cfg: trust.Config{CAFile: filepath.Join(t.TempDir(), "nope.p12")}},
		{name: "garbage", cfg: trust.Config{CA: []byte("not a store"), CAPassword: "x"}},
		{name: "empty pem", cfg: trust.Config{CA: []byte("-----BEGIN CERTIFICATE-----\n-----END CERTIFICATE-----\n")}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := trust.Resolve(tc.cfg); err == nil {
				t.Error("exp error")
			}
		})
	}
}
