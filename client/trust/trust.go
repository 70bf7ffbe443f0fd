// Package trust resolves the TLS trust strategy used by the connection pool.
// It is evaluated once when an executor is built; changing trust material
// requires a new executor.
package trust

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// Version is the single protocol version pinned when explicit trust
// material is configured.
const Version = tls.VersionTLS12

// Mode names the resolved trust strategy.
type Mode int

const (
	ModeSystem Mode = iota
	ModeCustom
	ModeCA
	ModeInsecure
)

func (m Mode) String() string {
	switch m {
	case ModeCustom:
		return "custom"
	case ModeCA:
		return "ca"
	case ModeInsecure:
		return "insecure"
	default:
		return "system"
	}
}

// Config holds the trust inputs in resolution order.
type Config struct {
	// TLS is an externally supplied context, used as is.
	TLS *tls.Config
	// CA is PKCS#12 trust store or PEM bundle bytes.
	CA []byte
	// CAFile is read when CA is empty.
	CAFile     string
	CAPassword string
	// TrustAll disables certificate and hostname verification when no CA
	// material is given.
	TrustAll bool
}

// Resolve builds the *tls.Config for cfg.
func Resolve(cfg Config) (*tls.Config, Mode, error) {
	if cfg.TLS != nil {
		tc := cfg.TLS.Clone()
		pin(tc)
		return tc, ModeCustom, nil
	}

	material := cfg.CA
	if len(material) == 0 && cfg.CAFile != "" {
		b, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, ModeSystem, fmt.Errorf("reading ca file: %w", err)
		}
		material = b
	}

	if len(material) > 0 {
		pool, err := certPool(material, cfg.CAPassword)
		if err != nil {
			return nil, ModeSystem, err
		}

		tc := &tls.Config{RootCAs: pool}
		pin(tc)
		return tc, ModeCA, nil
	}

	if cfg.TrustAll {
		return &tls.Config{InsecureSkipVerify: true}, ModeInsecure, nil
	}

	return &tls.Config{}, ModeSystem, nil
}

func pin(tc *tls.Config) {
	tc.MinVersion = Version
	tc.MaxVersion = Version
}

// certPool loads a PKCS#12 trust store, falling back to PEM.
func certPool(material []byte, password string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()

	if bytes.Contains(material, []byte("-----BEGIN CERTIFICATE-----")) {
		if !pool.AppendCertsFromPEM(material) {
			return nil, errors.New("no certificates found in pem bundle")
		}
		return pool, nil
	}

	certs, err := pkcs12.DecodeTrustStore(material, password)
	if err != nil {
		return nil, fmt.Errorf("decoding trust store: %w", err)
	}
	if len(certs) == 0 {
		return nil, errors.New("trust store holds no certificates")
	}

	for _, cert := range certs {
		pool.AddCert(cert)
	}

	return pool, nil
}
