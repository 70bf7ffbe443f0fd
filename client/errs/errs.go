// Package errs defines the error taxonomy shared by every layer of the
// client: configuration, connection, protocol and content failures.
package errs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
)

// MaxBodySize caps the amount of response body kept on a [ProtocolError].
const MaxBodySize = 4 << 10 // 4KB

var (
	// ErrNotInitialized is returned by a zero-value Executor.
	ErrNotInitialized = errors.New("executor not initialized")
	// ErrShutdown is returned by an Executor after Shutdown.
	ErrShutdown = errors.New("executor shut down")
	// ErrRelativeURL is returned when a relative URL is given without a host URL.
	ErrRelativeURL = errors.New("relative url requires a host url")
	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("connection pool closed")

	// ErrUnexpectedStatusCode is the sentinel wrapped by [ProtocolError] when
	// the status does not fit the consumer.
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrNoContent is wrapped by [ProtocolError] when a body was required.
	ErrNoContent = errors.New("response contains no content")
	// ErrMissingHeader is wrapped by [ProtocolError] when a required header is absent.
	ErrMissingHeader = errors.New("missing response header")
)

// ConfigError reports missing or invalid configuration, or a usage error.
// It is never retried.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config wraps err as a *ConfigError for the given operation.
func Config(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

// Kind classifies a [ConnectionError].
type Kind int

const (
	KindIO Kind = iota
	KindTimeout
	KindPoolTimeout
	KindUnknownHost
	KindConnectTimeout
	KindTLS
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindPoolTimeout:
		return "pool timeout"
	case KindUnknownHost:
		return "unknown host"
	case KindConnectTimeout:
		return "connect timeout"
	case KindTLS:
		return "tls"
	default:
		return "io"
	}
}

// ConnectionError is returned for transport level failures: DNS, connect,
// socket reads and TLS handshakes.
type ConnectionError struct {
	Kind  Kind
	Route string
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Route == "" {
		return fmt.Sprintf("connection %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("connection %s [%s]: %v", e.Kind, e.Route, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure is one of the timeout kinds.
func (e *ConnectionError) Timeout() bool {
	return e.Kind == KindTimeout || e.Kind == KindPoolTimeout || e.Kind == KindConnectTimeout
}

// ProtocolError is returned when a response does not satisfy its consumer,
// e.g. an unexpected status code or a missing body.
type ProtocolError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: %d", e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ContentError is returned when a payload could not be decoded.
type ContentError struct {
	MediaType string
	Err       error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.MediaType, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// Classify maps a raw dial/read/handshake error onto a *ConnectionError.
// Errors that are already classified are returned as is.
func Classify(route string, err error) error {
	if err == nil {
		return nil
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}

	return &ConnectionError{Kind: kindOf(err), Route: route, Err: err}
}

func kindOf(err error) Kind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return KindUnknownHost
	}

	if isTLS(err) {
		return KindTLS
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindIO
}

func isTLS(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		alertErr   tls.AlertError
	)

	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &alertErr)
}

// IsKind reports whether err carries a *ConnectionError of kind k.
func IsKind(err error, k Kind) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Kind == k
}
