package client

import (
	"hash"

	"github.com/adamwoolhether/hostclient/client/download"
	"github.com/adamwoolhether/hostclient/client/errs"
)

// -------------------------------------------------------------------------
// Type aliases: re-export user-facing error types.
// -------------------------------------------------------------------------

type (
	ConfigError     = errs.ConfigError
	ConnectionError = errs.ConnectionError
	ProtocolError   = errs.ProtocolError
	ContentError    = errs.ContentError

	// DownloadError wraps a file sink sentinel with additional detail.
	DownloadError = download.Error

	// DownloadOption configures the file sinks.
	DownloadOption = download.Option
)

// -------------------------------------------------------------------------
// Sentinel errors
// -------------------------------------------------------------------------

var (
	ErrNotInitialized       = errs.ErrNotInitialized
	ErrShutdown             = errs.ErrShutdown
	ErrRelativeURL          = errs.ErrRelativeURL
	ErrUnexpectedStatusCode = errs.ErrUnexpectedStatusCode
	ErrNoContent            = errs.ErrNoContent
	ErrMissingHeader        = errs.ErrMissingHeader

	// ErrContentLengthMismatch indicates the byte count did not match Content-Length.
	ErrContentLengthMismatch = download.ErrContentLengthMismatch

	// ErrChecksumMismatch indicates the file checksum did not match the expected value.
	ErrChecksumMismatch = download.ErrChecksumMismatch
)

// -------------------------------------------------------------------------
// File sink option forwarding functions
// -------------------------------------------------------------------------

// WithChecksum verifies the written file against the hex-encoded expected
// digest of h.
func WithChecksum(h hash.Hash, expected string) DownloadOption {
	return download.WithChecksum(h, expected)
}

// WithProgress enables periodic progress logging.
func WithProgress() DownloadOption { return download.WithProgress() }

// WithSkipExisting leaves an existing destination file untouched.
func WithSkipExisting() DownloadOption { return download.WithSkipExisting() }
