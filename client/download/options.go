package download

import (
	"errors"
	"hash"
	"os"
)

// Option configures Handle.
type Option func(*options) error

type options struct {
	checksum     *checksumVerifier
	progress     bool
	skipExisting bool
	mode         os.FileMode
}

// WithChecksum verifies the written bytes against expected, the
// hex-encoded digest produced by h.
func WithChecksum(h hash.Hash, expected string) Option {
	return func(opts *options) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}

		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		opts.checksum = &checksumVerifier{hash: h, expected: expected}
		return nil
	}
}

// WithProgress logs transfer progress at most once per second.
func WithProgress() Option {
	return func(opts *options) error {
		opts.progress = true
		return nil
	}
}

// WithSkipExisting returns without writing when the destination exists.
func WithSkipExisting() Option {
	return func(opts *options) error {
		opts.skipExisting = true
		return nil
	}
}

// WithMode sets the permissions of the final file.
func WithMode(mode os.FileMode) Option {
	return func(opts *options) error {
		if mode == 0 {
			return errors.New("mode must not be zero")
		}
		opts.mode = mode
		return nil
	}
}
