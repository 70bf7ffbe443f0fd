// Package keepalive decides how long an idle connection may be kept for
// reuse after a response, honoring the server's Keep-Alive hint.
package keepalive

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultDuration is used when the server advertises no usable timeout.
const DefaultDuration = 30 * time.Second

// Policy computes the keep-alive duration for a response's headers.
type Policy func(h http.Header) time.Duration

// Duration scans every Keep-Alive header element for a "timeout=<seconds>"
// parameter. A missing or non-numeric value falls back to DefaultDuration.
func Duration(h http.Header) time.Duration {
	for _, line := range h.Values("Keep-Alive") {
		for _, elem := range strings.Split(line, ",") {
			name, value, ok := strings.Cut(strings.TrimSpace(elem), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(name), "timeout") {
				continue
			}

			secs, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(value), `"`), 10, 64)
			if err != nil {
				continue
			}

			return time.Duration(secs) * time.Second
		}
	}

	return DefaultDuration
}
