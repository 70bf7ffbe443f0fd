// Package header applies default request headers and defines the
// canonical order headers are transmitted in.
package header

import (
	"errors"
	"net/http"
)

const (
	// DefaultAccept is set when a request carries no Accept header.
	DefaultAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	// DefaultContentType is set when a request carries no Content-Type header.
	DefaultContentType = "application/x-www-form-urlencoded;charset=UTF-8"
	// AjaxContentType is forced onto body-carrying AJAX requests.
	AjaxContentType = "application/x-www-form-urlencoded; charset=UTF-8"
	// DefaultUserAgent is used when no User-Agent is configured.
	DefaultUserAgent = "hostclient/1.0"

	// RequestedWith marks a request as AJAX.
	RequestedWith = "X-Requested-With"
	// XMLHttpRequest is the RequestedWith marker value.
	XMLHttpRequest = "XMLHttpRequest"
)

// Defaults holds the host level values the Normalizer applies.
type Defaults struct {
	HostURL   string
	UserAgent string
	Referer   string
}

// Normalizer is an http.RoundTripper applying default headers to every
// outgoing request before handing it to the next transport.
type Normalizer struct {
	defaults Defaults
	next     http.RoundTripper
}

// NewNormalizer wraps next.
func NewNormalizer(defaults Defaults, next http.RoundTripper) (*Normalizer, error) {
	if next == nil {
		return nil, errors.New("transport must not be nil")
	}

	return &Normalizer{defaults: defaults, next: next}, nil
}

func (n *Normalizer) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	n.Apply(cpy)
	return n.next.RoundTrip(cpy)
}

// Apply normalizes the headers of req in place.
func (n *Normalizer) Apply(req *http.Request) {
	h := req.Header
	if h == nil {
		h = http.Header{}
		req.Header = h
	}

	if h.Get("Accept") == "" {
		h.Set("Accept", DefaultAccept)
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", DefaultContentType)
	}

	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")

	if h.Get(RequestedWith) != "" {
		switch req.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			h.Set("Content-Type", AjaxContentType)
		}
		h.Set("Origin", n.defaults.HostURL)
	}

	if h.Get("Referer") == "" && n.defaults.Referer != "" {
		h.Set("Referer", n.defaults.Referer)
	}

	ua := n.defaults.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	h.Set("User-Agent", ua)
}
