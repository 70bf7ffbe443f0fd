package pool

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Route is the (scheme, host, port) triple a pooled connection is bound to.
type Route struct {
	Scheme string
	Host   string
	Port   int
}

// RouteOf derives the route of an absolute http or https URL.
func RouteOf(u *url.URL) (Route, error) {
	if u == nil {
		return Route{}, fmt.Errorf("nil url")
	}

	r := Route{Scheme: u.Scheme, Host: u.Hostname()}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return Route{}, fmt.Errorf("invalid port %q", p)
		}
		r.Port = n
	}
	if r.Host == "" {
		return Route{}, fmt.Errorf("url %q has no host", u.Redacted())
	}

	return r.Normalize()
}

// Normalize validates r and returns it in the form RouteOf produces: lower
// case scheme and host, no IPv6 brackets, and the scheme's default port in
// place of a zero port.
func (r Route) Normalize() (Route, error) {
	scheme := strings.ToLower(r.Scheme)
	var def int
	switch scheme {
	case "http":
		def = 80
	case "https":
		def = 443
	default:
		return Route{}, fmt.Errorf("unsupported scheme %q", r.Scheme)
	}

	host := strings.ToLower(r.Host)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if host == "" {
		return Route{}, fmt.Errorf("route has no host")
	}
	if strings.ContainsAny(host, "/?#@ ") {
		return Route{}, fmt.Errorf("invalid host %q", r.Host)
	}

	port := r.Port
	switch {
	case port == 0:
		port = def
	case port < 0 || port > 65535:
		return Route{}, fmt.Errorf("invalid port %d", r.Port)
	}

	return Route{Scheme: scheme, Host: host, Port: port}, nil
}

// ParseRoute parses a "scheme://host[:port]" string.
func ParseRoute(raw string) (Route, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Route{}, fmt.Errorf("parsing route: %w", err)
	}
	return RouteOf(u)
}

// Addr is the dialable host:port.
func (r Route) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// TLS reports whether the route is encrypted.
func (r Route) TLS() bool {
	return r.Scheme == "https"
}

// URL renders the route as a base URL, omitting default ports.
func (r Route) URL() string {
	if (r.Scheme == "http" && r.Port == 80) || (r.Scheme == "https" && r.Port == 443) {
		host := r.Host
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		return r.Scheme + "://" + host
	}
	return r.Scheme + "://" + r.Addr()
}

func (r Route) String() string {
	return r.Scheme + "://" + r.Addr()
}
