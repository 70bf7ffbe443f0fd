package pool

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"

	"golang.org/x/net/http/httpguts"

	"github.com/adamwoolhether/hostclient/client/header"
)

// expectsBody lists methods that carry Content-Length: 0 when bodyless.
var expectsBody = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// writeRequest serialises req as HTTP/1.1 onto w with headers in canonical
// order, then in the order recorded in the request context.
func writeRequest(w *bufio.Writer, req *http.Request, keepAlive bool) error {
	h := make(http.Header, len(req.Header)+3)
	for k, vv := range req.Header {
		ck := http.CanonicalHeaderKey(k)
		h[ck] = append(h[ck], vv...)
	}

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	h.Set("Host", host)

	if keepAlive && !req.Close {
		h.Set("Connection", "keep-alive")
	} else {
		h.Set("Connection", "close")
	}

	hasBody := req.Body != nil && req.Body != http.NoBody
	chunked := false
	h.Del("Transfer-Encoding")
	switch {
	case hasBody && req.ContentLength > 0:
		h.Set("Content-Length", strconv.FormatInt(req.ContentLength, 10))
	case hasBody:
		h.Del("Content-Length")
		h.Set("Transfer-Encoding", "chunked")
		chunked = true
	case expectsBody[req.Method]:
		h.Set("Content-Length", "0")
	default:
		h.Del("Content-Length")
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if !httpguts.ValidHostHeader(host) {
		return fmt.Errorf("invalid host header %q", host)
	}

	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", method, req.URL.RequestURI()); err != nil {
		return err
	}

	for _, k := range header.Order(h, header.OrderFrom(req.Context())...) {
		if !httpguts.ValidHeaderFieldName(k) {
			return fmt.Errorf("invalid header name %q", k)
		}
		for _, v := range h[k] {
			if !httpguts.ValidHeaderFieldValue(v) {
				return fmt.Errorf("invalid value for header %q", k)
			}
			if _, err := w.WriteString(k + ": " + v + "\r\n"); err != nil {
				return err
			}
		}
	}
	if _, err := w.WriteString("\r\n"); err != nil {
		return err
	}

	if hasBody {
		if err := writeBody(w, req, chunked); err != nil {
			return err
		}
	}

	return w.Flush()
}

func writeBody(w *bufio.Writer, req *http.Request, chunked bool) error {
	defer req.Body.Close()

	if !chunked {
		n, err := io.CopyN(w, req.Body, req.ContentLength)
		if err != nil {
			return fmt.Errorf("writing body: wrote %d of %d bytes: %w", n, req.ContentLength, err)
		}
		return nil
	}

	cw := httputil.NewChunkedWriter(w)
	if _, err := io.Copy(cw, req.Body); err != nil {
		return fmt.Errorf("writing chunked body: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("closing chunked body: %w", err)
	}

	// Terminates the empty trailer section.
	_, err := w.WriteString("\r\n")
	return err
}
