package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/adamwoolhether/hostclient/client/charset"
	"github.com/adamwoolhether/hostclient/client/errs"
	"github.com/adamwoolhether/hostclient/client/header"
	"github.com/adamwoolhether/hostclient/client/pool"
)

// build turns s into a wire request. s is left untouched.
func (e *Executor) build(ctx context.Context, s *Spec, kind Kind, mediaType string) (*http.Request, error) {
	if s.err != nil {
		return nil, errs.Config("building request", s.err)
	}

	rawURL, err := e.resolveURL(s.url)
	if err != nil {
		return nil, err
	}

	base, query := splitQuery(rawURL)
	merged := mergeQuery(query, s.params)

	var (
		body        io.Reader
		contentType string
		target      string
		streamed    bool
	)

	switch {
	case s.stringBody != nil:
		body = bytes.NewReader(e.charset.Encode(*s.stringBody))
		contentType = mediaType + "; charset=" + e.charset.Name()
		target = rawURL

	case s.fileBody != "" || s.streamBody != nil:
		pr, ct, err := e.multipartBody(s, merged)
		if err != nil {
			return nil, err
		}
		body = pr
		contentType = ct
		target = base
		streamed = true

	case carriesForm(s.method):
		if merged.len() > 0 {
			body = strings.NewReader(encodeForm(merged, e.charset))
			contentType = "application/x-www-form-urlencoded; charset=" + e.charset.Name()
		}
		target = base

	default:
		target = base
		if merged.len() > 0 {
			target += "?" + encodeForm(merged, charset.UTF8)
		}
	}

	if s.readTimeout != DefaultReadTimeout {
		t := e.pool.Timeouts()
		t.Read = s.readTimeout
		ctx = pool.WithTimeouts(ctx, t)
	}

	if len(s.headerOrder) > 0 {
		ctx = header.WithOrder(ctx, slices.Clone(s.headerOrder))
	}

	req, err := http.NewRequestWithContext(ctx, s.method, target, body)
	if err != nil {
		if c, ok := body.(io.Closer); ok {
			c.Close()
		}
		return nil, errs.Config("building request", err)
	}
	if streamed {
		req.ContentLength = -1
	}

	for k, vv := range s.header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", kind.accept(mediaType))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.ajax {
		req.Header.Set(header.RequestedWith, header.XMLHttpRequest)
	}

	return req, nil
}

// resolveURL uses raw as is when it carries a scheme, else appends it to
// the host URL.
func (e *Executor) resolveURL(raw string) (string, error) {
	if strings.Contains(raw, "://") {
		return raw, nil
	}

	if e.cfg.HostURL == "" {
		return "", errs.Config("resolving url", fmt.Errorf("%q: %w", raw, errs.ErrRelativeURL))
	}

	return e.cfg.HostURL + raw, nil
}

// splitQuery separates the query of raw. Any fragment is dropped.
func splitQuery(raw string) (base, query string) {
	raw, _, _ = strings.Cut(raw, "#")
	base, query, _ = strings.Cut(raw, "?")
	return base, query
}

// mergeQuery combines the pairs of query with explicit. Explicit values win
// for shared keys. URL keys come first in URL order, then the remaining
// explicit keys in insertion order.
func mergeQuery(query string, explicit params) params {
	var merged params

	if query != "" {
		for pair := range strings.SplitSeq(query, "&") {
			if pair == "" {
				continue
			}

			parts := strings.Split(pair, "=")
			if len(parts) > 2 {
				continue
			}

			key, err := url.QueryUnescape(parts[0])
			if err != nil {
				key = parts[0]
			}
			if merged.has(key) {
				continue
			}

			var value string
			if len(parts) == 2 {
				if value, err = url.QueryUnescape(parts[1]); err != nil {
					value = parts[1]
				}
			}

			if explicit.has(key) {
				value = explicit.vals[key]
			}
			merged.set(key, value)
		}
	}

	for _, k := range explicit.keys {
		if !merged.has(k) {
			merged.set(k, explicit.vals[k])
		}
	}

	return merged
}

func encodeForm(p params, cs charset.Charset) string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(cs.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(cs.QueryEscape(p.vals[k]))
	}
	return b.String()
}

func carriesForm(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody streams the file part, the stream part, and one text part
// per parameter through a pipe. The writer goroutine ends when the body is
// fully written or the reader is closed.
func (e *Executor) multipartBody(s *Spec, fields params) (io.ReadCloser, string, error) {
	var file *os.File
	if s.fileBody != "" {
		f, err := os.Open(s.fileBody)
		if err != nil {
			return nil, "", fmt.Errorf("opening file body: %w", err)
		}
		file = f
	}

	fileName, streamName := partFilenames(s)
	fieldName := s.fieldName
	stream := s.streamBody
	cs := e.charset

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		if file != nil {
			defer file.Close()
		}

		err := func() error {
			if file != nil {
				part, err := mw.CreateFormFile(fieldName, fileName)
				if err != nil {
					return err
				}
				if _, err := io.Copy(part, file); err != nil {
					return fmt.Errorf("writing file part: %w", err)
				}
			}

			if stream != nil {
				part, err := mw.CreateFormFile(fieldName, streamName)
				if err != nil {
					return err
				}
				if _, err := io.Copy(part, stream); err != nil {
					return fmt.Errorf("writing stream part: %w", err)
				}
			}

			for _, k := range fields.keys {
				h := make(textproto.MIMEHeader)
				h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(k)))
				h.Set("Content-Type", "text/plain; charset="+cs.Name())

				part, err := mw.CreatePart(h)
				if err != nil {
					return err
				}
				if _, err := part.Write(cs.Encode(fields.vals[k])); err != nil {
					return err
				}
			}

			return mw.Close()
		}()

		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType(), nil
}

// partFilenames derives the filenames of the file and stream parts. A file
// uses Filename only when it is the sole upload, else its own base name. A
// stream uses Filename, falling back to the field name.
func partFilenames(s *Spec) (fileName, streamName string) {
	if s.fileBody != "" {
		fileName = filepath.Base(s.fileBody)
		if s.streamBody == nil && s.filename != "" {
			fileName = s.filename
		}
	}

	if s.streamBody != nil {
		streamName = s.filename
		if streamName == "" {
			streamName = s.fieldName
		}
	}

	return fileName, streamName
}

var errNoHandler = errors.New("consumer has no handler")
