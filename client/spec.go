package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"
)

// DefaultFileFieldName is the multipart field name used for file and
// stream bodies when none is set.
const DefaultFileFieldName = "upfile"

// DefaultReadTimeout passed to Spec.ReadTimeout keeps the host's socket
// timeout. Any other negative duration is rejected.
const DefaultReadTimeout time.Duration = -1

// params is an insertion-ordered string map. Setting an existing key
// overwrites its value in place.
type params struct {
	keys []string
	vals map[string]string
}

func (p *params) set(k, v string) {
	if p.vals == nil {
		p.vals = make(map[string]string)
	}
	if _, ok := p.vals[k]; !ok {
		p.keys = append(p.keys, k)
	}
	p.vals[k] = v
}

func (p *params) has(k string) bool {
	_, ok := p.vals[k]
	return ok
}

func (p *params) len() int {
	return len(p.keys)
}

func (p *params) clone() params {
	return params{keys: slices.Clone(p.keys), vals: maps.Clone(p.vals)}
}

// Spec describes one request. It is mutated fluently until executed by one
// of its terminal methods or by [Do]. Executing a Spec never changes it, so
// the same Spec may be executed again.
type Spec struct {
	exec *Executor

	method      string
	url         string
	params      params
	stringBody  *string
	fileBody    string
	streamBody  io.Reader
	fieldName   string
	filename    string
	ajax        bool
	readTimeout time.Duration
	ctx         context.Context
	jar         http.CookieJar
	header      http.Header
	headerOrder []string

	err error
}

// Get starts a GET request for url, absolute or relative to the host URL.
func (e *Executor) Get(url string) *Spec {
	return e.Method(http.MethodGet, url)
}

// Post starts a POST request.
func (e *Executor) Post(url string) *Spec {
	return e.Method(http.MethodPost, url)
}

// Put starts a PUT request.
func (e *Executor) Put(url string) *Spec {
	return e.Method(http.MethodPut, url)
}

// Patch starts a PATCH request.
func (e *Executor) Patch(url string) *Spec {
	return e.Method(http.MethodPatch, url)
}

// Delete starts a DELETE request.
func (e *Executor) Delete(url string) *Spec {
	return e.Method(http.MethodDelete, url)
}

// Method starts a request with an arbitrary method token.
func (e *Executor) Method(method, url string) *Spec {
	s := &Spec{
		exec:        e,
		method:      method,
		url:         url,
		fieldName:   DefaultFileFieldName,
		readTimeout: DefaultReadTimeout,
	}
	if method == "" {
		s.err = errors.New("method must not be empty")
	}

	return s
}

// Param sets a query or form parameter.
func (s *Spec) Param(key, value string) *Spec {
	s.params.set(key, value)
	return s
}

// Params sets every entry of m in key order.
func (s *Spec) Params(m map[string]string) *Spec {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		s.params.set(k, m[k])
	}
	return s
}

// StringBody sends body as the request entity. It takes precedence over
// file and stream bodies and over parameters.
func (s *Spec) StringBody(body string) *Spec {
	s.stringBody = &body
	return s
}

// FileBody uploads the file at path as a multipart part.
func (s *Spec) FileBody(path string) *Spec {
	s.fileBody = path
	return s
}

// StreamBody uploads r as a multipart part. r is read once.
func (s *Spec) StreamBody(r io.Reader) *Spec {
	s.streamBody = r
	return s
}

// FileFieldName names the multipart field of file and stream parts.
func (s *Spec) FileFieldName(name string) *Spec {
	if name == "" {
		name = DefaultFileFieldName
	}
	s.fieldName = name
	return s
}

// Filename sets the filename of the uploaded part.
func (s *Spec) Filename(name string) *Spec {
	s.filename = name
	return s
}

// Ajax marks the request as an XMLHttpRequest.
func (s *Spec) Ajax() *Spec {
	s.ajax = true
	return s
}

// ReadTimeout overrides the socket timeout for this call. Zero waits
// forever and DefaultReadTimeout restores the host default. Other negative
// durations are rejected.
func (s *Spec) ReadTimeout(d time.Duration) *Spec {
	if d < 0 && d != DefaultReadTimeout {
		s.err = fmt.Errorf("read timeout[%s] must not be negative", d)
		return s
	}
	s.readTimeout = d
	return s
}

// Context sets the context the call runs under.
func (s *Spec) Context(ctx context.Context) *Spec {
	s.ctx = ctx
	return s
}

// Jar uses jar for this call instead of the executor's cookie jar.
func (s *Spec) Jar(jar http.CookieJar) *Spec {
	s.jar = jar
	return s
}

// Header adds a request header. Headers outside the canonical sequence are
// sent in the order they were first added.
func (s *Spec) Header(key, value string) *Spec {
	if s.header == nil {
		s.header = make(http.Header)
	}
	ck := http.CanonicalHeaderKey(key)
	if _, ok := s.header[ck]; !ok {
		s.headerOrder = append(s.headerOrder, ck)
	}
	s.header.Add(ck, value)
	return s
}
