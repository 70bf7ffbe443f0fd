package pool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/adamwoolhether/hostclient/client/errs"
)

// Transport is an http.RoundTripper that performs HTTP/1.1 exchanges over
// pooled connections. A connection returns to the pool once its response
// body is read to EOF; closing an unread body discards the connection.
type Transport struct {
	pool *Pool
}

// Transport returns a RoundTripper backed by p.
func (p *Pool) Transport() *Transport {
	return &Transport{pool: p}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.roundTrip(req)
	if err != nil && req.Body != nil {
		req.Body.Close()
	}
	return resp, err
}

func (t *Transport) roundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, errors.New("request has no url")
	}

	route, err := RouteOf(req.URL)
	if err != nil {
		return nil, errs.Config("route", err)
	}

	ctx := req.Context()
	conn, err := t.pool.Acquire(ctx, route)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, conn.dc.interrupt)
	release := func(reuse bool, resp *http.Response) {
		if !stop() {
			reuse = false
		}
		keepFor := t.pool.cfg.KeepAlivePolicy(nil)
		if resp != nil {
			keepFor = t.pool.keepAliveFor(resp.Header)
		}
		t.pool.Release(conn, reuse, keepFor)
	}

	keepAlive := t.pool.cfg.KeepAlive
	if err := writeRequest(conn.bw, req, keepAlive); err != nil {
		release(false, nil)
		return nil, classify(ctx, route, err)
	}

	resp, err := http.ReadResponse(conn.br, req)
	if err != nil {
		release(false, nil)
		return nil, classify(ctx, route, err)
	}

	reuse := keepAlive && !req.Close && !resp.Close

	if resp.Body == nil || resp.Body == http.NoBody {
		release(reuse, resp)
		resp.Body = http.NoBody
		return resp, nil
	}

	resp.Body = &body{
		rc: resp.Body,
		done: func(eof bool) {
			release(reuse && eof, resp)
		},
	}

	return resp, nil
}

// classify maps a wire failure to a ConnectionError, preferring the
// context's error when the call was cancelled.
func classify(ctx context.Context, route Route, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errs.Classify(route.String(), ctxErr)
	}
	return errs.Classify(route.String(), err)
}

// body releases its connection exactly once: reusable on EOF, discarded
// on error or early close.
type body struct {
	rc   io.ReadCloser
	once sync.Once
	done func(eof bool)
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	switch {
	case err == io.EOF:
		b.finish(true)
	case err != nil:
		b.finish(false)
	}
	return n, err
}

func (b *body) Close() error {
	released := false
	b.once.Do(func() {
		released = true
		b.done(false)
	})
	err := b.rc.Close()
	if released {
		// The connection is already closed; draining it cannot succeed.
		return nil
	}
	return err
}

func (b *body) finish(eof bool) {
	b.once.Do(func() { b.done(eof) })
}
