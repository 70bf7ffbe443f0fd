package pool

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/adamwoolhether/hostclient/client/errs"
)

// Conn is a persistent connection bound to one route.
type Conn struct {
	id    int64
	route Route
	dc    *deadlineConn
	br    *bufio.Reader
	bw    *bufio.Writer

	created   time.Time
	idleSince time.Time
	expires   time.Time
}

// Route returns the route the connection is bound to.
func (c *Conn) Route() Route { return c.route }

func (c *Conn) expired(now time.Time) bool {
	return !c.expires.IsZero() && !now.Before(c.expires)
}

func (c *Conn) close() error {
	return c.dc.Conn.Close()
}

// lease prepares an acquired connection for one exchange.
func (c *Conn) lease(readTimeout time.Duration) {
	c.dc.timeout = readTimeout
	c.dc.cancelled.Store(false)
	c.idleSince = time.Time{}
}

// alive peeks at an idle connection to detect a peer that closed it. The
// connection must not be shared during the check.
func (c *Conn) alive() bool {
	if c.br.Buffered() > 0 {
		return false
	}

	// A zero timeout keeps deadlineConn.Read from replacing the peek deadline.
	c.dc.timeout = 0
	c.dc.cancelled.Store(false)

	if err := c.dc.Conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	_, err := c.br.Peek(1)
	_ = c.dc.Conn.SetReadDeadline(time.Time{})

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// deadlineConn refreshes the read deadline before every read so the
// timeout bounds the gap between bytes, not the whole exchange.
type deadlineConn struct {
	net.Conn
	timeout   time.Duration
	cancelled atomic.Bool
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if d.cancelled.Load() {
		return 0, context.Canceled
	}
	if d.timeout > 0 {
		if err := d.Conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Read(p)
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	if d.cancelled.Load() {
		return 0, context.Canceled
	}
	if d.timeout > 0 {
		if err := d.Conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Write(p)
}

// interrupt aborts any blocked read or write.
func (d *deadlineConn) interrupt() {
	d.cancelled.Store(true)
	_ = d.Conn.SetDeadline(time.Now())
}

// dial opens a new connection for route with the pool's socket options.
func (p *Pool) dial(ctx context.Context, route Route, t Timeouts) (*Conn, error) {
	dialer := net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: -1,
	}
	if p.cfg.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	}

	raw, err := dialer.DialContext(ctx, "tcp", route.Addr())
	if err != nil {
		return nil, dialErr(route, err)
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			raw.Close()
			return nil, errs.Classify(route.String(), fmt.Errorf("setting nodelay: %w", err))
		}
		if err := tcp.SetKeepAlive(p.cfg.KeepAlive); err != nil {
			raw.Close()
			return nil, errs.Classify(route.String(), fmt.Errorf("setting keepalive: %w", err))
		}
	}

	conn := raw
	if route.TLS() {
		tc := p.cfg.TLS.Clone()
		if tc == nil {
			tc = &tls.Config{}
		}
		if tc.ServerName == "" {
			tc.ServerName = route.Host
		}

		hsCtx := ctx
		if t.Connect > 0 {
			var cancel context.CancelFunc
			hsCtx, cancel = context.WithTimeout(ctx, t.Connect)
			defer cancel()
		}

		tlsConn := tls.Client(raw, tc)
		if err := tlsConn.HandshakeContext(hsCtx); err != nil {
			raw.Close()
			kind := errs.KindTLS
			if errs.IsKind(errs.Classify("", err), errs.KindTimeout) {
				kind = errs.KindConnectTimeout
			}
			return nil, &errs.ConnectionError{Kind: kind, Route: route.String(), Err: fmt.Errorf("tls handshake: %w", err)}
		}
		conn = tlsConn
	}

	dc := &deadlineConn{Conn: conn}
	now := time.Now()

	return &Conn{
		id:      p.nextID.Add(1),
		route:   route,
		dc:      dc,
		br:      bufio.NewReader(dc),
		bw:      bufio.NewWriter(dc),
		created: now,
	}, nil
}

func dialErr(route Route, err error) error {
	classified := errs.Classify(route.String(), err)

	var connErr *errs.ConnectionError
	if errors.As(classified, &connErr) && connErr.Kind == errs.KindTimeout {
		connErr.Kind = errs.KindConnectTimeout
	}

	return classified
}
