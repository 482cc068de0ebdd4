package relay

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// connStatus models the Connection lifecycle:
// uninitialised -> dialling -> handshaking -> connected -> (closed|reconnecting) -> connected ...
type connStatus int32

const (
	statusUninitialized connStatus = iota
	statusDialing
	statusHandshaking
	statusConnected
	statusReconnecting
	statusClosed
)

// Connection owns one TCP/TLS socket, a write buffer, and a read buffer.
// It knows nothing about subjects, handlers, or request/reply — that
// multiplexing lives one layer up in Client. Reconnection is
// driven entirely inside Connection; the Client supplies a resubscribe
// callback invoked after every successful (re)connect, before any
// application write is admitted.
type Connection struct {
	opts   *Options
	logger Logger
	mu     sync.Mutex

	netConn net.Conn
	reader  *frameReader
	bufw    *bufio.Writer

	status connStatus
	info   *serverInfo

	pongAt     atomic.Int64 // unix nanoseconds of last PONG seen
	activityAt atomic.Int64

	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}

	metrics *clientMetrics

	// resubscribe is invoked with the connection lock released, right
	// after the handshake completes and before init()/reconnect() return
	// control to the caller, so every live subscription is re-issued
	// before any application write is admitted.
	resubscribe func(*Connection) error

	closed atomic.Bool
}

func newConnection(opts *Options, metrics *clientMetrics, resubscribe func(*Connection) error) *Connection {
	return &Connection{
		opts:        opts,
		logger:      opts.logger,
		status:      statusUninitialized,
		metrics:     metrics,
		resubscribe: resubscribe,
	}
}

func (c *Connection) Status() connStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) ServerInfo() *serverInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// init performs the first dial + handshake.
func (c *Connection) init() error {
	c.closed.Store(false)
	c.mu.Lock()
	c.status = statusDialing
	c.mu.Unlock()

	if err := c.dialAndHandshake(); err != nil {
		return err
	}

	c.mu.Lock()
	c.status = statusConnected
	c.mu.Unlock()

	if c.resubscribe != nil {
		if err := c.resubscribe(c); err != nil {
			return err
		}
	}

	c.startHeartbeat()
	return nil
}

func (c *Connection) dialAndHandshake() error {
	addr := fmt.Sprintf("%s:%d", c.opts.Host, c.opts.Port)
	dialer := net.Dialer{Timeout: c.opts.Timeout}

	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return errIO(err)
	}

	c.mu.Lock()
	c.status = statusHandshaking
	c.netConn = conn
	c.mu.Unlock()

	if c.opts.TLSHandshakeFirst {
		if err := c.upgradeTLS(); err != nil {
			c.netConn.Close()
			return err
		}
	}

	c.resetBuffers()

	info, err := c.readInfo()
	if err != nil {
		c.netConn.Close()
		return err
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	if !c.opts.TLSHandshakeFirst && (info.TLSRequired || c.opts.tlsConfig != nil) {
		if err := c.upgradeTLS(); err != nil {
			c.netConn.Close()
			return err
		}
		c.resetBuffers()
	}

	ci, err := buildConnect(c.opts, info)
	if err != nil {
		c.netConn.Close()
		return err
	}
	connectFrame, err := encodeConnect(ci)
	if err != nil {
		c.netConn.Close()
		return err
	}
	if err := c.writeRaw(connectFrame); err != nil {
		c.netConn.Close()
		return err
	}
	if err := c.writeRaw(encodePing()); err != nil {
		c.netConn.Close()
		return err
	}

	// Wait for PONG (and +OK for CONNECT if verbose)
	deadline := time.Now().Add(c.opts.Timeout)
	sawPong := false
	for !sawPong {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.netConn.Close()
			return errTimeout("connect handshake")
		}
		c.netConn.SetReadDeadline(time.Now().Add(remaining))
		frame, err := c.reader.readFrame()
		c.netConn.SetReadDeadline(time.Time{})
		if err != nil {
			c.netConn.Close()
			return err
		}
		switch frame.Kind {
		case frameOK:
			continue
		case frameErr:
			c.netConn.Close()
			return ErrAuthorizationViolation
		case framePong:
			sawPong = true
		case frameInfo:
			c.mu.Lock()
			c.info = frame.Info
			c.mu.Unlock()
		}
	}

	c.markActivity()
	return nil
}

func (c *Connection) resetBuffers() {
	c.bufw = bufio.NewWriter(c.netConn)
	c.reader = newFrameReader(bufio.NewReaderSize(c.netConn, 32*1024))
}

func (c *Connection) readInfo() (*serverInfo, error) {
	frame, err := c.reader.readFrame()
	if err != nil {
		return nil, err
	}
	if frame.Kind != frameInfo {
		return nil, errProtocolf("expected INFO as first frame, got %s", frame.Kind)
	}
	return frame.Info, nil
}

// upgradeTLS completes a standard TLS 1.2+ handshake over the existing
// socket, verifying the server hostname against opts.Host unless a caller
// supplied tlsConfig overrides ServerName.
func (c *Connection) upgradeTLS() error {
	cfg := c.opts.tlsConfig
	if cfg == nil {
		built, err := buildTLSConfig(c.opts)
		if err != nil {
			return err
		}
		cfg = built
	}
	tlsConn := tls.Client(c.netConn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return errIO(err)
	}
	c.netConn = tlsConn
	return nil
}

func buildTLSConfig(opts *Options) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: opts.Host, MinVersion: tls.VersionTLS12}

	if opts.TLSCertFile != _EMPTY_ && opts.TLSKeyFile != _EMPTY_ {
		cert, err := tls.LoadX509KeyPair(opts.TLSCertFile, opts.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("relay: loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if opts.TLSCAFile != _EMPTY_ {
		pem, err := os.ReadFile(opts.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("relay: reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("relay: no usable certificates found in %s", opts.TLSCAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// writeRaw writes b to the socket in chunks of at most opts.PacketSize
// bytes (0 meaning unbounded).
func (c *Connection) writeRaw(b []byte) error {
	size := c.opts.PacketSize
	if size <= 0 {
		_, err := c.bufw.Write(b)
		if err != nil {
			return errIO(err)
		}
		return errIO(c.bufw.Flush())
	}
	for len(b) > 0 {
		n := size
		if n > len(b) {
			n = len(b)
		}
		if _, err := c.bufw.Write(b[:n]); err != nil {
			return errIO(err)
		}
		if err := c.bufw.Flush(); err != nil {
			return errIO(err)
		}
		b = b[n:]
	}
	return nil
}

// writeFrame writes frame under the connection lock, with no
// reconnect-retry recursion. Used for resubscribe traffic issued from
// onConnectionUp, which must complete before any application write is
// admitted.
func (c *Connection) writeFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeRaw(frame)
}

// sendMessage serialises and writes frame. On failure, if opts.Reconnect
// is set it attempts a reconnect then retries once; otherwise the error is
// surfaced directly.
func (c *Connection) sendMessage(frame []byte) error {
	c.mu.Lock()
	closed := c.closed.Load()
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	c.mu.Lock()
	err := c.writeRaw(frame)
	c.mu.Unlock()
	if err == nil {
		return nil
	}

	if !c.opts.Reconnect {
		return err
	}
	if rErr := c.reconnect(); rErr != nil {
		return rErr
	}
	c.mu.Lock()
	err = c.writeRaw(frame)
	c.mu.Unlock()
	return err
}

// getMessage reads at most one application-visible frame (MSG/HMSG) within
// timeout, silently handling +OK/PING/PONG/INFO along the way.
func (c *Connection) getMessage(timeout time.Duration) (*inboundFrame, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if c.closed.Load() {
			return nil, ErrConnectionClosed
		}

		c.mu.Lock()
		nc := c.netConn
		c.mu.Unlock()
		if nc == nil {
			return nil, ErrConnectionClosed
		}
		nc.SetReadDeadline(time.Now().Add(remaining))
		frame, err := c.reader.readFrame()
		nc.SetReadDeadline(time.Time{})

		if err != nil {
			if ne, ok := err.(*ioError); ok {
				if isTimeoutErr(ne.err) {
					return nil, nil
				}
				if c.opts.Reconnect {
					if rErr := c.reconnect(); rErr != nil {
						return nil, rErr
					}
					continue
				}
			}
			return nil, err
		}

		c.markActivity()

		switch frame.Kind {
		case frameOK:
			continue
		case framePing:
			c.mu.Lock()
			_ = c.writeRaw(encodePong())
			c.mu.Unlock()
			continue
		case framePong:
			c.pongAt.Store(time.Now().UnixNano())
			continue
		case frameErr:
			return nil, fmt.Errorf("relay: %w: %s", ErrAuthorizationViolation, frame.ErrMessage)
		case frameInfo:
			c.mu.Lock()
			c.info = frame.Info
			c.mu.Unlock()
			continue
		case frameMsg, frameHMsg:
			return frame, nil
		}
	}
}

func isTimeoutErr(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}

// ping writes PING then waits up to timeout for pongAt to advance, reading
// frames itself to observe the reply. Only ever called from the
// application thread (e.g. Flush), which is the sole reader at that point;
// the background heartbeat uses probeHeartbeat instead, which never reads.
func (c *Connection) ping(timeout time.Duration) bool {
	before := c.pongAt.Load()
	c.mu.Lock()
	err := c.writeRaw(encodePing())
	c.mu.Unlock()
	if err != nil {
		return false
	}
	c.metrics.pinged()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := c.getMessage(50 * time.Millisecond); err != nil {
			return false
		}
		if c.pongAt.Load() != before {
			return true
		}
	}
	c.metrics.pingTimedOut()
	return false
}

// probeHeartbeat writes a bare keep-alive PING without reading from the
// socket. The PONG it provokes, and the activity/pongAt timestamps it
// advances, are only ever observed by the application thread's own
// getMessage calls (inside Process/Dispatch/Flush/Queue.Fetch) — the
// heartbeat goroutine never decodes frames, so it never races the
// frameReader or drops an application message.
func (c *Connection) probeHeartbeat() error {
	c.mu.Lock()
	err := c.writeRaw(encodePing())
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.metrics.pinged()
	return nil
}

func (c *Connection) markActivity() {
	c.activityAt.Store(time.Now().UnixNano())
}

// startHeartbeat launches the optional background PING goroutine. It
// writes PINGs, reads the atomic activity/pong timestamps, and on a stale
// connection closes the socket; it never touches the handler table or
// decodes frames, so it never races with the dispatch loop.
func (c *Connection) startHeartbeat() {
	c.mu.Lock()
	if c.stopHeartbeat != nil {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeat = make(chan struct{})
	c.heartbeatDone = make(chan struct{})
	stop := c.stopHeartbeat
	done := c.heartbeatDone
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		missed := 0
		awaitingPong := false
		var pongBaseline int64
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if awaitingPong {
					if c.pongAt.Load() != pongBaseline {
						missed = 0
						awaitingPong = false
					} else {
						missed++
						c.metrics.pingTimedOut()
						if missed >= c.opts.MaxPingsOut {
							c.logger.Warnf("relay: stale connection after %d missed pings", missed)
							if c.opts.Reconnect {
								// Close the socket instead of reconnecting here:
								// the application thread's next read or write
								// fails and runs reconnect() itself.
								c.mu.Lock()
								nc := c.netConn
								c.mu.Unlock()
								if nc != nil {
									_ = nc.Close()
								}
							}
							missed = 0
							awaitingPong = false
							continue
						}
					}
				}

				last := c.activityAt.Load()
				if time.Since(time.Unix(0, last)) < c.opts.PingInterval {
					awaitingPong = false
					continue
				}

				pongBaseline = c.pongAt.Load()
				if err := c.probeHeartbeat(); err != nil {
					continue
				}
				awaitingPong = true
			}
		}
	}()
}

func (c *Connection) stopHeartbeatLoop() {
	c.mu.Lock()
	stop := c.stopHeartbeat
	c.stopHeartbeat = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// reconnect runs the configured back-off schedule and re-issues
// subscriptions after each successful reconnect.
func (c *Connection) reconnect() error {
	c.mu.Lock()
	if c.status == statusReconnecting {
		c.mu.Unlock()
		// Another goroutine is already reconnecting; return nil at once
		// without waiting for it to finish or checking whether it
		// succeeded. The caller's retried write or read reports the outcome.
		return nil
	}
	c.status = statusReconnecting
	if c.netConn != nil {
		c.netConn.Close()
	}
	c.mu.Unlock()

	c.stopHeartbeatLoop()

	attempt := 0
	for {
		if c.opts.MaxReconnects >= 0 && attempt >= c.opts.MaxReconnects {
			return ErrNoServers
		}
		if attempt > 0 {
			time.Sleep(c.opts.DelayMode.delay(c.opts.ReconnectWait, attempt-1))
		}
		if err := c.dialAndHandshake(); err == nil {
			c.mu.Lock()
			c.status = statusConnected
			c.mu.Unlock()
			c.metrics.reconnected()
			if c.resubscribe != nil {
				if err := c.resubscribe(c); err != nil {
					return err
				}
			}
			c.startHeartbeat()
			return nil
		}
		attempt++
	}
}

// close is idempotent; subsequent reads/writes are no-ops until init is
// called again.
func (c *Connection) close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.stopHeartbeatLoop()
	c.mu.Lock()
	c.status = statusClosed
	nc := c.netConn
	c.mu.Unlock()
	if nc != nil {
		return nc.Close()
	}
	return nil
}
