package relay

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MsgHandler processes one delivered message. If it returns a non-nil
// Payload and the message carried a reply-to subject, that payload is
// published back as the reply.
type MsgHandler func(*Msg) *Payload

// subscription is the Client's private bookkeeping for one sid; it is
// never exposed directly: Stream/Consumer/Queue hold only the sid and a
// borrowed reference to the Client, never this type.
type subscription struct {
	sid        string
	subject    string
	queueGroup string
	handler    MsgHandler
	queue      *Queue
}

// Client is the subject-level API: publish, subscribe, unsubscribe,
// request, dispatch, process. It owns the handler table and the
// request-inbox; Connection knows nothing about any of this.
type Client struct {
	opts   *Options
	conn   *Connection
	logger Logger

	mu            sync.Mutex
	subs          map[string]*subscription
	pending       map[string]func(*Msg)
	inboxSid      string
	everConnected bool

	sidCounter uint64
	ridCounter uint64

	metrics *clientMetrics
	replier *clientReplier

	jsapi *JetStreamAPI // memoised per-Client singleton
}

// clientReplier adapts Client.publish to the Replier interface Msg values
// carry, so a Msg never holds a pointer back to the whole Client.
type clientReplier struct{ c *Client }

func (r *clientReplier) Publish(subject string, payload *Payload) error {
	return r.c.publish(subject, payload, _EMPTY_)
}

// Connect dials, performs the INFO/CONNECT handshake, and returns a ready
// Client.
func Connect(opts ...Option) (*Client, error) {
	o := DefaultOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	metrics := newClientMetrics(o.registerer)

	c := &Client{
		opts:    &o,
		logger:  o.logger,
		subs:    make(map[string]*subscription),
		pending: make(map[string]func(*Msg)),
		metrics: metrics,
	}
	c.replier = &clientReplier{c: c}

	c.conn = newConnection(&o, metrics, c.onConnectionUp)
	if err := c.conn.init(); err != nil {
		return nil, err
	}
	return c, nil
}

// onConnectionUp is invoked by Connection right after every successful
// (re)connect, with the connection lock released, before any application
// write is admitted.
func (c *Client) onConnectionUp(conn *Connection) error {
	c.mu.Lock()
	first := !c.everConnected
	c.everConnected = true

	if !first && !c.opts.ResubscribeOnReconnect {
		c.subs = make(map[string]*subscription)
		c.inboxSid = _EMPTY_
		c.mu.Unlock()
		return nil
	}

	subsCopy := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subsCopy = append(subsCopy, s)
	}
	c.mu.Unlock()

	for _, s := range subsCopy {
		if err := conn.writeFrame(encodeSub(s.subject, s.queueGroup, s.sid)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) nextSid() string {
	n := atomic.AddUint64(&c.sidCounter, 1)
	return strconv.FormatUint(n, 10)
}

func (c *Client) nextRid() string {
	n := atomic.AddUint64(&c.ridCounter, 1)
	return strconv.FormatUint(n, 10)
}

// toPayload normalizes publish/request inputs: an already-built *Payload
// passes through unchanged; a string or []byte is auto-wrapped with no
// headers.
func toPayload(v any) *Payload {
	switch t := v.(type) {
	case *Payload:
		return t
	case Payload:
		return &t
	case string:
		return NewStringPayload(t)
	case []byte:
		return NewPayload(t)
	case nil:
		return NewPayload(nil)
	default:
		return NewPayload(nil)
	}
}

func (c *Client) publish(subject string, p *Payload, reply string) error {
	if subject == _EMPTY_ {
		return ErrBadSubject
	}
	return c.conn.sendMessage(encodePublish(subject, reply, p))
}

// Publish sends payload on subject with no acknowledgement. An optional
// replyTo may be supplied for broker-level request/reply scenarios the
// caller is orchestrating itself.
func (c *Client) Publish(subject string, payload any, replyTo ...string) error {
	reply := _EMPTY_
	if len(replyTo) > 0 {
		reply = replyTo[0]
	}
	return c.publish(subject, toPayload(payload), reply)
}

func (c *Client) subscribe(subject, queue string, handler MsgHandler) (*subscription, error) {
	if subject == _EMPTY_ {
		return nil, ErrBadSubject
	}
	sid := c.nextSid()
	sub := &subscription{sid: sid, subject: subject, queueGroup: queue, handler: handler}

	c.mu.Lock()
	c.subs[sid] = sub
	c.mu.Unlock()

	if err := c.conn.sendMessage(encodeSub(subject, queue, sid)); err != nil {
		c.mu.Lock()
		delete(c.subs, sid)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Subscribe installs handler for subject and returns the sid.
func (c *Client) Subscribe(subject string, handler MsgHandler) (string, error) {
	sub, err := c.subscribe(subject, _EMPTY_, handler)
	if err != nil {
		return _EMPTY_, err
	}
	return sub.sid, nil
}

// QueueSubscribe is Subscribe with broker-side load-balancing across every
// subscriber sharing queue.
func (c *Client) QueueSubscribe(subject, queue string, handler MsgHandler) (string, error) {
	sub, err := c.subscribe(subject, queue, handler)
	if err != nil {
		return _EMPTY_, err
	}
	return sub.sid, nil
}

// SubscribeChan subscribes with no handler; messages accumulate in the
// returned Queue until Fetch/FetchAll drains them.
func (c *Client) SubscribeChan(subject, queue string, bufSize int) (*Queue, error) {
	if subject == _EMPTY_ {
		return nil, ErrBadSubject
	}
	sid := c.nextSid()
	q := newQueue(sid, bufSize, c)
	sub := &subscription{sid: sid, subject: subject, queueGroup: queue, queue: q}

	c.mu.Lock()
	c.subs[sid] = sub
	c.mu.Unlock()

	if err := c.conn.sendMessage(encodeSub(subject, queue, sid)); err != nil {
		c.mu.Lock()
		delete(c.subs, sid)
		c.mu.Unlock()
		return nil, err
	}
	return q, nil
}

// Unsubscribe removes sid's handler and tells the broker to stop
// delivering to it. Any messages already buffered in a Queue survive
// until drained.
func (c *Client) Unsubscribe(sid string) error {
	c.mu.Lock()
	_, ok := c.subs[sid]
	if ok {
		delete(c.subs, sid)
	}
	if sid == c.inboxSid {
		c.inboxSid = _EMPTY_
	}
	c.mu.Unlock()
	if !ok {
		return ErrBadSubscription
	}
	return c.conn.sendMessage(encodeUnsub(sid, 0))
}

func (c *Client) ensureInbox() error {
	c.mu.Lock()
	if c.inboxSid != _EMPTY_ {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sub, err := c.subscribe(c.opts.InboxPrefix+".*", _EMPTY_, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.inboxSid = sub.sid
	c.mu.Unlock()
	return nil
}

// Request installs a one-shot callback for subject's reply and publishes
// with a freshly allocated, single-use inbox reply subject.
func (c *Client) Request(subject string, payload any, cb func(*Msg)) error {
	if err := c.ensureInbox(); err != nil {
		return err
	}
	rid := c.nextRid()
	reply := c.opts.InboxPrefix + "." + rid

	c.mu.Lock()
	c.pending[rid] = cb
	c.mu.Unlock()

	if err := c.publish(subject, toPayload(payload), reply); err != nil {
		c.mu.Lock()
		delete(c.pending, rid)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Dispatch is the synchronous wrapper around Request: it blocks in
// process() until the reply arrives or timeout expires.
func (c *Client) Dispatch(subject string, payload any, timeout time.Duration) (*Msg, error) {
	var (
		result *Msg
		done   atomic.Bool
	)
	if err := c.Request(subject, payload, func(m *Msg) {
		result = m
		done.Store(true)
	}); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	_, err := c.runLoop(deadline, done.Load)
	if err != nil {
		return nil, err
	}
	if !done.Load() {
		return nil, errTimeout("dispatch")
	}
	return result, nil
}

// Process reads frames for up to timeout, dispatching each MSG/HMSG to its
// handler, and returns whether any handler fired.
func (c *Client) Process(timeout time.Duration) (bool, error) {
	return c.runLoop(time.Now().Add(timeout), nil)
}

// Flush sends PING and blocks until PONG or timeout; this is the
// convergence point where the local handler table and the broker's
// subscription set are known to agree.
func (c *Client) Flush(timeout time.Duration) bool {
	return c.conn.ping(timeout)
}

// Close shuts the connection down; idempotent.
func (c *Client) Close() error {
	return c.conn.close()
}

// runLoop drains the socket until deadline, or until stop() reports true
// after a handler fires — the composite "deadline, handler-returned-reply,
// subscription satisfied" cooperative loop.
func (c *Client) runLoop(deadline time.Time, stop func() bool) (bool, error) {
	progressed := false
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return progressed, nil
		}
		frame, err := c.conn.getMessage(remaining)
		if err != nil {
			return progressed, err
		}
		if frame == nil {
			return progressed, nil
		}
		fired, err := c.dispatchFrame(frame)
		if err != nil {
			if c.opts.SkipInvalidMessages {
				c.logger.Warnf("relay: dropping invalid message: %v", err)
				continue
			}
			return progressed, err
		}
		if fired {
			progressed = true
		}
		if stop != nil && stop() {
			return progressed, nil
		}
	}
}

func (c *Client) dispatchFrame(frame *inboundFrame) (bool, error) {
	msg := &Msg{
		Payload: frame.Payload,
		Subject: frame.Subject,
		Reply:   frame.ReplyTo,
		Sid:     frame.Sid,
		replier: c.replier,
	}

	c.mu.Lock()
	sub, ok := c.subs[frame.Sid]
	isInbox := frame.Sid == c.inboxSid
	c.mu.Unlock()
	if !ok {
		return false, nil // stale/unknown sid: broker delivered after local unsubscribe raced
	}

	if isInbox {
		rid := lastToken(frame.Subject)
		c.mu.Lock()
		cb, ok := c.pending[rid]
		if ok {
			delete(c.pending, rid)
		}
		c.mu.Unlock()
		if ok {
			c.safeInvoke(func() { cb(msg) })
			return true, nil
		}
		return false, nil
	}

	if sub.queue != nil {
		if !sub.queue.enqueue(msg) {
			c.logger.Warnf("relay: slow consumer on sid %s, dropping message", sub.sid)
		}
		return true, nil
	}

	if sub.handler == nil {
		return false, nil
	}

	var reply *Payload
	c.safeInvoke(func() { reply = sub.handler(msg) })
	if reply != nil && msg.Reply != _EMPTY_ {
		_ = c.publish(msg.Reply, reply, _EMPTY_)
	}
	return true, nil
}

// safeInvoke isolates a handler panic so one bad handler cannot take
// down the dispatch loop for every other subscription.
func (c *Client) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("relay: handler panic recovered: %v", r)
		}
	}()
	fn()
}

func lastToken(subject string) string {
	idx := strings.LastIndexByte(subject, '.')
	if idx < 0 {
		return subject
	}
	return subject[idx+1:]
}
