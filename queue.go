package relay

import "time"

// Queue is a FIFO buffer of decoded MSG/HMSG frames for one subscription,
// returned by SubscribeChan (which subscribes with no handler). It acts as a bounded
// MPSC: the Client's dispatch loop enqueues messages as they arrive off
// the socket; Fetch/FetchAll drain it from the application goroutine.
//
// There is no background reader for this client (see Client.runLoop):
// nothing fills ch unless something calls Process/Dispatch, so Fetch
// drives the client's own read loop itself whenever the buffer is empty,
// stopping as soon as a frame lands on this queue's sid or the timeout
// elapses.
type Queue struct {
	sid    string
	ch     chan *Msg
	size   int
	client *Client
}

func newQueue(sid string, size int, client *Client) *Queue {
	if size <= 0 {
		size = 65536
	}
	return &Queue{sid: sid, ch: make(chan *Msg, size), size: size, client: client}
}

// Sid is the subscription id this queue drains.
func (q *Queue) Sid() string { return q.sid }

func (q *Queue) enqueue(m *Msg) bool {
	select {
	case q.ch <- m:
		return true
	default:
		return false // slow consumer: caller should count/report ErrSlowConsumer
	}
}

// Fetch returns one message, or (nil, nil) if timeout elapses first. If
// nothing is already buffered and a client is wired, it drives the
// client's read loop for up to timeout so a pulled/published message
// actually gets read off the socket and dispatched into this queue.
func (q *Queue) Fetch(timeout time.Duration) (*Msg, error) {
	select {
	case m := <-q.ch:
		return m, nil
	default:
	}
	if timeout <= 0 {
		return nil, nil
	}
	if q.client == nil {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case m := <-q.ch:
			return m, nil
		case <-t.C:
			return nil, nil
		}
	}

	deadline := time.Now().Add(timeout)
	if _, err := q.client.runLoop(deadline, func() bool { return len(q.ch) > 0 }); err != nil {
		return nil, err
	}
	select {
	case m := <-q.ch:
		return m, nil
	default:
		return nil, nil
	}
}

// FetchAll returns up to limit messages accumulated within timeout, the
// queue's own budget. A 404/408 status-carrying message is included as a
// terminator, matching the no-wait pull semantics a consumer batch fetch
// expects.
func (q *Queue) FetchAll(limit int, timeout time.Duration) ([]*Msg, error) {
	if limit <= 0 {
		limit = q.size
	}
	out := make([]*Msg, 0, limit)
	deadline := time.Now().Add(timeout)
	for len(out) < limit {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		m, err := q.Fetch(remaining)
		if err != nil {
			return out, err
		}
		if m == nil {
			break
		}
		out = append(out, m)
		if m.IsNoMessagesStatus() {
			break
		}
	}
	return out, nil
}

// Pending reports how many messages are currently buffered.
func (q *Queue) Pending() int { return len(q.ch) }
