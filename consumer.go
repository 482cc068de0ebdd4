package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymq/relay-go/jetstream"
)

// Consumer is a pull-mode cursor bound to a Stream. Every pull is a
// request carrying {batch, expires, no_wait} with replyTo set to a
// single subscription the Consumer holds open for its whole lifetime;
// the broker streams up to batch messages back to that subject,
// terminated by a 404/408 status message when exhausted.
type Consumer struct {
	stream *Stream
	js     *JetStreamAPI
	inbox  string
	queue  *Queue

	mu   sync.Mutex
	info *jetstream.ConsumerInfo

	interrupted atomic.Bool
}

// CreateConsumer issues CONSUMER.DURABLE.CREATE (if cfg.Durable is set)
// or CONSUMER.CREATE (ephemeral; the broker assigns the name). Creating
// the same durable with an identical config is idempotent.
func CreateConsumer(stream *Stream, cfg jetstream.ConsumerConfig) (*Consumer, error) {
	subject := apiPrefix + "CONSUMER.CREATE." + stream.Name()
	if cfg.Durable != _EMPTY_ {
		subject = apiPrefix + "CONSUMER.DURABLE.CREATE." + stream.Name() + "." + cfg.Durable
	}
	req := jetstream.CreateConsumerRequest{Stream: stream.Name(), Config: &cfg}
	var resp jetstream.ConsumerCreateResponse
	if err := stream.js.request(subject, req, &resp); err != nil {
		return nil, err
	}

	inbox := stream.js.client.opts.InboxPrefix + ".consumer." + stream.js.client.nextRid()
	q, err := stream.js.client.SubscribeChan(inbox, _EMPTY_, 0)
	if err != nil {
		return nil, err
	}

	return &Consumer{stream: stream, js: stream.js, inbox: inbox, queue: q, info: resp.ConsumerInfo}, nil
}

// UpdateConsumer re-creates a durable consumer with cfg; durable create
// is idempotent, so this both creates and updates depending on whether
// the durable already exists.
func UpdateConsumer(stream *Stream, cfg jetstream.ConsumerConfig) (*Consumer, error) {
	return CreateConsumer(stream, cfg)
}

// Name is the consumer's durable or broker-assigned ephemeral name.
func (c *Consumer) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info.Name
}

// Info returns a copy of the cached ConsumerInfo.
func (c *Consumer) Info() jetstream.ConsumerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.info
}

// Refresh re-fetches CONSUMER.INFO and replaces the cached view.
func (c *Consumer) Refresh() error {
	var resp jetstream.ConsumerCreateResponse
	subject := apiPrefix + "CONSUMER.INFO." + c.stream.Name() + "." + c.Name()
	if err := c.js.request(subject, struct{}{}, &resp); err != nil {
		return err
	}
	c.mu.Lock()
	c.info = resp.ConsumerInfo
	c.mu.Unlock()
	return nil
}

// Delete issues CONSUMER.DELETE.
func (c *Consumer) Delete() error {
	var resp jetstream.APIResponse
	subject := apiPrefix + "CONSUMER.DELETE." + c.stream.Name() + "." + c.Name()
	return c.js.request(subject, struct{}{}, &resp)
}

func (c *Consumer) nextSubject() string {
	return apiPrefix + "CONSUMER.MSG.NEXT." + c.stream.Name() + "." + c.Name()
}

func (c *Consumer) pull(batch int, expires time.Duration) error {
	req := jetstream.NextRequest{Batch: batch, Expires: expires.Nanoseconds(), NoWait: expires <= 0}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.js.client.metrics.pulled(c.stream.Name(), c.Name())
	return c.js.client.Publish(c.nextSubject(), body, c.inbox)
}

// Handle performs iterations pull cycles of batch each, calling onMessage
// for every real message and onEmpty whenever a pull's 404/408 status
// terminator arrives, even after real messages in the same pull. The
// terminator ends the current iteration; if expires is 0
// (no-wait) the whole loop also terminates early, matching the no-wait
// pull contract. Interrupt breaks the loop cleanly between iterations;
// messages already in flight for the current batch are still delivered.
// Handle never starts its own reader: each c.queue.Fetch call below drives
// the bound Client's own read loop, since nothing else reads the socket
// for this client while Handle blocks.
func (c *Consumer) Handle(batch, iterations int, expires time.Duration, onMessage func(*Msg), onEmpty func()) error {
	c.interrupted.Store(false)
	noWait := expires <= 0
	fetchTimeout := expires
	if fetchTimeout <= 0 {
		fetchTimeout = c.js.timeout
	}

	for i := 0; i < iterations; i++ {
		if c.interrupted.Load() {
			return nil
		}
		if err := c.pull(batch, expires); err != nil {
			return err
		}

		got := 0
		for got < batch {
			m, err := c.queue.Fetch(fetchTimeout)
			if err != nil {
				return err
			}
			if m == nil {
				break // deadline elapsed before the batch filled
			}
			if m.IsNoMessagesStatus() {
				c.js.client.metrics.emptyPull(c.stream.Name(), c.Name())
				if onEmpty != nil {
					onEmpty()
				}
				if noWait {
					return nil
				}
				break
			}
			onMessage(m)
			got++
		}
	}
	return nil
}

// Interrupt requests Handle stop after its current iteration completes.
func (c *Consumer) Interrupt() {
	c.interrupted.Store(true)
}

// FetchAll performs one pull of up to limit messages and returns
// whatever accumulates within timeout, including a terminal 404/408
// status message if the batch came up short.
func (c *Consumer) FetchAll(limit int, timeout time.Duration) ([]*Msg, error) {
	if err := c.pull(limit, timeout); err != nil {
		return nil, err
	}
	return c.queue.FetchAll(limit, timeout)
}
