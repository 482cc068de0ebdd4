package relay

import (
	"time"

	"github.com/relaymq/relay-go/jetstream"
)

// Replier is the minimal reply capability a received Msg is given instead
// of a pointer back to the whole Client, so a Msg never needs to own its
// client.
type Replier interface {
	Publish(subject string, payload *Payload) error
}

// Msg is one decoded MSG/HMSG frame delivered to a handler or a Queue.
type Msg struct {
	*Payload
	Subject string
	Reply   string
	Sid     string

	replier Replier
}

// Respond publishes reply as the response to this message, failing with
// ErrMsgNoReply if the message carried no reply-to subject.
func (m *Msg) Respond(reply *Payload) error {
	if m.Reply == _EMPTY_ {
		return ErrMsgNoReply
	}
	if m.replier == nil {
		return ErrMsgNotBound
	}
	return m.replier.Publish(m.Reply, reply)
}

// RespondBytes is a convenience wrapper for raw-byte replies.
func (m *Msg) RespondBytes(body []byte) error {
	return m.Respond(NewPayload(body))
}

// Metadata parses this message's reply-to as a JetStream ack subject.
// Returns ErrNotJSMessage if the reply-to does not decode.
func (m *Msg) Metadata() (*jetstream.AckMetadata, error) {
	if m.Reply == _EMPTY_ {
		return nil, ErrMsgNoReply
	}
	meta, ok := jetstream.ParseAckSubject(m.Reply)
	if !ok {
		return nil, ErrNotJSMessage
	}
	return meta, nil
}

// JetStream ack bodies.
var (
	ackBodyAck      = []byte("+ACK")
	ackBodyNak      = []byte("-NAK")
	ackBodyProgress = []byte("+WPI")
	ackBodyTerm     = []byte("+TERM")
)

// Ack acknowledges successful processing of a JetStream-delivered message.
func (m *Msg) Ack() error {
	if m.Reply == _EMPTY_ {
		return ErrMsgNoReply
	}
	return m.replier.Publish(m.Reply, NewPayload(ackBodyAck))
}

// Nak indicates the message could not be processed; nack(delay) asks the
// broker to redeliver after delay (0 means immediately).
func (m *Msg) Nak(delay time.Duration) error {
	if m.Reply == _EMPTY_ {
		return ErrMsgNoReply
	}
	body := ackBodyNak
	if delay > 0 {
		body = []byte(`-NAK {"delay":` + itoa64(delay.Nanoseconds()) + `}`)
	}
	return m.replier.Publish(m.Reply, NewPayload(body))
}

// InProgress resets the ack-wait timer without acknowledging.
func (m *Msg) InProgress() error {
	if m.Reply == _EMPTY_ {
		return ErrMsgNoReply
	}
	return m.replier.Publish(m.Reply, NewPayload(ackBodyProgress))
}

// Term permanently drops the message, optionally with a human-readable
// reason appended to the ack body as "+TERM <reason>".
func (m *Msg) Term(reason string) error {
	if m.Reply == _EMPTY_ {
		return ErrMsgNoReply
	}
	body := ackBodyTerm
	if reason != _EMPTY_ {
		body = append(append([]byte{}, ackBodyTerm...), append([]byte(" "), []byte(reason)...)...)
	}
	return m.replier.Publish(m.Reply, NewPayload(body))
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
