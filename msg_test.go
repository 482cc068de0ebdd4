package relay

import "testing"

// capturingReplier is a minimal Replier that records the last published
// subject/payload, standing in for a live connection in ack-rendering tests.
type capturingReplier struct {
	subject string
	payload *Payload
}

func (r *capturingReplier) Publish(subject string, payload *Payload) error {
	r.subject = subject
	r.payload = payload
	return nil
}

func newBoundMsg(reply string, r *capturingReplier) *Msg {
	return &Msg{Payload: &Payload{}, Reply: reply, replier: r}
}

func TestAckBodyIsBareAckToken(t *testing.T) {
	r := &capturingReplier{}
	m := newBoundMsg("$JS.ACK.stream.consumer.1.1.1.0.0", r)
	if err := m.Ack(); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if string(r.payload.Body) != "+ACK" {
		t.Fatalf("ack body = %q, want +ACK", r.payload.Body)
	}
}

func TestTermWithoutReasonIsFiveBytes(t *testing.T) {
	r := &capturingReplier{}
	m := newBoundMsg("$JS.ACK.stream.consumer.1.1.1.0.0", r)
	if err := m.Term(""); err != nil {
		t.Fatalf("Term: %v", err)
	}
	if got := len(r.payload.Body); got != 5 {
		t.Fatalf("Term(\"\") body length = %d, want 5 (+TERM)", got)
	}
	if string(r.payload.Body) != "+TERM" {
		t.Fatalf("Term(\"\") body = %q, want +TERM", r.payload.Body)
	}
}

func TestTermWithReasonAppendsSingleSpaceAndReason(t *testing.T) {
	r := &capturingReplier{}
	m := newBoundMsg("$JS.ACK.stream.consumer.1.1.1.0.0", r)
	if err := m.Term("invalid message"); err != nil {
		t.Fatalf("Term: %v", err)
	}
	want := "+TERM invalid message"
	if got := string(r.payload.Body); got != want {
		t.Fatalf("Term body = %q, want %q", got, want)
	}
	if got := len(r.payload.Body); got != 21 {
		t.Fatalf("Term body length = %d, want 21", got)
	}
}

func TestNakWithoutDelayIsBareNakToken(t *testing.T) {
	r := &capturingReplier{}
	m := newBoundMsg("$JS.ACK.stream.consumer.1.1.1.0.0", r)
	if err := m.Nak(0); err != nil {
		t.Fatalf("Nak: %v", err)
	}
	if string(r.payload.Body) != "-NAK" {
		t.Fatalf("Nak(0) body = %q, want -NAK", r.payload.Body)
	}
}

func TestNakWithDelayEncodesDelayAsNanoseconds(t *testing.T) {
	r := &capturingReplier{}
	m := newBoundMsg("$JS.ACK.stream.consumer.1.1.1.0.0", r)
	if err := m.Nak(2_000_000); err != nil { // 2ms
		t.Fatalf("Nak: %v", err)
	}
	want := `-NAK {"delay":2000000}`
	if got := string(r.payload.Body); got != want {
		t.Fatalf("Nak(2ms) body = %q, want %q", got, want)
	}
}

func TestAckWithoutReplySubjectFails(t *testing.T) {
	m := newBoundMsg("", &capturingReplier{})
	if err := m.Ack(); err != ErrMsgNoReply {
		t.Fatalf("Ack on a message with no reply-to: got %v, want ErrMsgNoReply", err)
	}
}

func TestMetadataRejectsNonJetStreamReply(t *testing.T) {
	m := newBoundMsg("some.plain.reply.subject", &capturingReplier{})
	if _, err := m.Metadata(); err != ErrNotJSMessage {
		t.Fatalf("Metadata on a non-ack reply subject: got %v, want ErrNotJSMessage", err)
	}
}

func TestMetadataParsesJetStreamAckSubject(t *testing.T) {
	m := newBoundMsg("$JS.ACK.ORDERS.processor.1.3.18.1719992702186105579.0", &capturingReplier{})
	meta, err := m.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Stream != "ORDERS" || meta.Consumer != "processor" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}
