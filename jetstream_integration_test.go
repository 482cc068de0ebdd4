package relay_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	relay "github.com/relaymq/relay-go"
	"github.com/relaymq/relay-go/internal/faketest"
	"github.com/relaymq/relay-go/jetstream"
)

// fakeJSServer emulates just enough of $JS.API.* and the pull-consumer
// protocol to drive Stream/Consumer end-to-end: STREAM.CREATE/INFO,
// CONSUMER.DURABLE.CREATE, direct acked publishes with PubAck replies, and
// CONSUMER.MSG.NEXT batch delivery terminated by a 404 status message.
type fakeJSServer struct {
	client *relay.Client

	mu   sync.Mutex
	log  []storedMsg
	acks []string
}

type storedMsg struct {
	subject string
	body    []byte
}

func startFakeJSServer(t *testing.T, b *faketest.Broker) *fakeJSServer {
	t.Helper()
	c := dialFake(t, b)
	s := &fakeJSServer{client: c}

	if _, err := c.Subscribe("$JS.API.>", s.handleAPI); err != nil {
		t.Fatalf("server Subscribe $JS.API.>: %v", err)
	}
	if _, err := c.Subscribe("orders.>", s.handlePublish); err != nil {
		t.Fatalf("server Subscribe orders.>: %v", err)
	}
	if _, err := c.Subscribe("$JS.ACK.>", func(m *relay.Msg) *relay.Payload {
		s.mu.Lock()
		s.acks = append(s.acks, string(m.Body))
		s.mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("server Subscribe $JS.ACK.>: %v", err)
	}
	if !c.Flush(time.Second) {
		t.Fatal("server flush failed")
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = c.Process(50 * time.Millisecond)
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
	return s
}

func (s *fakeJSServer) handlePublish(m *relay.Msg) *relay.Payload {
	s.mu.Lock()
	s.log = append(s.log, storedMsg{subject: m.Subject, body: append([]byte(nil), m.Body...)})
	s.mu.Unlock()
	resp, _ := json.Marshal(jetstream.PubAckResponse{PubAck: &jetstream.PubAck{Stream: "ORDERS", Seq: uint64(len(s.log))}})
	return relay.NewPayload(resp)
}

func (s *fakeJSServer) handleAPI(m *relay.Msg) *relay.Payload {
	switch {
	case m.Subject == "$JS.API.STREAM.CREATE.ORDERS", m.Subject == "$JS.API.STREAM.INFO.ORDERS":
		resp, _ := json.Marshal(jetstream.StreamCreateResponse{
			StreamInfo: &jetstream.StreamInfo{
				Config: jetstream.StreamConfig{Name: "ORDERS", Subjects: []string{"orders.>"}},
			},
		})
		return relay.NewPayload(resp)
	case m.Subject == "$JS.API.CONSUMER.DURABLE.CREATE.ORDERS.processor":
		resp, _ := json.Marshal(jetstream.ConsumerCreateResponse{
			ConsumerInfo: &jetstream.ConsumerInfo{Stream: "ORDERS", Name: "processor"},
		})
		return relay.NewPayload(resp)
	case m.Subject == "$JS.API.CONSUMER.MSG.NEXT.ORDERS.processor":
		s.deliverPull(m)
		return nil
	default:
		return nil
	}
}

func (s *fakeJSServer) deliverPull(m *relay.Msg) {
	var req jetstream.NextRequest
	_ = json.Unmarshal(m.Body, &req)

	s.mu.Lock()
	pending := append([]storedMsg(nil), s.log...)
	s.log = nil
	s.mu.Unlock()

	sent := 0
	for i, sm := range pending {
		if sent >= req.Batch {
			break
		}
		ackReply := "$JS.ACK.ORDERS.processor.1." + itoaTest(i+1) + "." + itoaTest(i+1) + ".1719992702186105579.0"
		_ = s.client.Publish(m.Reply, relay.NewPayload(sm.body), ackReply)
		sent++
	}
	term := relay.NewPayload(nil)
	term.SetHeader(relay.StatusCodeHeader, "404")
	_ = s.client.Publish(m.Reply, term)
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

func TestConsumerPullLoopDeliversAndTerminates(t *testing.T) {
	b, err := faketest.Start()
	if err != nil {
		t.Fatalf("faketest.Start: %v", err)
	}
	defer b.Close()

	startFakeJSServer(t, b)

	app := dialFake(t, b)

	stream, err := app.JetStream().CreateStream(jetstream.StreamConfig{Name: "ORDERS", Subjects: []string{"orders.>"}})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := stream.Publish("orders.created", []byte("order-"+itoaTest(i+1))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	consumer, err := relay.CreateConsumer(stream, jetstream.ConsumerConfig{
		Durable:   "processor",
		AckPolicy: jetstream.AckExplicit,
	})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}

	var got []string
	empties := 0
	err = consumer.Handle(5, 1, time.Second, func(m *relay.Msg) {
		got = append(got, string(m.Body))
		if ackErr := m.Ack(); ackErr != nil {
			t.Errorf("Ack: %v", ackErr)
		}
	}, func() { empties++ })
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("delivered %d messages, want 3: %v", len(got), got)
	}
	if empties != 1 {
		t.Fatalf("onEmpty fired %d times, want 1", empties)
	}
}
