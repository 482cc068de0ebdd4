package relay_test

import (
	"testing"
	"time"

	relay "github.com/relaymq/relay-go"
	"github.com/relaymq/relay-go/internal/faketest"
)

func dialFake(t *testing.T, b *faketest.Broker, opts ...relay.Option) *relay.Client {
	t.Helper()
	host, port := b.HostPort()
	base := []relay.Option{relay.Host(host), relay.Port(port), relay.NoLogger(), relay.Timeout(2 * time.Second)}
	c, err := relay.Connect(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPublishSubscribeDeliversBody(t *testing.T) {
	b, err := faketest.Start()
	if err != nil {
		t.Fatalf("faketest.Start: %v", err)
	}
	defer b.Close()

	c := dialFake(t, b)

	got := make(chan string, 1)
	if _, err := c.Subscribe("orders.created", func(m *relay.Msg) *relay.Payload {
		got <- string(m.Body)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !c.Flush(time.Second) {
		t.Fatal("flush failed after subscribe")
	}

	if err := c.Publish("orders.created", "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, err := c.Process(time.Second); err != nil {
		t.Fatalf("Process: %v", err)
	}

	select {
	case body := <-got:
		if body != "hello" {
			t.Fatalf("body = %q, want hello", body)
		}
	default:
		t.Fatal("handler never fired")
	}
}

func TestRequestReplyRoundTrips(t *testing.T) {
	b, err := faketest.Start()
	if err != nil {
		t.Fatalf("faketest.Start: %v", err)
	}
	defer b.Close()

	c := dialFake(t, b)

	if _, err := c.Subscribe("svc.echo", func(m *relay.Msg) *relay.Payload {
		return relay.NewStringPayload("echo:" + string(m.Body))
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !c.Flush(time.Second) {
		t.Fatal("flush failed after subscribe")
	}

	msg, err := c.Dispatch("svc.echo", "ping", time.Second)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if string(msg.Body) != "echo:ping" {
		t.Fatalf("reply body = %q, want echo:ping", msg.Body)
	}
}

func TestDispatchTimesOutWithNoResponder(t *testing.T) {
	b, err := faketest.Start()
	if err != nil {
		t.Fatalf("faketest.Start: %v", err)
	}
	defer b.Close()

	c := dialFake(t, b)

	if _, err := c.Dispatch("nobody.home", "ping", 50*time.Millisecond); err == nil {
		t.Fatal("expected a timeout error, got nil")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b, err := faketest.Start()
	if err != nil {
		t.Fatalf("faketest.Start: %v", err)
	}
	defer b.Close()

	c := dialFake(t, b)

	count := 0
	sid, err := c.Subscribe("events.>", func(m *relay.Msg) *relay.Payload {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !c.Flush(time.Second) {
		t.Fatal("flush failed after subscribe")
	}

	if err := c.Publish("events.a", "1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := c.Process(200 * time.Millisecond); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if err := c.Unsubscribe(sid); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if !c.Flush(time.Second) {
		t.Fatal("flush failed after unsubscribe")
	}

	if err := c.Publish("events.b", "2"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := c.Process(200 * time.Millisecond); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if count != 1 {
		t.Fatalf("handler fired %d times, want 1 (after unsubscribe)", count)
	}
}

func TestQueueGroupLoadBalancesAcrossSubscribers(t *testing.T) {
	b, err := faketest.Start()
	if err != nil {
		t.Fatalf("faketest.Start: %v", err)
	}
	defer b.Close()

	c := dialFake(t, b)

	hits := make([]int, 2)
	for i := range hits {
		i := i
		if _, err := c.QueueSubscribe("work.item", "workers", func(m *relay.Msg) *relay.Payload {
			hits[i]++
			return nil
		}); err != nil {
			t.Fatalf("QueueSubscribe: %v", err)
		}
	}
	if !c.Flush(time.Second) {
		t.Fatal("flush failed after subscribe")
	}

	for i := 0; i < 4; i++ {
		if err := c.Publish("work.item", "x"); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if _, err := c.Process(300 * time.Millisecond); err != nil {
		t.Fatalf("Process: %v", err)
	}

	total := hits[0] + hits[1]
	if total != 4 {
		t.Fatalf("total deliveries = %d, want 4", total)
	}
	if hits[0] == 0 || hits[1] == 0 {
		t.Fatalf("expected both queue members to receive at least one message, got %v", hits)
	}
}
