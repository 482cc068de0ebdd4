package relay

import (
	"testing"
	"time"
)

func TestQueueFetchReturnsEnqueuedMessageInOrder(t *testing.T) {
	q := newQueue("1", 4, nil)
	first := &Msg{Payload: &Payload{Body: []byte("a")}}
	second := &Msg{Payload: &Payload{Body: []byte("b")}}
	if !q.enqueue(first) || !q.enqueue(second) {
		t.Fatal("enqueue returned false under capacity")
	}

	got, err := q.Fetch(time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got.Body) != "a" {
		t.Fatalf("Fetch = %q, want a", got.Body)
	}

	got, err = q.Fetch(time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got.Body) != "b" {
		t.Fatalf("Fetch = %q, want b", got.Body)
	}
}

func TestQueueFetchTimesOutWhenEmpty(t *testing.T) {
	q := newQueue("1", 4, nil)
	got, err := q.Fetch(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != nil {
		t.Fatalf("Fetch = %+v, want nil on timeout", got)
	}
}

func TestQueueFetchNonBlockingReturnsImmediately(t *testing.T) {
	q := newQueue("1", 4, nil)
	start := time.Now()
	got, err := q.Fetch(0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != nil {
		t.Fatalf("Fetch(0) = %+v, want nil on an empty queue", got)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Fatalf("Fetch(0) blocked for %s, want immediate return", elapsed)
	}
}

func TestQueueEnqueueReportsFalseWhenFull(t *testing.T) {
	q := newQueue("1", 1, nil)
	if !q.enqueue(&Msg{Payload: &Payload{}}) {
		t.Fatal("first enqueue should succeed")
	}
	if q.enqueue(&Msg{Payload: &Payload{}}) {
		t.Fatal("enqueue into a full queue should report false (slow consumer)")
	}
}

func TestQueueFetchAllStopsAtNoMessagesStatus(t *testing.T) {
	q := newQueue("1", 8, nil)
	q.enqueue(&Msg{Payload: &Payload{Body: []byte("1")}})
	q.enqueue(&Msg{Payload: &Payload{Body: []byte("2")}})

	term := &Payload{}
	term.SetHeader(StatusCodeHeader, "404")
	q.enqueue(&Msg{Payload: term})

	q.enqueue(&Msg{Payload: &Payload{Body: []byte("3")}})

	out, err := q.FetchAll(10, time.Second)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("FetchAll returned %d messages, want 3 (stops at the terminator)", len(out))
	}
	if !out[2].IsNoMessagesStatus() {
		t.Fatal("expected the last message returned to be the no-messages terminator")
	}
}

func TestQueueFetchAllRespectsLimit(t *testing.T) {
	q := newQueue("1", 8, nil)
	for i := 0; i < 5; i++ {
		q.enqueue(&Msg{Payload: &Payload{Body: []byte{byte(i)}}})
	}
	out, err := q.FetchAll(3, time.Second)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("FetchAll returned %d messages, want 3", len(out))
	}
}

func TestQueuePendingReflectsBufferedCount(t *testing.T) {
	q := newQueue("1", 4, nil)
	if q.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0 on a fresh queue", q.Pending())
	}
	q.enqueue(&Msg{Payload: &Payload{}})
	q.enqueue(&Msg{Payload: &Payload{}})
	if q.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", q.Pending())
	}
}
