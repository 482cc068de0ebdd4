package relay

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func readOneFrame(t *testing.T, wire string) *inboundFrame {
	t.Helper()
	r := newFrameReader(bufio.NewReader(strings.NewReader(wire)))
	f, err := r.readFrame()
	if err != nil {
		t.Fatalf("readFrame(%q): %v", wire, err)
	}
	return f
}

func TestReadDataFrameMsgWithNoReply(t *testing.T) {
	f := readOneFrame(t, "MSG orders.created 42 5\r\nhello\r\n")
	if f.Kind != frameMsg {
		t.Fatalf("Kind = %v, want MSG", f.Kind)
	}
	if f.Subject != "orders.created" || f.Sid != "42" || f.ReplyTo != _EMPTY_ {
		t.Fatalf("unexpected frame fields: %+v", f)
	}
	if string(f.Payload.Body) != "hello" {
		t.Fatalf("body = %q, want hello", f.Payload.Body)
	}
}

func TestReadDataFrameMsgWithReply(t *testing.T) {
	f := readOneFrame(t, "MSG orders.created 42 _INBOX.7 5\r\nhello\r\n")
	if f.ReplyTo != "_INBOX.7" {
		t.Fatalf("ReplyTo = %q, want _INBOX.7", f.ReplyTo)
	}
	if len(f.Payload.Body) != 5 {
		t.Fatalf("len(body) = %d, want 5 (invariant: m.length = len(m.body))", len(f.Payload.Body))
	}
}

func TestReadDataFrameHMsgSplitsHeaderFromBody(t *testing.T) {
	hdr := "NATS/1.0\r\nFoo: Bar\r\n\r\n"
	body := "payload"
	wire := "HMSG orders.created 42 " + itoaTestParser(len(hdr)) + " " + itoaTestParser(len(hdr)+len(body)) + "\r\n" + hdr + body + "\r\n"

	f := readOneFrame(t, wire)
	if f.Kind != frameHMsg {
		t.Fatalf("Kind = %v, want HMSG", f.Kind)
	}
	if string(f.Payload.Body) != body {
		t.Fatalf("body = %q, want %q", f.Payload.Body, body)
	}
	if got := f.Payload.Header.Get("Foo"); got != "Bar" {
		t.Fatalf("header Foo = %q, want Bar", got)
	}
}

func TestReadDataFrameHMsgWithStatusLine(t *testing.T) {
	hdr := "NATS/1.0 404 Not Found\r\n\r\n"
	wire := "HMSG orders.created 1 " + itoaTestParser(len(hdr)) + " " + itoaTestParser(len(hdr)) + "\r\n" + hdr + "\r\n"

	f := readOneFrame(t, wire)
	if got := f.Payload.Header.Get(StatusCodeHeader); got != "404" {
		t.Fatalf("Status-Code = %q, want 404", got)
	}
	if got := f.Payload.Header.Get(StatusMessageHeader); got != "Not Found" {
		t.Fatalf("Status-Message = %q, want %q", got, "Not Found")
	}
	if len(f.Payload.Body) != 0 {
		t.Fatalf("body = %q, want empty", f.Payload.Body)
	}
}

func TestReadDataFrameRejectsHeaderBlockNotEndingInBlankLine(t *testing.T) {
	wire := "HMSG s 1 6 6\r\nfoobar\r\n"
	r := newFrameReader(bufio.NewReader(strings.NewReader(wire)))
	if _, err := r.readFrame(); err == nil {
		t.Fatal("expected a decode error for a header block with no terminating blank line")
	}
}

func TestEncodePubRoundTripsThroughReadDataFrame(t *testing.T) {
	wire := encodePub("orders.created", "_INBOX.1", []byte("hello"))
	r := newFrameReader(bufio.NewReader(bytes.NewReader(wire)))
	f, err := r.readFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if f.Subject != "orders.created" || f.ReplyTo != "_INBOX.1" {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if string(f.Payload.Body) != "hello" {
		t.Fatalf("body = %q, want hello", f.Payload.Body)
	}
}

func TestEncodeHPubRoundTripsHeadersAndBody(t *testing.T) {
	h := NewHeader()
	h.Set("Nats-Msg-Id", "abc123")
	wire := encodeHPub("orders.created", _EMPTY_, h, []byte("hello"))

	// encodeHPub writes a bare control line with no reply token; confirm it
	// still parses correctly through the real reader, not just by
	// reconstructing it by hand.
	out := "orders.created"
	if !strings.Contains(string(wire), out) {
		t.Fatalf("encoded frame missing subject: %s", wire)
	}

	r := newFrameReader(bufio.NewReader(bytes.NewReader(wire)))
	f, err := r.readFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if f.Kind != frameHMsg {
		t.Fatalf("Kind = %v, want HMSG", f.Kind)
	}
	if got := f.Payload.Header.Get("Nats-Msg-Id"); got != "abc123" {
		t.Fatalf("Nats-Msg-Id = %q, want abc123", got)
	}
	if string(f.Payload.Body) != "hello" {
		t.Fatalf("body = %q, want hello", f.Payload.Body)
	}
}

func TestReadFrameHandlesPingPongOkErr(t *testing.T) {
	cases := map[string]frameKind{
		"PING\r\n":              framePing,
		"PONG\r\n":              framePong,
		"+OK\r\n":               frameOK,
		"-ERR 'slow consumer'\r\n": frameErr,
	}
	for wire, want := range cases {
		f := readOneFrame(t, wire)
		if f.Kind != want {
			t.Fatalf("readFrame(%q).Kind = %v, want %v", wire, f.Kind, want)
		}
	}
}

func itoaTestParser(n int) string {
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
