// Package relay is a client library for a text-framed publish/subscribe
// messaging broker (wire-compatible with the NATS protocol) and its
// persistent stream layer, JetStream. It owns a long-lived TCP/TLS
// connection, multiplexes subscriptions and request/reply correlation over
// it, and drives all I/O from an explicit, cooperative process loop rather
// than a hidden event loop.
package relay

import "time"

// _EMPTY_ is used throughout in place of "" to make control-line assembly
// read the same way token-by-token, matching the frame grammar in the wire
// protocol this client speaks.
const _EMPTY_ = ""

// Version is the client library version advertised in the CONNECT frame's
// "version" field.
const Version = "0.1.0"

// LangString is advertised in the CONNECT frame's "lang" field.
const LangString = "go"

const (
	// DefaultURL is the URL form of the default host and port. Connect
	// does not read it; it dials Options.Host and Options.Port.
	DefaultURL = "relay://localhost:4222"

	// DefaultInboxPrefix is the subject prefix under which the shared
	// request/reply inbox subscription is created.
	DefaultInboxPrefix = "_INBOX"

	// DefaultPingInterval is how long the connection waits for inbound
	// traffic before it sends its own keep-alive PING.
	DefaultPingInterval = 2 * time.Second

	// DefaultMaxPingsOut bounds how many un-ponged PINGs are tolerated
	// before the socket is declared dead and reconnect is triggered.
	DefaultMaxPingsOut = 2

	// DefaultTimeout is the default dial/handshake timeout.
	DefaultTimeout = 1 * time.Second

	// DefaultReconnectDelay is d0 in the reconnect delay schedule.
	DefaultReconnectDelay = 1 * time.Millisecond
)
