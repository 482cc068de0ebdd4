package jetstream

import (
	"strings"
	"time"
)

// AckMetadata is what a JS-ACK reply-to subject decodes to.
type AckMetadata struct {
	Domain     string
	AccountHash string
	Stream     string
	Consumer   string
	Deliveries uint64
	StreamSeq  uint64
	ConsumerSeq uint64
	Timestamp  time.Time
	Pending    uint64
}

const ackPrefix = "$JS.ACK."

// ParseAckSubject decodes a JS-ACK reply-to subject. It recognises both
// the 9-token v1 form and the 12-token v2 form. Any other token count
// yields (nil, false) rather than an error: a malformed or foreign
// reply-to subject is not fatal, just unparseable as ack metadata.
//
// The tokenizer is a tight byte-scanning loop rather than strings.Split,
// which avoids strings.Split+strconv.Atoi allocations on this hot path.
func ParseAckSubject(subject string) (*AckMetadata, bool) {
	if !strings.HasPrefix(subject, ackPrefix) {
		return nil, false
	}
	rest := subject[len(ackPrefix):]

	var tokens []string
	start := 0
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			tokens = append(tokens, rest[start:i])
			start = i + 1
		}
	}
	tokens = append(tokens, rest[start:])

	switch len(tokens) {
	case 7: // v1: stream.consumer.deliveries.streamSeq.consumerSeq.ts.pending (7 after the 2-token $JS.ACK prefix == 9 tokens total)
		return buildMeta(_EMPTY, _EMPTY, tokens[0], tokens[1], tokens[2], tokens[3], tokens[4], tokens[5], tokens[6])
	case 10: // v2: domain.accHash.stream.consumer.deliveries.streamSeq.consumerSeq.ts.pending.random (10 after prefix == 12 tokens total)
		return buildMeta(tokens[0], tokens[1], tokens[2], tokens[3], tokens[4], tokens[5], tokens[6], tokens[7], tokens[8])
	default:
		return nil, false
	}
}

const _EMPTY = ""

func buildMeta(domain, accHash, stream, consumer, deliveries, streamSeq, consumerSeq, ts, pending string) (*AckMetadata, bool) {
	d, ok1 := parseUint(deliveries)
	ss, ok2 := parseUint(streamSeq)
	cs, ok3 := parseUint(consumerSeq)
	tns, ok4 := parseUint(ts)
	p, ok5 := parseUint(pending)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, false
	}
	return &AckMetadata{
		Domain:      domain,
		AccountHash: accHash,
		Stream:      stream,
		Consumer:    consumer,
		Deliveries:  d,
		StreamSeq:   ss,
		ConsumerSeq: cs,
		Timestamp:   time.Unix(0, int64(tns)),
		Pending:     p,
	}, true
}

// parseUint is a quick positive-integer-only parser, using uint64 since
// stream sequence numbers and nanosecond timestamps both exceed int32
// range.
func parseUint(d string) (uint64, bool) {
	if len(d) == 0 {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(d); i++ {
		c := d[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}
