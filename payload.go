package relay

import (
	"strconv"
	"strings"
)

// Header is an ordered multimap of header fields. Unlike net/http.Header it
// preserves insertion order on Keys() and allows duplicate keys on the
// wire; Get always returns the last value written for a key ("last wins"),
// per the data model's read semantics.
type Header struct {
	keys   []string
	values map[string][]string
}

// NewHeader returns an empty, ready-to-use Header.
func NewHeader() *Header {
	return &Header{values: make(map[string][]string)}
}

// Set replaces all values for key.
func (h *Header) Set(key, value string) {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = []string{value}
}

// Add appends a value for key without discarding prior values.
func (h *Header) Add(key, value string) {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = append(h.values[key], value)
}

// Get returns the last value written for key, or "" if absent.
func (h *Header) Get(key string) string {
	if h == nil {
		return _EMPTY_
	}
	vs := h.values[key]
	if len(vs) == 0 {
		return _EMPTY_
	}
	return vs[len(vs)-1]
}

// Values returns every value written for key, in write order.
func (h *Header) Values(key string) []string {
	if h == nil {
		return nil
	}
	return h.values[key]
}

// Keys returns header keys in first-insertion order.
func (h *Header) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Del removes a key entirely.
func (h *Header) Del(key string) {
	if h == nil {
		return
	}
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Synthetic header keys injected when a status header block is decoded.
const (
	StatusCodeHeader    = "Status-Code"
	StatusMessageHeader = "Status-Message"
)

// Status codes the pull-consumer path treats as "batch empty" terminators.
const (
	StatusNoMessages    = "404"
	StatusRequestExpire = "408"
)

// Payload is a subject-less value: an opaque byte body plus an ordered
// header map. It carries no subject or reply-to of its own — those live on
// the Subscription/Msg that produced or will carry it.
type Payload struct {
	Body   []byte
	Header *Header
}

// NewPayload wraps body with no headers.
func NewPayload(body []byte) *Payload {
	return &Payload{Body: body}
}

// NewStringPayload wraps a string body with no headers, the auto-wrap path
// Client.Publish/Request use when given a bare string instead of a built
// Payload.
func NewStringPayload(s string) *Payload {
	return &Payload{Body: []byte(s)}
}

// SetHeader sets key on p's header block, allocating it on first use. Use
// this instead of p.Header.Set directly on a freshly built Payload, whose
// Header is nil until something attaches one.
func (p *Payload) SetHeader(key, value string) {
	if p.Header == nil {
		p.Header = NewHeader()
	}
	p.Header.Set(key, value)
}

// HasHeaders reports whether headers were ever attached, distinguishing
// PUB-framed payloads from HPUB-framed ones on encode.
func (p *Payload) HasHeaders() bool {
	return p != nil && p.Header != nil && len(p.Header.keys) > 0
}

// StatusCode returns the synthetic Status-Code header as an int, and false
// if none was set (i.e. this was not a status-only reply).
func (p *Payload) StatusCode() (int, bool) {
	if p == nil || p.Header == nil {
		return 0, false
	}
	v := p.Header.Get(StatusCodeHeader)
	if v == _EMPTY_ {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsNoMessagesStatus reports whether this payload is a pull-consumer
// terminator (empty batch); both 404 and 408 are treated identically
// regardless of broker version.
func (p *Payload) IsNoMessagesStatus() bool {
	code, ok := p.StatusCode()
	if !ok {
		return false
	}
	return code == 404 || code == 408
}

// decodeHeaderBlock parses a header block per the following grammar:
// the first line is "NATS/1.0" alone or "NATS/1.0 <code> <message>"
// (status line), followed by "Key: Value" lines, terminated by an empty
// line. Any non-empty, non-status line without a colon is a fatal decode
// error.
func decodeHeaderBlock(block []byte) (*Header, error) {
	h := NewHeader()
	s := string(block)
	// Split on CRLF; the block is expected to end "\r\n\r\n".
	lines := strings.Split(s, "\r\n")

	if len(lines) == 0 {
		return nil, errProtocolf("empty header block")
	}
	first := lines[0]
	if !strings.HasPrefix(first, "NATS/1.0") {
		return nil, errProtocolf("header block missing NATS/1.0 status line")
	}
	rest := strings.TrimSpace(strings.TrimPrefix(first, "NATS/1.0"))
	if rest != _EMPTY_ {
		parts := strings.SplitN(rest, " ", 2)
		h.Set(StatusCodeHeader, parts[0])
		if len(parts) == 2 {
			h.Set(StatusMessageHeader, strings.TrimSpace(parts[1]))
		}
	}

	for _, line := range lines[1:] {
		if line == _EMPTY_ {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, errProtocolf("malformed header line %q: no colon", line)
		}
		key := line[:idx]
		val := strings.TrimSpace(line[idx+1:])
		h.Add(key, val)
	}
	return h, nil
}

// encodeHeaderBlock renders a header block in the wire grammar: "NATS/1.0",
// each "Key: Value" line in insertion order, then a trailing blank line.
func encodeHeaderBlock(h *Header) []byte {
	var b strings.Builder
	b.WriteString("NATS/1.0\r\n")
	if h != nil {
		for _, k := range h.keys {
			for _, v := range h.values[k] {
				b.WriteString(k)
				b.WriteString(": ")
				b.WriteString(v)
				b.WriteString("\r\n")
			}
		}
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
