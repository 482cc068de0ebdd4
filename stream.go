package relay

import (
	"encoding/json"
	"sync"

	"github.com/relaymq/relay-go/jetstream"
)

// Stream is admin of one logical stream: create/update/delete/info/purge
// and the two publish modes (fire-and-forget put, acked publish). It
// holds a mutable, lock-protected copy of the broker's StreamConfig/
// StreamInfo.
type Stream struct {
	js *JetStreamAPI

	mu   sync.Mutex
	info *jetstream.StreamInfo
}

func newStream(js *JetStreamAPI, info *jetstream.StreamInfo) *Stream {
	return &Stream{js: js, info: info}
}

// Name is the stream's immutable name.
func (s *Stream) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Config.Name
}

// Config returns a copy of the cached StreamConfig.
func (s *Stream) Config() jetstream.StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Config
}

// Info returns a copy of the cached StreamInfo.
func (s *Stream) Info() jetstream.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.info
}

// Update issues STREAM.UPDATE and refreshes the cached config from the
// response.
func (s *Stream) Update(cfg jetstream.StreamConfig) error {
	cfg.Name = s.Name()
	var resp jetstream.StreamCreateResponse
	if err := s.js.request(apiPrefix+"STREAM.UPDATE."+cfg.Name, cfg, &resp); err != nil {
		return err
	}
	s.mu.Lock()
	s.info = resp.StreamInfo
	s.mu.Unlock()
	return nil
}

// Refresh re-fetches STREAM.INFO and replaces the cached config/state.
func (s *Stream) Refresh() error {
	info, err := s.js.StreamInfo(s.Name())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	return nil
}

// Delete issues STREAM.DELETE.
func (s *Stream) Delete() error {
	return s.js.DeleteStream(s.Name())
}

// purgeResponse is the STREAM.PURGE response shape; the broker reports a
// purged-count the caller rarely needs, so it is discarded past decode.
type purgeResponse struct {
	jetstream.APIResponse
	Purged uint64 `json:"purged"`
}

// PurgeOption narrows a Purge call to a subject, sequence, or keep-count.
type PurgeOption func(*jetstream.PurgeRequest)

// PurgeSubject restricts the purge to messages on subject.
func PurgeSubject(subject string) PurgeOption {
	return func(r *jetstream.PurgeRequest) { r.Subject = subject }
}

// PurgeSequence purges messages up to (not including) seq.
func PurgeSequence(seq uint64) PurgeOption {
	return func(r *jetstream.PurgeRequest) { r.Seq = seq }
}

// PurgeKeep keeps the last n messages instead of purging everything.
func PurgeKeep(n uint64) PurgeOption {
	return func(r *jetstream.PurgeRequest) { r.Keep = n }
}

// Purge issues STREAM.PURGE; an empty request (no options) purges the
// whole stream.
func (s *Stream) Purge(opts ...PurgeOption) error {
	req := &jetstream.PurgeRequest{}
	for _, o := range opts {
		o(req)
	}
	var resp purgeResponse
	return s.js.request(apiPrefix+"STREAM.PURGE."+s.Name(), req, &resp)
}

// Put is a direct, unacknowledged PUB on subject — no JetStream
// round-trip, no PubAck.
func (s *Stream) Put(subject string, payload any) error {
	return s.js.client.Publish(subject, payload)
}

// PubOpt annotates an acked Publish with JetStream headers before it is
// sent.
type PubOpt func(*Payload)

// WithMsgID sets Nats-Msg-Id, the deduplication key within the stream's
// duplicate window.
func WithMsgID(id string) PubOpt {
	return func(p *Payload) { p.SetHeader(jetstream.MsgIDHeader, id) }
}

// ExpectLastSubjectSequence sets Nats-Expected-Last-Subject-Sequence for
// an optimistic-concurrency publish.
func ExpectLastSubjectSequence(seq uint64) PubOpt {
	return func(p *Payload) {
		p.SetHeader(jetstream.ExpectedLastSubjSeqHeader, itoa64(int64(seq)))
	}
}

// WithRollup marks the publish as a rollup tombstone, "sub" or "all".
func WithRollup(scope string) PubOpt {
	return func(p *Payload) { p.SetHeader(jetstream.RollupHeader, scope) }
}

// WithSchedule attaches a Nats-Schedule header built by one of the
// ScheduleAt/ScheduleEvery/ScheduleCron/SchedulePredefined helpers.
func WithSchedule(spec string) PubOpt {
	return func(p *Payload) { p.SetHeader(jetstream.ScheduleHeader, spec) }
}

// WithScheduleTarget sets the subject a scheduled message is delivered
// to once it fires.
func WithScheduleTarget(subject string) PubOpt {
	return func(p *Payload) { p.SetHeader(jetstream.ScheduleTargetHeader, subject) }
}

// Publish is a JetStream-acked publish: request/reply against subject,
// decoding the broker's PubAck response. Duplicate suppression fires
// when WithMsgID's value has been seen within the stream's configured
// duplicate window.
func (s *Stream) Publish(subject string, payload any, opts ...PubOpt) (*jetstream.PubAck, error) {
	p := toPayload(payload)
	for _, o := range opts {
		o(p)
	}
	msg, err := s.js.client.Dispatch(subject, p, s.js.timeout)
	if err != nil {
		return nil, err
	}
	var resp jetstream.PubAckResponse
	if err := json.Unmarshal(msg.Body, &resp); err != nil {
		return nil, errProtocolf("decoding pub ack for %s: %v", subject, err)
	}
	if resp.Error != nil {
		return nil, &APIError{Code: resp.Error.Code, ErrorCode: resp.Error.ErrCode, Description: resp.Error.Description}
	}
	return resp.PubAck, nil
}
