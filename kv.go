package relay

import (
	"time"

	"github.com/klauspost/compress/s2"

	"github.com/relaymq/relay-go/jetstream"
)

// compressionThreshold is the value size above which Put/Update
// transparently S2-compresses the body before publishing; values at or
// below it are stored as written. Get/GetAll/History reverse this based
// solely on the Content-Encoding header, so the threshold can change
// across client versions without breaking reads of older entries.
const compressionThreshold = 4096

func maybeCompress(value []byte) (body []byte, encoding string) {
	if len(value) <= compressionThreshold {
		return value, _EMPTY_
	}
	return s2.Encode(nil, value), jetstream.S2Encoding
}

func decodeBody(m *Msg) ([]byte, error) {
	if m.Header.Get(jetstream.ContentEncodingHeader) != jetstream.S2Encoding {
		return m.Body, nil
	}
	return s2.Decode(nil, m.Body)
}

// KVBucket is a stream-backed key-value store. Bucket "X" is the stream
// "KV_X" with subject set "$KV.X.>", retention=limits, discard=new,
// maxMsgsPerSubject=history, allowRollupHeaders=true.
type KVBucket struct {
	name   string
	stream *Stream
}

// CreateKVBucket creates (or reuses, if already present) the backing
// stream for bucket name, keeping up to history revisions per key.
func CreateKVBucket(js *JetStreamAPI, name string, history int64, ttl time.Duration) (*KVBucket, error) {
	if history <= 0 {
		history = 1
	}
	cfg := jetstream.StreamConfig{
		Name:               "KV_" + name,
		Subjects:           []string{"$KV." + name + ".>"},
		Retention:          jetstream.LimitsPolicy,
		Discard:            jetstream.DiscardNew,
		Storage:            jetstream.FileStorage,
		Replicas:           1,
		MaxMsgsPerSubject:  &history,
		AllowRollupHeaders: true,
	}
	if ttl > 0 {
		cfg.MaxAge = ttl
	}
	s, err := js.CreateOrUpdateStream(cfg)
	if err != nil {
		return nil, err
	}
	return &KVBucket{name: name, stream: s}, nil
}

func (b *KVBucket) keySubject(key string) string {
	return "$KV." + b.name + "." + key
}

// Put writes value under key and returns the new revision (the stream
// sequence of this write). Values larger than compressionThreshold are
// S2-compressed on the wire and transparently decompressed by Get.
func (b *KVBucket) Put(key string, value []byte) (uint64, error) {
	body, encoding := maybeCompress(value)
	p := NewPayload(body)
	if encoding != _EMPTY_ {
		p.SetHeader(jetstream.ContentEncodingHeader, encoding)
	}
	ack, err := b.stream.Publish(b.keySubject(key), p)
	if err != nil {
		return 0, err
	}
	return ack.Seq, nil
}

// Get reads the current value for key, or (nil, false) if the key has no
// live value (never written, or last operation was a delete/purge).
func (b *KVBucket) Get(key string) ([]byte, bool, error) {
	oc, err := newOrderedConsumer(b.stream, b.keySubject(key), jetstream.DeliverLastPerSubject)
	if err != nil {
		return nil, false, err
	}
	defer oc.Delete()

	msgs, err := oc.FetchAll(1, b.stream.js.timeout)
	if err != nil {
		return nil, false, err
	}
	if len(msgs) == 0 || msgs[0].IsNoMessagesStatus() {
		return nil, false, nil
	}
	m := msgs[0]
	if isDeleteOp(m.Header.Get(jetstream.KVOperationHeader)) {
		return nil, false, nil
	}
	body, err := decodeBody(m)
	if err != nil {
		return nil, false, errProtocolf("decoding S2 body for key %q: %v", key, err)
	}
	return body, true, nil
}

func isDeleteOp(op string) bool {
	return op == jetstream.KVOperationDelete || op == jetstream.KVOperationPurge
}

// Update writes value under key only if the key's current revision
// equals expectedRevision, using Nats-Expected-Last-Subject-Sequence.
// A mismatch surfaces as ErrWrongLastSequence.
func (b *KVBucket) Update(key string, value []byte, expectedRevision uint64) (uint64, error) {
	body, encoding := maybeCompress(value)
	p := NewPayload(body)
	if encoding != _EMPTY_ {
		p.SetHeader(jetstream.ContentEncodingHeader, encoding)
	}
	ack, err := b.stream.Publish(b.keySubject(key), p, ExpectLastSubjectSequence(expectedRevision))
	if err != nil {
		return 0, err
	}
	return ack.Seq, nil
}

// Delete marks key deleted by publishing an empty payload with
// KV-Operation: DEL. Prior revisions are retained (a later history scan
// still observes them) until a stream-level purge trims them away.
func (b *KVBucket) Delete(key string) error {
	p := NewPayload(nil)
	p.SetHeader(jetstream.KVOperationHeader, jetstream.KVOperationDelete)
	_, err := b.stream.Publish(b.keySubject(key), p)
	return err
}

// Purge marks key deleted and rolls up every prior revision for that
// subject, reclaiming space immediately instead of waiting on stream
// limits.
func (b *KVBucket) Purge(key string) error {
	p := NewPayload(nil)
	p.SetHeader(jetstream.KVOperationHeader, jetstream.KVOperationPurge)
	p.SetHeader(jetstream.RollupHeader, jetstream.RollupSub)
	_, err := b.stream.Publish(b.keySubject(key), p)
	return err
}

// GetAll returns the current value of every live key in the bucket via a
// transient ordered-consumer scan over the whole subject space.
func (b *KVBucket) GetAll() (map[string][]byte, error) {
	oc, err := newOrderedConsumer(b.stream, "$KV."+b.name+".>", jetstream.DeliverLastPerSubject)
	if err != nil {
		return nil, err
	}
	defer oc.Delete()

	out := make(map[string][]byte)
	msgs, err := oc.FetchAll(0, b.stream.js.timeout)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.IsNoMessagesStatus() {
			continue
		}
		if isDeleteOp(m.Header.Get(jetstream.KVOperationHeader)) {
			continue
		}
		key := m.Subject[len("$KV."+b.name+"."):]
		body, err := decodeBody(m)
		if err != nil {
			return nil, errProtocolf("decoding S2 body for key %q: %v", key, err)
		}
		out[key] = body
	}
	return out, nil
}

// History returns every retained revision of key, oldest first, via a
// transient ordered-consumer scan filtered to that one subject.
func (b *KVBucket) History(key string) ([]*Msg, error) {
	oc, err := newOrderedConsumer(b.stream, b.keySubject(key), jetstream.DeliverAll)
	if err != nil {
		return nil, err
	}
	defer oc.Delete()

	msgs, err := oc.FetchAll(0, b.stream.js.timeout)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.IsNoMessagesStatus() {
			continue
		}
		if body, err := decodeBody(m); err == nil {
			m.Body = body
		}
		out = append(out, m)
	}
	return out, nil
}

// newOrderedConsumer creates a transient (ephemeral, ack-none) pull
// consumer scoped to filterSubject, used to implement Get/GetAll/History
// as a one-shot scan rather than a standing subscription.
func newOrderedConsumer(s *Stream, filterSubject string, deliver jetstream.DeliverPolicy) (*Consumer, error) {
	return CreateConsumer(s, jetstream.ConsumerConfig{
		DeliverPolicy: deliver,
		AckPolicy:     jetstream.AckNone,
		ReplayPolicy:  jetstream.ReplayInstant,
		FilterSubject: filterSubject,
	})
}
