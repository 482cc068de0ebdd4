// Package jetstream holds the wire-level data types for the persistent
// stream subsystem layered on the core client: StreamConfig,
// ConsumerConfig, API response envelopes, and ack-subject metadata
// parsing. It has no dependency on the core connection/client package —
// exactly the split between a connection-owning client package and a
// types-only package holding wire shapes shared with no behavior.
package jetstream

import "time"

// RetentionPolicy controls when the broker may remove messages from a
// stream.
type RetentionPolicy string

const (
	LimitsPolicy    RetentionPolicy = "limits"
	InterestPolicy  RetentionPolicy = "interest"
	WorkQueuePolicy RetentionPolicy = "workqueue"
)

// DiscardPolicy controls what happens when a stream's limits are hit.
type DiscardPolicy string

const (
	DiscardOld DiscardPolicy = "old"
	DiscardNew DiscardPolicy = "new"
)

// StorageType selects the on-disk representation for a stream.
type StorageType string

const (
	FileStorage   StorageType = "file"
	MemoryStorage StorageType = "memory"
)

// Compression selects the storage-level compression algorithm.
type Compression string

const (
	NoCompression Compression = "none"
	S2Compression Compression = "s2"
)

// DeliverPolicy controls where a new consumer starts reading from.
type DeliverPolicy string

const (
	DeliverAll            DeliverPolicy = "all"
	DeliverByStartSequence DeliverPolicy = "by_start_sequence"
	DeliverByStartTime     DeliverPolicy = "by_start_time"
	DeliverLast            DeliverPolicy = "last"
	DeliverLastPerSubject  DeliverPolicy = "last_per_subject"
	DeliverNew             DeliverPolicy = "new"
)

// AckPolicy controls what level of acknowledgement a consumer requires.
type AckPolicy string

const (
	AckExplicit AckPolicy = "explicit"
	AckAll      AckPolicy = "all"
	AckNone     AckPolicy = "none"
)

// ReplayPolicy controls delivery pacing for non-live consumers.
type ReplayPolicy string

const (
	ReplayInstant  ReplayPolicy = "instant"
	ReplayOriginal ReplayPolicy = "original"
)

// ConsumerLimits are per-consumer overrides of account/stream-level
// defaults.
type ConsumerLimits struct {
	InactiveThreshold time.Duration `json:"inactive_threshold,omitempty"`
	MaxAckPending     int           `json:"max_ack_pending,omitempty"`
}

// StreamConfig is the full set of enumerated stream fields. Null-valued
// optional fields are omitted from the wire representation via
// `omitempty` rather than serialized as a literal zero, so an unset
// duplicate window is never mistaken for an explicit zero-length one;
// see DuplicateWindow below.
type StreamConfig struct {
	Name        string          `json:"name"`
	Subjects    []string        `json:"subjects,omitempty"`
	Retention   RetentionPolicy `json:"retention"`
	Discard     DiscardPolicy   `json:"discard"`
	Storage     StorageType     `json:"storage"`
	Replicas    int             `json:"num_replicas"`
	MaxAge      time.Duration   `json:"max_age"`
	MaxBytes    *int64          `json:"max_bytes,omitempty"`
	MaxConsumers int            `json:"max_consumers"`
	MaxMsgSize           *int32 `json:"max_msg_size,omitempty"`
	MaxMsgsPerSubject    *int64 `json:"max_msgs_per_subject,omitempty"`
	DuplicateWindow      *time.Duration `json:"duplicate_window,omitempty"`
	AllowRollupHeaders   bool   `json:"allow_rollup_hdrs,omitempty"`
	DenyDelete           bool   `json:"deny_delete,omitempty"`
	Description          string `json:"description,omitempty"`
	ConsumerLimits       *ConsumerLimits `json:"consumer_limits,omitempty"`
	AllowMsgSchedules    *bool  `json:"allow_msg_schedules,omitempty"`
	Compression          Compression `json:"compression,omitempty"`
}

// StreamInfo is the broker's view of a stream, as returned by
// STREAM.INFO/STREAM.CREATE.
type StreamInfo struct {
	Config  StreamConfig  `json:"config"`
	Created time.Time     `json:"created"`
	State   StreamState   `json:"state"`
}

// StreamState carries occupancy counters for a stream.
type StreamState struct {
	Messages  uint64 `json:"messages"`
	Bytes     uint64 `json:"bytes"`
	FirstSeq  uint64 `json:"first_seq"`
	LastSeq   uint64 `json:"last_seq"`
	Consumers int    `json:"consumer_count"`
}

// ConsumerConfig is the full set of enumerated consumer fields.
type ConsumerConfig struct {
	Durable           string        `json:"durable_name,omitempty"`
	DeliverPolicy     DeliverPolicy `json:"deliver_policy"`
	OptStartSeq       uint64        `json:"opt_start_seq,omitempty"`
	OptStartTime      *time.Time    `json:"opt_start_time,omitempty"`
	AckPolicy         AckPolicy     `json:"ack_policy"`
	ReplayPolicy      ReplayPolicy  `json:"replay_policy"`
	FilterSubject     string        `json:"filter_subject,omitempty"`
	AckWait           time.Duration `json:"ack_wait,omitempty"`
	MaxAckPending     int           `json:"max_ack_pending,omitempty"`
	InactiveThreshold time.Duration `json:"inactive_threshold,omitempty"`
	BackOff           []time.Duration `json:"backoff,omitempty"`
	MaxDeliver        int           `json:"max_deliver,omitempty"`
}

// SequencePair ties a consumer-relative sequence to its stream-relative
// sequence.
type SequencePair struct {
	Consumer uint64 `json:"consumer_seq"`
	Stream   uint64 `json:"stream_seq"`
}

// ConsumerInfo is the broker's view of a consumer.
type ConsumerInfo struct {
	Stream         string         `json:"stream_name"`
	Name           string         `json:"name"`
	Created        time.Time      `json:"created"`
	Config         ConsumerConfig `json:"config"`
	Delivered      SequencePair   `json:"delivered"`
	AckFloor       SequencePair   `json:"ack_floor"`
	NumAckPending  int            `json:"num_ack_pending"`
	NumRedelivered int            `json:"num_redelivered"`
	NumWaiting     int            `json:"num_waiting"`
	NumPending     uint64         `json:"num_pending"`
}

// PubAck is the JetStream server response to an acknowledged publish.
type PubAck struct {
	Stream    string `json:"stream"`
	Seq       uint64 `json:"seq"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// APIErrorBody is the {"code", "description"} shape embedded in every
// JetStream API error response.
type APIErrorBody struct {
	Code        int    `json:"code"`
	ErrCode     int    `json:"err_code,omitempty"`
	Description string `json:"description"`
}

// APIResponse is embedded in every $JS.API.* response envelope.
type APIResponse struct {
	Type  string        `json:"type,omitempty"`
	Error *APIErrorBody `json:"error,omitempty"`
}

// PubAckResponse is the envelope around a PubAck.
type PubAckResponse struct {
	APIResponse
	*PubAck
}

// StreamCreateResponse wraps StreamInfo for STREAM.CREATE/UPDATE/INFO.
type StreamCreateResponse struct {
	APIResponse
	*StreamInfo
}

// ConsumerCreateResponse wraps ConsumerInfo for CONSUMER.CREATE/DURABLE.CREATE/INFO.
type ConsumerCreateResponse struct {
	APIResponse
	*ConsumerInfo
}

// StreamNamesResponse is the STREAM.NAMES response shape.
type StreamNamesResponse struct {
	APIResponse
	Streams []string `json:"streams"`
}

// AccountInfoResponse is the $JS.API.INFO response shape.
type AccountInfoResponse struct {
	APIResponse
	Memory    uint64 `json:"memory"`
	Storage   uint64 `json:"storage"`
	Streams   int    `json:"streams"`
	Consumers int    `json:"consumers"`
}

// CreateConsumerRequest is the body of CONSUMER.CREATE/DURABLE.CREATE.
type CreateConsumerRequest struct {
	Stream string          `json:"stream_name"`
	Config *ConsumerConfig `json:"config"`
}

// NextRequest is the body of CONSUMER.MSG.NEXT.<stream>.<consumer>.
type NextRequest struct {
	Batch   int   `json:"batch"`
	Expires int64 `json:"expires,omitempty"`
	NoWait  bool  `json:"no_wait,omitempty"`
}

// PurgeRequest is the optional body of STREAM.PURGE.<name>.
type PurgeRequest struct {
	Subject string `json:"filter,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Keep    uint64 `json:"keep,omitempty"`
}

// Headers the broker recognises on published messages.
const (
	MsgIDHeader                   = "Nats-Msg-Id"
	ExpectedLastSubjSeqHeader     = "Nats-Expected-Last-Subject-Sequence"
	RollupHeader                  = "Nats-Rollup"
	ScheduleHeader                = "Nats-Schedule"
	ScheduleTargetHeader          = "Nats-Schedule-Target"
	SchedulerOriginHeader         = "Nats-Scheduler"
)

// ContentEncodingHeader marks a payload body as client-side compressed;
// the only value this module writes or understands is "s2".
const ContentEncodingHeader = "Content-Encoding"

// S2Encoding is the Content-Encoding value for S2-compressed bodies.
const S2Encoding = "s2"

// Rollup values for Nats-Rollup.
const (
	RollupSub = "sub"
	RollupAll = "all"
)

// KV operation header used to encode delete/purge as a publish.
const KVOperationHeader = "KV-Operation"

const (
	KVOperationDelete = "DEL"
	KVOperationPurge  = "PURGE"
)
