// Package micro is an endpoint registry layered on top of a Client: each
// endpoint is (subject, handler, stats), and a Service additionally answers
// the broker-wide discovery subjects $SRV.PING/$SRV.INFO/$SRV.STATS so any
// client can enumerate running instances without prior knowledge of them.
package micro

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaymq/relay-go"
)

const _EMPTY_ = ""

const (
	srvPing  = "$SRV.PING"
	srvInfo  = "$SRV.INFO"
	srvStats = "$SRV.STATS"

	typePingResponse  = "io.nats.micro.v1.ping_response"
	typeInfoResponse  = "io.nats.micro.v1.info_response"
	typeStatsResponse = "io.nats.micro.v1.stats_response"

	serviceErrorHeader     = "Nats-Service-Error"
	serviceErrorCodeHeader = "Nats-Service-Error-Code"
)

// Handler answers one request on an endpoint's subject. A non-nil error
// short-circuits the JSON encoding of result and is reported to the caller
// as a Nats-Service-Error response instead.
type Handler func(req *relay.Msg) (any, error)

// EndpointStats are the per-endpoint counters every Service mirrors on
// INFO/STATS discovery responses: request/error counts and cumulative
// processing time, plus the most recent error seen.
type EndpointStats struct {
	NumRequests    uint64
	NumErrors      uint64
	ProcessingTime uint64 // nanoseconds, cumulative

	mu        sync.Mutex
	lastError string
}

func (s *EndpointStats) recordSuccess(d time.Duration) {
	atomic.AddUint64(&s.NumRequests, 1)
	atomic.AddUint64(&s.ProcessingTime, uint64(d.Nanoseconds()))
}

func (s *EndpointStats) recordError(d time.Duration, err error) {
	atomic.AddUint64(&s.NumRequests, 1)
	atomic.AddUint64(&s.NumErrors, 1)
	atomic.AddUint64(&s.ProcessingTime, uint64(d.Nanoseconds()))
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
}

func (s *EndpointStats) snapshot() (numRequests, numErrors, processingTimeNs uint64, lastError string) {
	s.mu.Lock()
	lastError = s.lastError
	s.mu.Unlock()
	return atomic.LoadUint64(&s.NumRequests), atomic.LoadUint64(&s.NumErrors), atomic.LoadUint64(&s.ProcessingTime), lastError
}

// Endpoint is one (subject, handler) pair registered on a Service.
type Endpoint struct {
	Name    string
	Subject string
	stats   EndpointStats
	sid     string
}

// Config describes a Service at construction time.
type Config struct {
	Name        string
	Version     string
	Description string
	// QueueGroup, if set, is used for every endpoint subscription so load
	// balances across instances sharing the same Name. Discovery subjects
	// are never queue-grouped: every instance must answer every ping.
	QueueGroup string
	// Metrics, if non-nil, mirrors endpoint stats into Prometheus.
	Metrics prometheus.Registerer
}

// Service is an endpoint registry bound to a Client: AddEndpoint
// subscribes a handler and starts tracking its stats; the service also
// answers $SRV.PING/$SRV.INFO/$SRV.STATS for this instance and, via the
// bare (name-less) discovery subjects, for every endpoint it owns.
type Service struct {
	client      *relay.Client
	name        string
	version     string
	description string
	id          string
	queueGroup  string

	mu        sync.Mutex
	endpoints []*Endpoint
	sids      []string
	started   time.Time

	metrics *serviceMetrics
}

// AddService constructs a Service bound to client, subscribes its
// discovery subjects, and returns it ready for AddEndpoint calls.
func AddService(client *relay.Client, cfg Config) (*Service, error) {
	s := &Service{
		client:      client,
		name:        cfg.Name,
		version:     cfg.Version,
		description: cfg.Description,
		queueGroup:  cfg.QueueGroup,
		id:          nuid.Next(),
		started:     time.Now(),
		metrics:     newServiceMetrics(cfg.Metrics),
	}
	if err := s.subscribeDiscovery(srvPing, s.handlePing); err != nil {
		return nil, err
	}
	if err := s.subscribeDiscovery(srvInfo, s.handleInfo); err != nil {
		return nil, err
	}
	if err := s.subscribeDiscovery(srvStats, s.handleStats); err != nil {
		return nil, err
	}
	return s, nil
}

// subscribeDiscovery subscribes verb, verb.<name>, and verb.<name>.<id>,
// the three granularities $SRV.* discovery requests may target.
func (s *Service) subscribeDiscovery(verb string, fn func() any) error {
	h := func(m *relay.Msg) *relay.Payload {
		data, err := json.Marshal(fn())
		if err != nil {
			return nil
		}
		return relay.NewPayload(data)
	}
	for _, subject := range []string{verb, verb + "." + s.name, verb + "." + s.name + "." + s.id} {
		sid, err := s.client.Subscribe(subject, h)
		if err != nil {
			return err
		}
		s.sids = append(s.sids, sid)
	}
	return nil
}

type pingResponse struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	ID      string `json:"id"`
	Version string `json:"version"`
}

func (s *Service) handlePing() any {
	return pingResponse{Type: typePingResponse, Name: s.name, ID: s.id, Version: s.version}
}

type infoResponse struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	ID          string   `json:"id"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Subjects    []string `json:"subjects"`
}

func (s *Service) handleInfo() any {
	s.mu.Lock()
	subjects := make([]string, len(s.endpoints))
	for i, ep := range s.endpoints {
		subjects[i] = ep.Subject
	}
	s.mu.Unlock()
	return infoResponse{
		Type:        typeInfoResponse,
		Name:        s.name,
		ID:          s.id,
		Version:     s.version,
		Description: s.description,
		Subjects:    subjects,
	}
}

type endpointStatsJSON struct {
	Name                    string `json:"name"`
	Subject                 string `json:"subject"`
	NumRequests             uint64 `json:"num_requests"`
	NumErrors               uint64 `json:"num_errors"`
	ProcessingTimeNs        uint64 `json:"processing_time_ns"`
	AverageProcessingTimeNs uint64 `json:"average_processing_time_ns"`
	LastError               string `json:"last_error,omitempty"`
}

type statsResponse struct {
	Type      string              `json:"type"`
	Name      string              `json:"name"`
	ID        string              `json:"id"`
	Version   string              `json:"version"`
	Started   time.Time           `json:"started"`
	Endpoints []endpointStatsJSON `json:"endpoints"`
}

func (s *Service) handleStats() any {
	s.mu.Lock()
	eps := make([]*Endpoint, len(s.endpoints))
	copy(eps, s.endpoints)
	s.mu.Unlock()

	out := make([]endpointStatsJSON, len(eps))
	for i, ep := range eps {
		n, ne, p, lastErr := ep.stats.snapshot()
		avg := uint64(0)
		if n > 0 {
			avg = p / n
		}
		out[i] = endpointStatsJSON{
			Name:                    ep.Name,
			Subject:                 ep.Subject,
			NumRequests:             n,
			NumErrors:               ne,
			ProcessingTimeNs:        p,
			AverageProcessingTimeNs: avg,
			LastError:               lastErr,
		}
	}
	return statsResponse{
		Type:      typeStatsResponse,
		Name:      s.name,
		ID:        s.id,
		Version:   s.version,
		Started:   s.started,
		Endpoints: out,
	}
}

// AddEndpoint registers handler on subject under name, tracking its stats
// and exposing them on subsequent INFO/STATS discovery responses.
func (s *Service) AddEndpoint(name, subject string, handler Handler) (*Endpoint, error) {
	ep := &Endpoint{Name: name, Subject: subject}

	wrapped := func(m *relay.Msg) *relay.Payload {
		start := time.Now()
		result, err := handler(m)
		dur := time.Since(start)
		if err != nil {
			ep.stats.recordError(dur, err)
			s.metrics.observe(s.name, name, dur.Seconds(), true)
			return errorPayload(err)
		}
		ep.stats.recordSuccess(dur)
		s.metrics.observe(s.name, name, dur.Seconds(), false)
		data, encErr := json.Marshal(result)
		if encErr != nil {
			return errorPayload(encErr)
		}
		return relay.NewPayload(data)
	}

	var sid string
	var err error
	if s.queueGroup != _EMPTY_ {
		sid, err = s.client.QueueSubscribe(subject, s.queueGroup, wrapped)
	} else {
		sid, err = s.client.Subscribe(subject, wrapped)
	}
	if err != nil {
		return nil, err
	}
	ep.sid = sid

	s.mu.Lock()
	s.endpoints = append(s.endpoints, ep)
	s.sids = append(s.sids, sid)
	s.mu.Unlock()
	return ep, nil
}

func errorPayload(err error) *relay.Payload {
	p := relay.NewPayload(nil)
	p.SetHeader(serviceErrorHeader, err.Error())
	p.SetHeader(serviceErrorCodeHeader, "500")
	return p
}

// Stop unsubscribes every endpoint and discovery subscription this
// instance owns. The Service is not usable afterward.
func (s *Service) Stop() error {
	s.mu.Lock()
	sids := s.sids
	s.sids = nil
	s.mu.Unlock()

	var firstErr error
	for _, sid := range sids {
		if err := s.client.Unsubscribe(sid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
