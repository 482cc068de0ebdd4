package relay

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/relaymq/relay-go/jetstream"
)

// JetStreamAPI is the typed RPC layer against $JS.API.* subjects. It is
// memoised on the Client: JetStream() always returns the same instance
// for a given Client, matching the "Api instance cached on the Client,
// no process-wide state" design.
type JetStreamAPI struct {
	client  *Client
	timeout time.Duration
}

// JetStream returns the Client's JetStreamAPI, constructing it on first
// use.
func (c *Client) JetStream() *JetStreamAPI {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jsapi == nil {
		c.jsapi = &JetStreamAPI{client: c, timeout: c.opts.Timeout}
	}
	return c.jsapi
}

const apiPrefix = "$JS.API."

// request marshals body, dispatches it as subject's request, and decodes
// the response into out (which must embed jetstream.APIResponse or be
// nil). A populated error field in the envelope is returned as an
// *APIError rather than a decode failure.
func (js *JetStreamAPI) request(subject string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg, err := js.client.Dispatch(subject, data, js.timeout)
	if err != nil {
		return err
	}

	var envelope jetstream.APIResponse
	if err := json.Unmarshal(msg.Body, &envelope); err != nil {
		return errProtocolf("decoding jetstream api response from %s: %v", subject, err)
	}
	if envelope.Error != nil {
		js.client.metrics.jsAPIError(envelope.Error.Code)
		return &APIError{
			Code:        envelope.Error.Code,
			ErrorCode:   envelope.Error.ErrCode,
			Description: envelope.Error.Description,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Body, out); err != nil {
		return errProtocolf("decoding jetstream api response from %s: %v", subject, err)
	}
	return nil
}

// AccountInfo fetches account-level stream/consumer usage from $JS.API.INFO.
func (js *JetStreamAPI) AccountInfo() (*jetstream.AccountInfoResponse, error) {
	var resp jetstream.AccountInfoResponse
	if err := js.request(apiPrefix+"INFO", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateStream issues STREAM.CREATE.<name> with the null-stripped config.
func (js *JetStreamAPI) CreateStream(cfg jetstream.StreamConfig) (*Stream, error) {
	var resp jetstream.StreamCreateResponse
	if err := js.request(apiPrefix+"STREAM.CREATE."+cfg.Name, cfg, &resp); err != nil {
		return nil, err
	}
	return newStream(js, resp.StreamInfo), nil
}

// UpdateStream issues STREAM.UPDATE.<name>.
func (js *JetStreamAPI) UpdateStream(cfg jetstream.StreamConfig) (*Stream, error) {
	var resp jetstream.StreamCreateResponse
	if err := js.request(apiPrefix+"STREAM.UPDATE."+cfg.Name, cfg, &resp); err != nil {
		return nil, err
	}
	return newStream(js, resp.StreamInfo), nil
}

// StreamInfo issues STREAM.INFO.<name>, returning the broker's current
// view including any newer keys (e.g. allow_msg_schedules) an older
// broker would simply omit.
func (js *JetStreamAPI) StreamInfo(name string) (*jetstream.StreamInfo, error) {
	var resp jetstream.StreamCreateResponse
	if err := js.request(apiPrefix+"STREAM.INFO."+name, struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.StreamInfo, nil
}

// DeleteStream issues STREAM.DELETE.<name>.
func (js *JetStreamAPI) DeleteStream(name string) error {
	var resp jetstream.APIResponse
	return js.request(apiPrefix+"STREAM.DELETE."+name, struct{}{}, &resp)
}

// StreamNames issues STREAM.NAMES.
func (js *JetStreamAPI) StreamNames() ([]string, error) {
	var resp jetstream.StreamNamesResponse
	if err := js.request(apiPrefix+"STREAM.NAMES", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Streams, nil
}

// Stream looks up an existing stream by name.
func (js *JetStreamAPI) Stream(name string) (*Stream, error) {
	info, err := js.StreamInfo(name)
	if err != nil {
		return nil, err
	}
	return newStream(js, info), nil
}

// CreateOrUpdateStream is createIfNotExists: it tries info first and
// falls back to create on a 404 stream-not-found response.
func (js *JetStreamAPI) CreateOrUpdateStream(cfg jetstream.StreamConfig) (*Stream, error) {
	s, err := js.Stream(cfg.Name)
	if err == nil {
		return s, nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 404 {
		return nil, err
	}
	return js.CreateStream(cfg)
}
