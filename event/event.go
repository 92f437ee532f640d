// Package event defines the transport-agnostic message unit flowing through
// every marble pipeline, plus the pluggable wire transformer used to encode
// and decode WebSocket frames.
package event

import (
	"encoding/json"

	"github.com/alexanderbartels/marble/errors"
)

// Well-known event types emitted by the listeners themselves. Effects are
// free to use any other type tag.
const (
	// TypeRequest tags the single initiating event of an HTTP request
	// pipeline; its payload is the wrapped request.
	TypeRequest = "request"
	// TypeNotFound tags the fallback event produced when no route matches.
	TypeNotFound = "not_found"
	// TypeError tags events produced by the error effect.
	TypeError = "error"
)

// Event is the unit of data flowing through effect pipelines. Type is a
// free-form tag used for dispatch, Payload carries the data, and Err marks
// the event as a failure signal for the error-handling stage.
type Event struct {
	Type    string
	Payload any
	Err     error
}

// New creates a plain event with the given type tag and payload.
func New(eventType string, payload any) Event {
	return Event{Type: eventType, Payload: payload}
}

// Error creates an error-marked event. The payload of the failed event is
// preserved so the error stage can report what was being processed.
func Error(eventType string, payload any, err error) Event {
	return Event{Type: eventType, Payload: payload, Err: err}
}

// IsError reports whether the event carries a failure signal.
func (e Event) IsError() bool {
	return e.Err != nil
}

// Transformer converts between wire frames and Events. The WebSocket
// listener decodes every inbound frame and encodes every outbound event
// through the configured transformer; the default is the JSON structural
// transformer below.
type Transformer interface {
	// Decode parses one wire frame into an Event.
	Decode(data []byte) (Event, error)
	// Encode serializes one Event into a wire frame.
	Encode(ev Event) ([]byte, error)
}

// wireEvent is the JSON wire shape shared by both directions.
type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// JSONTransformer is the default wire transformer. Inbound payloads are kept
// as json.RawMessage so effects decide how far to parse them.
type JSONTransformer struct{}

// NewJSONTransformer returns the default JSON wire transformer.
func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{}
}

// Decode parses a JSON frame into an Event. Frames without a type tag are
// rejected so untagged garbage never enters a pipeline.
func (t *JSONTransformer) Decode(data []byte) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return Event{}, errors.WrapTransform(err, "JSONTransformer", "Decode", "unmarshal frame")
	}
	if we.Type == "" {
		return Event{}, errors.WrapTransform(errors.ErrInvalidConfig,
			"JSONTransformer", "Decode", "missing event type")
	}
	return Event{Type: we.Type, Payload: we.Payload}, nil
}

// Encode serializes an Event into a JSON frame. The error marker is carried
// as a string; error-marked events without a payload still encode cleanly.
func (t *JSONTransformer) Encode(ev Event) ([]byte, error) {
	we := wireEvent{Type: ev.Type}

	if ev.Payload != nil {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, errors.WrapTransform(err, "JSONTransformer", "Encode", "marshal payload")
		}
		we.Payload = payload
	}
	if ev.Err != nil {
		we.Error = ev.Err.Error()
	}

	data, err := json.Marshal(we)
	if err != nil {
		return nil, errors.WrapTransform(err, "JSONTransformer", "Encode", "marshal frame")
	}
	return data, nil
}
