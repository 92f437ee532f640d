package http

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/alexanderbartels/marble/errors"
	"github.com/alexanderbartels/marble/router"
)

// Request wraps the inbound HTTP request with the extracted path parameters,
// the response back-reference, and the accumulated body fields. It is the
// payload of the initiating event of every HTTP pipeline.
type Request struct {
	*http.Request

	// Params holds the extracted path parameters in declaration order.
	Params []router.Param

	// Response is the back-reference attached before route resolution so
	// any downstream stage can finalize the response.
	Response *Response

	// Body accumulates named fields (e.g. from the multipart collaborator).
	Body map[string]any
}

// Param returns the named path parameter value.
func (r *Request) Param(name string) (string, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Response wraps the transport response writer with a write-once send
// capability. Exactly one terminal write occurs per request; later Send
// calls return ErrResponseSent.
type Response struct {
	writer http.ResponseWriter
	sent   atomic.Bool
}

// NewResponse wraps an http.ResponseWriter.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{writer: w}
}

// Send performs the terminal write: status code plus the JSON-encoded body.
// A nil body writes the status code only.
func (r *Response) Send(status int, body any) error {
	if !r.sent.CompareAndSwap(false, true) {
		return errors.ErrResponseSent
	}

	if body == nil {
		r.writer.WriteHeader(status)
		return nil
	}

	data, err := json.Marshal(body)
	if err != nil {
		// The status line must still go out; the terminal write already
		// happened as far as the caller is concerned.
		r.writer.WriteHeader(http.StatusInternalServerError)
		return errors.WrapPipeline(err, "Response", "Send", "marshal body")
	}

	r.writer.Header().Set("Content-Type", "application/json")
	r.writer.WriteHeader(status)
	if _, err := r.writer.Write(data); err != nil {
		return errors.WrapPipeline(err, "Response", "Send", "write body")
	}
	return nil
}

// Sent reports whether the terminal write has already occurred.
func (r *Response) Sent() bool {
	return r.sent.Load()
}

// Header exposes the response headers for stages that set them before the
// terminal write.
func (r *Response) Header() http.Header {
	return r.writer.Header()
}

// Body is the payload shape routed effects emit to control the terminal
// write. Effects may instead return any payload, which is written with
// status 200.
type Body struct {
	Status  int
	Headers http.Header
	Data    any
}
