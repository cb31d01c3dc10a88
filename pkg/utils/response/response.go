// Package response defines the error envelope returned by the HTTP API.
// Successful responses carry their payload unwrapped.
package response

import (
	"net/http"
	"sync"

	"github.com/kart-io/docqa/pkg/errors"
)

// Response is the error body written for every failed request.
type Response struct {
	// Code is the business error code
	Code int `json:"code"`

	// Message is a human-readable message
	Message string `json:"message"`

	// Detail repeats the message, extended with the cause for server errors
	Detail string `json:"detail"`

	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`

	httpStatus int
}

var pool = sync.Pool{
	New: func() interface{} { return &Response{} },
}

func acquire() *Response {
	return pool.Get().(*Response)
}

// Release returns a response to the pool. The response must not be used
// afterwards.
func Release(r *Response) {
	if r == nil {
		return
	}
	*r = Response{}
	pool.Put(r)
}

// Err builds an error response from an Errno.
func Err(e *errors.Errno) *Response {
	return ErrWithLang(e, "en")
}

// ErrWithLang builds an error response with a language specific message.
func ErrWithLang(e *errors.Errno, lang string) *Response {
	if e == nil {
		e = errors.ErrInternal
	}
	r := acquire()
	r.Code = e.Code
	r.Message = e.Message(lang)
	r.Detail = r.Message
	r.httpStatus = e.HTTPStatus()
	if cause := e.Cause(); cause != nil && r.httpStatus >= http.StatusInternalServerError {
		r.Detail = r.Message + ": " + cause.Error()
	}
	return r
}

// FromError converts any error into an error response.
func FromError(err error) *Response {
	return Err(errors.FromError(err))
}

// WithRequestID adds request ID to the response.
func (r *Response) WithRequestID(requestID string) *Response {
	r.RequestID = requestID
	return r
}

// HTTPStatus returns the HTTP status code for this response.
func (r *Response) HTTPStatus() int {
	if r.httpStatus != 0 {
		return r.httpStatus
	}
	if e, ok := errors.Lookup(r.Code); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
