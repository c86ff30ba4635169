package canvasai

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingBaseURL indicates that the client was configured without a host.
	ErrMissingBaseURL = errors.New("canvasai: base url is required")
	// ErrEmptyPayload is wrapped by DecodeError when nothing is left to parse.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrDecodeDepth is wrapped by DecodeError when a payload nests JSON
	// strings deeper than MaxDecodeDepth.
	ErrDecodeDepth = errors.New("payload nested too deeply")
	// ErrNotObject is wrapped by DecodeError when DecodeObject finds a
	// payload that is valid JSON but not an object, such as null or a list.
	ErrNotObject = errors.New("payload is not a JSON object")
)

// NetworkError reports a request that could not be sent or whose response
// could not be received.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("canvasai: request %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response together with the body the
// server sent back.
type HTTPStatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("canvasai: %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("canvasai: %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// DecodeError reports a payload that is not valid JSON after sanitization.
// Raw holds the payload exactly as it was received.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("canvasai: decode payload: %v (raw: %q)", e.Err, e.Raw)
}

func (e *DecodeError) Unwrap() error { return e.Err }
