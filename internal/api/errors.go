// Package api defines the wire types spoken on both sides of the gateway
// and the error taxonomy reported to clients.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass classifies a gateway failure for HTTP reporting.
type ErrorClass string

const (
	ClassInvalidRequest ErrorClass = "invalid_request" // inbound body unusable
	ClassUnauthorized   ErrorClass = "unauthorized"    // missing or unknown bearer
	ClassNotFound       ErrorClass = "not_found"       // unknown route
	ClassMisconfigured  ErrorClass = "misconfigured"   // required env missing or malformed
	ClassBadGateway     ErrorClass = "bad_gateway"     // upstreams exhausted or stream unusable
	ClassUpstream       ErrorClass = "upstream"        // upstream error propagated verbatim
)

// GatewayError wraps a failure with its client-facing classification. For
// ClassUpstream the original status and body are preserved so the first
// upstream error of a sweep can be propagated untouched.
type GatewayError struct {
	Class          ErrorClass
	Message        string
	Err            error
	UpstreamStatus int
	UpstreamBody   []byte
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("gateway error: %s", e.Class)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the class to the status code reported to the client.
func (e *GatewayError) HTTPStatus() int {
	switch e.Class {
	case ClassInvalidRequest:
		return http.StatusBadRequest
	case ClassUnauthorized:
		return http.StatusUnauthorized
	case ClassNotFound:
		return http.StatusNotFound
	case ClassMisconfigured:
		return http.StatusInternalServerError
	case ClassBadGateway:
		return http.StatusBadGateway
	case ClassUpstream:
		if e.UpstreamStatus >= 400 {
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Code returns the machine-readable error code used in response bodies.
func (e *GatewayError) Code() string {
	switch e.Class {
	case ClassInvalidRequest:
		return "bad_request"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassNotFound:
		return "not_found"
	case ClassMisconfigured:
		return "server_error"
	case ClassBadGateway:
		return "bad_gateway"
	}
	return "bad_gateway"
}

// ErrorBody is the uniform error envelope returned on every failure.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message and code inside the envelope. Type is
// always "invalid_request_error" for compatibility with OpenAI clients.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Body renders the client-facing response payload. Upstream errors whose
// body parses as JSON are passed through untouched; everything else is
// wrapped in the uniform envelope.
func (e *GatewayError) Body() any {
	if e.Class == ClassUpstream && len(e.UpstreamBody) > 0 {
		var parsed any
		if err := json.Unmarshal(e.UpstreamBody, &parsed); err == nil {
			return parsed
		}
		return ErrorBody{Error: ErrorDetail{
			Message: string(e.UpstreamBody),
			Type:    "invalid_request_error",
			Code:    "bad_gateway",
		}}
	}
	return ErrorBody{Error: ErrorDetail{
		Message: e.Error(),
		Type:    "invalid_request_error",
		Code:    e.Code(),
	}}
}

// InvalidRequestf reports an unusable inbound request.
func InvalidRequestf(format string, args ...any) *GatewayError {
	return &GatewayError{Class: ClassInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// Unauthorizedf reports a missing or unknown bearer token.
func Unauthorizedf(format string, args ...any) *GatewayError {
	return &GatewayError{Class: ClassUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Misconfiguredf reports missing or malformed server configuration.
func Misconfiguredf(format string, args ...any) *GatewayError {
	return &GatewayError{Class: ClassMisconfigured, Message: fmt.Sprintf(format, args...)}
}

// BadGatewayf reports exhausted upstreams or an unusable upstream stream.
func BadGatewayf(format string, args ...any) *GatewayError {
	return &GatewayError{Class: ClassBadGateway, Message: fmt.Sprintf(format, args...)}
}

// UpstreamFailure preserves an upstream error response for verbatim
// propagation to the client.
func UpstreamFailure(status int, body []byte) *GatewayError {
	return &GatewayError{
		Class:          ClassUpstream,
		Message:        fmt.Sprintf("upstream returned %d", status),
		UpstreamStatus: status,
		UpstreamBody:   body,
	}
}

// AsGatewayError unwraps err into a GatewayError, or wraps unknown errors
// as BadGateway so every failure has a reportable shape.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return &GatewayError{Class: ClassBadGateway, Message: err.Error(), Err: err}
}
