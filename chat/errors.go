package chat

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a gateway error. The code decides both how the error
// propagates (synchronous return vs. terminal stream callback) and whether it
// counts against the agent's circuit breaker.
type ErrorCode string

const (
	// ErrInvalidRequest marks a malformed request rejected before any
	// network call (e.g. no user-role message). Never retried, never
	// counted by the breaker.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrUpstreamError marks a transport failure: connection refused, DNS
	// failure, non-2xx status. Counts as a breaker failure.
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"

	// ErrUpstreamTimeout marks expiry of the gateway's per-call timeout.
	// Counts as a breaker failure.
	ErrUpstreamTimeout ErrorCode = "UPSTREAM_TIMEOUT"

	// ErrVendorApp marks a 2xx response carrying a vendor-reported
	// application failure. Surfaced to the caller, transport success for
	// breaker purposes.
	ErrVendorApp ErrorCode = "VENDOR_APP_ERROR"

	// ErrCircuitOpen marks a fail-fast rejection with no network attempt.
	ErrCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// ErrStreamParse marks a single unparsable frame. Logged, the frame
	// is dropped, the stream continues.
	ErrStreamParse ErrorCode = "STREAM_PARSE"

	// ErrCanceled marks caller-initiated cancellation of an in-flight
	// streaming call. A terminal, but not an upstream failure.
	ErrCanceled ErrorCode = "CANCELED"
)

// Error is the structured error shared by every component of the core.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Vendor     string    `json:"vendor,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus records the upstream HTTP status.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithVendor records the vendor the error originated from.
func (e *Error) WithVendor(vendor string) *Error {
	e.Vendor = vendor
	return e
}

// WithRetryable marks whether the caller may sensibly retry.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the ErrorCode from err, or "" if err carries none.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsValidation reports whether err is a pre-flight validation failure.
func IsValidation(err error) bool { return CodeOf(err) == ErrInvalidRequest }

// IsVendorApp reports whether err is a vendor application error delivered
// over a healthy transport.
func IsVendorApp(err error) bool { return CodeOf(err) == ErrVendorApp }

// IsCanceled reports whether err is a caller-initiated cancellation.
func IsCanceled(err error) bool { return CodeOf(err) == ErrCanceled }
