// Package errs provides the typed error taxonomy used across Hecate's
// request pipeline: a status code, a public message safe to return to the
// client, and an optional private detail kept out of the response body.
package errs

import "fmt"

// Kind identifies one of the canonical error classes from the design's
// error-handling table.
type Kind string

const (
	NotAuthenticated    Kind = "NotAuthenticated"
	Forbidden           Kind = "Forbidden"
	NotFound            Kind = "NotFound"
	BadRequest          Kind = "BadRequest"
	UnprocessableEntity Kind = "UnprocessableEntity"
	Conflict            Kind = "Conflict"
	UnsupportedOp       Kind = "UnsupportedOperation"
	ServiceUnavailable  Kind = "ServiceUnavailable"
	Internal            Kind = "InternalError"
)

var statusByKind = map[Kind]int{
	NotAuthenticated:    401,
	Forbidden:           401,
	NotFound:            404,
	BadRequest:          400,
	UnprocessableEntity: 422,
	Conflict:            409,
	UnsupportedOp:       417,
	ServiceUnavailable:  503,
	Internal:            500,
}

// Error is the single error type that crosses component boundaries. Public
// is always safe to serialize into the response envelope; Detail is logged
// but never sent to the client.
type Error struct {
	Kind    Kind
	Status  int
	Public  string
	Detail  string
	Payload any
	cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Public, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Public)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind with a public message.
func New(kind Kind, public string) *Error {
	return &Error{Kind: kind, Status: statusByKind[kind], Public: public}
}

// Wrap builds an *Error carrying a private detail derived from cause; cause
// is never rendered into the public response.
func Wrap(kind Kind, public string, cause error) *Error {
	e := New(kind, public)
	if cause != nil {
		e.Detail = cause.Error()
		e.cause = cause
	}
	return e
}

// WithPayload attaches a structured payload (e.g. the feature-specific
// {id, message, feature} body from ) to the error.
func (e *Error) WithPayload(p any) *Error {
	e.Payload = p
	return e
}

// Database wraps a driver error as a generic 500, following the
// propagation policy in: the caller logs Detail and returns only the
// generic public message.
func Database(cause error) *Error {
	return Wrap(Internal, "Database Error", cause)
}

// Envelope is the uniform JSON error body returned to clients.
type Envelope struct {
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Reason  string `json:"reason"`
	Payload any    `json:"payload,omitempty"`
}

func (e *Error) Envelope() Envelope {
	return Envelope{Code: string(e.Kind), Status: e.Status, Reason: e.Public, Payload: e.Payload}
}

// As attempts to unwrap err into *Error, returning a generic 500 wrapper
// if it isn't already one of ours.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return Database(err)
}
