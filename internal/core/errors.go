package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the coarse class a client can branch on.
type ErrorKind string

const (
	KindProtocol ErrorKind = "ProtocolError"
	KindEngine   ErrorKind = "EngineError"
	KindNotFound ErrorKind = "NotFoundError"
)

type ErrorCode string

const (
	CodeDuplicateSession        ErrorCode = "DuplicateSession"
	CodeUnknownSession          ErrorCode = "UnknownSession"
	CodeSessionClosed           ErrorCode = "SessionClosed"
	CodeTooManySessions         ErrorCode = "TooManySessions"
	CodeTransportCreationFailed ErrorCode = "TransportCreationFailed"
	CodeTransportNotFound       ErrorCode = "TransportNotFound"
	CodeTransportAlreadyExists  ErrorCode = "TransportAlreadyExists"
	CodeAlreadyConnected        ErrorCode = "AlreadyConnected"
	CodeDtlsHandshakeFailed     ErrorCode = "DtlsHandshakeFailed"
	CodeTransportNotConnected   ErrorCode = "TransportNotConnected"
	CodeProducerNotFound        ErrorCode = "ProducerNotFound"
	CodeConsumerNotFound        ErrorCode = "ConsumerNotFound"
	CodeProduceFailed           ErrorCode = "ProduceFailed"
	CodeConsumeFailed           ErrorCode = "ConsumeFailed"
	CodeResumeFailed            ErrorCode = "ResumeFailed"
	CodeForbidden               ErrorCode = "Forbidden"
	CodeInvalidRequest          ErrorCode = "InvalidRequest"
	CodeRateLimited             ErrorCode = "RateLimited"
	CodeInternal                ErrorCode = "Internal"
)

// Error is the typed failure of every signaling operation. Two errors are
// the same for errors.Is when their codes match.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Withf returns a copy with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// WithCause returns a copy carrying cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeTransportAlreadyExists, CodeAlreadyConnected, CodeDuplicateSession:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTooManySessions:
		return http.StatusServiceUnavailable
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindProtocol:
		return http.StatusBadRequest
	case KindEngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func NewError(kind ErrorKind, code ErrorCode, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrDuplicateSession        = NewError(KindProtocol, CodeDuplicateSession, "session already exists")
	ErrUnknownSession          = NewError(KindNotFound, CodeUnknownSession, "unknown session")
	ErrSessionClosed           = NewError(KindProtocol, CodeSessionClosed, "session closed")
	ErrTooManySessions         = NewError(KindProtocol, CodeTooManySessions, "too many sessions")
	ErrTransportCreationFailed = NewError(KindEngine, CodeTransportCreationFailed, "transport creation failed")
	ErrTransportNotFound       = NewError(KindNotFound, CodeTransportNotFound, "transport not found")
	ErrTransportAlreadyExists  = NewError(KindProtocol, CodeTransportAlreadyExists, "transport already exists")
	ErrAlreadyConnected        = NewError(KindProtocol, CodeAlreadyConnected, "transport already connected")
	ErrDtlsHandshakeFailed     = NewError(KindEngine, CodeDtlsHandshakeFailed, "dtls parameters rejected")
	ErrTransportNotConnected   = NewError(KindProtocol, CodeTransportNotConnected, "transport not connected")
	ErrProducerNotFound        = NewError(KindNotFound, CodeProducerNotFound, "producer not found")
	ErrConsumerNotFound        = NewError(KindNotFound, CodeConsumerNotFound, "consumer not found")
	ErrProduceFailed           = NewError(KindEngine, CodeProduceFailed, "produce failed")
	ErrConsumeFailed           = NewError(KindEngine, CodeConsumeFailed, "consume failed")
	ErrResumeFailed            = NewError(KindEngine, CodeResumeFailed, "resume failed")
	ErrForbidden               = NewError(KindProtocol, CodeForbidden, "not allowed")
	ErrInvalidRequest          = NewError(KindProtocol, CodeInvalidRequest, "invalid request")
	ErrRateLimited             = NewError(KindProtocol, CodeRateLimited, "rate limited")
	ErrInternal                = NewError(KindEngine, CodeInternal, "internal error")
)

// AsError converts any error into an *Error. Unknown errors become Internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithCause(err)
}
