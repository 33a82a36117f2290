package errors

import (
	stdErrors "errors"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodePaymentVerification Code = "PAYMENT_VERIFICATION_FAILED"
)

// Metadata drives how a code is rendered on the wire.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

func meta(status int, public string, details, retryable bool) Metadata {
	return Metadata{HTTPStatus: status, Retryable: retryable, PublicMessage: public, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:          meta(http.StatusBadRequest, "validation failed", true, false),
	CodeUnauthorized:        meta(http.StatusUnauthorized, "authentication required", false, false),
	CodeForbidden:           meta(http.StatusForbidden, "access denied", false, false),
	CodeNotFound:            meta(http.StatusNotFound, "resource not found", false, false),
	CodeConflict:            meta(http.StatusConflict, "conflict detected", false, false),
	CodeStateConflict:       meta(http.StatusUnprocessableEntity, "state transition disallowed", true, false),
	CodeIdempotency:         meta(http.StatusConflict, "idempotency key reused", true, false),
	CodeRateLimit:           meta(http.StatusTooManyRequests, "rate limit exceeded", false, false),
	CodeInternal:            meta(http.StatusInternalServerError, "internal server error", false, true),
	CodeDependency:          meta(http.StatusServiceUnavailable, "dependency unavailable", true, true),
	CodeInsufficientCredits: meta(http.StatusPaymentRequired, "insufficient credits", true, false),
	CodePaymentVerification: meta(http.StatusBadRequest, "payment verification failed", false, false),
}

// MetadataFor falls back to the internal error entry for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// clientFacing codes describe a caller mistake, so their own message is
// safe to return.
var clientFacing = map[Code]bool{
	CodeValidation:          true,
	CodeUnauthorized:        true,
	CodeForbidden:           true,
	CodeNotFound:            true,
	CodeConflict:            true,
	CodeStateConflict:       true,
	CodeIdempotency:         true,
	CodeRateLimit:           true,
	CodeInsufficientCredits: true,
}

// Error is a coded failure with a caller-facing message, optional
// structured details and an optional wrapped cause.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches a code and message to err. A nil err yields New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// PublicMessage is the text a client may see for e.
func (e *Error) PublicMessage() string {
	if e != nil && e.message != "" && clientFacing[e.code] {
		return e.message
	}
	return MetadataFor(e.Code()).PublicMessage
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.code) + ": " + e.message
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches another *Error by code so sentinel codes work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.message == "" && e.code == t.code
}

// As extracts the first coded error in the chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the first coded error in err, or CodeInternal.
func CodeOf(err error) Code {
	return As(err).Code()
}

// IsCode reports whether any coded error in err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && stdErrors.Is(err, &Error{code: code})
}

// StatusOf maps err to the HTTP status its code renders with.
func StatusOf(err error) int {
	return MetadataFor(CodeOf(err)).HTTPStatus
}
