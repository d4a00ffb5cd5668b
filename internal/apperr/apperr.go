// Package apperr defines the error taxonomy shared by services, repositories
// and handlers. Every error that crosses the HTTP boundary is mapped through
// MetadataFor so status codes and client-visible messages stay consistent
// across routes.
package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthenticated     Code = "UNAUTHENTICATED"
	CodePrincipalNotFound   Code = "PRINCIPAL_NOT_FOUND"
	CodeForbidden           Code = "FORBIDDEN"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUnscopedOperator    Code = "UNSCOPED_OPERATOR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodeRateLimit           Code = "RATE_LIMIT_EXCEEDED"
	CodeSegmentationTimeout Code = "SEGMENTATION_TIMEOUT"
	CodePaymentUnavailable  Code = "PAYMENT_UNAVAILABLE"
	CodeUpstream            Code = "UPSTREAM_FAILURE"
)

// Metadata describes how a code is rendered to clients.
type Metadata struct {
	HTTPStatus     int
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeUnauthenticated:     {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodePrincipalNotFound:   {HTTPStatus: http.StatusUnauthorized, PublicMessage: "account no longer exists"},
	CodeForbidden:           {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeValidation:          {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeUnscopedOperator:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "operator is not associated with any admin"},
	CodeNotFound:            {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeConflict:            {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", DetailsAllowed: true},
	CodeInsufficientCredits: {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "insufficient credits"},
	CodeRateLimit:           {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded"},
	CodeSegmentationTimeout: {HTTPStatus: http.StatusGatewayTimeout, PublicMessage: "segmentation timed out"},
	CodePaymentUnavailable:  {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "payment processor unavailable"},
	CodeUpstream:            {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error"},
}

// MetadataFor returns the rendering metadata for code, falling back to the
// upstream failure entry for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeUpstream]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUpstream
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As extracts the first *Error in err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// PublicMessage is the text a client may see for err. Internal failures
// always collapse to the generic message of their code.
func PublicMessage(err error) string {
	typed := As(err)
	if typed == nil {
		return MetadataFor(CodeUpstream).PublicMessage
	}
	meta := MetadataFor(typed.code)
	switch typed.code {
	case CodeUpstream, CodePaymentUnavailable:
		return meta.PublicMessage
	}
	if typed.message != "" {
		return typed.message
	}
	return meta.PublicMessage
}

func Validation(message string) *Error { return New(CodeValidation, message) }

func Forbidden(message string) *Error { return New(CodeForbidden, message) }

func NotFound(message string) *Error { return New(CodeNotFound, message) }
