// Package errors is the closed set of failure codes the HTTP layer knows how to
// render. Anything outside the set is reported as INTERNAL_ERROR.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeIdempotency       Code = "IDEMPOTENCY_KEY_REUSED"
	CodePaymentBroker     Code = "PAYMENT_BROKER_ERROR"
	CodeDuplicateComplete Code = "DUPLICATE_COMPLETED_ORDER"
	CodeSignatureInvalid  Code = "SIGNATURE_INVALID"
	CodeOrphanSignal      Code = "ORPHAN_SIGNAL"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeDependency        Code = "DEPENDENCY_ERROR"
)

// Metadata is how a code is rendered. Retryable tells clients whether the same
// request may succeed later.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeConflict:      {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", Retryable: true},
	CodeIdempotency:   {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
	CodePaymentBroker: {HTTPStatus: http.StatusBadRequest, PublicMessage: "payment processor error", DetailsAllowed: true},
	// a purchase retried after payment; details carry the order id
	CodeDuplicateComplete: {HTTPStatus: http.StatusBadRequest, PublicMessage: "order already purchased", DetailsAllowed: true},
	CodeSignatureInvalid:  {HTTPStatus: http.StatusBadRequest, PublicMessage: "signature verification failed"},
	// acknowledged so the processor stops redelivering
	CodeOrphanSignal: {HTTPStatus: http.StatusOK, PublicMessage: "signal ignored"},
	CodeInternal:     {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
	CodeDependency:   {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", Retryable: true, DetailsAllowed: true},
}

func MetadataFor(code Code) Metadata {
	meta, ok := metadataByCode[code]
	if !ok {
		meta = metadataByCode[CodeInternal]
	}
	return meta
}

// Error is a coded failure. The zero-value methods tolerate a nil receiver so
// callers can chain on As results without checking.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return Wrap(code, nil, message)
}

func Wrap(code Code, cause error, message string) *Error {
	return &Error{code: code, message: message, cause: cause}
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

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches a caller-visible payload. It is only rendered for codes
// whose metadata allows details.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether the outermost coded error in err's chain has the given code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
