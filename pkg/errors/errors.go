package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeIdempotency  Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit    Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeDependency   Code = "DEPENDENCY_ERROR"

	// Escrow lifecycle codes.
	CodeInvalidTransition  Code = "INVALID_TRANSITION"
	CodeSequenceViolation  Code = "SEQUENCE_VIOLATION"
	CodeInsufficientEscrow Code = "INSUFFICIENT_ESCROW"
	CodeCaptureFailed      Code = "CAPTURE_FAILED"
	CodePayeeNotVerified   Code = "PAYEE_NOT_VERIFIED"
	CodeContractDisputed   Code = "CONTRACT_DISPUTED"
	CodeDuplicateFunding   Code = "DUPLICATE_FUNDING"
)

// Metadata is how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable   = true
	final       = false
	showDetails = true
	hideDetails = false
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:   {http.StatusBadRequest, final, "validation failed", showDetails},
	CodeUnauthorized: {http.StatusUnauthorized, final, "authentication required", hideDetails},
	CodeForbidden:    {http.StatusForbidden, final, "access denied", hideDetails},
	CodeNotFound:     {http.StatusNotFound, final, "resource not found", hideDetails},
	CodeConflict:     {http.StatusConflict, retryable, "conflict detected", hideDetails},
	CodeIdempotency:  {http.StatusConflict, final, "idempotency key reused", showDetails},
	CodeRateLimit:    {http.StatusTooManyRequests, final, "rate limit exceeded", hideDetails},
	CodeInternal:     {http.StatusInternalServerError, retryable, "internal server error", hideDetails},
	CodeDependency:   {http.StatusServiceUnavailable, retryable, "dependency unavailable", showDetails},

	CodeInvalidTransition:  {http.StatusConflict, final, "state transition not allowed", showDetails},
	CodeSequenceViolation:  {http.StatusConflict, final, "earlier milestones must be approved first", showDetails},
	CodeInsufficientEscrow: {http.StatusUnprocessableEntity, final, "insufficient escrow balance", showDetails},
	CodeCaptureFailed:      {http.StatusBadGateway, retryable, "payment capture failed", showDetails},
	CodePayeeNotVerified:   {http.StatusUnprocessableEntity, final, "vendor payout account is not verified", showDetails},
	CodeContractDisputed:   {http.StatusConflict, final, "contract has an active dispute", showDetails},
	CodeDuplicateFunding:   {http.StatusConflict, final, "contract is already funded", showDetails},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
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
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

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
