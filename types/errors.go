package types

import (
	"errors"
	"fmt"
)

// X402Error is the error type shared by every component of the payment flow.
// Two X402Errors match under errors.Is when their codes are equal, so callers
// can test against the sentinels below.
type X402Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *X402Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *X402Error) Unwrap() error {
	return e.Err
}

func (e *X402Error) Is(target error) bool {
	var t *X402Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	CodeMalformedToken        = "MALFORMED_TOKEN"
	CodeSchemaViolation       = "SCHEMA_VIOLATION"
	CodeAmountCeilingExceeded = "AMOUNT_CEILING_EXCEEDED"
	CodeFieldMismatch         = "FIELD_MISMATCH"
	CodeInsufficientAmount    = "INSUFFICIENT_AMOUNT"
	CodePaymentExpired        = "PAYMENT_EXPIRED"
	CodeMissingTransaction    = "MISSING_TRANSACTION"
	CodeSettlementFailure     = "SETTLEMENT_FAILURE"
	CodeNetworkUnavailable    = "NETWORK_UNAVAILABLE"
	CodeSigningError          = "SIGNING_ERROR"
	CodeNonceUnavailable      = "NONCE_UNAVAILABLE"
	CodeInvalidRequirements   = "INVALID_REQUIREMENTS"
	CodeUnsupportedNetwork    = "UNSUPPORTED_NETWORK"
	CodeInvalidTransaction    = "INVALID_TRANSACTION"
	CodeInternal              = "INTERNAL_ERROR"
)

// Sentinels for errors.Is.
var (
	ErrMalformedToken        = &X402Error{Code: CodeMalformedToken, Message: "malformed token"}
	ErrSchemaViolation       = &X402Error{Code: CodeSchemaViolation, Message: "schema violation"}
	ErrAmountCeilingExceeded = &X402Error{Code: CodeAmountCeilingExceeded, Message: "amount exceeds ceiling"}
	ErrFieldMismatch         = &X402Error{Code: CodeFieldMismatch, Message: "field mismatch"}
	ErrInsufficientAmount    = &X402Error{Code: CodeInsufficientAmount, Message: "insufficient amount"}
	ErrPaymentExpired        = &X402Error{Code: CodePaymentExpired, Message: "payment expired"}
	ErrMissingTransaction    = &X402Error{Code: CodeMissingTransaction, Message: "missing serialized transaction"}
	ErrSettlementFailure     = &X402Error{Code: CodeSettlementFailure, Message: "settlement failed"}
	ErrNetworkUnavailable    = &X402Error{Code: CodeNetworkUnavailable, Message: "network unavailable"}
	ErrSigningError          = &X402Error{Code: CodeSigningError, Message: "signing failed"}
	ErrNonceUnavailable      = &X402Error{Code: CodeNonceUnavailable, Message: "nonce unavailable"}
	ErrInvalidRequirements   = &X402Error{Code: CodeInvalidRequirements, Message: "invalid payment requirements"}
	ErrUnsupportedNetwork    = &X402Error{Code: CodeUnsupportedNetwork, Message: "unsupported network"}
	ErrInvalidTransaction    = &X402Error{Code: CodeInvalidTransaction, Message: "invalid transaction"}
)

// NewError builds an X402Error with the given code.
func NewError(code, message string, err error) *X402Error {
	return &X402Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first X402Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) string {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return CodeInternal
}
