// Package encoding converts x402 wire structures to and from the opaque tokens
// carried in HTTP headers. A token is the standard base64 encoding of the
// structure's JSON document.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

// EncodeRequirement converts a PaymentRequirement to a base64-encoded JSON token.
// This is used for the Payment-Required response header.
func EncodeRequirement(req types.PaymentRequirement) (string, error) {
	return encode(req, "requirement")
}

// DecodeRequirement parses a Payment-Required token.
//
// Returns ErrMalformedToken when the token is not base64 or not JSON, and
// ErrSchemaViolation when a field is missing, mistyped or not a decimal amount.
func DecodeRequirement(token string) (types.PaymentRequirement, error) {
	var req types.PaymentRequirement
	err := decode(token, &req, "requirement")
	return req, err
}

// EncodePayment converts a PaymentPayload to a base64-encoded JSON token.
// This is used for the Payment request header.
func EncodePayment(payload types.PaymentPayload) (string, error) {
	return encode(payload, "payment")
}

// DecodePayment parses a Payment token. Errors follow DecodeRequirement.
// The nonce must be present even though zero is a valid value.
func DecodePayment(token string) (types.PaymentPayload, error) {
	var payload types.PaymentPayload
	err := decode(token, &payload, "payment", "nonce")
	return payload, err
}

// EncodeReceipt renders the Payment-Response header value. Unlike the other
// tokens the receipt is a plain JSON object.
func EncodeReceipt(receipt types.SettlementReceipt) (string, error) {
	b, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return string(b), nil
}

// DecodeReceipt parses a Payment-Response header value.
func DecodeReceipt(value string) (types.SettlementReceipt, error) {
	var receipt types.SettlementReceipt
	if err := unmarshal([]byte(value), &receipt, "receipt"); err != nil {
		return receipt, err
	}
	return receipt, nil
}

func encode(v any, what string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decode(token string, v any, what string, requiredKeys ...string) error {
	if token == "" {
		return types.NewError(types.CodeMalformedToken, fmt.Sprintf("empty %s token", what), nil)
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return types.NewError(types.CodeMalformedToken, fmt.Sprintf("failed to decode %s base64", what), err)
	}

	if err := unmarshal(raw, v, what); err != nil {
		return err
	}
	if err := requireKeys(raw, what, requiredKeys); err != nil {
		return err
	}

	if err := utils.ValidateStruct(v); err != nil {
		return types.NewError(types.CodeSchemaViolation, fmt.Sprintf("invalid %s", what), err)
	}
	return nil
}

func unmarshal(raw []byte, v any, what string) error {
	if !json.Valid(raw) {
		return types.NewError(types.CodeMalformedToken, fmt.Sprintf("%s is not valid JSON", what), nil)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return types.NewError(types.CodeSchemaViolation, fmt.Sprintf("%s field %q has the wrong type", what, typeErr.Field), err)
		}
		return types.NewError(types.CodeMalformedToken, fmt.Sprintf("failed to unmarshal %s", what), err)
	}
	return nil
}

// requireKeys reports a schema violation for any key absent from the JSON
// object. It covers fields whose zero value the validator cannot tell apart
// from a missing one.
func requireKeys(raw []byte, what string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return types.NewError(types.CodeSchemaViolation, fmt.Sprintf("%s is not a JSON object", what), err)
	}
	for _, key := range keys {
		if v, ok := doc[key]; !ok || string(v) == "null" {
			return types.NewError(types.CodeSchemaViolation, fmt.Sprintf("%s field %q is required", what, key), nil)
		}
	}
	return nil
}
