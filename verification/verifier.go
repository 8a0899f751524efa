package verification

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/vitwit/x402gate/clients"
	"github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

// Rejection reasons. These strings are part of the wire contract.
const (
	ReasonSchemeMismatch                = "scheme_mismatch"
	ReasonNetworkMismatch               = "network_mismatch"
	ReasonNetworkNotEnabled             = "network_not_enabled"
	ReasonChainIDMismatch               = "chain_id_mismatch"
	ReasonRecipientMismatch             = "recipient_mismatch"
	ReasonInsufficientAmount            = "insufficient_amount"
	ReasonInvalidAmount                 = "invalid_amount"
	ReasonAssetMismatch                 = "asset_mismatch"
	ReasonInvalidTransaction            = "invalid_transaction"
	ReasonNotATokenTransfer             = "not_a_token_transfer"
	ReasonTransactionAmountInsufficient = "transaction_amount_insufficient"
	ReasonTransactionRecipientMismatch  = "transaction_recipient_mismatch"
	ReasonTransactionChainIDMismatch    = "transaction_chain_id_mismatch"
	ReasonTransactionVersionMismatch    = "transaction_version_mismatch"
	ReasonTransactionNonceMismatch      = "transaction_nonce_mismatch"
	ReasonInvalidSignature              = "invalid_signature"
	ReasonPaymentExpired                = "payment_expired"
)

var reasonCodes = map[string]string{
	ReasonSchemeMismatch:                types.CodeFieldMismatch,
	ReasonNetworkMismatch:               types.CodeFieldMismatch,
	ReasonNetworkNotEnabled:             types.CodeUnsupportedNetwork,
	ReasonChainIDMismatch:               types.CodeFieldMismatch,
	ReasonRecipientMismatch:             types.CodeFieldMismatch,
	ReasonInsufficientAmount:            types.CodeInsufficientAmount,
	ReasonInvalidAmount:                 types.CodeSchemaViolation,
	ReasonAssetMismatch:                 types.CodeFieldMismatch,
	ReasonInvalidTransaction:            types.CodeInvalidTransaction,
	ReasonNotATokenTransfer:             types.CodeInvalidTransaction,
	ReasonTransactionAmountInsufficient: types.CodeInsufficientAmount,
	ReasonTransactionRecipientMismatch:  types.CodeFieldMismatch,
	ReasonTransactionChainIDMismatch:    types.CodeFieldMismatch,
	ReasonTransactionVersionMismatch:    types.CodeFieldMismatch,
	ReasonTransactionNonceMismatch:      types.CodeFieldMismatch,
	ReasonInvalidSignature:              types.CodeInvalidTransaction,
	ReasonPaymentExpired:                types.CodePaymentExpired,
}

// CodeForReason maps a rejection reason to its error code.
func CodeForReason(reason string) string {
	if code, ok := reasonCodes[reason]; ok {
		return code
	}
	return types.CodeInternal
}

// Verifier checks a payload against the requirement it claims to answer.
// It does no I/O; the only input besides its arguments is the clock.
type Verifier struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func reject(reason, format string, args ...any) *types.VerificationResult {
	return &types.VerificationResult{
		IsValid:       false,
		InvalidReason: reason,
		ErrorCode:     CodeForReason(reason),
		Message:       fmt.Sprintf(format, args...),
	}
}

// Verify runs the checks in order and stops at the first failure.
func (v Verifier) Verify(payload *types.PaymentPayload, req *types.PaymentRequirement) *types.VerificationResult {
	if payload.Scheme != req.Scheme {
		return reject(ReasonSchemeMismatch, "scheme %q does not match required %q", payload.Scheme, req.Scheme)
	}
	if payload.Network != req.Network {
		return reject(ReasonNetworkMismatch, "network %q does not match required %q", payload.Network, req.Network)
	}
	if payload.ChainID != req.ChainID {
		return reject(ReasonChainIDMismatch, "chain id 0x%08x does not match required 0x%08x", payload.ChainID, req.ChainID)
	}
	if !utils.SameAddress(payload.PayTo, req.PayTo) {
		return reject(ReasonRecipientMismatch, "recipient %s does not match required %s", payload.PayTo, req.PayTo)
	}

	required, err := utils.ValidateAmount(req.Amount)
	if err != nil {
		return reject(ReasonInvalidAmount, "required amount %q is invalid", req.Amount)
	}
	paid, err := utils.ValidateAmount(payload.Amount)
	if err != nil {
		return reject(ReasonInvalidAmount, "payload amount %q is invalid", payload.Amount)
	}
	if paid.LessThan(*required) {
		return reject(ReasonInsufficientAmount, "insufficient amount: %s is less than required %s", payload.Amount, req.Amount)
	}

	if payload.Asset != req.Asset {
		return reject(ReasonAssetMismatch, "asset %q does not match required %q", payload.Asset, req.Asset)
	}

	var payer string
	if payload.SerializedTx != "" {
		result, sender := v.verifyTransaction(payload, req)
		if result != nil {
			return result
		}
		payer = sender
	}

	if payload.ExpiresAt != nil {
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		if now().Unix() > *payload.ExpiresAt {
			return reject(ReasonPaymentExpired, "payment expired at %d", *payload.ExpiresAt)
		}
	}

	details := types.ExtraData{
		"amount":    payload.Amount,
		"recipient": payload.PayTo,
		"nonce":     payload.Nonce,
	}
	if payer != "" {
		details["payer"] = payer
	}
	return &types.VerificationResult{
		IsValid: true,
		Details: details,
	}
}

// verifyTransaction decodes the serialized transaction and cross-checks it
// with the payload. It returns the sender on success.
func (v Verifier) verifyTransaction(payload *types.PaymentPayload, req *types.PaymentRequirement) (*types.VerificationResult, string) {
	tx, err := clients.DecodeTransactionHex(payload.SerializedTx)
	if err != nil {
		return reject(ReasonInvalidTransaction, "serialized transaction cannot be decoded: %v", err), ""
	}
	if !tx.IsTokenTransfer() {
		return reject(ReasonNotATokenTransfer, "transaction payload type 0x%02x is not a token transfer", tx.Payload.Type), ""
	}

	required, _ := utils.ParseAmount(req.Amount)
	if tx.Payload.Amount.Cmp(required) < 0 {
		return reject(ReasonTransactionAmountInsufficient, "transaction amount %s is less than required %s", tx.Payload.Amount, req.Amount), ""
	}
	if !utils.SameAddress(tx.Payload.Recipient.Hex(), payload.PayTo) {
		return reject(ReasonTransactionRecipientMismatch, "transaction recipient %s does not match %s", tx.Payload.Recipient.Hex(), payload.PayTo), ""
	}
	if tx.ChainID != payload.ChainID {
		return reject(ReasonTransactionChainIDMismatch, "transaction chain id 0x%08x does not match 0x%08x", tx.ChainID, payload.ChainID), ""
	}
	if want := types.Network(payload.Network).TxVersion(); tx.Version != want {
		return reject(ReasonTransactionVersionMismatch, "transaction version 0x%02x does not match 0x%02x", tx.Version, want), ""
	}
	if tx.Auth.Nonce != payload.Nonce {
		return reject(ReasonTransactionNonceMismatch, "transaction nonce %d does not match %d", tx.Auth.Nonce, payload.Nonce), ""
	}

	if hexutil.Encode(tx.Auth.PublicKey) != normalizeHex(payload.PublicKey) ||
		hexutil.Encode(tx.Auth.Signature) != normalizeHex(payload.Signature) {
		return reject(ReasonInvalidSignature, "payload signature or public key does not match the transaction"), ""
	}
	if !tx.VerifySignature() {
		return reject(ReasonInvalidSignature, "transaction signature does not verify"), ""
	}

	sender, err := tx.Sender()
	if err != nil {
		return reject(ReasonInvalidSignature, "invalid public key: %v", err), ""
	}
	return nil, sender.Hex()
}

func normalizeHex(s string) string {
	b, err := utils.DecodeHex(s)
	if err != nil {
		return s
	}
	return hexutil.Encode(b)
}
