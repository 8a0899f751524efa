package types

import (
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents different payment schemes
type PaymentScheme string

const (
	// SchemeExact pays exactly the advertised amount (or more) in one transfer.
	SchemeExact PaymentScheme = "exact"
)

// NativeAsset is the identifier of the ledger's native asset.
const NativeAsset = "STX"

// HTTP header names used by the payment flow.
const (
	HeaderPaymentRequired = "Payment-Required"
	HeaderPayment         = "Payment"
	HeaderPaymentResponse = "Payment-Response"
)

type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	ChainID     uint32 `json:"chainId"`
}

type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`

	// Version of the library serving the response.
	Version string `json:"version,omitempty"`
}

// PaymentRequirement defines what a resource server demands before serving a resource.
// It is built fresh for each gated request and never mutated afterwards.
type PaymentRequirement struct {
	// Scheme of the payment protocol. Always "exact".
	Scheme string `json:"scheme" validate:"required"`

	// Network the payment must be made on ("mainnet" or "testnet").
	Network string `json:"network" validate:"required"`

	// ChainID distinguishes production and test ledgers.
	ChainID uint32 `json:"chainId" validate:"required"`

	// PayTo is the address that must receive the payment.
	PayTo string `json:"payTo" validate:"required"`

	// Amount required in the smallest indivisible unit of the asset.
	// Represented as a decimal string to avoid floating point loss.
	Amount string `json:"amount" validate:"required,amount"`

	// Asset identifier, NativeAsset or a contract-addressed asset.
	Asset string `json:"asset" validate:"required"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// Resource is the protected route.
	Resource string `json:"resource,omitempty"`

	// MaxTimeoutSeconds bounds how long a payload built for this requirement stays valid.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty" validate:"gte=0"`
}

// PaymentPayload is produced by the payer and answers exactly one PaymentRequirement.
type PaymentPayload struct {
	Scheme  string `json:"scheme" validate:"required"`
	Network string `json:"network" validate:"required"`
	ChainID uint32 `json:"chainId" validate:"required"`
	PayTo   string `json:"payTo" validate:"required"`
	Amount  string `json:"amount" validate:"required,amount"`
	Asset   string `json:"asset" validate:"required"`

	// Nonce is the sender's account nonce used by the transaction.
	Nonce uint64 `json:"nonce"`

	// Signature over the transaction, hex encoded.
	Signature string `json:"signature" validate:"required"`

	// PublicKey of the signer, hex encoded compressed secp256k1 key.
	PublicKey string `json:"publicKey" validate:"required"`

	// SerializedTx is the full signed transaction, hex encoded.
	// Required for settlement.
	SerializedTx string `json:"serializedTx,omitempty"`

	// ExpiresAt is a unix timestamp (seconds) after which the payload is rejected.
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// ExtraData contains additional payment-specific data
type ExtraData map[string]interface{}

// VerificationResult contains the result of payment verification
type VerificationResult struct {
	IsValid       bool      `json:"isValid"`
	InvalidReason string    `json:"invalidReason,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	Message       string    `json:"message,omitempty"`
	Details       ExtraData `json:"details,omitempty"`
}

// SettlementResult contains the result of payment settlement
type SettlementResult struct {
	Success     bool   `json:"success"`
	TxID        string `json:"txId,omitempty"`
	Network     string `json:"network,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	BlockHeight uint64 `json:"blockHeight,omitempty"`
}

// TxStatus is the confirmation state of a broadcast transaction.
type TxStatus string

const (
	TxStatusPending  TxStatus = "pending"
	TxStatusSuccess  TxStatus = "success"
	TxStatusFailed   TxStatus = "failed"
	TxStatusNotFound TxStatus = "not_found"
)

// IsTerminal reports whether the status can no longer change.
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusSuccess || s == TxStatusFailed
}

// TxStatusResult is the outcome of a transaction status check.
type TxStatusResult struct {
	TxID        string   `json:"txId"`
	Status      TxStatus `json:"status"`
	BlockHeight uint64   `json:"blockHeight,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// SettlementReceipt is returned to the payer in the Payment-Response header.
type SettlementReceipt struct {
	TxID    string `json:"txId"`
	Settled bool   `json:"settled"`
}

// NetworkConfig selects a network and optionally overrides its node endpoint.
type NetworkConfig struct {
	Network Network `json:"network"`
	URL     string  `json:"url,omitempty"`
}

// WalletConfig carries the payer credential.
type WalletConfig struct {
	PrivateKey string `json:"-"`
	Address    string `json:"address,omitempty"`
}

// X402Config contains global configuration for the x402 library
type X402Config struct {
	DefaultTimeout time.Duration   `json:"defaultTimeout,omitempty"`
	Networks       []NetworkConfig `json:"networks,omitempty"`
	LogLevel       string          `json:"logLevel,omitempty"`
	EnableMetrics  bool            `json:"enableMetrics,omitempty"`
}
