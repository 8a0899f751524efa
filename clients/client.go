package clients

import (
	"context"
	"math/big"

	x402types "github.com/vitwit/x402gate/types"
)

// DefaultFee is the fee in the smallest unit attached when the caller gives none.
const DefaultFee uint64 = 180

// TransferRequest describes a native value transfer to sign.
type TransferRequest struct {
	Recipient  string
	Amount     *big.Int
	PrivateKey string
	Network    x402types.Network
	Nonce      uint64
	Fee        *uint64
	Memo       []byte
}

// Client is the ledger-facing collaborator used by the payment builder and
// the settlement service. Broadcast rejections are reported as an
// *x402types.X402Error with CodeSettlementFailure; an unreachable node as
// CodeNetworkUnavailable.
type Client interface {
	DeriveAddress(privateKey string, network x402types.Network) (string, error)
	FetchNonce(ctx context.Context, address string, network x402types.Network) (uint64, error)
	SignTransfer(ctx context.Context, req TransferRequest) (*Transaction, error)
	Broadcast(ctx context.Context, tx *Transaction, network x402types.Network) (string, error)
	FetchTxStatus(ctx context.Context, txID string, network x402types.Network) (*x402types.TxStatusResult, error)
	FetchBalance(ctx context.Context, address string, network x402types.Network) (*big.Int, error)
}
