package clients

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	x402types "github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

// LocalSigner derives addresses and signs transfers in-process. It is embedded
// by the node client and by test ledgers.
type LocalSigner struct{}

func (LocalSigner) DeriveAddress(privateKey string, network x402types.Network) (string, error) {
	if !network.IsSupported() {
		return "", x402types.NewError(x402types.CodeUnsupportedNetwork, string(network), nil)
	}
	key, err := utils.PrivateKeyFromHex(privateKey)
	if err != nil {
		return "", x402types.NewError(x402types.CodeSigningError, "invalid private key", err)
	}
	return utils.AddressFromPrivateKey(key).Hex(), nil
}

func (LocalSigner) SignTransfer(ctx context.Context, req TransferRequest) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Network.IsSupported() {
		return nil, x402types.NewError(x402types.CodeUnsupportedNetwork, string(req.Network), nil)
	}
	if !common.IsHexAddress(req.Recipient) {
		return nil, x402types.NewError(x402types.CodeInvalidRequirements, fmt.Sprintf("invalid recipient %q", req.Recipient), nil)
	}
	if req.Amount == nil || req.Amount.Sign() < 0 {
		return nil, x402types.NewError(x402types.CodeInvalidRequirements, "amount must be non-negative", nil)
	}
	if len(req.Memo) > MaxMemoLength {
		return nil, x402types.NewError(x402types.CodeInvalidRequirements, "memo too long", nil)
	}

	key, err := utils.PrivateKeyFromHex(req.PrivateKey)
	if err != nil {
		return nil, x402types.NewError(x402types.CodeSigningError, "invalid private key", err)
	}

	fee := DefaultFee
	if req.Fee != nil {
		fee = *req.Fee
	}

	tx := NewTokenTransfer(
		req.Network.TxVersion(),
		req.Network.ChainID(),
		req.Nonce,
		fee,
		common.HexToAddress(req.Recipient),
		req.Amount,
		req.Memo,
	)
	if err := tx.Sign(key); err != nil {
		return nil, x402types.NewError(x402types.CodeSigningError, "failed to sign transfer", err)
	}
	return tx, nil
}
