package clients

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	x402types "github.com/vitwit/x402gate/types"
)

var (
	testPrivateKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress      = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	recipientAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func signedTestTransfer(t *testing.T, nonce uint64, amount int64) *Transaction {
	t.Helper()
	tx, err := LocalSigner{}.SignTransfer(context.Background(), TransferRequest{
		Recipient:  recipientAddress,
		Amount:     big.NewInt(amount),
		PrivateKey: testPrivateKey,
		Network:    x402types.NetworkTestnet,
		Nonce:      nonce,
	})
	require.NoError(t, err)
	return tx
}

func TestLocalSigner_DeriveAddress(t *testing.T) {
	addr, err := LocalSigner{}.DeriveAddress(testPrivateKey, x402types.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, testAddress, addr)

	_, err = LocalSigner{}.DeriveAddress("0xnothex", x402types.NetworkTestnet)
	assert.ErrorIs(t, err, x402types.ErrSigningError)

	_, err = LocalSigner{}.DeriveAddress(testPrivateKey, x402types.Network("regtest"))
	assert.ErrorIs(t, err, x402types.ErrUnsupportedNetwork)
}

func TestTransaction_SignAndVerify(t *testing.T) {
	tx := signedTestTransfer(t, 3, 1000)

	assert.Equal(t, x402types.TxVersionTestnet, tx.Version)
	assert.Equal(t, x402types.ChainIDTestnet, tx.ChainID)
	assert.Equal(t, uint64(3), tx.Auth.Nonce)
	assert.Equal(t, DefaultFee, tx.Auth.Fee)
	assert.Len(t, tx.Auth.PublicKey, 33)
	assert.Len(t, tx.Auth.Signature, 65)
	assert.True(t, tx.IsTokenTransfer())
	assert.True(t, tx.VerifySignature())

	sender, err := tx.Sender()
	require.NoError(t, err)
	assert.Equal(t, testAddress, sender.Hex())
}

func TestTransaction_TamperBreaksSignature(t *testing.T) {
	tx := signedTestTransfer(t, 0, 1000)
	tx.Payload.Amount = big.NewInt(1)
	assert.False(t, tx.VerifySignature())
}

func TestTransaction_SerializeRoundTrip(t *testing.T) {
	tx := signedTestTransfer(t, 9, 123456789)

	hexTx, err := tx.SerializeHex()
	require.NoError(t, err)

	decoded, err := DecodeTransactionHex(hexTx)
	require.NoError(t, err)

	assert.Equal(t, tx.ChainID, decoded.ChainID)
	assert.Equal(t, tx.Auth.Nonce, decoded.Auth.Nonce)
	assert.Equal(t, tx.Auth.Signature, decoded.Auth.Signature)
	assert.Equal(t, common.HexToAddress(recipientAddress), decoded.Payload.Recipient)
	assert.Equal(t, 0, tx.Payload.Amount.Cmp(decoded.Payload.Amount))
	assert.True(t, decoded.VerifySignature())

	id1, err := tx.TxID()
	require.NoError(t, err)
	id2, err := decoded.TxID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 66)
}

func TestDecodeTransaction_Garbage(t *testing.T) {
	_, err := DecodeTransactionHex("0xdeadbeef")
	assert.Error(t, err)

	_, err = DecodeTransactionHex("zz")
	assert.Error(t, err)
}

func TestLocalSigner_SignTransferErrors(t *testing.T) {
	ctx := context.Background()

	_, err := LocalSigner{}.SignTransfer(ctx, TransferRequest{
		Recipient: "not-an-address", Amount: big.NewInt(1), PrivateKey: testPrivateKey, Network: x402types.NetworkTestnet,
	})
	assert.ErrorIs(t, err, x402types.ErrInvalidRequirements)

	_, err = LocalSigner{}.SignTransfer(ctx, TransferRequest{
		Recipient: recipientAddress, Amount: big.NewInt(1), PrivateKey: "bad", Network: x402types.NetworkTestnet,
	})
	assert.ErrorIs(t, err, x402types.ErrSigningError)

	fee := uint64(0)
	tx, err := LocalSigner{}.SignTransfer(ctx, TransferRequest{
		Recipient: recipientAddress, Amount: big.NewInt(1), PrivateKey: testPrivateKey, Network: x402types.NetworkMainnet, Fee: &fee,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tx.Auth.Fee)
	assert.Equal(t, x402types.ChainIDMainnet, tx.ChainID)
}
