package verification

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402gate/clients"
	"github.com/vitwit/x402gate/internal/testutil"
	"github.com/vitwit/x402gate/payment"
	"github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func testRequirement() types.PaymentRequirement {
	return types.PaymentRequirement{
		Scheme:  string(types.SchemeExact),
		Network: string(types.NetworkTestnet),
		ChainID: types.ChainIDTestnet,
		PayTo:   testutil.PayeeAddress,
		Amount:  "1000",
		Asset:   types.NativeAsset,
	}
}

func buildPayload(t *testing.T, req types.PaymentRequirement) *types.PaymentPayload {
	t.Helper()
	b, err := payment.NewBuilder(testutil.NewLedger(), types.WalletConfig{PrivateKey: testutil.PayerKey},
		payment.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	payload, err := b.Build(context.Background(), req, payment.BuildOptions{})
	require.NoError(t, err)
	return payload
}

func testVerifier() Verifier {
	return Verifier{Now: func() time.Time { return fixedNow }}
}

func TestVerifier_AcceptsBuiltPayload(t *testing.T) {
	req := testRequirement()
	payload := buildPayload(t, req)

	result := testVerifier().Verify(payload, &req)
	require.True(t, result.IsValid, result.Message)
	assert.Empty(t, result.InvalidReason)
	assert.Equal(t, "1000", result.Details["amount"])
	assert.Equal(t, testutil.PayeeAddress, result.Details["recipient"])
	assert.Equal(t, uint64(0), result.Details["nonce"])
	assert.Equal(t, testutil.PayerAddress, result.Details["payer"])
}

func TestVerifier_EndToEndScenarios(t *testing.T) {
	req := testRequirement()

	t.Run("exact amount is valid", func(t *testing.T) {
		payload := buildPayload(t, req)
		assert.Equal(t, "1000", payload.Amount)
		assert.True(t, testVerifier().Verify(payload, &req).IsValid)
	})

	t.Run("underpayment is rejected", func(t *testing.T) {
		payload := buildPayload(t, req)
		payload.Amount = "999"
		result := testVerifier().Verify(payload, &req)
		assert.False(t, result.IsValid)
		assert.Equal(t, ReasonInsufficientAmount, result.InvalidReason)
		assert.Equal(t, types.CodeInsufficientAmount, result.ErrorCode)
		assert.Contains(t, result.Message, "insufficient amount")
	})
}

func TestVerifier_Overpayment(t *testing.T) {
	req := testRequirement()
	over := req
	over.Amount = "1500"
	payload := buildPayload(t, over)

	result := testVerifier().Verify(payload, &req)
	assert.True(t, result.IsValid, result.Message)

	// The transfer itself still covers the requirement.
	payload = buildPayload(t, req)
	payload.Amount = "2000"
	assert.True(t, testVerifier().Verify(payload, &req).IsValid)
}

func TestVerifier_FieldMismatches(t *testing.T) {
	req := testRequirement()

	tests := []struct {
		name   string
		mutate func(p *types.PaymentPayload)
		reason string
		code   string
	}{
		{"scheme", func(p *types.PaymentPayload) { p.Scheme = "upto" }, ReasonSchemeMismatch, types.CodeFieldMismatch},
		{"network", func(p *types.PaymentPayload) { p.Network = "mainnet" }, ReasonNetworkMismatch, types.CodeFieldMismatch},
		{"chain id", func(p *types.PaymentPayload) { p.ChainID = types.ChainIDMainnet }, ReasonChainIDMismatch, types.CodeFieldMismatch},
		{"recipient", func(p *types.PaymentPayload) { p.PayTo = testutil.StrangerAddr }, ReasonRecipientMismatch, types.CodeFieldMismatch},
		{"asset", func(p *types.PaymentPayload) { p.Asset = "SP000.token::usd" }, ReasonAssetMismatch, types.CodeFieldMismatch},
		{"amount format", func(p *types.PaymentPayload) { p.Amount = "1e3" }, ReasonInvalidAmount, types.CodeSchemaViolation},
		{"nonce", func(p *types.PaymentPayload) { p.Nonce = 5 }, ReasonTransactionNonceMismatch, types.CodeFieldMismatch},
		{"signature", func(p *types.PaymentPayload) { p.Signature = "0x" + common.Bytes2Hex(make([]byte, 65)) }, ReasonInvalidSignature, types.CodeInvalidTransaction},
		{"public key", func(p *types.PaymentPayload) {
			key, _ := utils.PrivateKeyFromHex(testutil.PayeeKey)
			p.PublicKey = hexutil.Encode(utils.CompressedPublicKey(key))
		}, ReasonInvalidSignature, types.CodeInvalidTransaction},
		{"garbage transaction", func(p *types.PaymentPayload) { p.SerializedTx = "0xdeadbeef" }, ReasonInvalidTransaction, types.CodeInvalidTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := buildPayload(t, req)
			tt.mutate(payload)

			result := testVerifier().Verify(payload, &req)
			assert.False(t, result.IsValid)
			assert.Equal(t, tt.reason, result.InvalidReason)
			assert.Equal(t, tt.code, result.ErrorCode)
			assert.NotEmpty(t, result.Message)
		})
	}
}

func TestVerifier_ChecksRunInOrder(t *testing.T) {
	req := testRequirement()
	payload := buildPayload(t, req)
	payload.Scheme = "upto"
	payload.PayTo = testutil.StrangerAddr
	payload.Amount = "1"

	result := testVerifier().Verify(payload, &req)
	assert.Equal(t, ReasonSchemeMismatch, result.InvalidReason)
}

// signTx re-signs a modified transaction and writes it back into payload.
func signTx(t *testing.T, payload *types.PaymentPayload, mutate func(tx *clients.Transaction)) {
	t.Helper()
	tx, err := clients.DecodeTransactionHex(payload.SerializedTx)
	require.NoError(t, err)
	mutate(tx)
	key, err := utils.PrivateKeyFromHex(testutil.PayerKey)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key))
	payload.SerializedTx, err = tx.SerializeHex()
	require.NoError(t, err)
	payload.Signature = hexutil.Encode(tx.Auth.Signature)
	payload.PublicKey = hexutil.Encode(tx.Auth.PublicKey)
}

func TestVerifier_TransactionChecks(t *testing.T) {
	req := testRequirement()

	tests := []struct {
		name   string
		mutate func(tx *clients.Transaction)
		reason string
	}{
		{"contract call", func(tx *clients.Transaction) {
			tx.Payload.Type = clients.PayloadContractCall
			tx.Payload.Contract = "SP000.pay"
			tx.Payload.Function = "transfer"
		}, ReasonNotATokenTransfer},
		{"low transfer amount", func(tx *clients.Transaction) { tx.Payload.Amount = big.NewInt(999) }, ReasonTransactionAmountInsufficient},
		{"other recipient", func(tx *clients.Transaction) { tx.Payload.Recipient = common.HexToAddress(testutil.StrangerAddr) }, ReasonTransactionRecipientMismatch},
		{"other chain", func(tx *clients.Transaction) { tx.ChainID = types.ChainIDMainnet }, ReasonTransactionChainIDMismatch},
		{"mainnet version", func(tx *clients.Transaction) { tx.Version = types.NetworkMainnet.TxVersion() }, ReasonTransactionVersionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := buildPayload(t, req)
			signTx(t, payload, tt.mutate)

			result := testVerifier().Verify(payload, &req)
			assert.False(t, result.IsValid)
			assert.Equal(t, tt.reason, result.InvalidReason)
		})
	}
}

func TestVerifier_TamperedTransaction(t *testing.T) {
	req := testRequirement()
	payload := buildPayload(t, req)

	tx, err := clients.DecodeTransactionHex(payload.SerializedTx)
	require.NoError(t, err)
	tx.Auth.Fee = 1
	payload.SerializedTx, err = tx.SerializeHex()
	require.NoError(t, err)

	result := testVerifier().Verify(payload, &req)
	assert.Equal(t, ReasonInvalidSignature, result.InvalidReason)
}

func TestVerifier_Expiry(t *testing.T) {
	req := testRequirement()
	req.MaxTimeoutSeconds = 60
	payload := buildPayload(t, req)
	require.NotNil(t, payload.ExpiresAt)

	assert.True(t, testVerifier().Verify(payload, &req).IsValid)

	late := Verifier{Now: func() time.Time { return fixedNow.Add(61 * time.Second) }}
	result := late.Verify(payload, &req)
	assert.False(t, result.IsValid)
	assert.Equal(t, ReasonPaymentExpired, result.InvalidReason)
	assert.Equal(t, types.CodePaymentExpired, result.ErrorCode)

	past := fixedNow.Add(-time.Second).Unix()
	payload.ExpiresAt = &past
	assert.Equal(t, ReasonPaymentExpired, testVerifier().Verify(payload, &req).InvalidReason)
}

func TestVerifier_WithoutSerializedTransaction(t *testing.T) {
	req := testRequirement()
	payload := buildPayload(t, req)
	payload.SerializedTx = ""

	result := testVerifier().Verify(payload, &req)
	assert.True(t, result.IsValid)
	assert.NotContains(t, result.Details, "payer")
}
