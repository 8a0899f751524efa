package x402

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	x402http "github.com/vitwit/x402gate/http"
	"github.com/vitwit/x402gate/internal/testutil"
	"github.com/vitwit/x402gate/types"
)

func newTestX402(t *testing.T) (*X402, *testutil.Ledger) {
	t.Helper()
	ledger := testutil.NewLedger()
	ledger.Fund(testutil.PayerAddress, 1_000_000)

	x, err := New(&types.X402Config{
		Networks: []types.NetworkConfig{{Network: types.NetworkTestnet}},
	}, WithChainClient(ledger))
	require.NoError(t, err)
	t.Cleanup(x.Close)
	return x, ledger
}

func TestNew_EnablesConfiguredNetworks(t *testing.T) {
	x, _ := newTestX402(t)

	assert.True(t, x.IsNetworkSupported(types.NetworkTestnet))
	assert.False(t, x.IsNetworkSupported(types.NetworkMainnet))

	supported := x.Supported()
	require.Len(t, supported.Kinds, 1)
	assert.Equal(t, "testnet", supported.Kinds[0].Network)
	assert.Equal(t, types.ChainIDTestnet, supported.Kinds[0].ChainID)
	assert.Equal(t, "exact", supported.Kinds[0].Scheme)
	assert.Equal(t, Version, supported.Version)
}

func TestNewWithDefaults(t *testing.T) {
	x, err := NewWithDefaults(WithChainClient(testutil.NewLedger()))
	require.NoError(t, err)
	defer x.Close()

	assert.True(t, x.IsNetworkSupported(types.NetworkTestnet))
	assert.Equal(t, defaultTimeout, x.timeout)
}

func TestAddNetwork(t *testing.T) {
	x, _ := newTestX402(t)

	require.NoError(t, x.AddNetwork(types.NetworkMainnet))
	require.NoError(t, x.AddNetwork(types.NetworkMainnet))
	assert.Len(t, x.Supported().Kinds, 2)

	err := x.AddNetwork("devnet")
	assert.ErrorIs(t, err, types.ErrUnsupportedNetwork)
}

func TestNew_RejectsUnknownNetwork(t *testing.T) {
	_, err := New(&types.X402Config{
		Networks: []types.NetworkConfig{{Network: "devnet"}},
	}, WithChainClient(testutil.NewLedger()))
	assert.ErrorIs(t, err, types.ErrUnsupportedNetwork)
}

func TestVerifyAndSettle(t *testing.T) {
	x, ledger := newTestX402(t)
	req := types.PaymentRequirement{
		Scheme:  string(types.SchemeExact),
		Network: string(types.NetworkTestnet),
		ChainID: types.ChainIDTestnet,
		PayTo:   testutil.PayeeAddress,
		Amount:  "1000",
		Asset:   types.NativeAsset,
	}

	b, err := x.NewBuilder(types.WalletConfig{PrivateKey: testutil.PayerKey})
	require.NoError(t, err)
	payload, err := b.Pay(context.Background(), req)
	require.NoError(t, err)

	result, err := x.Verify(context.Background(), payload, &req)
	require.NoError(t, err)
	require.True(t, result.IsValid, result.Message)

	settled, err := x.Settle(context.Background(), payload, "")
	require.NoError(t, err)
	require.True(t, settled.Success, settled.Error)

	ledger.Mine()
	status, err := x.CheckStatus(context.Background(), settled.TxID, types.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusSuccess, status.Status)

	balance, err := x.Balance(context.Background(), testutil.PayeeAddress, types.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, "1000", balance.String())

	_, err = x.Balance(context.Background(), testutil.PayeeAddress, types.NetworkMainnet)
	assert.ErrorIs(t, err, types.ErrUnsupportedNetwork)
}

func TestBatchVerify_Empty(t *testing.T) {
	x, _ := newTestX402(t)
	_, err := x.BatchVerify(context.Background(), nil, nil)
	assert.ErrorIs(t, err, types.ErrInvalidRequirements)
}

func TestGateAndClient(t *testing.T) {
	x, ledger := newTestX402(t)

	gate, err := x.NewGate(x402http.GateConfig{
		Network: types.NetworkTestnet,
		PayTo:   testutil.PayeeAddress,
		Routes:  map[string]x402http.Price{"GET /weather": {Amount: "500"}},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(gate.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receipt, _ := x402http.ReceiptFromContext(r.Context())
		_, _ = io.WriteString(w, receipt.TxID)
	})))
	defer srv.Close()

	b, err := x.NewBuilder(types.WalletConfig{PrivateKey: testutil.PayerKey})
	require.NoError(t, err)
	client, err := x.NewClient(b, x402http.WithMaxAmount("500"))
	require.NoError(t, err)

	resp, err := client.Get(srv.URL + "/weather")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.NotEmpty(t, string(body))
	assert.Equal(t, "500", ledger.Balance(testutil.PayeeAddress).String())
}

