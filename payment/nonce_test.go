package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402gate/internal/testutil"
	"github.com/vitwit/x402gate/types"
)

func TestNonceSequencer_LeasesLocallyAfterFirstFetch(t *testing.T) {
	ledger := testutil.NewLedger()
	seq := NewNonceSequencer(ledger)
	ctx := context.Background()

	for want := uint64(0); want < 3; want++ {
		got, err := seq.Next(ctx, testutil.PayerAddress, types.NetworkTestnet)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, ledger.NonceReads())
}

func TestNonceSequencer_SendersAndNetworksAreIndependent(t *testing.T) {
	seq := NewNonceSequencer(testutil.NewLedger())
	ctx := context.Background()

	a, err := seq.Next(ctx, testutil.PayerAddress, types.NetworkTestnet)
	require.NoError(t, err)
	b, err := seq.Next(ctx, testutil.PayeeAddress, types.NetworkTestnet)
	require.NoError(t, err)
	c, err := seq.Next(ctx, testutil.PayerAddress, types.NetworkMainnet)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), a)
	assert.Equal(t, uint64(0), b)
	assert.Equal(t, uint64(0), c)
}

func TestNonceSequencer_Observe(t *testing.T) {
	seq := NewNonceSequencer(testutil.NewLedger())
	ctx := context.Background()

	_, err := seq.Next(ctx, testutil.PayerAddress, types.NetworkTestnet)
	require.NoError(t, err)

	seq.Observe(testutil.PayerAddress, types.NetworkTestnet, 9)
	n, err := seq.Next(ctx, testutil.PayerAddress, types.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)

	// Older nonces never move the cursor back.
	seq.Observe(testutil.PayerAddress, types.NetworkTestnet, 2)
	n, err = seq.Next(ctx, testutil.PayerAddress, types.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), n)
}

func TestNonceSequencer_FetchFailureIsRetried(t *testing.T) {
	ledger := testutil.NewLedger()
	seq := NewNonceSequencer(ledger)
	ctx := context.Background()

	ledger.SetUnavailable(true)
	_, err := seq.Next(ctx, testutil.PayerAddress, types.NetworkTestnet)
	assert.ErrorIs(t, err, types.ErrNetworkUnavailable)

	ledger.SetUnavailable(false)
	n, err := seq.Next(ctx, testutil.PayerAddress, types.NetworkTestnet)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}
