// Package x402 wires the payment flow for native ledger transfers: a chain
// client, verification and settlement services, payment builders, the
// server-side gate and the auto-paying HTTP client.
package x402

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vitwit/x402gate/clients"
	x402http "github.com/vitwit/x402gate/http"
	"github.com/vitwit/x402gate/logger"
	"github.com/vitwit/x402gate/metrics"
	"github.com/vitwit/x402gate/payment"
	"github.com/vitwit/x402gate/settlement"
	"github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/verification"
)

const defaultTimeout = 30 * time.Second

// X402 is the main struct that provides all x402 functionality
type X402 struct {
	verificationService *verification.VerificationService
	settlementService   *settlement.SettlementService
	sequencer           *payment.NonceSequencer
	client              clients.Client
	config              types.X402Config

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration

	mu        sync.RWMutex
	supported []types.SupportedItem
}

// New creates an X402 instance and enables every network listed in config.
// Unless overridden by options, logging goes to a zap logger at
// config.LogLevel, metrics to Prometheus when config.EnableMetrics is set,
// and chain calls to a NodeClient using the configured URLs.
func New(config *types.X402Config, opts ...Option) (*X402, error) {
	if config == nil {
		config = &types.X402Config{}
	}

	x := &X402{config: *config}
	for _, opt := range opts {
		opt(x)
	}

	if x.timeout <= 0 {
		x.timeout = config.DefaultTimeout
	}
	if x.timeout <= 0 {
		x.timeout = defaultTimeout
	}
	if x.logger == nil {
		if config.LogLevel != "" {
			x.logger = logger.NewZapLogger(config.LogLevel)
		} else {
			x.logger = logger.NoopLogger{}
		}
	}
	if x.metrics == nil {
		if config.EnableMetrics {
			rec, err := metrics.NewPrometheusRecorder(nil)
			if err != nil {
				return nil, fmt.Errorf("failed to register metrics: %w", err)
			}
			x.metrics = rec
		} else {
			x.metrics = metrics.NoopRecorder{}
		}
	}
	if x.client == nil {
		nodeOpts := []clients.NodeOption{clients.WithNodeLogger(x.logger)}
		for _, n := range config.Networks {
			if n.URL != "" {
				nodeOpts = append(nodeOpts, clients.WithEndpoint(n.Network, n.URL))
			}
		}
		x.client = clients.NewNodeClient(nodeOpts...)
	}

	x.verificationService = verification.NewVerificationService(
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
	)
	x.settlementService = settlement.NewSettlementService(x.client, x.timeout,
		settlement.WithLogger(x.logger),
		settlement.WithMetrics(x.metrics),
	)
	x.sequencer = payment.NewNonceSequencer(x.client)

	for _, n := range config.Networks {
		if err := x.AddNetwork(n.Network); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// NewWithDefaults creates an X402 instance for testnet with info logging.
func NewWithDefaults(opts ...Option) (*X402, error) {
	return New(&types.X402Config{
		DefaultTimeout: defaultTimeout,
		LogLevel:       "info",
		Networks:       []types.NetworkConfig{{Network: types.NetworkTestnet}},
	}, opts...)
}

// AddNetwork enables verification and settlement on network.
func (x *X402) AddNetwork(network types.Network) error {
	if err := x.verificationService.AddNetwork(network); err != nil {
		return err
	}
	if err := x.settlementService.AddNetwork(network); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, item := range x.supported {
		if item.Network == network.String() {
			return nil
		}
	}
	x.supported = append(x.supported, types.SupportedItem{
		X402Version: int(types.X402Version1),
		Scheme:      string(types.SchemeExact),
		Network:     network.String(),
		ChainID:     network.ChainID(),
	})
	return nil
}

// IsNetworkSupported checks if a network is supported
func (x *X402) IsNetworkSupported(network types.Network) bool {
	return x.verificationService.IsNetworkSupported(network) &&
		x.settlementService.IsNetworkSupported(network)
}

// Supported lists the payment kinds this instance accepts.
func (x *X402) Supported() *types.SupportedResponse {
	x.mu.RLock()
	defer x.mu.RUnlock()
	kinds := make([]types.SupportedItem, len(x.supported))
	copy(kinds, x.supported)
	return &types.SupportedResponse{Kinds: kinds, Version: Version}
}

// Verify verifies a payment against requirements
func (x *X402) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirement *types.PaymentRequirement,
) (*types.VerificationResult, error) {
	return x.verificationService.Verify(ctx, payload, requirement)
}

// Settle broadcasts a verified payment. An empty network means the one
// implied by the payload's chain id.
func (x *X402) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	network types.Network,
) (*types.SettlementResult, error) {
	return x.settlementService.Settle(ctx, payload, network)
}

// CheckStatus polls the ledger once for txID.
func (x *X402) CheckStatus(ctx context.Context, txID string, network types.Network) (*types.TxStatusResult, error) {
	return x.settlementService.CheckStatus(ctx, txID, network)
}

// WaitForConfirmation polls until txID is mined, fails, or ctx ends.
func (x *X402) WaitForConfirmation(
	ctx context.Context,
	txID string,
	network types.Network,
	interval time.Duration,
) (*types.SettlementResult, error) {
	return x.settlementService.WaitForConfirmation(ctx, txID, network, interval)
}

// Balance returns the native balance of address.
func (x *X402) Balance(ctx context.Context, address string, network types.Network) (*big.Int, error) {
	if !x.IsNetworkSupported(network) {
		return nil, types.NewError(types.CodeUnsupportedNetwork, fmt.Sprintf("network %s is not enabled", network), nil)
	}
	return x.client.FetchBalance(ctx, address, network)
}

// BatchVerify verifies multiple payments concurrently
func (x *X402) BatchVerify(
	ctx context.Context,
	payloads []*types.PaymentPayload,
	requirements []*types.PaymentRequirement,
) ([]*types.VerificationResult, error) {
	if len(payloads) == 0 {
		return nil, &types.X402Error{
			Code:    types.CodeInvalidRequirements,
			Message: "no payloads to verify",
		}
	}
	return x.verificationService.BatchVerify(ctx, payloads, requirements)
}

// BatchSettle settles multiple payments concurrently
func (x *X402) BatchSettle(
	ctx context.Context,
	payloads []*types.PaymentPayload,
	network types.Network,
) ([]*types.SettlementResult, error) {
	return x.settlementService.BatchSettle(ctx, payloads, network)
}

// NewBuilder returns a payment builder for wallet. Builders created by one
// X402 share a nonce sequencer, so concurrent payments from the same
// credential never reuse a nonce.
func (x *X402) NewBuilder(wallet types.WalletConfig, opts ...payment.BuilderOption) (*payment.Builder, error) {
	base := []payment.BuilderOption{
		payment.WithSequencer(x.sequencer),
		payment.WithLogger(x.logger),
		payment.WithMetrics(x.metrics),
	}
	return payment.NewBuilder(x.client, wallet, append(base, opts...)...)
}

// NewGate builds a gate backed by this instance's services. Verifier,
// Settler, Logger and Metrics are filled in when cfg leaves them unset.
func (x *X402) NewGate(cfg x402http.GateConfig) (*x402http.Gate, error) {
	if cfg.Verifier == nil {
		cfg.Verifier = x.verificationService
	}
	if cfg.Settler == nil && !cfg.VerifyOnly {
		cfg.Settler = x.settlementService
	}
	if cfg.Logger == nil {
		cfg.Logger = x.logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = x.metrics
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = x.timeout
	}
	return x402http.NewGate(cfg)
}

// NewClient returns an HTTP client that pays 402 demands with payer.
func (x *X402) NewClient(payer x402http.Payer, opts ...x402http.ClientOption) (*x402http.Client, error) {
	base := []x402http.ClientOption{
		x402http.WithLogger(x.logger),
		x402http.WithMetrics(x.metrics),
	}
	return x402http.NewClient(payer, append(base, opts...)...)
}

// Close flushes the logger.
func (x *X402) Close() {
	if s, ok := x.logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

// Version is the library version reported by Supported.
const Version = "1.0.0"
