// Package payment builds signed payment payloads that answer a
// PaymentRequirement.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/vitwit/x402gate/clients"
	"github.com/vitwit/x402gate/logger"
	"github.com/vitwit/x402gate/metrics"
	"github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

// BuildOptions override ledger lookups for a single build.
type BuildOptions struct {
	// Nonce, when set, is used instead of leasing one.
	Nonce *uint64
	// Fee, when set, replaces clients.DefaultFee.
	Fee *uint64
}

// Builder signs native transfers for one credential.
type Builder struct {
	client    clients.Client
	wallet    types.WalletConfig
	sequencer *NonceSequencer
	logger    logger.Logger
	metrics   metrics.Recorder
	now       func() time.Time
}

type BuilderOption func(*Builder)

// WithSequencer leases nonces from s instead of reading the ledger per build.
func WithSequencer(s *NonceSequencer) BuilderOption {
	return func(b *Builder) {
		b.sequencer = s
	}
}

func WithLogger(l logger.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = l
	}
}

func WithMetrics(m metrics.Recorder) BuilderOption {
	return func(b *Builder) {
		b.metrics = m
	}
}

// WithClock sets the time source used for expiresAt.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(client clients.Client, wallet types.WalletConfig, opts ...BuilderOption) (*Builder, error) {
	if client == nil {
		return nil, errors.New("payment: chain client is required")
	}
	if wallet.PrivateKey == "" {
		return nil, types.NewError(types.CodeSigningError, "private key is required", nil)
	}

	b := &Builder{
		client:  client,
		wallet:  wallet,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build constructs and signs a payload for req.
//
// Errors carry CodeInvalidRequirements for requirements that cannot be paid
// natively, CodeSigningError for credential problems and CodeNonceUnavailable
// when no nonce was given and the ledger could not be read.
func (b *Builder) Build(ctx context.Context, req types.PaymentRequirement, opts BuildOptions) (*types.PaymentPayload, error) {
	start := time.Now()

	network, err := types.NetworkForChainID(req.ChainID)
	if err != nil {
		return nil, types.NewError(types.CodeInvalidRequirements, fmt.Sprintf("unknown chain id 0x%08x", req.ChainID), err)
	}
	if req.Asset != types.NativeAsset {
		return nil, types.NewError(types.CodeInvalidRequirements, fmt.Sprintf("unsupported asset %q", req.Asset), nil)
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		return nil, types.NewError(types.CodeInvalidRequirements, "invalid amount", err)
	}

	sender, err := b.client.DeriveAddress(b.wallet.PrivateKey, network)
	if err != nil {
		return nil, asCode(err, types.CodeSigningError, "failed to derive sender address")
	}
	if b.wallet.Address != "" && !utils.SameAddress(b.wallet.Address, sender) {
		return nil, types.NewError(types.CodeSigningError, "private key does not match configured address", nil)
	}

	nonce, leased, err := b.resolveNonce(ctx, sender, network, opts.Nonce)
	if err != nil {
		return nil, types.NewError(types.CodeNonceUnavailable, "failed to resolve nonce", err)
	}

	tx, err := b.client.SignTransfer(ctx, clients.TransferRequest{
		Recipient:  req.PayTo,
		Amount:     amount,
		PrivateKey: b.wallet.PrivateKey,
		Network:    network,
		Nonce:      nonce,
		Fee:        opts.Fee,
	})
	if err != nil {
		b.release(sender, network, leased)
		return nil, asCode(err, types.CodeSigningError, "failed to sign transfer")
	}

	serialized, err := tx.SerializeHex()
	if err != nil {
		b.release(sender, network, leased)
		return nil, types.NewError(types.CodeSigningError, "failed to serialize transfer", err)
	}

	// A signed payload that was never sent is safe to drop.
	if err := ctx.Err(); err != nil {
		b.release(sender, network, leased)
		return nil, err
	}

	payload := &types.PaymentPayload{
		Scheme:       req.Scheme,
		Network:      req.Network,
		ChainID:      req.ChainID,
		PayTo:        req.PayTo,
		Amount:       req.Amount,
		Asset:        req.Asset,
		Nonce:        tx.Auth.Nonce,
		Signature:    hexutil.Encode(tx.Auth.Signature),
		PublicKey:    hexutil.Encode(tx.Auth.PublicKey),
		SerializedTx: serialized,
	}
	if req.MaxTimeoutSeconds > 0 {
		expires := b.now().Add(time.Duration(req.MaxTimeoutSeconds) * time.Second).Unix()
		payload.ExpiresAt = &expires
	}

	labels := map[string]string{"network": network.String()}
	b.metrics.IncCounter(metrics.PaymentBuilt, labels)
	b.metrics.ObserveLatency(metrics.OpBuild, time.Since(start), labels)
	b.logger.Debug("payment built", map[string]any{
		"network": network.String(),
		"payer":   sender,
		"payTo":   req.PayTo,
		"amount":  req.Amount,
		"nonce":   payload.Nonce,
	})

	return payload, nil
}

// Pay builds a payload with ledger-resolved nonce and default fee.
func (b *Builder) Pay(ctx context.Context, req types.PaymentRequirement) (*types.PaymentPayload, error) {
	return b.Build(ctx, req, BuildOptions{})
}

// Invalidate tells the builder that payload was rejected before its
// transaction reached the ledger, so its nonce is free again.
func (b *Builder) Invalidate(payload types.PaymentPayload) {
	if b.sequencer == nil {
		return
	}
	network, err := types.NetworkForChainID(payload.ChainID)
	if err != nil {
		return
	}
	pub, err := utils.DecodeHex(payload.PublicKey)
	if err != nil {
		return
	}
	sender, err := utils.AddressFromPublicKey(pub)
	if err != nil {
		return
	}
	b.sequencer.Invalidate(sender.Hex(), network)
}

func (b *Builder) resolveNonce(ctx context.Context, sender string, network types.Network, explicit *uint64) (uint64, bool, error) {
	if explicit != nil {
		if b.sequencer != nil {
			b.sequencer.Observe(sender, network, *explicit)
		}
		return *explicit, false, nil
	}
	if b.sequencer != nil {
		n, err := b.sequencer.Next(ctx, sender, network)
		return n, true, err
	}
	n, err := b.client.FetchNonce(ctx, sender, network)
	return n, false, err
}

func (b *Builder) release(sender string, network types.Network, leased bool) {
	if leased && b.sequencer != nil {
		b.sequencer.Invalidate(sender, network)
	}
}

// asCode keeps err's own code when it already carries one from the accepted
// set, and otherwise wraps it under code.
func asCode(err error, code, message string) error {
	var xe *types.X402Error
	if errors.As(err, &xe) {
		switch xe.Code {
		case types.CodeSigningError, types.CodeInvalidRequirements, types.CodeUnsupportedNetwork:
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewError(code, message, err)
}

