package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/x402gate/clients"
	"github.com/vitwit/x402gate/logger"
	"github.com/vitwit/x402gate/metrics"
	"github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

// DefaultPollInterval is used by WaitForConfirmation when no interval is given.
const DefaultPollInterval = 2 * time.Second

// SettlementService broadcasts verified payments through a chain client.
// Protocol failures are returned inside the SettlementResult, never as errors.
type SettlementService struct {
	client  clients.Client
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder

	mu       sync.RWMutex
	networks map[types.Network]struct{}
}

type Option func(*SettlementService)

func WithLogger(l logger.Logger) Option {
	return func(s *SettlementService) {
		s.logger = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *SettlementService) {
		s.metrics = m
	}
}

// NewSettlementService creates a new settlement service. timeout bounds each
// chain call; zero means the caller's context alone bounds it.
func NewSettlementService(client clients.Client, timeout time.Duration, opts ...Option) *SettlementService {
	s := &SettlementService{
		client:   client,
		timeout:  timeout,
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		networks: make(map[types.Network]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddNetwork enables settlement on network.
func (s *SettlementService) AddNetwork(network types.Network) error {
	if !network.IsSupported() {
		return &types.X402Error{
			Code:    types.CodeUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not supported", network),
		}
	}

	s.mu.Lock()
	s.networks[network] = struct{}{}
	s.mu.Unlock()
	return nil
}

// IsNetworkSupported checks if a network is supported for settlement
func (s *SettlementService) IsNetworkSupported(network types.Network) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.networks[network]
	return ok
}

// GetSupportedNetworks returns all networks that have been enabled
func (s *SettlementService) GetSupportedNetworks() []types.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	networks := make([]types.Network, 0, len(s.networks))
	for network := range s.networks {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

func (s *SettlementService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func failed(network types.Network, code, message string) *types.SettlementResult {
	return &types.SettlementResult{
		Success:   false,
		Network:   network.String(),
		ErrorCode: code,
		Error:     message,
	}
}

// Settle broadcasts payload.SerializedTx. The target network is override when
// set, otherwise the network implied by payload.ChainID.
func (s *SettlementService) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	override types.Network,
) (*types.SettlementResult, error) {
	if payload == nil || payload.SerializedTx == "" {
		return failed(override, types.CodeMissingTransaction, "payload carries no serialized transaction"), nil
	}

	network := override
	if network == "" {
		n, err := types.NetworkForChainID(payload.ChainID)
		if err != nil {
			return failed(network, types.CodeUnsupportedNetwork, err.Error()), nil
		}
		network = n
	}
	if !s.IsNetworkSupported(network) {
		return failed(network, types.CodeUnsupportedNetwork, fmt.Sprintf("network %s is not enabled", network)), nil
	}

	tx, err := clients.DecodeTransactionHex(payload.SerializedTx)
	if err != nil {
		return failed(network, types.CodeSettlementFailure, fmt.Sprintf("invalid transaction: %v", err)), nil
	}

	settlementID := uuid.NewString()
	labels := map[string]string{"network": network.String()}
	start := time.Now()

	settleCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	txID, err := s.client.Broadcast(settleCtx, tx, network)
	s.metrics.ObserveLatency(metrics.OpSettle, time.Since(start), labels)
	if err != nil {
		code, message := classify(err)
		s.metrics.IncCounter(metrics.SettlementFailed, labels)
		s.logger.Warn("settlement failed", map[string]any{
			"settlementId": settlementID,
			"network":      network.String(),
			"code":         code,
			"error":        message,
		})
		return failed(network, code, message), nil
	}

	s.metrics.IncCounter(metrics.SettlementSucceeded, labels)
	s.logger.Info("payment settled", map[string]any{
		"settlementId": settlementID,
		"network":      network.String(),
		"txId":         txID,
		"amount":       payload.Amount,
		"payTo":        payload.PayTo,
	})

	return &types.SettlementResult{
		Success: true,
		TxID:    txID,
		Network: network.String(),
	}, nil
}

// classify maps a chain client error to a settlement error code and the text
// reported to the payer.
func classify(err error) (string, string) {
	var xe *types.X402Error
	if errors.As(err, &xe) {
		switch xe.Code {
		case types.CodeSettlementFailure:
			return xe.Code, xe.Message
		case types.CodeNetworkUnavailable:
			return xe.Code, err.Error()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.CodeNetworkUnavailable, err.Error()
	}
	return types.CodeSettlementFailure, err.Error()
}

// CheckStatus polls the chain once for txID.
func (s *SettlementService) CheckStatus(ctx context.Context, txID string, network types.Network) (*types.TxStatusResult, error) {
	if !s.IsNetworkSupported(network) {
		return nil, &types.X402Error{
			Code:    types.CodeUnsupportedNetwork,
			Message: fmt.Sprintf("network %s is not enabled", network),
		}
	}
	if err := utils.ValidateTxID(txID); err != nil {
		return nil, types.NewError(types.CodeInvalidTransaction, "invalid transaction id", err)
	}

	checkCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	status, err := s.client.FetchTxStatus(checkCtx, txID, network)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.CodeNetworkUnavailable, "status check timed out", err)
		}
		return nil, err
	}
	return status, nil
}

// WaitForConfirmation polls until txID reaches a terminal status or ctx ends.
// Unreachable-node errors and not_found answers are retried on the next tick.
func (s *SettlementService) WaitForConfirmation(
	ctx context.Context,
	txID string,
	network types.Network,
	interval time.Duration,
) (*types.SettlementResult, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := s.CheckStatus(ctx, txID, network)
		switch {
		case err != nil && !errors.Is(err, types.ErrNetworkUnavailable):
			return nil, err
		case err != nil:
			s.logger.Warn("status check failed", map[string]any{"txId": txID, "error": err.Error()})
		case status.Status == types.TxStatusSuccess:
			return &types.SettlementResult{
				Success:     true,
				TxID:        txID,
				Network:     network.String(),
				BlockHeight: status.BlockHeight,
			}, nil
		case status.Status == types.TxStatusFailed:
			return &types.SettlementResult{
				Success:     false,
				TxID:        txID,
				Network:     network.String(),
				BlockHeight: status.BlockHeight,
				ErrorCode:   types.CodeSettlementFailure,
				Error:       fmt.Sprintf("transaction failed: %s", status.Reason),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// BatchSettle settles multiple payments concurrently
func (s *SettlementService) BatchSettle(
	ctx context.Context,
	payloads []*types.PaymentPayload,
	override types.Network,
) ([]*types.SettlementResult, error) {
	results := make([]*types.SettlementResult, len(payloads))

	// Create a channel to collect results
	type settlementResult struct {
		index  int
		result *types.SettlementResult
	}

	resultChan := make(chan settlementResult, len(payloads))

	// Start settlement goroutines
	for i, payload := range payloads {
		go func(index int, p *types.PaymentPayload) {
			result, _ := s.Settle(ctx, p, override)
			resultChan <- settlementResult{
				index:  index,
				result: result,
			}
		}(i, payload)
	}

	// Collect results
	for i := 0; i < len(payloads); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			// Individual failures are recorded in the result objects
			results[res.index] = res.result
		}
	}

	return results, nil
}
