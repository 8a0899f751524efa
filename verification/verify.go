package verification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/x402gate/logger"
	"github.com/vitwit/x402gate/metrics"
	"github.com/vitwit/x402gate/types"
)

// VerificationService runs the Verifier for configured networks with logging
// and metrics around it.
type VerificationService struct {
	verifier Verifier
	networks map[types.Network]struct{}
	logger   logger.Logger
	metrics  metrics.Recorder

	mu sync.RWMutex
}

type Option func(*VerificationService)

func WithLogger(l logger.Logger) Option {
	return func(s *VerificationService) {
		s.logger = l
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *VerificationService) {
		s.metrics = m
	}
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *VerificationService) {
		s.verifier.Now = now
	}
}

// NewVerificationService creates a new verification service
func NewVerificationService(opts ...Option) *VerificationService {
	s := &VerificationService{
		networks: make(map[types.Network]struct{}),
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddNetwork enables verification for network.
func (s *VerificationService) AddNetwork(network types.Network) error {
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

// IsNetworkSupported checks if a network is supported
func (s *VerificationService) IsNetworkSupported(network types.Network) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.networks[network]
	return ok
}

// GetSupportedNetworks returns all configured networks
func (s *VerificationService) GetSupportedNetworks() []types.Network {
	s.mu.RLock()
	defer s.mu.RUnlock()
	networks := make([]types.Network, 0, len(s.networks))
	for network := range s.networks {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// Verify verifies a payment against requirements. Rejections are reported in
// the result; the error is reserved for a cancelled context.
func (s *VerificationService) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirement,
) (*types.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	network := types.Network(requirements.Network)
	var result *types.VerificationResult
	if !s.IsNetworkSupported(network) {
		result = reject(ReasonNetworkNotEnabled, "network %s is not enabled", network)
	} else {
		result = s.verifier.Verify(payload, requirements)
	}

	labels := map[string]string{"network": network.String()}
	s.metrics.ObserveLatency(metrics.OpVerify, time.Since(start), labels)
	if result.IsValid {
		s.metrics.IncCounter(metrics.VerificationSucceeded, labels)
		s.logger.Debug("payment verified", map[string]any{
			"network": network.String(),
			"amount":  payload.Amount,
			"nonce":   payload.Nonce,
		})
	} else {
		s.metrics.IncCounter(metrics.VerificationFailed, labels)
		s.logger.Info("payment rejected", map[string]any{
			"network": network.String(),
			"reason":  result.InvalidReason,
			"message": result.Message,
		})
	}

	return result, nil
}

// BatchVerify verifies multiple payments concurrently
func (s *VerificationService) BatchVerify(
	ctx context.Context,
	payloads []*types.PaymentPayload,
	requirements []*types.PaymentRequirement,
) ([]*types.VerificationResult, error) {
	if len(payloads) != len(requirements) {
		return nil, &types.X402Error{
			Code:    types.CodeInvalidRequirements,
			Message: "number of payloads must match number of requirements",
		}
	}

	results := make([]*types.VerificationResult, len(payloads))

	// Create a channel to collect results
	type verificationResult struct {
		index  int
		result *types.VerificationResult
		err    error
	}

	resultChan := make(chan verificationResult, len(payloads))

	// Start verification goroutines
	for i, payload := range payloads {
		go func(index int, p *types.PaymentPayload, r *types.PaymentRequirement) {
			result, err := s.Verify(ctx, p, r)
			resultChan <- verificationResult{
				index:  index,
				result: result,
				err:    err,
			}
		}(i, payload, requirements[i])
	}

	// Collect results
	for i := 0; i < len(payloads); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			if res.err != nil {
				return nil, res.err
			}
			results[res.index] = res.result
		}
	}

	return results, nil
}
