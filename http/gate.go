package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vitwit/x402gate/encoding"
	"github.com/vitwit/x402gate/logger"
	"github.com/vitwit/x402gate/metrics"
	"github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

// Default gate timings.
const (
	DefaultSettleTimeout  = 30 * time.Second
	DefaultConfirmTimeout = 60 * time.Second
	DefaultRetryAfter     = 5 * time.Second
)

// Finality selects when a settled payment releases the resource.
type Finality int

const (
	// FinalitySubmitted releases the resource once the ledger accepted the
	// broadcast.
	FinalitySubmitted Finality = iota
	// FinalityConfirmed waits for the transaction to be mined.
	FinalityConfirmed
)

// PaymentVerifier checks a payload against the requirement it answers.
// *verification.VerificationService satisfies it.
type PaymentVerifier interface {
	Verify(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirement) (*types.VerificationResult, error)
}

// PaymentSettler broadcasts verified payloads. *settlement.SettlementService
// satisfies it.
type PaymentSettler interface {
	Settle(ctx context.Context, payload *types.PaymentPayload, network types.Network) (*types.SettlementResult, error)
	WaitForConfirmation(ctx context.Context, txID string, network types.Network, interval time.Duration) (*types.SettlementResult, error)
}

// Price describes what a route costs.
type Price struct {
	// Amount in the smallest unit of the native asset.
	Amount            string
	Description       string
	MaxTimeoutSeconds int
}

// GateConfig configures a Gate.
type GateConfig struct {
	// Network payments are accepted on.
	Network types.Network

	// PayTo receives every payment.
	PayTo string

	// Routes prices requests by "METHOD /path" or by "/path" for any method.
	// Requests matching neither pass through.
	Routes map[string]Price

	Verifier PaymentVerifier
	Settler  PaymentSettler

	// VerifyOnly forwards verified requests without broadcasting. The
	// payload must still carry a signed transaction so the signature can be
	// checked. Nothing advances the payer's nonce, so a verify-only payload
	// can be replayed until the same transaction is settled elsewhere.
	VerifyOnly bool

	Finality       Finality
	SettleTimeout  time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration

	// RetryAfter is advertised when the ledger could not be reached.
	RetryAfter time.Duration

	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Gate is net/http middleware that demands, verifies and settles payment
// for priced routes before the protected handler runs.
type Gate struct {
	cfg GateConfig
}

type contextKey string

const receiptContextKey = contextKey("x402_receipt")

// ReceiptFromContext returns the settlement receipt the gate attached to a
// forwarded request.
func ReceiptFromContext(ctx context.Context) (types.SettlementReceipt, bool) {
	receipt, ok := ctx.Value(receiptContextKey).(types.SettlementReceipt)
	return receipt, ok
}

// NewGate validates cfg and fills in defaults.
func NewGate(cfg GateConfig) (*Gate, error) {
	if !cfg.Network.IsSupported() {
		return nil, types.NewError(types.CodeUnsupportedNetwork, fmt.Sprintf("network %q is not supported", cfg.Network), nil)
	}
	if err := utils.ValidateAddress(cfg.PayTo); err != nil {
		return nil, types.NewError(types.CodeInvalidRequirements, "invalid payTo address", err)
	}
	cfg.PayTo = utils.NormalizeAddress(cfg.PayTo)
	for route, price := range cfg.Routes {
		if _, err := utils.ValidateAmount(price.Amount); err != nil {
			return nil, types.NewError(types.CodeInvalidRequirements, fmt.Sprintf("route %q has an invalid amount", route), err)
		}
		if price.MaxTimeoutSeconds < 0 {
			return nil, types.NewError(types.CodeInvalidRequirements, fmt.Sprintf("route %q has a negative timeout", route), nil)
		}
	}
	if cfg.Verifier == nil {
		return nil, errors.New("x402: gate requires a verifier")
	}
	if cfg.Settler == nil && !cfg.VerifyOnly {
		return nil, errors.New("x402: gate requires a settler unless VerifyOnly is set")
	}

	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopRecorder{}
	}
	return &Gate{cfg: cfg}, nil
}

func (g *Gate) price(r *http.Request) (Price, bool) {
	if p, ok := g.cfg.Routes[r.Method+" "+r.URL.Path]; ok {
		return p, true
	}
	p, ok := g.cfg.Routes[r.URL.Path]
	return p, ok
}

// Requirement returns the requirement the gate demands for r, if r is priced.
func (g *Gate) Requirement(r *http.Request) (types.PaymentRequirement, bool) {
	p, ok := g.price(r)
	if !ok {
		return types.PaymentRequirement{}, false
	}
	return types.PaymentRequirement{
		Scheme:            string(types.SchemeExact),
		Network:           g.cfg.Network.String(),
		ChainID:           g.cfg.Network.ChainID(),
		PayTo:             g.cfg.PayTo,
		Amount:            p.Amount,
		Asset:             types.NativeAsset,
		Description:       p.Description,
		Resource:          r.URL.Path,
		MaxTimeoutSeconds: p.MaxTimeoutSeconds,
	}, true
}

// Wrap returns next guarded by the gate.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := g.Requirement(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		labels := map[string]string{"network": g.cfg.Network.String()}
		defer func() {
			g.cfg.Metrics.ObserveLatency(metrics.OpGate, time.Since(start), labels)
		}()

		header := r.Header.Get(types.HeaderPayment)
		if header == "" {
			g.cfg.Metrics.IncCounter(metrics.PaymentDemanded, labels)
			g.cfg.Logger.Debug("payment demanded", map[string]any{"path": r.URL.Path, "amount": req.Amount})
			g.demand(w, req, "payment required", "", nil)
			return
		}

		payload, err := encoding.DecodePayment(header)
		if err != nil {
			g.cfg.Metrics.IncCounter(metrics.PaymentRejected, labels)
			g.cfg.Logger.Info("malformed payment header", map[string]any{"path": r.URL.Path, "error": err.Error()})
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: types.CodeOf(err)})
			return
		}

		result, err := g.cfg.Verifier.Verify(r.Context(), &payload, &req)
		if err != nil {
			g.cfg.Logger.Info("verification aborted", map[string]any{"path": r.URL.Path, "error": err.Error()})
			g.demand(w, req, "verification aborted", types.CodeOf(err), nil)
			return
		}
		if !result.IsValid {
			g.cfg.Metrics.IncCounter(metrics.PaymentRejected, labels)
			g.demand(w, req, result.Message, result.ErrorCode, map[string]string{"reason": result.InvalidReason})
			return
		}

		receipt := types.SettlementReceipt{}
		if g.cfg.VerifyOnly && payload.SerializedTx == "" {
			g.cfg.Metrics.IncCounter(metrics.PaymentRejected, labels)
			g.demand(w, req, "payload carries no serialized transaction", types.CodeMissingTransaction, nil)
			return
		}
		if !g.cfg.VerifyOnly {
			receipt, ok = g.settle(w, r, &payload, req)
			if !ok {
				g.cfg.Metrics.IncCounter(metrics.PaymentRejected, labels)
				return
			}
		}

		value, err := encoding.EncodeReceipt(receipt)
		if err != nil {
			g.internalError(w, err)
			return
		}
		w.Header().Set(types.HeaderPaymentResponse, value)

		g.cfg.Metrics.IncCounter(metrics.PaymentAccepted, labels)
		g.cfg.Logger.Info("payment accepted", map[string]any{
			"path":    r.URL.Path,
			"amount":  req.Amount,
			"txId":    receipt.TxID,
			"settled": receipt.Settled,
		})

		ctx := context.WithValue(r.Context(), receiptContextKey, receipt)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// settle broadcasts payload and, under FinalityConfirmed, waits for it to
// be mined. It writes the rejection itself and reports false on failure.
func (g *Gate) settle(w http.ResponseWriter, r *http.Request, payload *types.PaymentPayload, req types.PaymentRequirement) (types.SettlementReceipt, bool) {
	if err := r.Context().Err(); err != nil {
		g.cfg.Logger.Info("request cancelled before settlement", map[string]any{"path": r.URL.Path})
		g.demand(w, req, "request cancelled", "", nil)
		return types.SettlementReceipt{}, false
	}

	// Once broadcast starts it must not be abandoned with the request.
	detached := context.WithoutCancel(r.Context())
	settleCtx, cancel := context.WithTimeout(detached, g.cfg.SettleTimeout)
	defer cancel()

	result, err := g.cfg.Settler.Settle(settleCtx, payload, g.cfg.Network)
	if err != nil {
		result = &types.SettlementResult{ErrorCode: types.CodeOf(err), Error: err.Error()}
	}
	if !result.Success {
		g.cfg.Logger.Warn("settlement rejected", map[string]any{
			"path":  r.URL.Path,
			"code":  result.ErrorCode,
			"error": result.Error,
		})
		if result.ErrorCode == types.CodeNetworkUnavailable {
			g.setRetryAfter(w)
		}
		g.demand(w, req, result.Error, result.ErrorCode, nil)
		return types.SettlementReceipt{}, false
	}

	receipt := types.SettlementReceipt{TxID: result.TxID, Settled: true}
	if g.cfg.Finality != FinalityConfirmed {
		return receipt, true
	}

	confirmCtx, cancelConfirm := context.WithTimeout(detached, g.cfg.ConfirmTimeout)
	defer cancelConfirm()

	confirmed, err := g.cfg.Settler.WaitForConfirmation(confirmCtx, result.TxID, g.cfg.Network, g.cfg.PollInterval)
	switch {
	case err != nil:
		g.cfg.Logger.Warn("confirmation timed out", map[string]any{"txId": result.TxID, "error": err.Error()})
		g.setRetryAfter(w)
		if value, encErr := encoding.EncodeReceipt(types.SettlementReceipt{TxID: result.TxID}); encErr == nil {
			w.Header().Set(types.HeaderPaymentResponse, value)
		}
		g.demand(w, req, "transaction not confirmed in time", types.CodeNetworkUnavailable, map[string]string{"txId": result.TxID})
		return types.SettlementReceipt{}, false
	case !confirmed.Success:
		g.cfg.Logger.Warn("transaction failed on chain", map[string]any{"txId": result.TxID, "error": confirmed.Error})
		g.demand(w, req, confirmed.Error, confirmed.ErrorCode, map[string]string{"txId": result.TxID})
		return types.SettlementReceipt{}, false
	}
	return receipt, true
}

func (g *Gate) setRetryAfter(w http.ResponseWriter) {
	seconds := int(g.cfg.RetryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}

type demandBody struct {
	Error   string                     `json:"error"`
	Code    string                     `json:"code,omitempty"`
	Details map[string]string          `json:"details,omitempty"`
	Accepts []types.PaymentRequirement `json:"accepts"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// demand answers 402 with req in the Payment-Required header.
func (g *Gate) demand(w http.ResponseWriter, req types.PaymentRequirement, message, code string, details map[string]string) {
	token, err := encoding.EncodeRequirement(req)
	if err != nil {
		g.internalError(w, err)
		return
	}
	w.Header().Set(types.HeaderPaymentRequired, token)
	writeJSON(w, http.StatusPaymentRequired, demandBody{
		Error:   message,
		Code:    code,
		Details: details,
		Accepts: []types.PaymentRequirement{req},
	})
}

func (g *Gate) internalError(w http.ResponseWriter, err error) {
	g.cfg.Logger.Error("gate failure", map[string]any{"error": err.Error()})
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: types.CodeInternal})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
