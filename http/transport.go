package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vitwit/x402gate/encoding"
	"github.com/vitwit/x402gate/logger"
	"github.com/vitwit/x402gate/metrics"
	"github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

// Payer builds a signed payload answering a payment demand. *payment.Builder
// satisfies it.
type Payer interface {
	Pay(ctx context.Context, req types.PaymentRequirement) (*types.PaymentPayload, error)
}

// invalidator is implemented by payers that lease nonces and must be told
// when a payload never reached the ledger.
type invalidator interface {
	Invalidate(payload types.PaymentPayload)
}

// Transport is an http.RoundTripper that answers a 402 demand by paying it
// once and retrying the request with the Payment header. The request is
// first sent unmodified. Any response other than 402 is returned as is.
type Transport struct {
	// Base is the underlying RoundTripper. http.DefaultTransport when nil.
	Base http.RoundTripper

	// Payer signs payments. Without one the 402 response is returned.
	Payer Payer

	// MaxAmount is the largest amount the transport will pay for one
	// request, in the asset's smallest unit. Empty means zero.
	MaxAmount string

	Events  *Events
	Logger  logger.Logger
	Metrics metrics.Recorder
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) log() logger.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return logger.NoopLogger{}
}

func (t *Transport) recorder() metrics.Recorder {
	if t.Metrics != nil {
		return t.Metrics
	}
	return metrics.NoopRecorder{}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := t.base().RoundTrip(withBody(req, body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired || t.Payer == nil {
		return resp, nil
	}

	requirement, err := encoding.DecodeRequirement(resp.Header.Get(types.HeaderPaymentRequired))
	if err != nil {
		t.log().Debug("ignoring undecodable payment demand", map[string]any{
			"url":   req.URL.String(),
			"error": err.Error(),
		})
		return resp, nil
	}

	labels := map[string]string{"network": requirement.Network}
	ev := PaymentEvent{
		URL:       req.URL.String(),
		Amount:    requirement.Amount,
		Recipient: requirement.PayTo,
		Asset:     requirement.Asset,
		Network:   requirement.Network,
	}

	if err := t.checkCeiling(requirement.Amount); err != nil {
		t.recorder().IncCounter(metrics.AutoPayRefused, labels)
		t.log().Warn("refusing payment demand", map[string]any{
			"url":       req.URL.String(),
			"amount":    requirement.Amount,
			"maxAmount": t.MaxAmount,
		})
		ev.Type = PaymentEventFailure
		ev.Error = err
		t.Events.send(ev)
		return resp, nil
	}

	start := time.Now()
	ev.Type = PaymentEventAttempt
	ev.Timestamp = start
	t.Events.send(ev)

	fail := func(err error) {
		ev.Type = PaymentEventFailure
		ev.Timestamp = time.Time{}
		ev.Error = err
		ev.Duration = time.Since(start)
		t.Events.send(ev)
	}

	payload, err := t.Payer.Pay(req.Context(), requirement)
	if err != nil {
		drain(resp)
		fail(err)
		return nil, fmt.Errorf("x402: failed to build payment: %w", err)
	}
	token, err := encoding.EncodePayment(*payload)
	if err != nil {
		drain(resp)
		fail(err)
		return nil, fmt.Errorf("x402: failed to encode payment: %w", err)
	}
	drain(resp)

	retry := withBody(req, body)
	retry.Header.Set(types.HeaderPayment, token)

	retryResp, err := t.base().RoundTrip(retry)
	if err != nil {
		t.invalidate(*payload)
		fail(err)
		return nil, err
	}

	if retryResp.StatusCode == http.StatusPaymentRequired {
		t.invalidate(*payload)
		fail(types.NewError(types.CodeSettlementFailure, "payment was rejected", nil))
		t.log().Info("payment rejected by server", map[string]any{
			"url":    req.URL.String(),
			"amount": requirement.Amount,
		})
		return retryResp, nil
	}

	if value := retryResp.Header.Get(types.HeaderPaymentResponse); value != "" {
		if receipt, err := encoding.DecodeReceipt(value); err == nil {
			ev.TxID = receipt.TxID
		} else {
			t.log().Warn("invalid payment response header", map[string]any{"error": err.Error()})
		}
	}

	t.recorder().IncCounter(metrics.AutoPaySucceeded, labels)
	t.log().Info("payment accepted", map[string]any{
		"url":    req.URL.String(),
		"amount": requirement.Amount,
		"txId":   ev.TxID,
	})
	ev.Type = PaymentEventSuccess
	ev.Timestamp = time.Time{}
	ev.Duration = time.Since(start)
	t.Events.send(ev)

	return retryResp, nil
}

func (t *Transport) checkCeiling(amount string) error {
	ceiling := t.MaxAmount
	if ceiling == "" {
		ceiling = "0"
	}
	cmp, err := utils.CompareAmounts(amount, ceiling)
	if err != nil {
		return types.NewError(types.CodeAmountCeilingExceeded, "payment ceiling is not a valid amount", err)
	}
	if cmp > 0 {
		return types.NewError(types.CodeAmountCeilingExceeded,
			fmt.Sprintf("amount %s exceeds ceiling %s", amount, ceiling), nil)
	}
	return nil
}

func (t *Transport) invalidate(payload types.PaymentPayload) {
	if inv, ok := t.Payer.(invalidator); ok {
		inv.Invalidate(payload)
	}
}

// readBody consumes and closes the request body so it can be replayed.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("x402: failed to read request body: %w", err)
	}
	return body, nil
}

func withBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body == nil {
		return clone
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return clone
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

