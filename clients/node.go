package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vitwit/x402gate/logger"
	x402types "github.com/vitwit/x402gate/types"
	"github.com/vitwit/x402gate/utils"
)

// NodeClient talks to a ledger node's JSON/HTTP API, one base URL per network.
type NodeClient struct {
	LocalSigner

	endpoints  map[x402types.Network]string
	httpClient *http.Client
	logger     logger.Logger
}

type NodeOption func(*NodeClient)

// WithEndpoint overrides the node URL for one network.
func WithEndpoint(network x402types.Network, baseURL string) NodeOption {
	return func(c *NodeClient) {
		c.endpoints[network] = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(hc *http.Client) NodeOption {
	return func(c *NodeClient) {
		c.httpClient = hc
	}
}

func WithNodeLogger(l logger.Logger) NodeOption {
	return func(c *NodeClient) {
		c.logger = l
	}
}

// NewNodeClient returns a client for the public mainnet and testnet nodes,
// adjusted by opts.
func NewNodeClient(opts ...NodeOption) *NodeClient {
	c := &NodeClient{
		endpoints: map[x402types.Network]string{
			x402types.NetworkMainnet: x402types.NetworkMainnet.DefaultURL(),
			x402types.NetworkTestnet: x402types.NetworkTestnet.DefaultURL(),
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type nonceResponse struct {
	PossibleNextNonce uint64 `json:"possible_next_nonce"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type txResponse struct {
	TxID        string `json:"tx_id"`
	TxStatus    string `json:"tx_status"`
	BlockHeight uint64 `json:"block_height"`
}

func (c *NodeClient) FetchNonce(ctx context.Context, address string, network x402types.Network) (uint64, error) {
	var result nonceResponse
	if err := c.getMethod(ctx, network, fmt.Sprintf("/extended/v1/address/%s/nonces", url.PathEscape(address)), &result); err != nil {
		return 0, err
	}
	return result.PossibleNextNonce, nil
}

func (c *NodeClient) FetchBalance(ctx context.Context, address string, network x402types.Network) (*big.Int, error) {
	var result balanceResponse
	if err := c.getMethod(ctx, network, fmt.Sprintf("/extended/v1/address/%s/stx", url.PathEscape(address)), &result); err != nil {
		return nil, err
	}
	balance, err := utils.ParseAmount(result.Balance)
	if err != nil {
		return nil, fmt.Errorf("invalid balance from node: %w", err)
	}
	return balance, nil
}

func (c *NodeClient) Broadcast(ctx context.Context, tx *Transaction, network x402types.Network) (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", x402types.NewError(x402types.CodeInvalidTransaction, "failed to serialize transaction", err)
	}

	base, err := c.endpoint(network)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v2/transactions", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("broadcast failed", map[string]any{"network": network.String(), "error": err.Error()})
		return "", x402types.NewError(x402types.CodeNetworkUnavailable, "node unreachable", err)
	}

	var txID string
	if err := handleAPIResponse(resp, &txID); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			reason := apiErr.Reason
			if reason == "" {
				reason = apiErr.Message
			}
			return "", x402types.NewError(x402types.CodeSettlementFailure, reason, err)
		}
		return "", err
	}

	if !strings.HasPrefix(txID, "0x") {
		txID = "0x" + txID
	}
	c.logger.Debug("transaction broadcast", map[string]any{
		"network":  network.String(),
		"txId":     txID,
		"duration": time.Since(start).String(),
	})
	return txID, nil
}

func (c *NodeClient) FetchTxStatus(ctx context.Context, txID string, network x402types.Network) (*x402types.TxStatusResult, error) {
	var result txResponse
	err := c.getMethod(ctx, network, "/extended/v1/tx/"+url.PathEscape(txID), &result)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return &x402types.TxStatusResult{TxID: txID, Status: x402types.TxStatusNotFound}, nil
		}
		return nil, err
	}

	status := &x402types.TxStatusResult{
		TxID:        txID,
		BlockHeight: result.BlockHeight,
	}
	switch {
	case result.TxStatus == "success":
		status.Status = x402types.TxStatusSuccess
	case result.TxStatus == "pending":
		status.Status = x402types.TxStatusPending
	case strings.HasPrefix(result.TxStatus, "abort"), strings.HasPrefix(result.TxStatus, "dropped"):
		status.Status = x402types.TxStatusFailed
		status.Reason = result.TxStatus
	default:
		status.Status = x402types.TxStatusPending
	}
	return status, nil
}

func (c *NodeClient) endpoint(network x402types.Network) (string, error) {
	base, ok := c.endpoints[network]
	if !ok {
		return "", x402types.NewError(x402types.CodeUnsupportedNetwork, network.String(), nil)
	}
	return base, nil
}

func (c *NodeClient) getMethod(ctx context.Context, network x402types.Network, path string, result any) error {
	base, err := c.endpoint(network)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("node request failed", map[string]any{"network": network.String(), "path": path, "error": err.Error()})
		return x402types.NewError(x402types.CodeNetworkUnavailable, "node unreachable", err)
	}
	return handleAPIResponse(resp, result)
}
