package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vitwit/x402gate/logger"
	"github.com/vitwit/x402gate/metrics"
	"github.com/vitwit/x402gate/utils"
)

// Client is an http.Client whose transport pays 402 demands automatically.
type Client struct {
	*http.Client
	transport *Transport
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithHTTPClient uses hc as the base client. Its Transport becomes the base
// RoundTripper of the paying transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		copied := *hc
		c.Client = &copied
		return nil
	}
}

// WithMaxAmount sets the per-request payment ceiling in the asset's smallest
// unit.
func WithMaxAmount(amount string) ClientOption {
	return func(c *Client) error {
		if _, err := utils.ValidateAmount(amount); err != nil {
			return fmt.Errorf("invalid max amount: %w", err)
		}
		c.transport.MaxAmount = amount
		return nil
	}
}

// WithEvents publishes payment events on events.
func WithEvents(events *Events) ClientOption {
	return func(c *Client) error {
		c.transport.Events = events
		return nil
	}
}

func WithLogger(l logger.Logger) ClientOption {
	return func(c *Client) error {
		c.transport.Logger = l
		return nil
	}
}

func WithMetrics(m metrics.Recorder) ClientOption {
	return func(c *Client) error {
		c.transport.Metrics = m
		return nil
	}
}

// NewClient creates a Client that pays through payer. A ceiling must be
// given with WithMaxAmount.
func NewClient(payer Payer, opts ...ClientOption) (*Client, error) {
	if payer == nil {
		return nil, errors.New("x402: payer is required")
	}

	c := &Client{
		Client:    &http.Client{},
		transport: &Transport{Payer: payer, Events: &Events{}},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.transport.MaxAmount == "" {
		return nil, errors.New("x402: a payment ceiling is required (use WithMaxAmount)")
	}

	c.transport.Base = c.Client.Transport
	c.Client.Transport = c.transport
	return c, nil
}

// Events returns the feed the client publishes payment events on.
func (c *Client) Events() *Events {
	return c.transport.Events
}
