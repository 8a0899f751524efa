package x402

import (
	"time"

	"github.com/vitwit/x402gate/clients"
	"github.com/vitwit/x402gate/logger"
	"github.com/vitwit/x402gate/metrics"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.metrics = r
	}
}

// WithTimeout bounds every chain call made by the settlement service.
func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		x.timeout = t
	}
}

// WithChainClient replaces the node client built from the configured
// network URLs.
func WithChainClient(c clients.Client) Option {
	return func(x *X402) {
		x.client = c
	}
}
