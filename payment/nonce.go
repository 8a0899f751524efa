package payment

import (
	"context"
	"strings"
	"sync"

	"github.com/vitwit/x402gate/types"
)

// NonceFetcher reads the next account nonce from the ledger.
type NonceFetcher interface {
	FetchNonce(ctx context.Context, address string, network types.Network) (uint64, error)
}

type senderCursor struct {
	mu     sync.Mutex
	next   uint64
	loaded bool
}

// NonceSequencer leases nonces per sender. The first lease for a sender reads
// the ledger; later leases count up locally while holding that sender's lock,
// so concurrent builds from one credential never share a nonce. Unrelated
// senders do not contend.
type NonceSequencer struct {
	fetcher NonceFetcher

	mu      sync.Mutex
	senders map[string]*senderCursor
}

func NewNonceSequencer(fetcher NonceFetcher) *NonceSequencer {
	return &NonceSequencer{
		fetcher: fetcher,
		senders: make(map[string]*senderCursor),
	}
}

func cursorKey(address string, network types.Network) string {
	return network.String() + "/" + strings.ToLower(address)
}

func (s *NonceSequencer) cursor(address string, network types.Network) *senderCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey(address, network)
	c, ok := s.senders[key]
	if !ok {
		c = &senderCursor{}
		s.senders[key] = c
	}
	return c
}

// Next leases the next nonce for address.
func (s *NonceSequencer) Next(ctx context.Context, address string, network types.Network) (uint64, error) {
	c := s.cursor(address, network)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		n, err := s.fetcher.FetchNonce(ctx, address, network)
		if err != nil {
			return 0, err
		}
		c.next = n
		c.loaded = true
	}

	n := c.next
	c.next++
	return n, nil
}

// Invalidate drops the local cursor so the next lease reads the ledger again.
// Call it after a build or broadcast that did not consume its nonce.
func (s *NonceSequencer) Invalidate(address string, network types.Network) {
	c := s.cursor(address, network)
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// Observe records that nonce was used explicitly, moving the cursor past it.
func (s *NonceSequencer) Observe(address string, network types.Network, nonce uint64) {
	c := s.cursor(address, network)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded && nonce >= c.next {
		c.next = nonce + 1
	}
}
