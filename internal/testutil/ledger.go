// Package testutil provides an in-memory ledger for tests and examples.
package testutil

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/vitwit/x402gate/clients"
	"github.com/vitwit/x402gate/types"
)

// Well-known keys used across tests.
const (
	PayerKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	PayerAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	PayeeKey     = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	PayeeAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	StrangerAddr = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

type account struct {
	balance *big.Int
	nonce   uint64
}

type record struct {
	status types.TxStatus
	height uint64
	reason string
}

// Ledger implements clients.Client without a node. Broadcasts are checked for
// signature, nonce order and balance, then held as pending until Mine runs.
type Ledger struct {
	clients.LocalSigner

	mu          sync.Mutex
	accounts    map[string]*account
	txs         map[string]*record
	height      uint64
	unavailable bool
	rejectNext  string
	autoMine    bool

	broadcasts int
	nonceReads int
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
		txs:      make(map[string]*record),
	}
}

func (l *Ledger) acct(address string) *account {
	key := strings.ToLower(address)
	a, ok := l.accounts[key]
	if !ok {
		a = &account{balance: new(big.Int)}
		l.accounts[key] = a
	}
	return a
}

// Fund credits amount to address.
func (l *Ledger) Fund(address string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.acct(address)
	a.balance.Add(a.balance, big.NewInt(amount))
}

// SetUnavailable makes every call fail with NetworkUnavailable.
func (l *Ledger) SetUnavailable(down bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = down
}

// RejectNext makes the next broadcast fail with reason.
func (l *Ledger) RejectNext(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejectNext = reason
}

// SetAutoMine confirms every accepted broadcast immediately.
func (l *Ledger) SetAutoMine(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.autoMine = on
}

// Mine confirms all pending transactions in a new block.
func (l *Ledger) Mine() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mineLocked()
}

func (l *Ledger) mineLocked() uint64 {
	l.height++
	for _, r := range l.txs {
		if r.status == types.TxStatusPending {
			r.status = types.TxStatusSuccess
			r.height = l.height
		}
	}
	return l.height
}

// Fail marks a pending transaction as aborted.
func (l *Ledger) Fail(txID, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.txs[txID]; ok {
		r.status = types.TxStatusFailed
		r.reason = reason
	}
}

// Balance returns the current balance of address.
func (l *Ledger) Balance(address string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.acct(address).balance)
}

// Broadcasts counts broadcast attempts that reached the ledger.
func (l *Ledger) Broadcasts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.broadcasts
}

// NonceReads counts FetchNonce calls that reached the ledger.
func (l *Ledger) NonceReads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonceReads
}

func (l *Ledger) down() error {
	if l.unavailable {
		return types.NewError(types.CodeNetworkUnavailable, "ledger offline", nil)
	}
	return nil
}

func (l *Ledger) FetchNonce(ctx context.Context, address string, network types.Network) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.down(); err != nil {
		return 0, err
	}
	l.nonceReads++
	return l.acct(address).nonce, nil
}

func (l *Ledger) FetchBalance(ctx context.Context, address string, network types.Network) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.down(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(l.acct(address).balance), nil
}

func (l *Ledger) Broadcast(ctx context.Context, tx *clients.Transaction, network types.Network) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.down(); err != nil {
		return "", err
	}
	l.broadcasts++

	reject := func(reason string) (string, error) {
		return "", types.NewError(types.CodeSettlementFailure, reason, nil)
	}

	if l.rejectNext != "" {
		reason := l.rejectNext
		l.rejectNext = ""
		return reject(reason)
	}
	if tx.ChainID != network.ChainID() {
		return reject("BadChainId")
	}
	if !tx.VerifySignature() {
		return reject("SignatureValidation")
	}
	sender, err := tx.Sender()
	if err != nil {
		return reject("BadPublicKey")
	}
	from := l.acct(sender.Hex())
	if tx.Auth.Nonce != from.nonce {
		return reject(fmt.Sprintf("BadNonce: expected %d, got %d", from.nonce, tx.Auth.Nonce))
	}
	cost := new(big.Int).Add(tx.Payload.Amount, new(big.Int).SetUint64(tx.Auth.Fee))
	if from.balance.Cmp(cost) < 0 {
		return reject("NotEnoughFunds")
	}

	txID, err := tx.TxID()
	if err != nil {
		return reject("Serialization")
	}
	if _, dup := l.txs[txID]; dup {
		return reject("ConflictingNonceInMempool")
	}

	from.nonce++
	from.balance.Sub(from.balance, cost)
	to := l.acct(tx.Payload.Recipient.Hex())
	to.balance.Add(to.balance, tx.Payload.Amount)
	l.txs[txID] = &record{status: types.TxStatusPending}

	if l.autoMine {
		l.mineLocked()
	}
	return txID, nil
}

func (l *Ledger) FetchTxStatus(ctx context.Context, txID string, network types.Network) (*types.TxStatusResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.down(); err != nil {
		return nil, err
	}
	r, ok := l.txs[txID]
	if !ok {
		return &types.TxStatusResult{TxID: txID, Status: types.TxStatusNotFound}, nil
	}
	return &types.TxStatusResult{
		TxID:        txID,
		Status:      r.status,
		BlockHeight: r.height,
		Reason:      r.reason,
	}, nil
}

var _ clients.Client = (*Ledger)(nil)
