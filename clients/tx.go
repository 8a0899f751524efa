package clients

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/vitwit/x402gate/utils"
)

// Payload types
const (
	PayloadTokenTransfer uint8 = 0x00
	PayloadContractCall  uint8 = 0x02
)

// MaxMemoLength bounds the memo attached to a token transfer.
const MaxMemoLength = 34

// Authorization carries the spending condition of a transaction.
type Authorization struct {
	Nonce     uint64
	Fee       uint64
	PublicKey []byte // compressed secp256k1, 33 bytes
	Signature []byte // [R || S || V], 65 bytes
}

// Payload is what the transaction does once authorized.
type Payload struct {
	Type      uint8
	Recipient common.Address
	Amount    *big.Int
	Memo      []byte
	Contract  string
	Function  string
}

// Transaction is a single-signer ledger transaction. Its wire form is the RLP
// encoding of the struct.
type Transaction struct {
	Version uint8
	ChainID uint32
	Auth    Authorization
	Payload Payload
}

// NewTokenTransfer builds an unsigned native value transfer.
func NewTokenTransfer(version uint8, chainID uint32, nonce, fee uint64, to common.Address, amount *big.Int, memo []byte) *Transaction {
	return &Transaction{
		Version: version,
		ChainID: chainID,
		Auth: Authorization{
			Nonce: nonce,
			Fee:   fee,
		},
		Payload: Payload{
			Type:      PayloadTokenTransfer,
			Recipient: to,
			Amount:    new(big.Int).Set(amount),
			Memo:      memo,
		},
	}
}

// IsTokenTransfer reports whether the payload moves the native asset.
func (tx *Transaction) IsTokenTransfer() bool {
	return tx.Payload.Type == PayloadTokenTransfer
}

// SigningHash is the keccak256 of the encoding with the signature cleared.
func (tx *Transaction) SigningHash() (common.Hash, error) {
	unsigned := *tx
	unsigned.Auth.Signature = nil
	encoded, err := rlp.EncodeToBytes(&unsigned)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Sign fills in the public key and signature of the authorization.
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) error {
	tx.Auth.PublicKey = utils.CompressedPublicKey(key)
	hash, err := tx.SigningHash()
	if err != nil {
		return err
	}
	sig, err := utils.SignHash(hash.Bytes(), key)
	if err != nil {
		return err
	}
	tx.Auth.Signature = sig
	return nil
}

// VerifySignature checks the authorization signature against its public key.
func (tx *Transaction) VerifySignature() bool {
	if len(tx.Auth.PublicKey) == 0 || len(tx.Auth.Signature) == 0 {
		return false
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return false
	}
	return utils.VerifyHashSignature(tx.Auth.PublicKey, hash.Bytes(), tx.Auth.Signature)
}

// Sender derives the spending address from the authorization public key.
func (tx *Transaction) Sender() (common.Address, error) {
	return utils.AddressFromPublicKey(tx.Auth.PublicKey)
}

// Serialize returns the wire encoding.
func (tx *Transaction) Serialize() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return encoded, nil
}

// SerializeHex returns the 0x-prefixed hex wire encoding.
func (tx *Transaction) SerializeHex() (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(raw), nil
}

// TxID is the keccak256 of the signed wire encoding.
func (tx *Transaction) TxID() (string, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return "", err
	}
	return crypto.Keccak256Hash(raw).Hex(), nil
}

// DecodeTransaction parses the wire encoding. Trailing bytes are rejected.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := rlp.DecodeBytes(raw, tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if tx.Payload.Amount == nil {
		tx.Payload.Amount = new(big.Int)
	}
	return tx, nil
}

// DecodeTransactionHex parses a hex wire encoding, with or without 0x.
func DecodeTransactionHex(s string) (*Transaction, error) {
	raw, err := utils.DecodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("decode transaction hex: %w", err)
	}
	return DecodeTransaction(raw)
}
