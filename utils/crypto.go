package utils

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// PrivateKeyFromHex creates a private key from hex string
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	// Remove 0x prefix if present
	hexKey = strings.TrimPrefix(hexKey, "0x")

	return crypto.HexToECDSA(hexKey)
}

// AddressFromPrivateKey derives the account address from a private key
func AddressFromPrivateKey(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// AddressFromPublicKey derives the account address from a compressed public key.
func AddressFromPublicKey(compressed []byte) (common.Address, error) {
	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// CompressedPublicKey returns the 33 byte compressed form of the key's public half.
func CompressedPublicKey(privateKey *ecdsa.PrivateKey) []byte {
	return crypto.CompressPubkey(&privateKey.PublicKey)
}

// SignHash signs a 32 byte hash and returns the 65 byte [R || S || V] signature.
func SignHash(hash []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	signature, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}

	return signature, nil
}

// VerifyHashSignature checks a [R || S || V] signature against a compressed public key.
func VerifyHashSignature(compressed, hash, signature []byte) bool {
	if len(signature) != crypto.SignatureLength {
		return false
	}
	return crypto.VerifySignature(compressed, hash, signature[:crypto.RecoveryIDOffset])
}

// DecodeHex decodes a hex string with or without the 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// NormalizeAddress returns the checksummed form of address, or "" when it
// is not a hex address.
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return ""
	}
	return common.HexToAddress(address).Hex()
}

// SameAddress compares two addresses ignoring checksum case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
