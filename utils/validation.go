package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	integerPattern = regexp.MustCompile(`^[0-9]+$`)
	hexPattern     = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

// ValidateAmount checks that an amount string is a non-negative base-10
// integer in the smallest unit of the asset.
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	if !integerPattern.MatchString(amount) {
		return nil, fmt.Errorf("invalid amount format: %q is not a decimal integer", amount)
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	return &dec, nil
}

// ParseAmount converts a validated amount string into the ledger representation.
func ParseAmount(amount string) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}
	return dec.BigInt(), nil
}

// CompareAmounts returns -1, 0 or 1 as a is less than, equal to or greater than b.
func CompareAmounts(a, b string) (int, error) {
	da, err := ValidateAmount(a)
	if err != nil {
		return 0, err
	}
	db, err := ValidateAmount(b)
	if err != nil {
		return 0, err
	}
	return da.Cmp(*db), nil
}

// ValidateAddress checks a 0x-prefixed 20 byte hex address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !strings.HasPrefix(address, "0x") {
		return fmt.Errorf("address must start with 0x")
	}
	if len(address) != 42 {
		return fmt.Errorf("address must be 42 characters long")
	}
	if !isHexString(address[2:]) {
		return fmt.Errorf("address must be valid hex")
	}
	return nil
}

// ValidateTxID checks a 0x-prefixed 32 byte transaction id.
func ValidateTxID(txID string) error {
	if txID == "" {
		return fmt.Errorf("transaction id cannot be empty")
	}
	if !strings.HasPrefix(txID, "0x") {
		return fmt.Errorf("transaction id must start with 0x")
	}
	if len(txID) != 66 {
		return fmt.Errorf("transaction id must be 66 characters long")
	}
	if !isHexString(txID[2:]) {
		return fmt.Errorf("transaction id must be valid hex")
	}
	return nil
}

// Helper function to check if a string is valid hexadecimal
func isHexString(s string) bool {
	return hexPattern.MatchString(s)
}
