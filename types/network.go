package types

import "fmt"

// Network represents a supported ledger network.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// Chain identifiers carried in every requirement, payload and transaction.
const (
	ChainIDMainnet uint32 = 0x00000001
	ChainIDTestnet uint32 = 0x80000000
)

// Transaction version bytes per network.
const (
	TxVersionMainnet uint8 = 0x00
	TxVersionTestnet uint8 = 0x80
)

// Default public node endpoints.
const (
	DefaultMainnetURL = "https://api.mainnet.hiro.so"
	DefaultTestnetURL = "https://api.testnet.hiro.so"
)

func (n Network) String() string {
	return string(n)
}

func (n Network) IsTestnet() bool {
	return n == NetworkTestnet
}

// IsSupported reports whether n is a known network.
func (n Network) IsSupported() bool {
	return n == NetworkMainnet || n == NetworkTestnet
}

// ChainID returns the chain identifier of the network, or 0 when unknown.
func (n Network) ChainID() uint32 {
	switch n {
	case NetworkMainnet:
		return ChainIDMainnet
	case NetworkTestnet:
		return ChainIDTestnet
	default:
		return 0
	}
}

// TxVersion returns the transaction version byte for the network.
func (n Network) TxVersion() uint8 {
	if n.IsTestnet() {
		return TxVersionTestnet
	}
	return TxVersionMainnet
}

// DefaultURL returns the public node endpoint of the network.
func (n Network) DefaultURL() string {
	if n.IsTestnet() {
		return DefaultTestnetURL
	}
	return DefaultMainnetURL
}

// NetworkForChainID maps a chain identifier back to its network.
func NetworkForChainID(chainID uint32) (Network, error) {
	switch chainID {
	case ChainIDMainnet:
		return NetworkMainnet, nil
	case ChainIDTestnet:
		return NetworkTestnet, nil
	default:
		return "", &X402Error{
			Code:    CodeUnsupportedNetwork,
			Message: fmt.Sprintf("unknown chain id 0x%08x", chainID),
		}
	}
}

// ParseNetwork validates a network name.
func ParseNetwork(s string) (Network, error) {
	n := Network(s)
	if !n.IsSupported() {
		return "", &X402Error{
			Code:    CodeUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", s),
		}
	}
	return n, nil
}
