package chains

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
)

// tronVersionByte prefixes every mainnet Tron address (base58: leading 'T').
const tronVersionByte = 0x41

// ValidateAddress checks the address format for the given network.
func ValidateAddress(n Network, address string) error {
	addr := strings.TrimSpace(address)
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	switch n {
	case NetworkArbitrum, NetworkEthereum:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid EVM address %q", addr)
		}
		return nil
	case NetworkTron:
		decoded, version, err := base58.CheckDecode(addr)
		if err != nil {
			return fmt.Errorf("invalid Tron address %q: %w", addr, err)
		}
		if version != tronVersionByte || len(decoded) != 20 {
			return fmt.Errorf("invalid Tron address %q", addr)
		}
		return nil
	}
	return fmt.Errorf("unknown network %q", n)
}

// NormalizeAddress canonicalizes an address for storage and comparison:
// EVM addresses are lower-cased hex, Tron base58 is case-significant and
// kept unchanged.
func NormalizeAddress(n Network, address string) string {
	addr := strings.TrimSpace(address)
	if n.IsEVM() {
		return strings.ToLower(addr)
	}
	return addr
}
