package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeWalletAddress canonicalizes a wallet address so that lock keys and
// uniqueness checks do not depend on the caller's casing.
// EVM addresses become EIP-55 checksummed; other chains' addresses are trimmed.
func NormalizeWalletAddress(address string) string {
	address = strings.TrimSpace(address)
	if common.IsHexAddress(address) {
		return common.HexToAddress(address).Hex()
	}
	return address
}

// NormalizeToken upper-cases a token symbol
func NormalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
