package events

import (
	"math/big"
	"strings"

	"nftmarket/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func accountString(addr [20]byte) string {
	return crypto.NewAddress(crypto.AccountPrefix, addr[:]).String()
}

func contractString(addr [20]byte) string {
	return crypto.NewAddress(crypto.ContractPrefix, addr[:]).String()
}
