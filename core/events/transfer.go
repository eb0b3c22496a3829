package events

import (
	"math/big"

	"nftmarket/core/types"
)

const (
	// TypeTransfer is emitted for native and token balance movements.
	TypeTransfer = "transfer.value"
	// TypeAllowance is emitted when a token holder sets a spender allowance.
	TypeAllowance = "transfer.allowance"
)

// NativeAsset labels native currency movements.
const NativeAsset = "NATIVE"

type Transfer struct {
	Asset  string
	Token  [20]byte
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	if e.Token != ([20]byte{}) {
		attrs["token"] = contractString(e.Token)
	}
	attrs["from"] = accountString(e.From)
	attrs["to"] = accountString(e.To)
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Allowance struct {
	Token   [20]byte
	Owner   [20]byte
	Spender [20]byte
	Amount  *big.Int
}

func (Allowance) EventType() string { return TypeAllowance }

func (e Allowance) Event() *types.Event {
	return &types.Event{
		Type: TypeAllowance,
		Attributes: map[string]string{
			"token":   contractString(e.Token),
			"owner":   accountString(e.Owner),
			"spender": accountString(e.Spender),
			"amount":  formatAmount(e.Amount),
		},
	}
}
