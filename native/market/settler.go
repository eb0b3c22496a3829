package market

import (
	"errors"
	"fmt"
	"math/big"

	coreerrors "nftmarket/core/errors"
)

type nativeLedger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

type tokenLedger interface {
	Exists(token [20]byte) bool
	TransferFrom(token, spender, from, to [20]byte, amount *big.Int) error
}

// PaymentSettler moves the purchase price from the buyer to the seller in the
// listing's currency. Implementations must either move the full amount or
// leave every balance untouched.
type PaymentSettler interface {
	Settle(currency Currency, amount, attached *big.Int, from, to [20]byte) error
	Supports(currency Currency) bool
}

// Settler settles native payments against the bank ledger and token payments
// through allowance-gated transfers on the token registry.
type Settler struct {
	native  nativeLedger
	tokens  tokenLedger
	spender [20]byte
}

// NewSettler wires the ledgers. Token transfers are performed on behalf of
// spender, which must hold the buyer's allowance.
func NewSettler(native nativeLedger, tokens tokenLedger, spender [20]byte) *Settler {
	return &Settler{native: native, tokens: tokens, spender: spender}
}

// Supports reports whether the currency can be settled.
func (s *Settler) Supports(currency Currency) bool {
	if s == nil || !currency.Valid() {
		return false
	}
	if currency.IsNative() {
		return s.native != nil
	}
	return s.tokens != nil && s.tokens.Exists(currency.Token)
}

// Settle transfers amount from the buyer to the seller. For the native
// currency the attached value must equal amount exactly; no change is given.
// Token payments must not carry attached value.
func (s *Settler) Settle(currency Currency, amount, attached *big.Int, from, to [20]byte) error {
	if s == nil {
		return errNilSettler
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidPrice
	}
	if !s.Supports(currency) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	if currency.IsNative() {
		if err := checkAttachedValue(amount, attached); err != nil {
			return err
		}
		if err := s.native.Transfer(from, to, amount); err != nil {
			return fmt.Errorf("market: native settlement: %w", err)
		}
		return nil
	}
	if attached != nil && attached.Sign() != 0 {
		return fmt.Errorf("market: token payment carries native value: %w", ErrExcessValue)
	}
	if err := s.tokens.TransferFrom(currency.Token, s.spender, from, to, amount); err != nil {
		if errors.Is(err, coreerrors.ErrUnknownToken) {
			return fmt.Errorf("%w: %w", ErrUnsupportedCurrency, err)
		}
		return fmt.Errorf("market: token settlement: %w", err)
	}
	return nil
}

func checkAttachedValue(amount, attached *big.Int) error {
	value := attached
	if value == nil {
		value = big.NewInt(0)
	}
	switch value.Cmp(amount) {
	case -1:
		return fmt.Errorf("%w: %w", ErrPriceMismatch, ErrInsufficientValue)
	case 1:
		return fmt.Errorf("%w: %w", ErrPriceMismatch, ErrExcessValue)
	default:
		return nil
	}
}
