// Package bank maintains the native currency balances of every account.
package bank

import (
	"fmt"
	"math/big"
	"sync"

	coreerrors "nftmarket/core/errors"
	"nftmarket/core/events"
)

// Ledger is an in-process native currency ledger. Transfers are all-or-nothing:
// either both balances change or neither does.
type Ledger struct {
	mu       sync.RWMutex
	balances map[[20]byte]*big.Int
	emitter  events.Emitter
}

// NewLedger creates an empty ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[[20]byte]*big.Int),
		emitter:  events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(evt)
}

// Credit mints amount into the account. It is used to fund participants.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: credit amount must be positive: %w", coreerrors.ErrInvalidAmount)
	}
	l.mu.Lock()
	balance := l.balanceLocked(addr)
	balance.Add(balance, amount)
	l.mu.Unlock()

	l.emit(events.Transfer{Asset: events.NativeAsset, To: addr, Amount: new(big.Int).Set(amount)})
	return nil
}

// Balance returns a copy of the account balance.
func (l *Ledger) Balance(addr [20]byte) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if balance, ok := l.balances[addr]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// Transfer moves amount from one account to another. A zero amount is a no-op.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: transfer amount must not be negative: %w", coreerrors.ErrInvalidAmount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	source := l.balanceLocked(from)
	if source.Cmp(amount) < 0 {
		have := new(big.Int).Set(source)
		l.mu.Unlock()
		return fmt.Errorf("bank: balance %s below %s: %w", have, amount, coreerrors.ErrInsufficientBalance)
	}
	source.Sub(source, amount)
	dest := l.balanceLocked(to)
	dest.Add(dest, amount)
	l.mu.Unlock()

	l.emit(events.Transfer{Asset: events.NativeAsset, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// balanceLocked must be called with l.mu held for writing.
func (l *Ledger) balanceLocked(addr [20]byte) *big.Int {
	balance, ok := l.balances[addr]
	if !ok {
		balance = big.NewInt(0)
		l.balances[addr] = balance
	}
	return balance
}
