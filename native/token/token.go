// Package token implements fungible payment tokens with holder balances and
// spender allowances. Tokens are addressed by a derived 20-byte address.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	coreerrors "nftmarket/core/errors"
	"nftmarket/core/events"
	"nftmarket/crypto"
)

var ErrTokenExists = errors.New("token: token already exists")

type allowanceKey struct {
	owner   [20]byte
	spender [20]byte
}

type ledger struct {
	symbol     string
	decimals   uint8
	supply     *big.Int
	balances   map[[20]byte]*big.Int
	allowances map[allowanceKey]*big.Int
}

// Metadata describes a registered token.
type Metadata struct {
	Address  [20]byte
	Symbol   string
	Decimals uint8
	Supply   *big.Int
}

// Registry tracks every payment token known to the node.
type Registry struct {
	mu      sync.RWMutex
	tokens  map[[20]byte]*ledger
	emitter events.Emitter
}

// NewRegistry creates an empty token registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens:  make(map[[20]byte]*ledger),
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used by the registry. Passing nil
// resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func (r *Registry) emit(evt events.Event) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}

// CreateToken registers a new token identified by its symbol.
func (r *Registry) CreateToken(symbol string, decimals uint8) ([20]byte, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return [20]byte{}, fmt.Errorf("token: symbol required")
	}
	addr := crypto.DeriveAddress("token/" + normalized)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[addr]; exists {
		return [20]byte{}, ErrTokenExists
	}
	r.tokens[addr] = &ledger{
		symbol:     normalized,
		decimals:   decimals,
		supply:     big.NewInt(0),
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
	return addr, nil
}

// Exists reports whether the token address is registered.
func (r *Registry) Exists(token [20]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tokens[token]
	return ok
}

// Metadata returns the registered token description.
func (r *Registry) Metadata(token [20]byte) (Metadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.tokens[token]
	if !ok {
		return Metadata{}, coreerrors.ErrUnknownToken
	}
	return Metadata{Address: token, Symbol: l.symbol, Decimals: l.decimals, Supply: new(big.Int).Set(l.supply)}, nil
}

// Mint credits freshly issued tokens to the recipient.
func (r *Registry) Mint(token, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token: mint amount must be positive: %w", coreerrors.ErrInvalidAmount)
	}
	r.mu.Lock()
	l, ok := r.tokens[token]
	if !ok {
		r.mu.Unlock()
		return coreerrors.ErrUnknownToken
	}
	l.supply.Add(l.supply, amount)
	balance := entry(l.balances, to)
	balance.Add(balance, amount)
	r.mu.Unlock()

	r.emit(events.Transfer{Asset: l.symbol, Token: token, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// BalanceOf returns a copy of the holder's token balance.
func (r *Registry) BalanceOf(token, holder [20]byte) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.tokens[token]
	if !ok {
		return nil, coreerrors.ErrUnknownToken
	}
	if balance, ok := l.balances[holder]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

// Approve sets the amount spender may move out of the owner's balance. The
// previous allowance is replaced, not increased.
func (r *Registry) Approve(token, owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: allowance must not be negative: %w", coreerrors.ErrInvalidAmount)
	}
	r.mu.Lock()
	l, ok := r.tokens[token]
	if !ok {
		r.mu.Unlock()
		return coreerrors.ErrUnknownToken
	}
	key := allowanceKey{owner: owner, spender: spender}
	if amount.Sign() == 0 {
		delete(l.allowances, key)
	} else {
		l.allowances[key] = new(big.Int).Set(amount)
	}
	r.mu.Unlock()

	r.emit(events.Allowance{Token: token, Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Allowance returns the remaining amount spender may move for owner.
func (r *Registry) Allowance(token, owner, spender [20]byte) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.tokens[token]
	if !ok {
		return nil, coreerrors.ErrUnknownToken
	}
	if allowance, ok := l.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(allowance), nil
	}
	return big.NewInt(0), nil
}

// Transfer moves the holder's own tokens.
func (r *Registry) Transfer(token, from, to [20]byte, amount *big.Int) error {
	return r.move(token, from, from, to, amount, false)
}

// TransferFrom moves tokens out of from's balance on behalf of spender. The
// allowance is checked before the balance and consumed only when the whole
// transfer succeeds.
func (r *Registry) TransferFrom(token, spender, from, to [20]byte, amount *big.Int) error {
	return r.move(token, spender, from, to, amount, true)
}

func (r *Registry) move(token, spender, from, to [20]byte, amount *big.Int, useAllowance bool) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: transfer amount must not be negative: %w", coreerrors.ErrInvalidAmount)
	}
	r.mu.Lock()
	l, ok := r.tokens[token]
	if !ok {
		r.mu.Unlock()
		return coreerrors.ErrUnknownToken
	}
	key := allowanceKey{owner: from, spender: spender}
	if useAllowance {
		allowance := l.allowances[key]
		if allowance == nil || allowance.Cmp(amount) < 0 {
			r.mu.Unlock()
			return fmt.Errorf("token: allowance below %s: %w", amount, coreerrors.ErrInsufficientAllowance)
		}
	}
	source := entry(l.balances, from)
	if source.Cmp(amount) < 0 {
		r.mu.Unlock()
		return fmt.Errorf("token: balance below %s: %w", amount, coreerrors.ErrInsufficientBalance)
	}
	if amount.Sign() == 0 {
		r.mu.Unlock()
		return nil
	}
	if useAllowance {
		allowance := l.allowances[key]
		allowance.Sub(allowance, amount)
		if allowance.Sign() == 0 {
			delete(l.allowances, key)
		}
	}
	source.Sub(source, amount)
	dest := entry(l.balances, to)
	dest.Add(dest, amount)
	symbol := l.symbol
	r.mu.Unlock()

	r.emit(events.Transfer{Asset: symbol, Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func entry(m map[[20]byte]*big.Int, addr [20]byte) *big.Int {
	v, ok := m[addr]
	if !ok {
		v = big.NewInt(0)
		m[addr] = v
	}
	return v
}
