package bank

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	coreerrors "nftmarket/core/errors"
	"nftmarket/core/events"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func TestLedgerTransferMovesBalance(t *testing.T) {
	ledger := NewLedger()
	emitter := &capturingEmitter{}
	ledger.SetEmitter(emitter)
	alice := newTestAddress(0x01)
	bob := newTestAddress(0x02)

	if err := ledger.Credit(alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := ledger.Balance(alice); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected sender balance %s", got)
	}
	if got := ledger.Balance(bob); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected recipient balance %s", got)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(emitter.events))
	}
	last, ok := emitter.events[1].(events.Transfer)
	if !ok || last.Asset != events.NativeAsset || last.Amount.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected transfer event %+v", emitter.events[1])
	}
}

func TestLedgerTransferInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	ledger := NewLedger()
	alice := newTestAddress(0x01)
	bob := newTestAddress(0x02)
	if err := ledger.Credit(alice, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := ledger.Transfer(alice, bob, big.NewInt(11))
	if !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if ledger.Balance(alice).Cmp(big.NewInt(10)) != 0 || ledger.Balance(bob).Sign() != 0 {
		t.Fatalf("balances changed after failed transfer")
	}
}

func TestLedgerRejectsInvalidAmounts(t *testing.T) {
	ledger := NewLedger()
	alice := newTestAddress(0x01)
	if err := ledger.Credit(alice, big.NewInt(0)); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.Transfer(alice, alice, big.NewInt(-1)); !errors.Is(err, coreerrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.Transfer(alice, newTestAddress(0x02), big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer should be a no-op: %v", err)
	}
}

func TestLedgerBalanceReturnsCopy(t *testing.T) {
	ledger := NewLedger()
	alice := newTestAddress(0x01)
	if err := ledger.Credit(alice, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	ledger.Balance(alice).SetInt64(1000)
	if ledger.Balance(alice).Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("balance mutated through returned value")
	}
}
