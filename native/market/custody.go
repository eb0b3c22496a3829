package market

import (
	"fmt"

	"github.com/holiman/uint256"
)

// AssetRegistry is the view of the unique-asset registry the engine depends
// on. TransferCustody must succeed only when from is the current holder and
// caller is the holder or the approved party.
type AssetRegistry interface {
	HolderOf(collection [20]byte, id *uint256.Int) ([20]byte, error)
	ApprovalOf(collection [20]byte, id *uint256.Int) ([20]byte, bool, error)
	TransferCustody(collection [20]byte, id *uint256.Int, from, to, caller [20]byte) error
}

// custodian moves assets in and out of the engine's custody and maps registry
// failures onto the market error taxonomy.
type custodian struct {
	registry AssetRegistry
	self     [20]byte
}

// authorize returns the current holder when seller is the holder or the
// approved party.
func (c custodian) authorize(ref AssetRef, seller [20]byte) ([20]byte, error) {
	holder, err := c.registry.HolderOf(ref.Collection, &ref.ID)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if holder == seller {
		return holder, nil
	}
	approved, ok, err := c.registry.ApprovalOf(ref.Collection, &ref.ID)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !ok || approved != seller {
		return [20]byte{}, fmt.Errorf("market: seller neither holds nor is approved for %s: %w", ref, ErrNotAuthorized)
	}
	return holder, nil
}

// pull moves the asset from holder into custody, acting as seller.
func (c custodian) pull(ref AssetRef, holder, seller [20]byte) error {
	if err := c.registry.TransferCustody(ref.Collection, &ref.ID, holder, c.self, seller); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// release moves the asset out of custody to the recipient.
func (c custodian) release(ref AssetRef, to [20]byte) error {
	if err := c.registry.TransferCustody(ref.Collection, &ref.ID, c.self, to, c.self); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// held verifies the registry still reports the engine as holder.
func (c custodian) held(ref AssetRef) error {
	holder, err := c.registry.HolderOf(ref.Collection, &ref.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if holder != c.self {
		return fmt.Errorf("%w: %s not held in escrow", ErrTransferFailed, ref)
	}
	return nil
}
