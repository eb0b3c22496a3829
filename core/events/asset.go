package events

import (
	"github.com/holiman/uint256"

	"nftmarket/core/types"
)

const (
	TypeAssetMinted      = "asset.minted"
	TypeAssetTransferred = "asset.transferred"
	TypeAssetApproved    = "asset.approved"
)

type AssetMinted struct {
	Collection [20]byte
	ID         uint256.Int
	To         [20]byte
	URI        string
}

func (AssetMinted) EventType() string { return TypeAssetMinted }

func (e AssetMinted) Event() *types.Event {
	attrs := map[string]string{
		"collection": contractString(e.Collection),
		"assetId":    e.ID.Dec(),
		"to":         accountString(e.To),
	}
	if e.URI != "" {
		attrs["uri"] = e.URI
	}
	return &types.Event{Type: TypeAssetMinted, Attributes: attrs}
}

type AssetTransferred struct {
	Collection [20]byte
	ID         uint256.Int
	From       [20]byte
	To         [20]byte
	Caller     [20]byte
}

func (AssetTransferred) EventType() string { return TypeAssetTransferred }

func (e AssetTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetTransferred,
		Attributes: map[string]string{
			"collection": contractString(e.Collection),
			"assetId":    e.ID.Dec(),
			"from":       accountString(e.From),
			"to":         accountString(e.To),
			"caller":     accountString(e.Caller),
		},
	}
}

type AssetApproved struct {
	Collection [20]byte
	ID         uint256.Int
	Holder     [20]byte
	Approved   [20]byte
}

func (AssetApproved) EventType() string { return TypeAssetApproved }

func (e AssetApproved) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetApproved,
		Attributes: map[string]string{
			"collection": contractString(e.Collection),
			"assetId":    e.ID.Dec(),
			"holder":     accountString(e.Holder),
			"approved":   accountString(e.Approved),
		},
	}
}
