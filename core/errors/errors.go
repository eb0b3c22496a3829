// Package errors holds the sentinel errors shared between the asset
// registry, the currency ledgers and the market engine so each layer can
// classify failures reported by the layer below with errors.Is.
package errors

import stderrors "errors"

var (
	ErrNotAuthorized         = stderrors.New("not authorized")
	ErrNoSuchAsset           = stderrors.New("no such asset")
	ErrInsufficientBalance   = stderrors.New("insufficient balance")
	ErrInsufficientAllowance = stderrors.New("insufficient allowance")
	ErrUnknownToken          = stderrors.New("unknown token")
	ErrInvalidAmount         = stderrors.New("invalid amount")
)
