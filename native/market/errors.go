package market

import (
	"errors"
	"fmt"
	"math/big"

	coreerrors "nftmarket/core/errors"
)

var (
	// ErrNotAuthorized is shared with the registry so a refusal reported by the
	// registry matches the engine's own authorization failures.
	ErrNotAuthorized          = coreerrors.ErrNotAuthorized
	ErrNoSuchAsset            = coreerrors.ErrNoSuchAsset
	ErrInsufficientBalance    = coreerrors.ErrInsufficientBalance
	ErrInsufficientAllowance  = coreerrors.ErrInsufficientAllowance
	ErrNoSuchListing          = errors.New("market: no such listing")
	ErrDuplicateActiveListing = errors.New("market: asset already has an active listing")
	ErrPriceMismatch          = errors.New("market: tendered amount does not match price")
	ErrInsufficientValue      = errors.New("market: attached value below price")
	ErrExcessValue            = errors.New("market: attached value above price")
	ErrTransferFailed         = errors.New("market: asset transfer failed")
	ErrInvalidPrice           = errors.New("market: price must be positive")
	ErrUnsupportedCurrency    = errors.New("market: unsupported currency")
	ErrSettlementPending      = errors.New("market: settlement incident pending for asset")
	ErrNoIncident             = errors.New("market: no open incident for asset")

	// ErrSettlementInconsistency is matched by every *SettlementInconsistencyError.
	ErrSettlementInconsistency = errors.New("market: settlement inconsistency")

	errNilStore    = errors.New("market engine: listing store not configured")
	errNilRegistry = errors.New("market engine: asset registry not configured")
	errNilSettler  = errors.New("market engine: payment settler not configured")
)

// Settlement stages after which a failure leaves components out of step.
const (
	StageDeliver  = "deliver"
	StageFinalize = "finalize"
	StageRestore  = "restore"
)

// SettlementInconsistencyError reports that funds or custody moved but a later
// step of the same operation failed. The affected asset is frozen until an
// operator resolves the recorded incident.
type SettlementInconsistencyError struct {
	IncidentID string
	Stage      string
	Ref        AssetRef
	Buyer      [20]byte
	Amount     *big.Int
	Cause      error
}

func (e *SettlementInconsistencyError) Error() string {
	return fmt.Sprintf("market: settlement inconsistency at %s for %s (incident %s): %v", e.Stage, e.Ref, e.IncidentID, e.Cause)
}

// Is matches ErrSettlementInconsistency.
func (e *SettlementInconsistencyError) Is(target error) bool {
	return target == ErrSettlementInconsistency
}

func (e *SettlementInconsistencyError) Unwrap() error { return e.Cause }
