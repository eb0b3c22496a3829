package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"nftmarket/core/events"
	nativecommon "nftmarket/native/common"
)

// ModuleName is the pause and quota key of the market module.
const ModuleName = "market"

type engineMetrics interface {
	Observe(operation, outcome string, duration time.Duration)
	RecordInconsistency(stage string)
	ListingOpened()
	ListingClosed()
}

type noopMetrics struct{}

func (noopMetrics) Observe(string, string, time.Duration) {}
func (noopMetrics) RecordInconsistency(string)            {}
func (noopMetrics) ListingOpened()                        {}
func (noopMetrics) ListingClosed()                        {}

const instrumentationName = "nftmarket/native/market"

// instruments are the OTLP counterparts of the Prometheus operation metrics.
type instruments struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
}

func newInstruments(meter metric.Meter) instruments {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	operations, err := meter.Int64Counter("nftmarket.market.operations",
		metric.WithDescription("Market operations by outcome"))
	if err != nil {
		operations, _ = fallback.Int64Counter("nftmarket.market.operations")
	}
	duration, err := meter.Float64Histogram("nftmarket.market.operation.duration",
		metric.WithDescription("Latency of market operations"),
		metric.WithUnit("s"))
	if err != nil {
		duration, _ = fallback.Float64Histogram("nftmarket.market.operation.duration")
	}
	return instruments{operations: operations, duration: duration}
}

// Engine escrows listed assets and swaps custody for payment. Every operation
// holds the mutex of the asset it touches for its whole duration, so at most
// one purchase of a listing can succeed.
type Engine struct {
	self      [20]byte
	store     ListingStore
	custody   custodian
	settler   PaymentSettler
	emitter   events.Emitter
	nowFn     func() int64
	idFn      func() string
	pauses    nativecommon.PauseView
	quota     *nativecommon.QuotaTracker
	incidents IncidentLog
	logger    *slog.Logger
	metrics   engineMetrics
	tracer    trace.Tracer
	otlp      instruments
	locks     *keyedMutex
}

// NewEngine creates a market engine whose custody account is self. The engine
// starts with an in-memory listing store and incident log, a no-op emitter and
// no registry or settler; callers wire those through the setters.
func NewEngine(self [20]byte) *Engine {
	return &Engine{
		self:      self,
		store:     NewMemoryStore(),
		custody:   custodian{self: self},
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		idFn:      uuid.NewString,
		incidents: NewMemoryIncidentLog(),
		logger:    slog.Default().With("component", "market"),
		metrics:   noopMetrics{},
		tracer:    otel.Tracer(instrumentationName),
		otlp:      newInstruments(otel.Meter(instrumentationName)),
		locks:     newKeyedMutex(),
	}
}

// Address returns the custody account of the engine.
func (e *Engine) Address() [20]byte { return e.self }

// SetStore configures the listing store.
func (e *Engine) SetStore(store ListingStore) { e.store = store }

// SetRegistry configures the asset registry used for custody transfers.
func (e *Engine) SetRegistry(registry AssetRegistry) { e.custody.registry = registry }

// SetSettler configures the payment settler.
func (e *Engine) SetSettler(settler PaymentSettler) { e.settler = settler }

// SetPauses configures the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetQuota configures per-address limits. A nil tracker disables quotas.
func (e *Engine) SetQuota(q *nativecommon.QuotaTracker) { e.quota = q }

// SetIncidentLog configures where settlement incidents are recorded. Passing
// nil resets to an in-memory log.
func (e *Engine) SetIncidentLog(log IncidentLog) {
	if log == nil {
		e.incidents = NewMemoryIncidentLog()
		return
	}
	e.incidents = log
}

// SetLogger configures the structured logger. Passing nil resets to the
// process default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("component", "market")
}

// SetMetrics configures the metrics sink. Passing nil disables metrics.
func (e *Engine) SetMetrics(m engineMetrics) {
	if m == nil {
		e.metrics = noopMetrics{}
		return
	}
	e.metrics = m
}

// SetTracer configures the tracer used for operation spans. Passing nil resets
// to the global tracer provider.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	e.tracer = tracer
}

// SetMeter configures the meter behind the OTLP operation instruments.
// Passing nil resets to the global meter provider.
func (e *Engine) SetMeter(meter metric.Meter) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	e.otlp = newInstruments(meter)
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt marketEvent) {
	if e == nil || e.emitter == nil || evt.evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e.store == nil:
		return errNilStore
	case e.custody.registry == nil:
		return errNilRegistry
	case e.settler == nil:
		return errNilSettler
	}
	return nil
}

// track opens a span for the operation and returns the function that closes it
// and records the outcome.
func (e *Engine) track(operation string, ref AssetRef) func(error) {
	started := time.Now()
	ctx, span := e.tracer.Start(context.Background(), "market."+operation,
		trace.WithAttributes(attribute.String("market.asset", ref.String())))
	return func(err error) {
		result := outcome(err)
		span.SetAttributes(attribute.String("market.outcome", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
		elapsed := time.Since(started)
		attrs := metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("outcome", result),
		)
		e.otlp.operations.Add(ctx, 1, attrs)
		e.otlp.duration.Record(ctx, elapsed.Seconds(), attrs)
		e.metrics.Observe(operation, result, elapsed)
	}
}

// checkIncident refuses to touch an asset frozen by an open incident.
func (e *Engine) checkIncident(ref AssetRef) error {
	incident, ok, err := e.incidents.OpenFor(ref)
	if err != nil {
		return fmt.Errorf("market: incident lookup: %w", err)
	}
	if ok {
		return fmt.Errorf("%w: incident %s", ErrSettlementPending, incident.ID)
	}
	return nil
}

// CreateListing takes custody of the asset and records an active listing at
// the supplied price. The seller must hold the asset or be its approved party.
func (e *Engine) CreateListing(collection [20]byte, assetID *uint256.Int, seller [20]byte, currency Currency, price *big.Int) (listing *Listing, err error) {
	done := e.track("create_listing", NewAssetRef(collection, assetID))
	defer func() { done(err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if assetID == nil {
		return nil, fmt.Errorf("market: asset id required: %w", ErrNoSuchAsset)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if !e.settler.Supports(currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	ref := NewAssetRef(collection, assetID)
	unlock := e.locks.lock(ref)
	defer unlock()

	if err := e.checkIncident(ref); err != nil {
		return nil, err
	}
	existing, ok, err := e.store.Get(collection, assetID)
	if err != nil {
		return nil, err
	}
	if ok && existing.Status == StatusActive {
		return nil, ErrDuplicateActiveListing
	}
	reservation, err := e.quota.Reserve(seller, e.now(), 1, 0)
	if err != nil {
		return nil, err
	}
	defer func() { e.releaseUnlessSettled(reservation, err) }()
	holder, err := e.custody.authorize(ref, seller)
	if err != nil {
		return nil, err
	}

	// The listing is written before custody moves: a store failure then
	// leaves the registry untouched, and a failed pull is undone locally.
	createdAt := e.now()
	listing = &Listing{
		ID:         DeriveListingID(collection, assetID, seller, createdAt),
		Collection: collection,
		AssetID:    ref.ID,
		Seller:     seller,
		Currency:   currency,
		Price:      new(big.Int).Set(price),
		Status:     StatusActive,
		CreatedAt:  createdAt,
	}
	if err := e.store.Put(listing); err != nil {
		return nil, fmt.Errorf("market: persist listing: %w", err)
	}
	if err := e.custody.pull(ref, holder, seller); err != nil {
		if rerr := e.store.Remove(collection, assetID); rerr != nil {
			return nil, e.inconsistency(StageFinalize, listing, [20]byte{}, holder, errors.Join(err, rerr))
		}
		return nil, err
	}
	e.metrics.ListingOpened()
	e.emit(marketEvent{NewListingCreatedEvent(listing)})
	e.logger.Info("listing created", listingAttrs(listing)...)
	return listing.Clone(), nil
}

// Buy pays the seller and delivers the asset to the buyer. The tendered amount
// must equal the listing price exactly. Payment happens first; a failure after
// payment freezes the asset and returns a *SettlementInconsistencyError.
func (e *Engine) Buy(collection [20]byte, assetID *uint256.Int, buyer [20]byte, tendered *big.Int) (sold *Listing, err error) {
	done := e.track("buy", NewAssetRef(collection, assetID))
	defer func() { done(err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if assetID == nil {
		return nil, fmt.Errorf("market: asset id required: %w", ErrNoSuchAsset)
	}
	ref := NewAssetRef(collection, assetID)
	unlock := e.locks.lock(ref)
	defer unlock()

	if err := e.checkIncident(ref); err != nil {
		return nil, err
	}
	listing, ok, err := e.store.Get(collection, assetID)
	if err != nil {
		return nil, err
	}
	if !ok || listing.Status != StatusActive {
		return nil, ErrNoSuchListing
	}
	if err := matchPrice(listing, tendered); err != nil {
		return nil, err
	}
	reservation, err := e.chargePurchase(buyer, listing)
	if err != nil {
		return nil, err
	}
	defer func() { e.releaseUnlessSettled(reservation, err) }()
	if err := e.custody.held(ref); err != nil {
		return nil, err
	}

	var attached *big.Int
	if listing.Currency.IsNative() {
		attached = tendered
	}
	if err := e.settler.Settle(listing.Currency, listing.Price, attached, buyer, listing.Seller); err != nil {
		e.logger.Debug("settlement rejected", append(listingAttrs(listing), slog.String("error", err.Error()))...)
		return nil, err
	}
	if err := e.custody.release(ref, buyer); err != nil {
		return nil, e.inconsistency(StageDeliver, listing, buyer, buyer, err)
	}
	if err := e.store.Remove(collection, assetID); err != nil {
		return nil, e.inconsistency(StageFinalize, listing, buyer, buyer, err)
	}

	e.metrics.ListingClosed()
	sold = listing.Clone()
	sold.Status = StatusSold
	e.emit(marketEvent{NewListingSoldEvent(sold, buyer)})
	e.logger.Info("listing sold", append(listingAttrs(sold), slog.String("buyer", fmt.Sprintf("%x", buyer)))...)
	return sold, nil
}

// Cancel withdraws the listing and returns the asset to the seller. Only the
// seller may cancel.
func (e *Engine) Cancel(collection [20]byte, assetID *uint256.Int, caller [20]byte) (cancelled *Listing, err error) {
	done := e.track("cancel", NewAssetRef(collection, assetID))
	defer func() { done(err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if assetID == nil {
		return nil, fmt.Errorf("market: asset id required: %w", ErrNoSuchAsset)
	}
	ref := NewAssetRef(collection, assetID)
	unlock := e.locks.lock(ref)
	defer unlock()

	if err := e.checkIncident(ref); err != nil {
		return nil, err
	}
	listing, ok, err := e.store.Get(collection, assetID)
	if err != nil {
		return nil, err
	}
	if !ok || listing.Status != StatusActive {
		return nil, ErrNoSuchListing
	}
	if caller != listing.Seller {
		return nil, fmt.Errorf("market: cancel by non-seller: %w", ErrNotAuthorized)
	}
	if err := e.store.Remove(collection, assetID); err != nil {
		return nil, err
	}
	if err := e.custody.release(ref, listing.Seller); err != nil {
		if perr := e.store.Put(listing); perr != nil {
			e.metrics.ListingClosed()
			return nil, e.inconsistency(StageRestore, listing, [20]byte{}, listing.Seller, errors.Join(err, perr))
		}
		return nil, err
	}

	e.metrics.ListingClosed()
	cancelled = listing.Clone()
	cancelled.Status = StatusCancelled
	e.emit(marketEvent{NewListingCancelledEvent(cancelled)})
	e.logger.Info("listing cancelled", listingAttrs(cancelled)...)
	return cancelled, nil
}

// Listing returns the active listing for the asset, if any.
func (e *Engine) Listing(collection [20]byte, assetID *uint256.Int) (*Listing, bool, error) {
	if e.store == nil {
		return nil, false, errNilStore
	}
	listing, ok, err := e.store.Get(collection, assetID)
	if err != nil || !ok || listing.Status != StatusActive {
		return nil, false, err
	}
	return listing, true, nil
}

// Incidents lists every recorded settlement incident, oldest first.
func (e *Engine) Incidents() ([]*Incident, error) {
	return e.incidents.List()
}

// RetryDelivery re-runs the failed stage of the open incident on the asset and
// resolves the incident once the asset reached its recipient and the listing
// store is consistent again.
func (e *Engine) RetryDelivery(collection [20]byte, assetID *uint256.Int) (resolved *Incident, err error) {
	done := e.track("retry_delivery", NewAssetRef(collection, assetID))
	defer func() { done(err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if assetID == nil {
		return nil, fmt.Errorf("market: asset id required: %w", ErrNoSuchAsset)
	}
	ref := NewAssetRef(collection, assetID)
	unlock := e.locks.lock(ref)
	defer unlock()

	incident, ok, err := e.incidents.OpenFor(ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoIncident
	}
	switch incident.Stage {
	case StageDeliver, StageRestore:
		if err := e.deliverOnce(ref, incident.Recipient); err != nil {
			return nil, err
		}
	case StageFinalize:
	default:
		return nil, fmt.Errorf("market: incident %s has unknown stage %q", incident.ID, incident.Stage)
	}

	var listing *Listing
	if incident.Stage != StageRestore {
		current, found, err := e.store.Get(collection, assetID)
		if err != nil {
			return nil, err
		}
		if err := e.store.Remove(collection, assetID); err != nil {
			return nil, err
		}
		// A zero buyer marks a listing whose custody pull was never
		// completed; it was not counted as open and was never sold.
		if found && incident.Buyer != ([20]byte{}) {
			listing = current
			e.metrics.ListingClosed()
		}
	}
	resolvedAt := e.now()
	if err := e.incidents.Resolve(incident.ID, resolvedAt); err != nil {
		return nil, err
	}
	incident.ResolvedAt = resolvedAt

	if listing != nil {
		listing.Status = StatusSold
		e.emit(marketEvent{NewListingSoldEvent(listing, incident.Buyer)})
	}
	e.emit(marketEvent{NewSettlementRecoveredEvent(incident)})
	e.logger.Warn("settlement incident resolved",
		slog.String("incident", incident.ID),
		slog.String("stage", incident.Stage),
		slog.String("asset", ref.String()))
	return incident, nil
}

// deliverOnce releases the asset to the recipient unless the registry already
// reports the recipient as holder.
func (e *Engine) deliverOnce(ref AssetRef, recipient [20]byte) error {
	holder, err := e.custody.registry.HolderOf(ref.Collection, &ref.ID)
	if err == nil && holder == recipient {
		return nil
	}
	return e.custody.release(ref, recipient)
}

// inconsistency records an incident for a partially applied operation and
// returns the fatal error reported to the caller.
func (e *Engine) inconsistency(stage string, listing *Listing, buyer, recipient [20]byte, cause error) error {
	incident := &Incident{
		ID:         e.idFn(),
		Stage:      stage,
		Collection: listing.Collection,
		AssetID:    listing.AssetID.Dec(),
		ListingID:  listing.ID,
		Seller:     listing.Seller,
		Buyer:      buyer,
		Recipient:  recipient,
		Currency:   listing.Currency,
		Amount:     new(big.Int).Set(listing.Price),
		Cause:      cause.Error(),
		CreatedAt:  e.now(),
	}
	if err := e.incidents.Record(incident); err != nil {
		cause = errors.Join(cause, fmt.Errorf("market: record incident: %w", err))
	}
	e.metrics.RecordInconsistency(stage)
	e.emit(marketEvent{NewSettlementInconsistentEvent(incident)})
	e.logger.Error("settlement inconsistency",
		append(listingAttrs(listing),
			slog.String("incident", incident.ID),
			slog.String("stage", stage),
			slog.String("error", cause.Error()))...)
	return &SettlementInconsistencyError{
		IncidentID: incident.ID,
		Stage:      stage,
		Ref:        listing.Ref(),
		Buyer:      buyer,
		Amount:     new(big.Int).Set(listing.Price),
		Cause:      cause,
	}
}

// chargePurchase checks the buyer's quota. Native purchases count their price
// against the per-epoch value cap.
func (e *Engine) chargePurchase(buyer [20]byte, listing *Listing) (nativecommon.Reservation, error) {
	var value uint64
	if listing.Currency.IsNative() {
		if !listing.Price.IsUint64() {
			if e.quota.Limits().MaxNativePerEpoch > 0 {
				return nativecommon.Reservation{}, nativecommon.ErrQuotaValueCapExceeded
			}
		} else {
			value = listing.Price.Uint64()
		}
	}
	return e.quota.Reserve(buyer, e.now(), 1, value)
}

// releaseUnlessSettled returns reserved quota when the operation failed
// without moving value. Inconsistent settlements keep their charge.
func (e *Engine) releaseUnlessSettled(r nativecommon.Reservation, err error) {
	if err == nil || errors.Is(err, ErrSettlementInconsistency) {
		return
	}
	e.quota.Release(r)
}

func matchPrice(listing *Listing, tendered *big.Int) error {
	if tendered == nil {
		tendered = big.NewInt(0)
	}
	switch cmp := tendered.Cmp(listing.Price); {
	case cmp == 0:
		return nil
	case !listing.Currency.IsNative():
		return ErrPriceMismatch
	case cmp < 0:
		return fmt.Errorf("%w: %w", ErrPriceMismatch, ErrInsufficientValue)
	default:
		return fmt.Errorf("%w: %w", ErrPriceMismatch, ErrExcessValue)
	}
}

func listingAttrs(l *Listing) []any {
	return []any{
		slog.String("listing", fmt.Sprintf("%x", l.ID)),
		slog.String("asset", l.Ref().String()),
		slog.String("seller", fmt.Sprintf("%x", l.Seller)),
		slog.String("currency", l.Currency.String()),
		slog.String("price", l.Price.String()),
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrSettlementInconsistency):
		return "inconsistent"
	case errors.Is(err, ErrSettlementPending):
		return "pending"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaValueCapExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		return "quota"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrNoSuchListing):
		return "no_listing"
	case errors.Is(err, ErrDuplicateActiveListing):
		return "duplicate"
	case errors.Is(err, ErrPriceMismatch):
		return "price_mismatch"
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_funds"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}
