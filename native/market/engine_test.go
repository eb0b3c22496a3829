package market

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"nftmarket/core/events"
	"nftmarket/native/bank"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/registry"
	"nftmarket/native/token"
)

const nowFn = int64(1_700_000_000)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type capturingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (c *capturingEmitter) last(eventType string) *marketEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if evt, ok := c.events[i].(marketEvent); ok && evt.EventType() == eventType {
			return &evt
		}
	}
	return nil
}

// faultyRegistry wraps the reference registry and fails custody transfers
// whose recipient matches failTo.
type faultyRegistry struct {
	AssetRegistry
	mu     sync.Mutex
	failTo *[20]byte
}

func (f *faultyRegistry) failTransfersTo(addr *[20]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTo = addr
}

func (f *faultyRegistry) TransferCustody(collection [20]byte, id *uint256.Int, from, to, caller [20]byte) error {
	f.mu.Lock()
	fail := f.failTo != nil && *f.failTo == to
	f.mu.Unlock()
	if fail {
		return errors.New("registry unavailable")
	}
	return f.AssetRegistry.TransferCustody(collection, id, from, to, caller)
}

type fixture struct {
	engine     *Engine
	assets     *registry.Registry
	registry   *faultyRegistry
	ledger     *bank.Ledger
	tokens     *token.Registry
	store      *MemoryStore
	emitter    *capturingEmitter
	collection [20]byte
	market     [20]byte
	seller     [20]byte
	buyer      [20]byte
}

func oneEther() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		assets:  registry.NewRegistry(),
		ledger:  bank.NewLedger(),
		tokens:  token.NewRegistry(),
		store:   NewMemoryStore(),
		emitter: &capturingEmitter{},
		market:  newTestAddress(0xAA),
		seller:  newTestAddress(0x01),
		buyer:   newTestAddress(0x02),
	}
	collection, err := f.assets.CreateCollection("NFTCollection", "NFT")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	f.collection = collection
	f.registry = &faultyRegistry{AssetRegistry: f.assets}
	f.engine = NewEngine(f.market)
	f.engine.SetStore(f.store)
	f.engine.SetRegistry(f.registry)
	f.engine.SetSettler(NewSettler(f.ledger, f.tokens, f.market))
	f.engine.SetEmitter(f.emitter)
	f.engine.SetNowFunc(func() int64 { return nowFn })
	if err := f.ledger.Credit(f.buyer, new(big.Int).Mul(oneEther(), big.NewInt(10))); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}
	return f
}

// mintAndApprove mints the next asset to the seller and approves the market.
func (f *fixture) mintAndApprove(t *testing.T) *uint256.Int {
	t.Helper()
	id, err := f.assets.Mint(f.collection, f.seller, "Test")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.assets.Approve(f.collection, id, f.seller, f.market); err != nil {
		t.Fatalf("approve: %v", err)
	}
	return id
}

func (f *fixture) list(t *testing.T, id *uint256.Int, price *big.Int) *Listing {
	t.Helper()
	listing, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), price)
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return listing
}

func (f *fixture) holder(t *testing.T, id *uint256.Int) [20]byte {
	t.Helper()
	holder, err := f.assets.HolderOf(f.collection, id)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	return holder
}

func TestCreateListingTakesCustody(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)

	listing := f.list(t, id, oneEther())
	if listing.Status != StatusActive || listing.CreatedAt != nowFn {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if listing.ID != DeriveListingID(f.collection, id, f.seller, nowFn) {
		t.Fatalf("unexpected listing id")
	}
	if f.holder(t, id) != f.market {
		t.Fatalf("market must hold the listed asset")
	}
	stored, ok, err := f.engine.Listing(f.collection, id)
	if err != nil || !ok {
		t.Fatalf("listing lookup: ok=%v err=%v", ok, err)
	}
	if stored.Price.Cmp(oneEther()) != 0 || !stored.Currency.IsNative() {
		t.Fatalf("unexpected stored listing: %+v", stored)
	}
	// The seller can no longer move the asset directly.
	if err := f.assets.TransferCustody(f.collection, id, f.seller, f.buyer, f.seller); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected seller transfer to fail, got %v", err)
	}
	evt := f.emitter.last(EventTypeListingCreated)
	if evt == nil || evt.Event().Attributes["price"] != oneEther().String() {
		t.Fatalf("expected listing created event, got %v", f.emitter.types())
	}
}

func TestCreateListingByHolderWithoutApproval(t *testing.T) {
	f := newFixture(t)
	id, err := f.assets.Mint(f.collection, f.seller, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.list(t, id, big.NewInt(5))
	if f.holder(t, id) != f.market {
		t.Fatalf("market must hold the listed asset")
	}
}

func TestCreateListingByApprovedOperator(t *testing.T) {
	f := newFixture(t)
	operator := newTestAddress(0x07)
	id, err := f.assets.Mint(f.collection, f.seller, "")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.assets.Approve(f.collection, id, f.seller, operator); err != nil {
		t.Fatalf("approve: %v", err)
	}
	listing, err := f.engine.CreateListing(f.collection, id, operator, Native(), big.NewInt(5))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if listing.Seller != operator {
		t.Fatalf("approved party must be recorded as seller")
	}
	if f.holder(t, id) != f.market {
		t.Fatalf("market must hold the listed asset")
	}
}

func TestCreateListingRejectsStranger(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	stranger := newTestAddress(0x09)

	_, err := f.engine.CreateListing(f.collection, id, stranger, Native(), big.NewInt(1))
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if f.holder(t, id) != f.seller {
		t.Fatalf("holder changed after rejected listing")
	}
	if f.store.Len() != 0 {
		t.Fatalf("store mutated after rejected listing")
	}
}

func TestCreateListingValidation(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)

	if _, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), big.NewInt(0)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), big.NewInt(-1)); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative price, got %v", err)
	}
	if _, err := f.engine.CreateListing(f.collection, id, f.seller, Token(newTestAddress(0x55)), big.NewInt(1)); !errors.Is(err, ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
	if _, err := f.engine.CreateListing(f.collection, uint256.NewInt(99), f.seller, Native(), big.NewInt(1)); !errors.Is(err, ErrNoSuchAsset) {
		t.Fatalf("expected ErrNoSuchAsset, got %v", err)
	}
	if f.holder(t, id) != f.seller {
		t.Fatalf("holder changed after rejected listing")
	}
}

func TestCreateListingRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	f.list(t, id, big.NewInt(10))

	_, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), big.NewInt(20))
	if !errors.Is(err, ErrDuplicateActiveListing) {
		t.Fatalf("expected ErrDuplicateActiveListing, got %v", err)
	}
	stored, _, _ := f.engine.Listing(f.collection, id)
	if stored.Price.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("original listing modified")
	}
}

func TestCreateListingFailedPullWritesNothing(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	f.registry.failTransfersTo(&f.market)

	_, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), big.NewInt(10))
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if _, ok, _ := f.engine.Listing(f.collection, id); ok {
		t.Fatalf("listing written after failed custody transfer")
	}
	if f.holder(t, id) != f.seller {
		t.Fatalf("holder changed after failed custody transfer")
	}
}

func TestBuyNativeSettles(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	f.list(t, id, oneEther())

	sold, err := f.engine.Buy(f.collection, id, f.buyer, oneEther())
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if sold.Status != StatusSold {
		t.Fatalf("expected sold status, got %s", sold.Status)
	}
	if f.holder(t, id) != f.buyer {
		t.Fatalf("buyer must hold the asset")
	}
	if got := f.ledger.Balance(f.seller); got.Cmp(oneEther()) != 0 {
		t.Fatalf("unexpected seller balance %s", got)
	}
	wantBuyer := new(big.Int).Mul(oneEther(), big.NewInt(9))
	if got := f.ledger.Balance(f.buyer); got.Cmp(wantBuyer) != 0 {
		t.Fatalf("unexpected buyer balance %s", got)
	}
	if _, ok, _ := f.engine.Listing(f.collection, id); ok {
		t.Fatalf("listing must be absent after sale")
	}
	if f.store.Len() != 0 {
		t.Fatalf("sold listing must be purged")
	}
	evt := f.emitter.last(EventTypeListingSold)
	if evt == nil || evt.Event().Attributes["status"] != "sold" {
		t.Fatalf("expected sold event, got %v", f.emitter.types())
	}

	if _, err := f.engine.Buy(f.collection, id, f.buyer, oneEther()); !errors.Is(err, ErrNoSuchListing) {
		t.Fatalf("expected ErrNoSuchListing on second buy, got %v", err)
	}
}

func TestBuyPriceMismatchLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	price := big.NewInt(1_000_000)
	f.list(t, id, price)
	buyerBefore := f.ledger.Balance(f.buyer)

	_, err := f.engine.Buy(f.collection, id, f.buyer, big.NewInt(999_999))
	if !errors.Is(err, ErrPriceMismatch) || !errors.Is(err, ErrInsufficientValue) {
		t.Fatalf("expected underpayment mismatch, got %v", err)
	}
	_, err = f.engine.Buy(f.collection, id, f.buyer, big.NewInt(1_000_001))
	if !errors.Is(err, ErrPriceMismatch) || !errors.Is(err, ErrExcessValue) {
		t.Fatalf("expected overpayment mismatch, got %v", err)
	}
	if _, err := f.engine.Buy(f.collection, id, f.buyer, nil); !errors.Is(err, ErrPriceMismatch) {
		t.Fatalf("expected mismatch for missing value, got %v", err)
	}
	if f.ledger.Balance(f.buyer).Cmp(buyerBefore) != 0 || f.ledger.Balance(f.seller).Sign() != 0 {
		t.Fatalf("balances changed after mismatched buy")
	}
	if f.holder(t, id) != f.market {
		t.Fatalf("custody changed after mismatched buy")
	}

	if _, err := f.engine.Buy(f.collection, id, f.buyer, price); err != nil {
		t.Fatalf("exact buy after mismatch: %v", err)
	}
	if f.ledger.Balance(f.seller).Cmp(price) != 0 {
		t.Fatalf("seller not paid")
	}
}

func TestBuyInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	price := new(big.Int).Mul(oneEther(), big.NewInt(11))
	f.list(t, id, price)

	_, err := f.engine.Buy(f.collection, id, f.buyer, price)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if f.holder(t, id) != f.market {
		t.Fatalf("custody changed after failed payment")
	}
	if _, ok, _ := f.engine.Listing(f.collection, id); !ok {
		t.Fatalf("listing removed after failed payment")
	}
}

func TestBuyWithToken(t *testing.T) {
	f := newFixture(t)
	tok, err := f.tokens.CreateToken("USDX", 6)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if err := f.tokens.Mint(tok, f.buyer, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint token: %v", err)
	}
	id := f.mintAndApprove(t)
	if _, err := f.engine.CreateListing(f.collection, id, f.seller, Token(tok), big.NewInt(250)); err != nil {
		t.Fatalf("create listing: %v", err)
	}

	if _, err := f.engine.Buy(f.collection, id, f.buyer, big.NewInt(250)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := f.tokens.Approve(tok, f.buyer, f.market, big.NewInt(250)); err != nil {
		t.Fatalf("approve token: %v", err)
	}
	if _, err := f.engine.Buy(f.collection, id, f.buyer, big.NewInt(200)); !errors.Is(err, ErrPriceMismatch) {
		t.Fatalf("expected ErrPriceMismatch, got %v", err)
	}
	if _, err := f.engine.Buy(f.collection, id, f.buyer, big.NewInt(250)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	balance, err := f.tokens.BalanceOf(tok, f.seller)
	if err != nil || balance.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected seller token balance %v err %v", balance, err)
	}
	if f.holder(t, id) != f.buyer {
		t.Fatalf("buyer must hold the asset")
	}
	if f.ledger.Balance(f.seller).Sign() != 0 {
		t.Fatalf("token sale must not move native funds")
	}
}

func TestBuyRejectsWhenEscrowLostCustody(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	f.list(t, id, big.NewInt(10))
	// Move the asset out of escrow behind the engine's back.
	if err := f.assets.TransferCustody(f.collection, id, f.market, f.seller, f.market); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	buyerBefore := f.ledger.Balance(f.buyer)

	if _, err := f.engine.Buy(f.collection, id, f.buyer, big.NewInt(10)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if f.ledger.Balance(f.buyer).Cmp(buyerBefore) != 0 {
		t.Fatalf("buyer charged although escrow did not hold the asset")
	}
}

func TestCancelRequiresSeller(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	original := f.list(t, id, big.NewInt(10))

	if _, err := f.engine.Cancel(f.collection, id, f.buyer); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	stored, ok, err := f.engine.Listing(f.collection, id)
	if err != nil || !ok {
		t.Fatalf("listing must remain active")
	}
	if stored.ID != original.ID || stored.Price.Cmp(original.Price) != 0 {
		t.Fatalf("listing changed after rejected cancel")
	}
	if _, err := f.engine.Cancel(f.collection, uint256.NewInt(42), f.seller); !errors.Is(err, ErrNoSuchListing) {
		t.Fatalf("expected ErrNoSuchListing, got %v", err)
	}
}

func TestCancelReturnsAssetAndAllowsRelisting(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	f.list(t, id, big.NewInt(10))

	cancelled, err := f.engine.Cancel(f.collection, id, f.seller)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}
	if f.holder(t, id) != f.seller {
		t.Fatalf("asset must return to the seller")
	}
	if _, ok, _ := f.engine.Listing(f.collection, id); ok {
		t.Fatalf("cancelled listing must be purged")
	}
	if f.emitter.last(EventTypeListingCancelled) == nil {
		t.Fatalf("expected cancelled event")
	}
	if _, err := f.engine.Cancel(f.collection, id, f.seller); !errors.Is(err, ErrNoSuchListing) {
		t.Fatalf("expected ErrNoSuchListing on second cancel, got %v", err)
	}

	// The holder lists again without a fresh approval.
	relisted, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), big.NewInt(20))
	if err != nil {
		t.Fatalf("relist: %v", err)
	}
	if relisted.Price.Cmp(big.NewInt(20)) != 0 || f.holder(t, id) != f.market {
		t.Fatalf("unexpected relisting state")
	}
}

func TestCancelRestoresListingWhenReturnFails(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	f.list(t, id, big.NewInt(10))
	f.registry.failTransfersTo(&f.seller)

	if _, err := f.engine.Cancel(f.collection, id, f.seller); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if _, ok, _ := f.engine.Listing(f.collection, id); !ok {
		t.Fatalf("listing must be restored after failed return")
	}
	if f.holder(t, id) != f.market {
		t.Fatalf("custody changed after failed return")
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	f := newFixture(t)
	id := f.mintAndApprove(t)
	f.engine.SetPauses(pauses{ModuleName: true})

	if _, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	f.engine.SetPauses(nil)
	f.list(t, id, big.NewInt(1))
}

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestQuotaLimitsListingRequests(t *testing.T) {
	f := newFixture(t)
	f.engine.SetQuota(nativecommon.NewQuotaTracker(nativecommon.Quota{MaxRequestsPerMin: 1, EpochSeconds: 60}))
	first := f.mintAndApprove(t)
	second := f.mintAndApprove(t)

	f.list(t, first, big.NewInt(1))
	if _, err := f.engine.CreateListing(f.collection, second, f.seller, Native(), big.NewInt(1)); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if f.holder(t, second) != f.seller {
		t.Fatalf("rejected listing must not move custody")
	}
	// A new epoch resets the counters.
	f.engine.SetNowFunc(func() int64 { return nowFn + 60 })
	f.list(t, second, big.NewInt(1))
}

func TestQuotaCapsNativeSpend(t *testing.T) {
	f := newFixture(t)
	f.engine.SetQuota(nativecommon.NewQuotaTracker(nativecommon.Quota{MaxNativePerEpoch: 15}))
	first := f.mintAndApprove(t)
	second := f.mintAndApprove(t)
	f.list(t, first, big.NewInt(10))
	f.list(t, second, big.NewInt(10))

	if _, err := f.engine.Buy(f.collection, first, f.buyer, big.NewInt(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := f.engine.Buy(f.collection, second, f.buyer, big.NewInt(10)); !errors.Is(err, nativecommon.ErrQuotaValueCapExceeded) {
		t.Fatalf("expected ErrQuotaValueCapExceeded, got %v", err)
	}
}

func TestQuotaHoldsUnderConcurrentListings(t *testing.T) {
	f := newFixture(t)
	f.engine.SetQuota(nativecommon.NewQuotaTracker(nativecommon.Quota{MaxRequestsPerMin: 1}))
	const assets = 16
	ids := make([]*uint256.Int, assets)
	for i := range ids {
		ids[i] = f.mintAndApprove(t)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id *uint256.Int) {
			defer wg.Done()
			<-start
			_, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), big.NewInt(1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("expected exactly one listing within the quota, got %d", accepted)
	}
	if f.store.Len() != 1 {
		t.Fatalf("expected one stored listing, got %d", f.store.Len())
	}
}

func TestQuotaNotChargedForFailedListing(t *testing.T) {
	f := newFixture(t)
	f.engine.SetQuota(nativecommon.NewQuotaTracker(nativecommon.Quota{MaxRequestsPerMin: 1}))
	id := f.mintAndApprove(t)
	f.registry.failTransfersTo(&f.market)

	if _, err := f.engine.CreateListing(f.collection, id, f.seller, Native(), big.NewInt(1)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	f.registry.failTransfersTo(nil)
	f.list(t, id, big.NewInt(1))
}

func TestNilAssetIDRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.CreateListing(f.collection, nil, f.seller, Native(), big.NewInt(1)); !errors.Is(err, ErrNoSuchAsset) {
		t.Fatalf("create: expected ErrNoSuchAsset, got %v", err)
	}
	if _, err := f.engine.Buy(f.collection, nil, f.buyer, big.NewInt(1)); !errors.Is(err, ErrNoSuchAsset) {
		t.Fatalf("buy: expected ErrNoSuchAsset, got %v", err)
	}
	if _, err := f.engine.Cancel(f.collection, nil, f.seller); !errors.Is(err, ErrNoSuchAsset) {
		t.Fatalf("cancel: expected ErrNoSuchAsset, got %v", err)
	}
	if _, err := f.engine.RetryDelivery(f.collection, nil); !errors.Is(err, ErrNoSuchAsset) {
		t.Fatalf("retry: expected ErrNoSuchAsset, got %v", err)
	}
}

func TestEngineRequiresCollaborators(t *testing.T) {
	engine := NewEngine(newTestAddress(0xAA))
	if _, err := engine.CreateListing(newTestAddress(0x01), uint256.NewInt(1), newTestAddress(0x02), Native(), big.NewInt(1)); !errors.Is(err, errNilRegistry) {
		t.Fatalf("expected errNilRegistry, got %v", err)
	}
	engine.SetStore(nil)
	if _, err := engine.Buy(newTestAddress(0x01), uint256.NewInt(1), newTestAddress(0x02), big.NewInt(1)); !errors.Is(err, errNilStore) {
		t.Fatalf("expected errNilStore, got %v", err)
	}
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	stages   []string
	active   int
}

func (r *recordingMetrics) Observe(operation, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[operation+"/"+outcome]++
}

func (r *recordingMetrics) RecordInconsistency(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recordingMetrics) ListingOpened() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active++
}

func (r *recordingMetrics) ListingClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
}

func TestMetricsRecordOutcomes(t *testing.T) {
	f := newFixture(t)
	metrics := &recordingMetrics{}
	f.engine.SetMetrics(metrics)
	id := f.mintAndApprove(t)
	f.list(t, id, big.NewInt(10))
	if _, err := f.engine.Buy(f.collection, id, f.buyer, big.NewInt(9)); err == nil {
		t.Fatalf("expected mismatch")
	}
	if _, err := f.engine.Buy(f.collection, id, f.buyer, big.NewInt(10)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if metrics.outcomes["create_listing/success"] != 1 || metrics.outcomes["buy/price_mismatch"] != 1 || metrics.outcomes["buy/success"] != 1 {
		t.Fatalf("unexpected outcomes: %v", metrics.outcomes)
	}
	if metrics.active != 0 {
		t.Fatalf("active listings gauge out of balance: %d", metrics.active)
	}
}
