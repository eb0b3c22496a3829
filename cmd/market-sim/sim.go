package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"nftmarket/config"
	"nftmarket/core/events"
	"nftmarket/crypto"
	"nftmarket/native/bank"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/market"
	"nftmarket/native/registry"
	"nftmarket/native/token"
	"nftmarket/observability"
	"nftmarket/storage"
)

const (
	scenarioNative = "native"
	scenarioToken  = "token"
	scenarioRace   = "race"
	scenarioAll    = "all"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ether converts a whole number of ether into base units.
func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerEther)
}

// formatEther renders base units as a decimal ether amount.
func formatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(wei, weiPerEther).FloatString(4)
}

// simulation wires the market engine to in-process collaborators.
type simulation struct {
	logger     *slog.Logger
	assets     *registry.Registry
	ledger     *bank.Ledger
	tokens     *token.Registry
	engine     *market.Engine
	market     [20]byte
	collection [20]byte
	tokenSeq   int
	closers    []func() error
}

func newSimulation(cfg *config.Config, logger *slog.Logger) (*simulation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	marketAddr, err := cfg.ResolveMarketAddress()
	if err != nil {
		return nil, err
	}
	emitter := events.Fanout{
		events.LogEmitter{Logger: logger.With("component", "events"), Level: slog.LevelDebug},
		observability.Events(),
	}

	s := &simulation{
		logger: logger,
		assets: registry.NewRegistry(),
		ledger: bank.NewLedger(),
		tokens: token.NewRegistry(),
		market: marketAddr,
	}
	s.assets.SetEmitter(emitter)
	s.ledger.SetEmitter(emitter)
	s.tokens.SetEmitter(emitter)

	engine := market.NewEngine(marketAddr)
	engine.SetRegistry(s.assets)
	engine.SetSettler(market.NewSettler(s.ledger, s.tokens, marketAddr))
	engine.SetEmitter(emitter)
	engine.SetLogger(logger)
	engine.SetMetrics(observability.Market())
	engine.SetPauses(cfg.Pauses)
	if quota := cfg.Quota.Native(); quota.Enabled() {
		engine.SetQuota(nativecommon.NewQuotaTracker(quota))
	}

	switch cfg.ListingStore {
	case config.StoreLevelDB:
		db, err := storage.NewLevelDB(cfg.ListingDBPath())
		if err != nil {
			return nil, fmt.Errorf("open listing store: %w", err)
		}
		s.closers = append(s.closers, func() error { db.Close(); return nil })
		engine.SetStore(market.NewDBStore(db))
	default:
		engine.SetStore(market.NewMemoryStore())
	}
	if cfg.IncidentLog != "" {
		log, err := market.OpenBoltIncidentLog(cfg.IncidentLog, nil)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open incident log: %w", err)
		}
		s.closers = append(s.closers, log.Close)
		engine.SetIncidentLog(log)
	}
	s.engine = engine

	collection, err := s.assets.CreateCollection("NFTCollection", "NFT")
	if err != nil {
		s.Close()
		return nil, err
	}
	s.collection = collection
	return s, nil
}

// Close releases the persistent stores in reverse order of opening.
func (s *simulation) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// participant generates a fresh account funded with the given native balance.
func (s *simulation) participant(funds *big.Int) ([20]byte, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return [20]byte{}, err
	}
	addr := key.PubKey().Address().Array()
	if funds != nil && funds.Sign() > 0 {
		if err := s.ledger.Credit(addr, funds); err != nil {
			return [20]byte{}, err
		}
	}
	return addr, nil
}

func display(addr [20]byte) string {
	return crypto.NewAddress(crypto.AccountPrefix, addr[:]).String()
}

// mintAndList mints a fresh asset to the seller, approves the market and lists
// it at price.
func (s *simulation) mintAndList(seller [20]byte, currency market.Currency, price *big.Int) (*uint256.Int, error) {
	id, err := s.assets.Mint(s.collection, seller, "Test")
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	if err := s.assets.Approve(s.collection, id, seller, s.market); err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	if _, err := s.engine.CreateListing(s.collection, id, seller, currency, price); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}
	holder, err := s.assets.HolderOf(s.collection, id)
	if err != nil {
		return nil, err
	}
	if holder != s.market {
		return nil, fmt.Errorf("asset %s not escrowed after listing", id.Dec())
	}
	return id, nil
}

func (s *simulation) expectHolder(id *uint256.Int, want [20]byte) error {
	holder, err := s.assets.HolderOf(s.collection, id)
	if err != nil {
		return err
	}
	if holder != want {
		return fmt.Errorf("asset %s held by %s, want %s", id.Dec(), display(holder), display(want))
	}
	return nil
}

// runNative lists an asset at 1 ether and sells it for exactly 1 ether after a
// rejected underpayment.
func (s *simulation) runNative(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seller, err := s.participant(nil)
	if err != nil {
		return err
	}
	buyer, err := s.participant(ether(10))
	if err != nil {
		return err
	}
	price := ether(1)
	id, err := s.mintAndList(seller, market.ParseCurrency([20]byte{}), price)
	if err != nil {
		return err
	}
	sellerBefore := s.ledger.Balance(seller)
	s.logger.Info("seller balance before sale", "account", display(seller), "ether", formatEther(sellerBefore))

	short := new(big.Int).Sub(price, big.NewInt(1))
	if _, err := s.engine.Buy(s.collection, id, buyer, short); !errors.Is(err, market.ErrPriceMismatch) {
		return fmt.Errorf("underpayment: expected price mismatch, got %v", err)
	}
	if _, err := s.engine.Buy(s.collection, id, buyer, price); err != nil {
		return fmt.Errorf("buy: %w", err)
	}
	if err := s.expectHolder(id, buyer); err != nil {
		return err
	}
	sellerAfter := s.ledger.Balance(seller)
	s.logger.Info("seller balance after sale", "account", display(seller), "ether", formatEther(sellerAfter))
	if gained := new(big.Int).Sub(sellerAfter, sellerBefore); gained.Cmp(price) != 0 {
		return fmt.Errorf("seller gained %s ether, want %s", formatEther(gained), formatEther(price))
	}
	if _, ok, err := s.engine.Listing(s.collection, id); err != nil || ok {
		return fmt.Errorf("listing still present after sale (err=%v)", err)
	}
	return nil
}

// runToken sells an asset priced in a registered token through an allowance
// granted to the market.
func (s *simulation) runToken(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.tokenSeq++
	tok, err := s.tokens.CreateToken(fmt.Sprintf("SIM%d", s.tokenSeq), 18)
	if err != nil {
		return err
	}
	seller, err := s.participant(nil)
	if err != nil {
		return err
	}
	buyer, err := s.participant(nil)
	if err != nil {
		return err
	}
	price := ether(5)
	if err := s.tokens.Mint(tok, buyer, price); err != nil {
		return err
	}
	id, err := s.mintAndList(seller, market.Token(tok), price)
	if err != nil {
		return err
	}
	if _, err := s.engine.Buy(s.collection, id, buyer, price); !errors.Is(err, market.ErrInsufficientAllowance) {
		return fmt.Errorf("buy without allowance: expected insufficient allowance, got %v", err)
	}
	if err := s.tokens.Approve(tok, buyer, s.market, price); err != nil {
		return err
	}
	if _, err := s.engine.Buy(s.collection, id, buyer, price); err != nil {
		return fmt.Errorf("token buy: %w", err)
	}
	if err := s.expectHolder(id, buyer); err != nil {
		return err
	}
	balance, err := s.tokens.BalanceOf(tok, seller)
	if err != nil {
		return err
	}
	s.logger.Info("seller token balance after sale", "account", display(seller), "amount", formatEther(balance))
	if balance.Cmp(price) != 0 {
		return fmt.Errorf("seller received %s tokens, want %s", formatEther(balance), formatEther(price))
	}
	return nil
}

// runRace lets buyers compete for one listing and checks a single sale
// settles.
func (s *simulation) runRace(ctx context.Context, buyers int) error {
	if buyers < 2 {
		buyers = 2
	}
	seller, err := s.participant(nil)
	if err != nil {
		return err
	}
	price := ether(1)
	id, err := s.mintAndList(seller, market.Native(), price)
	if err != nil {
		return err
	}
	addrs := make([][20]byte, buyers)
	for i := range addrs {
		if addrs[i], err = s.participant(price); err != nil {
			return err
		}
	}

	wins := make([]bool, buyers)
	g, gctx := errgroup.WithContext(ctx)
	for i, buyer := range addrs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := s.engine.Buy(s.collection, id, buyer, price)
			switch {
			case err == nil:
				wins[i] = true
				return nil
			case errors.Is(err, market.ErrNoSuchListing):
				return nil
			default:
				return fmt.Errorf("buyer %d: %w", i, err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	winner := -1
	for i, won := range wins {
		if !won {
			continue
		}
		if winner >= 0 {
			return fmt.Errorf("asset %s sold twice", id.Dec())
		}
		winner = i
	}
	if winner < 0 {
		return fmt.Errorf("asset %s was not sold", id.Dec())
	}
	if err := s.expectHolder(id, addrs[winner]); err != nil {
		return err
	}
	if got := s.ledger.Balance(seller); got.Cmp(price) != 0 {
		return fmt.Errorf("seller holds %s ether after race, want %s", formatEther(got), formatEther(price))
	}
	s.logger.Info("race settled", "buyers", buyers, "winner", display(addrs[winner]))
	return nil
}

// run executes the named scenario, or every scenario for "all".
func (s *simulation) run(ctx context.Context, scenario string, racers int) error {
	switch scenario {
	case scenarioNative:
		return s.runNative(ctx)
	case scenarioToken:
		return s.runToken(ctx)
	case scenarioRace:
		return s.runRace(ctx, racers)
	case scenarioAll:
		if err := s.runNative(ctx); err != nil {
			return fmt.Errorf("%s: %w", scenarioNative, err)
		}
		if err := s.runToken(ctx); err != nil {
			return fmt.Errorf("%s: %w", scenarioToken, err)
		}
		if err := s.runRace(ctx, racers); err != nil {
			return fmt.Errorf("%s: %w", scenarioRace, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown scenario %q", scenario)
	}
}
