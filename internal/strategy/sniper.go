package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/market"
	"polymarket-compounder/internal/risk"
	"polymarket-compounder/pkg/types"
)

const (
	// sniperSizePct is the balance fraction committed to a single new
	// market. New books are thin, so this runs above the default
	// per-trade cap but stays bounded by the per-strategy exposure cap.
	sniperSizePct = 0.15

	// sniperEfficientSum marks the ask sum at which market makers have
	// already tightened the book and the opportunity is gone.
	sniperEfficientSum = 0.97
)

// NewMarketSniper exploits mispricing in freshly created markets. New books
// open with wide spreads and YES + NO often sums well below $1.00; arriving
// before market makers optimize the book captures the gap as risk-free arb.
//
// Activates in phase 2 and above.
type NewMarketSniper struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	lastScan time.Time
}

// NewNewMarketSniper builds the phase 2 sniper strategy.
func NewNewMarketSniper(cfg config.Config, deps Deps) *NewMarketSniper {
	return &NewMarketSniper{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", NameSniper),
	}
}

// Name implements Strategy.
func (s *NewMarketSniper) Name() string { return NameSniper }

// Close implements Strategy.
func (s *NewMarketSniper) Close() {}

// ScanAndExecute polls for newly created markets and evaluates each. The
// sniper self-throttles to its own scan interval, which is coarser than
// the main engine cycle.
func (s *NewMarketSniper) ScanAndExecute(ctx context.Context) error {
	if !s.shouldScan(time.Now()) {
		return nil
	}

	fresh, err := s.deps.Markets.DetectNewMarkets(ctx)
	if err != nil {
		return fmt.Errorf("detect new markets: %w", err)
	}
	if len(fresh) == 0 {
		return nil
	}

	for _, m := range market.FilterBinaryTradable(fresh, 0) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.evaluate(ctx, m)
	}
	return nil
}

func (s *NewMarketSniper) shouldScan(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastScan) < s.cfg.Sniper.ScanInterval {
		return false
	}
	s.lastScan = now
	return true
}

// evaluate scores one new market and executes when the book is mispriced.
func (s *NewMarketSniper) evaluate(ctx context.Context, m types.Market) {
	balance, err := s.deps.Exchange.GetBalance(ctx)
	if err != nil {
		s.logger.Debug("balance fetch failed", "error", err)
		return
	}

	exposure := s.deps.Ledger.StrategyExposure(NameSniper)
	if balance > 0 && exposure/balance >= s.cfg.Sniper.MaxExposurePct {
		s.logger.Debug("new-market exposure limit reached", "market", m.Slug)
		return
	}

	yesAsks, noAsks, ok := fetchAskSides(ctx, s.deps.Exchange, m, s.logger)
	if !ok {
		return
	}

	naiveSum := yesAsks[0].Price + noAsks[0].Price
	if naiveSum > sniperEfficientSum {
		s.logger.Debug("new market already efficient",
			"market", m.Slug, "sum", naiveSum)
		return
	}
	priority := "STANDARD"
	if naiveSum <= s.cfg.Sniper.HighPriorityThreshold {
		priority = "HIGH"
	}

	s.logger.Info("new market opportunity",
		"priority", priority,
		"market", truncate(m.Question, 60),
		"sum", naiveSum,
	)

	maxUSD := balance * sniperSizePct
	if maxUSD > s.cfg.Risk.MaxTradeUSD {
		maxUSD = s.cfg.Risk.MaxTradeUSD
	}
	sizeUSD := maxUSD * s.deps.Risk.PositionMultiplier()
	if sizeUSD < s.cfg.Risk.MinTradeUSD {
		return
	}

	shares := sizeUSD / naiveSum
	if shares <= 0 {
		return
	}

	cost, ok := market.CombinedFillCost(yesAsks, noAsks, shares)
	if !ok {
		// Thin book. Retry once at half size before giving up.
		shares *= 0.5
		cost, ok = market.CombinedFillCost(yesAsks, noAsks, shares)
		if !ok {
			s.logger.Debug("insufficient liquidity in new market", "market", m.Slug)
			return
		}
	}

	fees := cost * s.cfg.Orders.EstimatedFeeRate
	profitPerShare := 1.0 - cost - fees
	if profitPerShare < s.cfg.SumToOne.MinProfitPct {
		return
	}

	totalCost := cost * shares
	totalProfit := profitPerShare * shares

	req := risk.TradeRequest{
		Strategy:   NameSniper,
		TokenID:    m.YesTokenID,
		Side:       types.BUY,
		Price:      cost,
		Size:       shares,
		MaxLossUSD: totalCost * 0.05,
	}
	if approved, reason := s.deps.Risk.CheckTrade(req, balance); !approved {
		s.logger.Info("new market snipe rejected", "reason", reason)
		return
	}

	yesFill := market.WalkAsks(yesAsks, shares)
	noFill := market.WalkAsks(noAsks, shares)

	pair, err := s.deps.Orders.PlaceArbPair(ctx,
		m.YesTokenID, m.NoTokenID,
		yesFill.AveragePrice, noFill.AveragePrice,
		shares,
	)
	if err != nil {
		s.logger.Warn("snipe pair failed", "market", m.Slug, "error", err)
		return
	}

	if pair.YesLeg.Filled() {
		s.deps.Ledger.OpenPosition(ledger.Position{
			TokenID:        m.YesTokenID,
			MarketID:       m.ConditionID,
			MarketQuestion: m.Question,
			Side:           types.YES,
			EntryPrice:     yesFill.AveragePrice,
			Size:           shares,
			Strategy:       NameSniper,
		})
	}
	if pair.NoLeg.Filled() {
		s.deps.Ledger.OpenPosition(ledger.Position{
			TokenID:        m.NoTokenID,
			MarketID:       m.ConditionID,
			MarketQuestion: m.Question,
			Side:           types.NO,
			EntryPrice:     noFill.AveragePrice,
			Size:           shares,
			Strategy:       NameSniper,
		})
	}

	if !pair.BothFilled() {
		return
	}

	newBalance := balance + totalProfit
	yesRec, closed := s.deps.Ledger.ClosePosition(m.YesTokenID, 1.0, newBalance, 2)
	s.deps.Ledger.ClosePosition(m.NoTokenID, 0.0, newBalance, 2)
	if closed {
		s.deps.settle(s.logger, yesRec, true)
	}

	s.logger.Info("new market snipe executed",
		"priority", priority,
		"market", truncate(m.Question, 40),
		"profit_usd", totalProfit,
	)
}
