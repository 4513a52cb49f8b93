package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/market"
	"polymarket-compounder/internal/risk"
	"polymarket-compounder/pkg/types"
)

// SumToOneArb scans binary markets for YES + NO combined fill cost under
// $1.00 and executes paired buys. In a binary market the two outcomes pay
// exactly $1.00 combined at resolution, so any cheaper entry is risk-free
// profit regardless of the outcome.
//
// The real cost is not the best ask: filling a meaningful size may eat
// through several price levels, so both books are walked at the intended
// share count before committing.
//
// This is the safety-net strategy and runs in every phase.
type SumToOneArb struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
}

// NewSumToOneArb builds the always-on arbitrage strategy.
func NewSumToOneArb(cfg config.Config, deps Deps) *SumToOneArb {
	return &SumToOneArb{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", NameSumToOne),
	}
}

// Name implements Strategy.
func (s *SumToOneArb) Name() string { return NameSumToOne }

// Close implements Strategy. SumToOneArb holds no resources of its own.
func (s *SumToOneArb) Close() {}

// ScanAndExecute runs one full scan: fetch active binary markets with
// sufficient volume and evaluate each for an arb entry.
func (s *SumToOneArb) ScanAndExecute(ctx context.Context) error {
	markets, err := s.deps.Markets.ActiveMarkets(ctx)
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}
	candidates := market.FilterBinaryTradable(markets, s.cfg.SumToOne.MinDailyVolume)

	for _, m := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.evaluate(ctx, m)
	}
	return nil
}

// evaluate checks a single market for an arb opportunity and executes it.
func (s *SumToOneArb) evaluate(ctx context.Context, m types.Market) {
	yesAsks, noAsks, ok := fetchAskSides(ctx, s.deps.Exchange, m, s.logger)
	if !ok {
		return
	}

	balance, err := s.deps.Exchange.GetBalance(ctx)
	if err != nil {
		s.logger.Debug("balance fetch failed", "error", err)
		return
	}

	baseUSD := balance * s.cfg.Risk.MaxPositionPct
	if baseUSD > s.cfg.Risk.MaxTradeUSD {
		baseUSD = s.cfg.Risk.MaxTradeUSD
	}
	sizeUSD := baseUSD * s.deps.Risk.PositionMultiplier()
	if sizeUSD < s.cfg.Risk.MinTradeUSD {
		return
	}

	// Quick screen on best asks before paying for two book walks.
	naiveSum := yesAsks[0].Price + noAsks[0].Price
	if naiveSum > s.cfg.SumToOne.ArbThreshold {
		return
	}

	// Each YES + NO pair costs roughly naiveSum, which converts the cash
	// budget into a share count.
	shares := sizeUSD / naiveSum
	if shares <= 0 {
		return
	}

	cost, ok := market.CombinedFillCost(yesAsks, noAsks, shares)
	if !ok {
		return // not enough depth at this size
	}

	// At resolution the pair pays exactly $1.00 per share.
	fees := cost * s.cfg.Orders.EstimatedFeeRate
	profitPerShare := 1.0 - cost - fees
	if profitPerShare < s.cfg.SumToOne.MinProfitPct {
		return
	}

	totalCost := cost * shares
	totalProfit := profitPerShare * shares

	s.logger.Info("arb found",
		"market", truncate(m.Question, 60),
		"cost_per_pair", cost,
		"profit_per_share", profitPerShare,
		"total_profit_usd", totalProfit,
	)

	yesFill := market.WalkAsks(yesAsks, shares)
	noFill := market.WalkAsks(noAsks, shares)

	req := risk.TradeRequest{
		Strategy:   NameSumToOne,
		TokenID:    m.YesTokenID,
		Side:       types.BUY,
		Price:      cost, // combined effective price per pair
		Size:       shares,
		MaxLossUSD: totalCost * s.cfg.SumToOne.SlippageBuffer,
	}
	if approved, reason := s.deps.Risk.CheckTrade(req, balance); !approved {
		s.logger.Info("arb rejected", "reason", reason)
		return
	}

	pair, err := s.deps.Orders.PlaceArbPair(ctx,
		m.YesTokenID, m.NoTokenID,
		yesFill.AveragePrice, noFill.AveragePrice,
		shares,
	)
	if err != nil {
		s.logger.Warn("arb pair failed", "market", m.Slug, "error", err)
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
			Strategy:       NameSumToOne,
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
			Strategy:       NameSumToOne,
		})
	}

	if !pair.BothFilled() {
		return
	}

	// Both legs filled: the payout at resolution is locked in, so settle
	// the round trip now. The YES leg exits at $1.00 and carries the
	// journal entry for the pair; the NO leg exits at $0.00 so its cost
	// is netted inside the YES record's balance figure.
	newBalance := balance + totalProfit
	yesRec, closed := s.deps.Ledger.ClosePosition(m.YesTokenID, 1.0, newBalance, 0)
	s.deps.Ledger.ClosePosition(m.NoTokenID, 0.0, newBalance, 0)
	if closed {
		s.deps.settle(s.logger, yesRec, true)
	}

	s.logger.Info("arb executed",
		"market", truncate(m.Question, 40),
		"profit_usd", totalProfit,
		"return_pct", (profitPerShare/cost)*100,
	)
}
