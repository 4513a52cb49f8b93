package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/market"
	"polymarket-compounder/internal/oracle"
	"polymarket-compounder/internal/risk"
	"polymarket-compounder/pkg/types"
)

// maxResolutionWindowHours bounds the markets the volatility model is
// trusted on. Beyond a day, realized 1-minute volatility says little about
// the terminal distribution.
const maxResolutionWindowHours = 24.0

// DirectionalEngine takes sized directional positions on BTC threshold
// markets when a realized-volatility model disagrees with the market's
// implied probability. This is systematic mispricing detection, not
// prediction: the model estimates P(BTC above strike at resolution) from
// recent 1-minute volatility under a log-normal random walk, and an entry
// requires the model and the YES ask to diverge by more than the
// configured edge.
//
// The engine disables itself when its realized win rate drops below the
// configured floor over a large enough sample.
//
// Activates in phase 3 and above.
type DirectionalEngine struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger

	// randFloat drives the dry-run Bernoulli outcome draw.
	randFloat func() float64

	mu       sync.Mutex
	disabled bool
}

// NewDirectionalEngine builds the phase 3 directional strategy.
func NewDirectionalEngine(cfg config.Config, deps Deps) *DirectionalEngine {
	return &DirectionalEngine{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger.With("component", NameDirectional),
		randFloat: rand.Float64,
	}
}

// Name implements Strategy.
func (e *DirectionalEngine) Name() string { return NameDirectional }

// Close implements Strategy. The price oracle is shared and closed by the
// engine, not here.
func (e *DirectionalEngine) Close() {}

// Disabled reports whether the engine has self-disabled on poor win rate.
func (e *DirectionalEngine) Disabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled
}

// ScanAndExecute evaluates BTC threshold markets for directional edge.
func (e *DirectionalEngine) ScanAndExecute(ctx context.Context) error {
	if e.Disabled() {
		return nil
	}
	e.checkAutoDisable()

	openCount := e.deps.Ledger.StrategyPositionCount(NameDirectional)
	if openCount >= e.cfg.Directional.MaxConcurrent {
		return nil
	}

	markets, err := e.deps.Markets.ActiveMarkets(ctx)
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}
	btcMarkets := market.FilterThresholdMarkets(market.FilterBinaryTradable(markets, 0))
	if len(btcMarkets) == 0 {
		return nil
	}

	spot, hourlyVol, err := e.deps.Oracle.Volatility(ctx)
	if err != nil {
		e.logger.Debug("volatility data unavailable", "error", err)
		return nil
	}

	for _, m := range btcMarkets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if openCount >= e.cfg.Directional.MaxConcurrent {
			break
		}
		if e.evaluate(ctx, m, spot, hourlyVol) {
			openCount++
		}
	}
	return nil
}

// evaluate checks one market for directional edge. Returns true when a
// position was opened.
func (e *DirectionalEngine) evaluate(ctx context.Context, m types.Market, spot, hourlyVol float64) bool {
	strike, above, ok := market.ParseThresholdQuestion(m.Question)
	if !ok {
		return false
	}

	hours := m.HoursToEnd(time.Now())
	if hours <= 0 || hours > maxResolutionWindowHours {
		return false
	}

	probAbove, ok := oracle.ExceedProbability(spot, strike, hourlyVol, hours)
	if !ok {
		return false
	}

	yesResp, err := e.deps.Exchange.GetOrderBook(ctx, m.YesTokenID)
	if err != nil {
		return false
	}
	yesAsks := market.ParseBook(yesResp).Asks
	if len(yesAsks) == 0 {
		return false
	}
	yesBest := yesAsks[0].Price

	// The YES ask is the market's implied probability of the question
	// resolving YES.
	implied := yesBest
	modelProb := probAbove
	if !above {
		modelProb = 1.0 - probAbove
	}
	edge := modelProb - implied

	if edge < e.cfg.Directional.MinEdge && edge > -e.cfg.Directional.MinEdge {
		return false
	}

	// Positive edge: YES is underpriced. Negative: NO is underpriced.
	buyToken := m.YesTokenID
	buySide := types.YES
	buyPrice := yesBest
	buyAsks := yesAsks
	if edge < 0 {
		noResp, err := e.deps.Exchange.GetOrderBook(ctx, m.NoTokenID)
		if err != nil {
			return false
		}
		noAsks := market.ParseBook(noResp).Asks
		if len(noAsks) == 0 {
			return false
		}
		buyToken = m.NoTokenID
		buySide = types.NO
		buyPrice = noAsks[0].Price
		buyAsks = noAsks
		edge = -edge
	}

	e.logger.Info("directional edge",
		"market", truncate(m.Question, 50),
		"model_pct", modelProb*100,
		"implied_pct", implied*100,
		"edge_pp", edge*100,
		"side", buySide,
	)

	// Simplified Kelly: fraction = edge / odds, where a binary bet at
	// price p pays odds of (1/p - 1). Half-Kelly for sizing safety.
	if buyPrice <= 0 {
		return false
	}
	odds := 1.0/buyPrice - 1.0
	if odds <= 0 {
		return false
	}
	kelly := edge / odds

	balance, err := e.deps.Exchange.GetBalance(ctx)
	if err != nil {
		e.logger.Debug("balance fetch failed", "error", err)
		return false
	}

	sizePct := kelly * 0.5
	if sizePct > e.cfg.Directional.MaxPositionPct {
		sizePct = e.cfg.Directional.MaxPositionPct
	}
	sizeUSD := balance * sizePct * e.deps.Risk.PositionMultiplier()

	dirExposure := e.deps.Ledger.StrategyExposure(NameDirectional)
	if balance > 0 && (dirExposure+sizeUSD)/balance > e.cfg.Directional.MaxTotalPct {
		e.logger.Debug("directional exposure cap reached")
		return false
	}

	if sizeUSD < e.cfg.Risk.MinTradeUSD {
		return false
	}
	if sizeUSD > e.cfg.Risk.MaxTradeUSD {
		sizeUSD = e.cfg.Risk.MaxTradeUSD
	}

	shares := sizeUSD / buyPrice
	fill := market.WalkAsks(buyAsks, shares)
	if !fill.FullyFillable {
		shares = fill.TotalFilled
		if shares*buyPrice < e.cfg.Risk.MinTradeUSD {
			return false
		}
	}

	req := risk.TradeRequest{
		Strategy:   NameDirectional,
		TokenID:    buyToken,
		Side:       types.BUY,
		Price:      fill.AveragePrice,
		Size:       shares,
		MaxLossUSD: fill.TotalCost, // full loss if the model is wrong
	}
	if approved, reason := e.deps.Risk.CheckTrade(req, balance); !approved {
		e.logger.Info("directional trade rejected", "reason", reason)
		return false
	}

	ticket, err := e.deps.Orders.PlaceLimit(ctx, buyToken, types.BUY, fill.AveragePrice, shares)
	if err != nil {
		e.logger.Warn("limit order failed", "market", m.Slug, "error", err)
		return false
	}
	if ticket.Status != types.TicketSubmitted && ticket.Status != types.TicketFilled {
		return false
	}

	e.deps.Ledger.OpenPosition(ledger.Position{
		TokenID:        buyToken,
		MarketID:       m.ConditionID,
		MarketQuestion: m.Question,
		Side:           buySide,
		EntryPrice:     fill.AveragePrice,
		Size:           shares,
		Strategy:       NameDirectional,
	})

	// Dry-run resolves the position immediately with a coin flip
	// weighted by the model probability of the held side.
	if e.cfg.DryRun {
		winProb := modelProb
		if buySide == types.NO {
			winProb = 1.0 - modelProb
		}
		win := e.randFloat() < winProb
		exitPrice := buySide.TerminalPrice(win)
		pnl := (exitPrice - fill.AveragePrice) * shares
		newBalance := balance + pnl
		rec, closed := e.deps.Ledger.ClosePosition(buyToken, exitPrice, newBalance, 3)
		if closed {
			e.deps.settle(e.logger, rec, win)
		}
		e.logger.Info("dry-run directional settled",
			"result", winLabel(win),
			"side", buySide,
			"pnl_usd", pnl,
		)
	}

	return true
}

// checkAutoDisable turns the engine off when the realized win rate over a
// large enough sample drops below the configured floor. The flag takes
// effect on the next scan.
func (e *DirectionalEngine) checkAutoDisable() {
	history := e.deps.Ledger.StrategyTradeHistory(NameDirectional)
	if len(history) < e.cfg.Directional.MinSample {
		return
	}
	rate, ok := e.deps.Ledger.StrategyWinRate(NameDirectional)
	if !ok || rate >= e.cfg.Directional.AutoDisableWinRate {
		return
	}

	e.mu.Lock()
	e.disabled = true
	e.mu.Unlock()

	e.logger.Warn("directional engine auto-disabled",
		"win_rate_pct", rate*100,
		"floor_pct", e.cfg.Directional.AutoDisableWinRate*100,
		"sample", len(history),
	)
	if e.deps.Notifier != nil {
		e.deps.Notifier.Send(fmt.Sprintf(
			"⚠️ Directional engine auto-disabled!\nWin rate: %.0f%% over %d trades.\nManual review required.",
			rate*100, len(history),
		))
	}
}

func winLabel(win bool) string {
	if win {
		return "WIN"
	}
	return "LOSS"
}
