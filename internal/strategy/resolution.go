package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/market"
	"polymarket-compounder/internal/risk"
	"polymarket-compounder/pkg/types"
)

// resolutionMaxAsk is the hard ceiling on the winner's ask. Above it the
// discount cannot cover fees even when the configured edge floor is lower.
const resolutionMaxAsk = 0.97

// ResolutionArb buys known winners still trading below $0.97 and holds
// them to resolution. When a market's outcome is already publicly knowable
// (BTC closed above the strike) but the market has not officially resolved,
// the winning token often trades at $0.90-0.97 instead of $1.00.
//
// Only BTC threshold markets are considered because their outcomes are
// verifiable in real time through the price oracle.
//
// Activates in phase 1 and above.
type ResolutionArb struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
}

// NewResolutionArb builds the phase 1 resolution strategy.
func NewResolutionArb(cfg config.Config, deps Deps) *ResolutionArb {
	return &ResolutionArb{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", NameResolution),
	}
}

// Name implements Strategy.
func (r *ResolutionArb) Name() string { return NameResolution }

// Close implements Strategy. The price oracle is shared and closed by the
// engine, not here.
func (r *ResolutionArb) Close() {}

// ScanAndExecute runs one full scan over BTC threshold markets.
func (r *ResolutionArb) ScanAndExecute(ctx context.Context) error {
	markets, err := r.deps.Markets.ActiveMarkets(ctx)
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}
	btcMarkets := market.FilterThresholdMarkets(market.FilterBinaryTradable(markets, 0))

	for _, m := range btcMarkets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.evaluate(ctx, m)
	}
	return nil
}

// evaluate determines whether a BTC market has a known outcome with enough
// discount left on the winning token.
func (r *ResolutionArb) evaluate(ctx context.Context, m types.Market) {
	strike, above, ok := market.ParseThresholdQuestion(m.Question)
	if !ok {
		return
	}

	spot, err := r.deps.Oracle.SpotPrice(ctx)
	if err != nil {
		r.logger.Debug("spot price unavailable", "error", err)
		return
	}

	// Too close to the strike means the outcome could still flip.
	pctDiff := math.Abs(spot-strike) / strike
	if pctDiff < r.cfg.Resolution.PriceBufferPct {
		r.logger.Debug("spot within buffer of strike",
			"spot", spot, "strike", strike, "market", m.Slug)
		return
	}

	winner := types.NO
	if (spot > strike) == above {
		winner = types.YES
	}
	tokenID := m.YesTokenID
	if winner == types.NO {
		tokenID = m.NoTokenID
	}

	bookResp, err := r.deps.Exchange.GetOrderBook(ctx, tokenID)
	if err != nil {
		r.logger.Debug("book fetch failed", "market", m.Slug, "error", err)
		return
	}
	asks := market.ParseBook(bookResp).Asks
	if len(asks) == 0 {
		return
	}
	best := asks[0].Price

	// The winner resolves to $1.00; trade only when the discount is
	// worth the wait.
	edge := 1.0 - best
	if edge < r.cfg.Resolution.MinEdge {
		r.logger.Debug("edge too thin",
			"edge_pct", edge*100, "market", m.Slug)
		return
	}
	if best > resolutionMaxAsk {
		return
	}

	r.logger.Info("resolution arb found",
		"market", truncate(m.Question, 60),
		"winner", winner,
		"ask", best,
		"edge_pct", edge*100,
	)

	r.execute(ctx, m, tokenID, winner, best, asks, edge)
}

// execute places a limit buy for the winning token.
func (r *ResolutionArb) execute(ctx context.Context, m types.Market, tokenID string, winner types.Outcome, askPrice float64, asks []market.Level, edge float64) {
	balance, err := r.deps.Exchange.GetBalance(ctx)
	if err != nil {
		r.logger.Debug("balance fetch failed", "error", err)
		return
	}

	baseUSD := balance * r.cfg.Resolution.MaxPositionPct
	if baseUSD > r.cfg.Risk.MaxTradeUSD {
		baseUSD = r.cfg.Risk.MaxTradeUSD
	}
	sizeUSD := baseUSD * r.deps.Risk.PositionMultiplier()
	if sizeUSD < r.cfg.Risk.MinTradeUSD {
		return
	}

	shares := sizeUSD / askPrice
	fill := market.WalkAsks(asks, shares)
	if !fill.FullyFillable {
		shares = fill.TotalFilled
		if shares*askPrice < r.cfg.Risk.MinTradeUSD {
			return
		}
	}

	req := risk.TradeRequest{
		Strategy:   NameResolution,
		TokenID:    tokenID,
		Side:       types.BUY,
		Price:      fill.AveragePrice,
		Size:       shares,
		MaxLossUSD: fill.TotalCost * 0.05, // near-certain winner, worst case 5%
	}
	if approved, reason := r.deps.Risk.CheckTrade(req, balance); !approved {
		r.logger.Info("resolution arb rejected", "reason", reason)
		return
	}

	ticket, err := r.deps.Orders.PlaceLimit(ctx, tokenID, types.BUY, fill.AveragePrice, shares)
	if err != nil {
		r.logger.Warn("limit order failed", "market", m.Slug, "error", err)
		return
	}
	if ticket.Status != types.TicketSubmitted && ticket.Status != types.TicketFilled {
		return
	}

	r.deps.Ledger.OpenPosition(ledger.Position{
		TokenID:        tokenID,
		MarketID:       m.ConditionID,
		MarketQuestion: m.Question,
		Side:           winner,
		EntryPrice:     fill.AveragePrice,
		Size:           shares,
		Strategy:       NameResolution,
	})

	// Live positions are held until the market resolves. In dry-run the
	// resolution payout is simulated immediately.
	if r.cfg.DryRun {
		profit := (1.0 - fill.AveragePrice) * shares
		newBalance := balance + profit
		rec, closed := r.deps.Ledger.ClosePosition(tokenID, 1.0, newBalance, 1)
		if closed {
			r.deps.settle(r.logger, rec, true)
		}
		r.logger.Info("dry-run resolution arb settled",
			"profit_usd", profit,
			"edge_pct", edge*100,
		)
	}
}
