// Package strategy implements the four trading approaches of the
// compounding bot, activated in phases as the balance grows:
//
//   - sum_to_one_arb (always): buy YES + NO when their combined fill cost
//     is under $1.00, locking in the resolution payout.
//   - resolution_arb (phase 1+): buy the known winner of a BTC threshold
//     market that still trades below $0.97.
//   - new_market_sniper (phase 2+): hit mispriced books in freshly created
//     markets before market makers arrive.
//   - directional_engine (phase 3+): volatility-model directional entries
//     on BTC threshold markets when the model and the market disagree.
//
// Every strategy runs one ScanAndExecute per engine cycle and is stateless
// between cycles apart from self-throttles and the directional disable
// flag. The engine rebuilds the active set whenever the balance phase
// changes.
package strategy

import (
	"context"
	"log/slog"

	"polymarket-compounder/internal/journal"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/market"
	"polymarket-compounder/internal/orders"
	"polymarket-compounder/internal/risk"
	"polymarket-compounder/pkg/types"
)

// Strategy names double as ledger keys, so per-strategy exposure and win
// rates survive restarts only if these stay stable.
const (
	NameSumToOne    = "sum_to_one_arb"
	NameResolution  = "resolution_arb"
	NameSniper      = "new_market_sniper"
	NameDirectional = "directional_engine"
)

// Strategy is one trading approach, scanned once per engine cycle.
type Strategy interface {
	// Name returns the stable strategy identifier used in the ledger
	// and the trade journal.
	Name() string
	// ScanAndExecute runs one full scan cycle: find opportunities,
	// pass them through risk, and execute. Returns an error only for
	// cycle-level failures; per-market problems are logged and skipped.
	ScanAndExecute(ctx context.Context) error
	// Close releases any resources the strategy holds.
	Close()
}

// Exchange is the slice of the venue client strategies read from.
type Exchange interface {
	GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error)
	GetBalance(ctx context.Context) (float64, error)
}

// Markets is the slice of the market catalog strategies scan.
type Markets interface {
	ActiveMarkets(ctx context.Context) ([]types.Market, error)
	DetectNewMarkets(ctx context.Context) ([]types.Market, error)
}

// PriceSource yields oracle BTC prices and realized volatility.
type PriceSource interface {
	SpotPrice(ctx context.Context) (float64, error)
	Volatility(ctx context.Context) (price, hourlyVol float64, err error)
}

// OrderPlacer is the slice of the order coordinator strategies submit
// through.
type OrderPlacer interface {
	PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, size float64) (orders.Ticket, error)
	PlaceArbPair(ctx context.Context, yesTokenID, noTokenID string, yesPrice, noPrice, size float64) (orders.Pair, error)
}

// Deps bundles the services shared by all strategies. The engine builds
// one Deps and hands it to every constructor.
type Deps struct {
	Exchange Exchange
	Markets  Markets
	Oracle   PriceSource
	Orders   OrderPlacer
	Ledger   *ledger.Ledger
	Risk     *risk.Manager
	Journal  *journal.Journal
	Notifier journal.Notifier
	Logger   *slog.Logger
}

// settle pushes a completed round trip into the journal and the risk
// manager's streak accounting.
func (d Deps) settle(logger *slog.Logger, rec ledger.TradeRecord, win bool) {
	if d.Journal != nil {
		if err := d.Journal.RecordTrade(rec); err != nil {
			logger.Warn("journal write failed", "error", err)
		}
	}
	d.Risk.RecordTradeCompleted(win)
}

// fetchAskSides pulls the ask side of both legs' books. ok is false when
// either fetch fails or either ask side is empty.
func fetchAskSides(ctx context.Context, ex Exchange, m types.Market, logger *slog.Logger) (yesAsks, noAsks []market.Level, ok bool) {
	yesResp, err := ex.GetOrderBook(ctx, m.YesTokenID)
	if err != nil {
		logger.Debug("book fetch failed", "market", m.Slug, "error", err)
		return nil, nil, false
	}
	noResp, err := ex.GetOrderBook(ctx, m.NoTokenID)
	if err != nil {
		logger.Debug("book fetch failed", "market", m.Slug, "error", err)
		return nil, nil, false
	}
	yesAsks = market.ParseBook(yesResp).Asks
	noAsks = market.ParseBook(noResp).Asks
	if len(yesAsks) == 0 || len(noAsks) == 0 {
		return nil, nil, false
	}
	return yesAsks, noAsks, true
}

// truncate shortens market questions for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
