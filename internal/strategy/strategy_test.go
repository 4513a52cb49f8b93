package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/journal"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/orders"
	"polymarket-compounder/internal/risk"
	"polymarket-compounder/pkg/types"
)

var (
	_ Strategy = (*SumToOneArb)(nil)
	_ Strategy = (*ResolutionArb)(nil)
	_ Strategy = (*NewMarketSniper)(nil)
	_ Strategy = (*DirectionalEngine)(nil)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testConfig mirrors the production defaults except where a value would sit
// exactly on a risk gate boundary in the scenarios below.
func testConfig() config.Config {
	return config.Config{
		DryRun: true,
		Risk: config.RiskConfig{
			MaxTradeUSD:            100,
			MinTradeUSD:            2,
			MaxPositionPct:         0.20,
			MaxTotalExposurePct:    0.40,
			MaxStrategyExposurePct: 0.30,
			MaxConsecutiveLosses:   3,
			MaxDailyDrawdownPct:    0.05,
			MaxSingleLossPct:       0.03,
			Cooldown:               30 * time.Minute,
			RecoveryMultiplier:     0.5,
			RecoveryTradeCount:     5,
		},
		SumToOne: config.SumToOneConfig{
			ArbThreshold:   0.985,
			SlippageBuffer: 0.005,
			MinProfitPct:   0.005,
			MinDailyVolume: 500,
		},
		Resolution: config.ResolutionConfig{
			MinEdge:        0.03,
			PriceBufferPct: 0.005,
			MaxPositionPct: 0.10,
		},
		Sniper: config.SniperConfig{
			ScanInterval:          30 * time.Second,
			AgeLimit:              15 * time.Minute,
			HighPriorityThreshold: 0.94,
			MaxExposurePct:        0.25,
		},
		Directional: config.DirectionalConfig{
			MinEdge:            0.10,
			MaxPositionPct:     0.10,
			MaxConcurrent:      3,
			MaxTotalPct:        0.25,
			AutoDisableWinRate: 0.50,
			MinSample:          20,
		},
		Orders: config.OrderConfig{
			Timeout:          15 * time.Second,
			MaxRetries:       3,
			RetryBackoffBase: 2,
			EstimatedFeeRate: 0.01,
		},
	}
}

// fakeExchange serves canned order books and a fixed balance.
type fakeExchange struct {
	mu        sync.Mutex
	books     map[string]*types.BookResponse
	balance   float64
	bookErr   error
	balErr    error
	bookCalls int
}

func (f *fakeExchange) GetOrderBook(_ context.Context, tokenID string) (*types.BookResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookCalls++
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	b, ok := f.books[tokenID]
	if !ok {
		return nil, fmt.Errorf("no book for token %s", tokenID)
	}
	return b, nil
}

func (f *fakeExchange) GetBalance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return 0, f.balErr
	}
	return f.balance, nil
}

func (f *fakeExchange) bookFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bookCalls
}

// fakeMarkets serves canned catalog responses.
type fakeMarkets struct {
	mu          sync.Mutex
	active      []types.Market
	fresh       []types.Market
	activeErr   error
	activeCalls int
	detectCalls int
}

func (f *fakeMarkets) ActiveMarkets(context.Context) ([]types.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeCalls++
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	return f.active, nil
}

func (f *fakeMarkets) DetectNewMarkets(context.Context) ([]types.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectCalls++
	return f.fresh, nil
}

func (f *fakeMarkets) calls() (active, detect int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeCalls, f.detectCalls
}

// fakeOracle returns a fixed spot price and volatility.
type fakeOracle struct {
	spot    float64
	vol     float64
	spotErr error
	volErr  error
}

func (f *fakeOracle) SpotPrice(context.Context) (float64, error) {
	if f.spotErr != nil {
		return 0, f.spotErr
	}
	return f.spot, nil
}

func (f *fakeOracle) Volatility(context.Context) (float64, float64, error) {
	if f.volErr != nil {
		return 0, 0, f.volErr
	}
	return f.spot, f.vol, nil
}

type limitCall struct {
	TokenID string
	Side    types.Side
	Price   float64
	Size    float64
}

type pairCall struct {
	YesTokenID string
	NoTokenID  string
	YesPrice   float64
	NoPrice    float64
	Size       float64
}

// fakeOrders records submissions and returns configurable leg statuses.
// Zero-value statuses mean filled.
type fakeOrders struct {
	mu          sync.Mutex
	limits      []limitCall
	pairs       []pairCall
	limitStatus types.TicketStatus
	pairYes     types.TicketStatus
	pairNo      types.TicketStatus
	limitErr    error
	pairErr     error
}

func (f *fakeOrders) PlaceLimit(_ context.Context, tokenID string, side types.Side, price, size float64) (orders.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limitErr != nil {
		return orders.Ticket{}, f.limitErr
	}
	f.limits = append(f.limits, limitCall{TokenID: tokenID, Side: side, Price: price, Size: size})
	status := f.limitStatus
	if status == "" {
		status = types.TicketFilled
	}
	return orders.Ticket{
		TokenID: tokenID,
		Side:    side,
		Price:   price,
		Size:    size,
		Status:  status,
	}, nil
}

func (f *fakeOrders) PlaceArbPair(_ context.Context, yesTokenID, noTokenID string, yesPrice, noPrice, size float64) (orders.Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pairErr != nil {
		return orders.Pair{}, f.pairErr
	}
	f.pairs = append(f.pairs, pairCall{
		YesTokenID: yesTokenID,
		NoTokenID:  noTokenID,
		YesPrice:   yesPrice,
		NoPrice:    noPrice,
		Size:       size,
	})
	yesStatus := f.pairYes
	if yesStatus == "" {
		yesStatus = types.TicketFilled
	}
	noStatus := f.pairNo
	if noStatus == "" {
		noStatus = types.TicketFilled
	}
	return orders.Pair{
		YesLeg: orders.Ticket{TokenID: yesTokenID, Side: types.BUY, Price: yesPrice, Size: size, Status: yesStatus},
		NoLeg:  orders.Ticket{TokenID: noTokenID, Side: types.BUY, Price: noPrice, Size: size, Status: noStatus},
	}, nil
}

func (f *fakeOrders) limitCalls() []limitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]limitCall(nil), f.limits...)
}

func (f *fakeOrders) pairCalls() []pairCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pairCall(nil), f.pairs...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeNotifier) Send(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, text)
}

func (f *fakeNotifier) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

// testEnv wires fakes plus a real ledger, risk manager, and journal.
type testEnv struct {
	exchange    *fakeExchange
	markets     *fakeMarkets
	oracle      *fakeOracle
	orders      *fakeOrders
	ledger      *ledger.Ledger
	risk        *risk.Manager
	journal     *journal.Journal
	journalPath string
	notifier    *fakeNotifier
	deps        Deps
}

func newTestEnv(t *testing.T, cfg config.Config, balance float64) *testEnv {
	t.Helper()
	logger := quietLogger()

	led := ledger.NewLedger(logger)
	rm := risk.NewManager(cfg.Risk, led, logger)
	rm.SetDayStartBalance(balance)

	path := filepath.Join(t.TempDir(), "journal.csv")
	jn, err := journal.New(path, led, nil, logger)
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}

	env := &testEnv{
		exchange:    &fakeExchange{books: make(map[string]*types.BookResponse), balance: balance},
		markets:     &fakeMarkets{},
		oracle:      &fakeOracle{},
		orders:      &fakeOrders{},
		ledger:      led,
		risk:        rm,
		journal:     jn,
		journalPath: path,
		notifier:    &fakeNotifier{},
	}
	env.deps = Deps{
		Exchange: env.exchange,
		Markets:  env.markets,
		Oracle:   env.oracle,
		Orders:   env.orders,
		Ledger:   led,
		Risk:     rm,
		Journal:  jn,
		Notifier: env.notifier,
		Logger:   logger,
	}
	return env
}

// journalRows counts data rows written to the CSV, excluding the header.
func (e *testEnv) journalRows(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(e.journalPath)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	rows := -1 // header
	for _, b := range data {
		if b == '\n' {
			rows++
		}
	}
	return rows
}

// askBook builds a one-sided book response with the given (price, size)
// ask levels.
func askBook(tokenID string, levels ...[2]float64) *types.BookResponse {
	resp := &types.BookResponse{AssetID: tokenID}
	for _, lvl := range levels {
		resp.Asks = append(resp.Asks, types.PriceLevel{
			Price: strconv.FormatFloat(lvl[0], 'f', -1, 64),
			Size:  strconv.FormatFloat(lvl[1], 'f', -1, 64),
		})
	}
	return resp
}

// binaryMarket is a generic tradable market for the arb strategies.
func binaryMarket(id string) types.Market {
	return types.Market{
		ConditionID:     "cond-" + id,
		Question:        "Will it rain in NYC on Friday?",
		Slug:            "rain-nyc-" + id,
		YesTokenID:      "yes-" + id,
		NoTokenID:       "no-" + id,
		Active:          true,
		OrderBookActive: true,
		Volume24h:       5000,
	}
}

// btcMarket is a tradable BTC threshold market resolving endIn from now.
func btcMarket(id, question string, endIn time.Duration) types.Market {
	m := types.Market{
		ConditionID:     "cond-" + id,
		Question:        question,
		Slug:            "btc-" + id,
		YesTokenID:      "yes-" + id,
		NoTokenID:       "no-" + id,
		Active:          true,
		OrderBookActive: true,
		Volume24h:       5000,
	}
	if endIn != 0 {
		m.EndDate = time.Now().Add(endIn)
	}
	return m
}

// ledgerPosition builds an open position for pre-seeding exposure.
func ledgerPosition(tokenID string, side types.Outcome, entry, size float64, strat string) ledger.Position {
	return ledger.Position{
		TokenID:        tokenID,
		MarketID:       "cond-" + tokenID,
		MarketQuestion: "seeded position",
		Side:           side,
		EntryPrice:     entry,
		Size:           size,
		Strategy:       strat,
	}
}

func approx(a, b, tol float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tol
}
