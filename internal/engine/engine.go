// Package engine is the central orchestrator of the compounding bot.
//
// It wires together all subsystems and drives the main trading loop:
//
//  1. Every cycle polls the wallet's USDC balance and derives the active
//     phase from it. Phases stack: sum-to-one arb and resolution arb always
//     run, the new-market sniper joins at phase 2, the directional engine
//     at phase 3.
//  2. On a phase change the strategy set is rebuilt and announced.
//  3. Active strategies scan and execute concurrently; the shared risk
//     manager gates every order and can pause whole cycles via cooldown.
//  4. The journal emits daily and weekly summaries at UTC boundaries, and
//     the ledger snapshot is persisted after every cycle so holdings
//     survive restarts.
//
// Lifecycle: New() → Setup() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-compounder/internal/api"
	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/exchange"
	"polymarket-compounder/internal/journal"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/market"
	"polymarket-compounder/internal/notify"
	"polymarket-compounder/internal/oracle"
	"polymarket-compounder/internal/orders"
	"polymarket-compounder/internal/risk"
	"polymarket-compounder/internal/store"
	"polymarket-compounder/internal/strategy"
)

const (
	// heartbeatCycles spaces the cycle summary log (~5 min at a 10s interval).
	heartbeatCycles = 30
	// errorBackoff is the pause after a cycle-level failure, long enough to
	// ride out rate limits and transient outages.
	errorBackoff = 30 * time.Second
)

// DeterminePhase returns the active phase for a balance. A manual override
// in 1..3 pins the phase regardless of balance; otherwise the phase is a
// step function of balance over the two thresholds.
func DeterminePhase(balance float64, phases config.PhaseConfig) int {
	if phases.Override >= 1 && phases.Override <= 3 {
		return phases.Override
	}
	switch {
	case balance >= phases.Phase3Threshold:
		return 3
	case balance >= phases.Phase2Threshold:
		return 2
	default:
		return 1
	}
}

// Engine orchestrates all components of the compounding system.
// It owns the lifecycle of the main loop and rebuilds the strategy set on
// phase transitions.
type Engine struct {
	cfg        config.Config
	client     *exchange.Client
	auth       *exchange.Auth // nil in keyless dry-run
	catalog    *market.Catalog
	prices     *oracle.Oracle
	ledger     *ledger.Ledger
	riskMgr    *risk.Manager
	coord      *orders.Coordinator
	journal    *journal.Journal
	notifier   *notify.Telegram
	store      *store.Store
	logger     *slog.Logger
	rootLogger *slog.Logger // untagged, handed to strategies

	// mu guards the loop state the dashboard reads concurrently.
	mu         sync.RWMutex
	strategies []strategy.Strategy
	phase      int
	balance    float64
	currentDay time.Time // UTC day for drawdown anchor resets

	// Loop-local bookkeeping, touched only by the run goroutine.
	cycle         int
	tradesSeen    int
	lastRiskState risk.State

	// dashboardEvents is an optional channel for sending events to the
	// dashboard. Nil if dashboard is disabled.
	dashboardEvents chan api.DashboardEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. Keyless configs are allowed
// in dry-run mode; live trading requires a signing wallet (enforced by
// config validation).
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	var auth *exchange.Auth
	if cfg.Wallet.PrivateKey != "" {
		a, err := exchange.NewAuth(cfg)
		if err != nil {
			return nil, err
		}
		auth = a
	}

	client := exchange.NewClient(cfg, auth, logger)
	catalog := market.NewCatalog(cfg, logger)
	prices := oracle.NewOracle(cfg, logger)

	led := ledger.NewLedger(logger)
	riskMgr := risk.NewManager(cfg.Risk, led, logger)
	coord := orders.NewCoordinator(client, cfg.Orders, cfg.DryRun, logger)
	notifier := notify.NewTelegram(cfg.Telegram, logger)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 100)
	}

	e := &Engine{
		cfg:             cfg,
		client:          client,
		auth:            auth,
		catalog:         catalog,
		prices:          prices,
		ledger:          led,
		riskMgr:         riskMgr,
		coord:           coord,
		notifier:        notifier,
		store:           st,
		logger:          logger.With("component", "engine"),
		rootLogger:      logger,
		lastRiskState:   risk.StateNormal,
		dashboardEvents: dashEvents,
		ctx:             ctx,
		cancel:          cancel,
	}

	// Journal summaries go to Telegram and, when enabled, the dashboard.
	jn, err := journal.New(cfg.Journal.Path, led, &summaryFan{engine: e}, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	e.journal = jn

	return e, nil
}

// Setup runs the startup sequence: connectivity self-test, L2 credential
// derivation for live trading, ledger restore, and the opening balance
// check. A returned error means the bot must not start.
func (e *Engine) Setup(ctx context.Context) error {
	e.logger.Info("polymarket compounder starting up", "dry_run", e.cfg.DryRun)
	if e.cfg.DryRun {
		e.logger.Info("DRY RUN: all trades will be simulated, no real orders")
	}

	// Connectivity self-test.
	serverTime, err := e.client.GetServerTime(ctx)
	if err != nil {
		return fmt.Errorf("self-test failed, check API endpoints and network: %w", err)
	}
	e.logger.Info("self-test passed", "server_time", serverTime)

	// Live trading signs every request; derive L2 credentials if missing.
	if !e.cfg.DryRun && e.auth != nil && !e.auth.HasL2Credentials() {
		e.logger.Info("no L2 credentials, deriving API key via L1...")
		if _, err := e.client.DeriveAPIKey(ctx); err != nil {
			return fmt.Errorf("derive api key: %w", err)
		}
	}

	// Restore holdings from a previous run.
	if state, err := e.store.Load(); err != nil {
		e.logger.Warn("could not restore ledger state", "error", err)
	} else if state != nil {
		e.ledger.Restore(*state)
		e.logger.Info("ledger state restored",
			"open_positions", len(e.ledger.OpenPositions()),
			"trades", len(state.History))
	}

	// Opening balance. Dry-run tolerates a missing balance source (no
	// wallet or RPC configured) and starts at zero.
	balance, err := e.client.GetBalance(ctx)
	if err != nil {
		if !e.cfg.DryRun {
			return fmt.Errorf("balance check: %w", err)
		}
		e.logger.Warn("balance unavailable, starting at $0", "error", err)
		balance = 0
	}
	e.logger.Info("starting balance", "balance", balance)

	if !e.cfg.DryRun && balance < e.cfg.Risk.MinTradeUSD {
		return fmt.Errorf("balance ($%.2f) below minimum trade size ($%.2f), fund the wallet with USDC on Polygon",
			balance, e.cfg.Risk.MinTradeUSD)
	}

	e.riskMgr.SetDayStartBalance(balance)
	e.journal.SetStartingBalance(balance)

	phase := DeterminePhase(balance, e.cfg.Phases)

	e.mu.Lock()
	e.balance = balance
	e.phase = phase
	e.strategies = e.buildStrategies(phase)
	e.currentDay = utcDay(time.Now())
	names := strategyNames(e.strategies)
	e.mu.Unlock()

	e.tradesSeen = len(e.ledger.TradeHistory())

	e.logger.Info("phase active", "phase", phase, "strategies", names)

	mode := "LIVE"
	if e.cfg.DryRun {
		mode = "DRY RUN"
	}
	e.notifier.Send(fmt.Sprintf(
		"🤖 Polymarket Compounder started\nBalance: $%.2f\nPhase: %d\nMode: %s",
		balance, phase, mode,
	))

	return nil
}

// Start launches the main loop goroutine.
func (e *Engine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run()
	}()
}

// Stop gracefully shuts down: stops the loop after the in-flight cycle,
// cancels all resting orders as a safety net, persists the ledger, closes
// strategies and shared clients, and logs the final summary.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	e.wg.Wait()

	// Safety net: no resting order outlives the process.
	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()
	if err := e.coord.CancelAll(ctx); err != nil {
		e.logger.Error("failed to cancel all orders on shutdown", "error", err)
	}

	if err := e.store.Save(e.ledger.Snapshot()); err != nil {
		e.logger.Error("failed to persist ledger state", "error", err)
	}

	e.mu.RLock()
	strategies := e.strategies
	e.mu.RUnlock()
	for _, s := range strategies {
		s.Close()
	}
	e.catalog.Close()
	e.prices.Close()
	e.store.Close()

	if e.dashboardEvents != nil {
		close(e.dashboardEvents)
	}

	e.finalSummary(ctx)
	e.logger.Info("shutdown complete")
}

// run is the main loop: one trading cycle per scan interval, with a longer
// backoff after a cycle-level failure so a flaky dependency cannot spin
// the bot against rate limits.
func (e *Engine) run() {
	for {
		e.cycle++

		delay := e.cfg.ScanInterval
		if err := e.runCycle(e.ctx); err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Error("cycle failed", "cycle", e.cycle, "error", err)
			delay = errorBackoff
		}

		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runCycle executes one full trading cycle.
func (e *Engine) runCycle(ctx context.Context) error {
	balance, err := e.client.GetBalance(ctx)
	if err != nil {
		if !e.cfg.DryRun {
			return fmt.Errorf("balance check: %w", err)
		}
		// Dry-run keeps cycling on the last known balance.
		e.mu.RLock()
		balance = e.balance
		e.mu.RUnlock()
	}

	strategies := e.reconcilePhase(balance)

	if !e.riskMgr.IsTradingAllowed() {
		e.logger.Debug("risk cooldown active, skipping cycle", "cycle", e.cycle)
		e.emitRiskTransition(balance)
		return nil
	}

	e.dispatch(ctx, strategies)

	e.journal.CheckSummaries(time.Now())
	e.rolloverDay(balance)
	e.emitNewTrades()
	e.emitRiskTransition(balance)

	if e.cycle%heartbeatCycles == 0 {
		open := len(e.ledger.OpenPositions())
		exposure := e.ledger.TotalExposure()
		e.logger.Info("cycle summary",
			"cycle", e.cycle,
			"balance", balance,
			"phase", e.GetPhase(),
			"open_positions", open,
			"exposure", exposure,
		)
		e.emitDashboardEvent(api.NewHeartbeatEvent(e.cycle, balance, open, exposure, e.GetPhase()))
	}

	// Crash-safe holdings: a restart resumes from the last completed cycle.
	if err := e.store.Save(e.ledger.Snapshot()); err != nil {
		e.logger.Warn("ledger snapshot failed", "error", err)
	}

	return nil
}

// reconcilePhase stores the fresh balance, recomputes the phase, and
// rebuilds the strategy set when the phase moved. Returns the active set.
func (e *Engine) reconcilePhase(balance float64) []strategy.Strategy {
	newPhase := DeterminePhase(balance, e.cfg.Phases)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.balance = balance
	if newPhase != e.phase {
		e.logger.Info("phase transition",
			"from", e.phase, "to", newPhase, "balance", balance)

		for _, s := range e.strategies {
			s.Close()
		}
		e.phase = newPhase
		e.strategies = e.buildStrategies(newPhase)
		names := strategyNames(e.strategies)

		e.notifier.Send(fmt.Sprintf("📈 Phase %d activated! Balance: $%.2f", newPhase, balance))
		e.emitDashboardEvent(api.NewPhaseEvent(newPhase, balance, names))
	}

	return append([]strategy.Strategy(nil), e.strategies...)
}

// dispatch runs every active strategy concurrently and waits for all to
// finish. An error or panic in one strategy never takes down the others.
func (e *Engine) dispatch(ctx context.Context, strategies []strategy.Strategy) {
	var wg sync.WaitGroup
	for _, s := range strategies {
		wg.Add(1)
		go func(s strategy.Strategy) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("strategy panicked", "strategy", s.Name(), "panic", r)
				}
			}()
			if err := s.ScanAndExecute(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("strategy error", "strategy", s.Name(), "error", err)
			}
		}(s)
	}
	wg.Wait()
}

// buildStrategies instantiates the strategy set for a phase. Sum-to-one and
// resolution arb always run; the sniper and the directional engine stack in
// as the balance grows. Caller must hold mu.
func (e *Engine) buildStrategies(phase int) []strategy.Strategy {
	deps := strategy.Deps{
		Exchange: e.client,
		Markets:  e.catalog,
		Oracle:   e.prices,
		Orders:   e.coord,
		Ledger:   e.ledger,
		Risk:     e.riskMgr,
		Journal:  e.journal,
		Notifier: e.notifier,
		Logger:   e.rootLogger,
	}

	strategies := []strategy.Strategy{
		strategy.NewSumToOneArb(e.cfg, deps),
		strategy.NewResolutionArb(e.cfg, deps),
	}
	if phase >= 2 {
		strategies = append(strategies, strategy.NewNewMarketSniper(e.cfg, deps))
	}
	if phase >= 3 {
		strategies = append(strategies, strategy.NewDirectionalEngine(e.cfg, deps))
	}
	return strategies
}

// rolloverDay resets the risk manager's drawdown anchor at each UTC day
// boundary. The journal notices the same boundary on its own and emits the
// daily summary.
func (e *Engine) rolloverDay(balance float64) {
	day := utcDay(time.Now())

	e.mu.Lock()
	changed := day.After(e.currentDay)
	if changed {
		e.currentDay = day
	}
	e.mu.Unlock()

	if changed {
		e.riskMgr.SetDayStartBalance(balance)
		e.logger.Info("new UTC day",
			"day", day.Format("2006-01-02"), "day_start_balance", balance)
	}
}

// finalSummary logs the closing state and sends the shutdown note.
func (e *Engine) finalSummary(ctx context.Context) {
	balance, err := e.client.GetBalance(ctx)
	if err != nil {
		balance = e.GetBalance()
	}

	open := e.ledger.OpenPositions()
	trades := e.ledger.TradeHistory()

	e.logger.Info("shutdown summary",
		"final_balance", balance,
		"open_positions", len(open),
		"total_trades", len(trades),
	)
	if len(trades) > 0 {
		var totalPnL float64
		wins := 0
		for _, t := range trades {
			totalPnL += t.PnLUSD
			if t.PnLUSD >= 0 {
				wins++
			}
		}
		e.logger.Info("performance",
			"total_pnl", totalPnL,
			"win_rate_pct", float64(wins)/float64(len(trades))*100,
		)
	}

	e.notifier.Send(fmt.Sprintf(
		"🛑 Compounder shut down\nFinal balance: $%.2f\nTrades: %d\nOpen positions: %d",
		balance, len(trades), len(open),
	))
}

// DashboardEvents returns the dashboard event channel (may be nil).
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// GetLedger returns the position ledger for dashboard access.
func (e *Engine) GetLedger() *ledger.Ledger {
	return e.ledger
}

// GetRiskManager returns the risk manager for dashboard access.
func (e *Engine) GetRiskManager() *risk.Manager {
	return e.riskMgr
}

// GetBalance returns the most recently polled balance.
func (e *Engine) GetBalance() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance
}

// GetPhase returns the currently active phase.
func (e *Engine) GetPhase() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// emitNewTrades pushes trade records completed since the last cycle to the
// dashboard. Called only from the run goroutine.
func (e *Engine) emitNewTrades() {
	if e.dashboardEvents == nil {
		return
	}
	history := e.ledger.TradeHistory()
	for _, rec := range history[e.tradesSeen:] {
		e.emitDashboardEvent(api.NewTradeEvent(rec))
	}
	e.tradesSeen = len(history)
}

// emitRiskTransition pushes a risk event when the state machine moved.
// Called only from the run goroutine.
func (e *Engine) emitRiskTransition(balance float64) {
	state := e.riskMgr.State()
	if state == e.lastRiskState {
		return
	}
	e.lastRiskState = state

	snap := e.riskMgr.Snapshot()
	e.logger.Warn("risk state changed", "state", state,
		"cooldown_remaining", snap.CooldownRemaining,
		"consecutive_losses", snap.ConsecutiveLosses)
	e.emitDashboardEvent(api.NewRiskEvent(
		string(state),
		riskReason(state),
		int(snap.CooldownRemaining.Seconds()),
		balance,
	))
}

// emitDashboardEvent sends an event to the dashboard (non-blocking).
func (e *Engine) emitDashboardEvent(evt api.DashboardEvent) {
	if e.dashboardEvents == nil {
		return
	}

	select {
	case e.dashboardEvents <- evt:
	default:
		// Dashboard can't keep up, drop event
	}
}

// summaryFan forwards journal summaries to Telegram and mirrors them on the
// dashboard event feed.
type summaryFan struct {
	engine *Engine
}

func (f *summaryFan) Send(text string) {
	f.engine.notifier.Send(text)
	f.engine.emitDashboardEvent(api.NewSummaryEvent(text))
}

func riskReason(state risk.State) string {
	switch state {
	case risk.StateCooldown:
		return "trading paused after losses"
	case risk.StateRecovery:
		return "trading at reduced size"
	default:
		return "normal operation"
	}
}

func strategyNames(strategies []strategy.Strategy) []string {
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.Name()
	}
	return names
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
