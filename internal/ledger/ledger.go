// Package ledger tracks open positions, realized trades, and win/loss
// streaks. It is the single source of truth for current holdings: every
// strategy records entries and exits here, and the risk manager queries it
// before approving new trades.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"polymarket-compounder/pkg/types"
)

// Position is a single holding in a conditional token.
// Serialized to JSON for persistence across restarts.
type Position struct {
	TokenID        string        `json:"token_id"`
	MarketID       string        `json:"market_id"`
	MarketQuestion string        `json:"market_question"`
	Side           types.Outcome `json:"side"`
	EntryPrice     float64       `json:"entry_price"`
	Size           float64       `json:"size"` // shares held
	Strategy       string        `json:"strategy"`
	OpenedAt       time.Time     `json:"opened_at"`
	ExitPrice      float64       `json:"exit_price"`
	ClosedAt       time.Time     `json:"closed_at"`
	Closed         bool          `json:"closed"`
}

// Open reports whether the position has not yet been exited.
func (p Position) Open() bool { return !p.Closed }

// CostBasis is the USDC spent to open the position.
func (p Position) CostBasis() float64 { return p.EntryPrice * p.Size }

// PnL is the realized profit in USDC. Zero until the position closes.
func (p Position) PnL() float64 {
	if !p.Closed {
		return 0
	}
	return (p.ExitPrice - p.EntryPrice) * p.Size
}

// PnLPct is the realized profit as a fraction of the entry price.
func (p Position) PnLPct() float64 {
	if !p.Closed || p.EntryPrice == 0 {
		return 0
	}
	return (p.ExitPrice - p.EntryPrice) / p.EntryPrice
}

// TradeRecord is an immutable record of a completed round trip,
// consumed by the journal and the performance summaries.
type TradeRecord struct {
	Timestamp    time.Time     `json:"timestamp"`
	Strategy     string        `json:"strategy"`
	MarketName   string        `json:"market_name"`
	Side         types.Outcome `json:"side"`
	EntryPrice   float64       `json:"entry_price"`
	ExitPrice    float64       `json:"exit_price"`
	SizeUSD      float64       `json:"size_usd"` // cost basis at entry
	PnLUSD       float64       `json:"pnl_usd"`
	PnLPct       float64       `json:"pnl_pct"`
	BalanceAfter float64       `json:"balance_after"`
	Phase        int           `json:"phase"`
}

// State is the persistable form of the ledger.
type State struct {
	Positions         []Position    `json:"positions"`
	History           []TradeRecord `json:"history"`
	ConsecutiveLosses int           `json:"consecutive_losses"`
	ConsecutiveWins   int           `json:"consecutive_wins"`
	MaxWinStreak      int           `json:"max_win_streak"`
	MaxLossStreak     int           `json:"max_loss_streak"`
}

// Ledger is the centralised position and trade store. Thread-safe via
// RWMutex; OpenPosition and ClosePosition are individually atomic with
// respect to the exposure queries, so the risk manager never sees a torn
// total.
type Ledger struct {
	logger *slog.Logger

	mu                sync.RWMutex
	positions         []*Position
	history           []TradeRecord
	consecutiveLosses int
	consecutiveWins   int
	maxWinStreak      int
	maxLossStreak     int
}

// NewLedger creates an empty ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{
		logger: logger.With("component", "ledger"),
	}
}

// OpenPosition registers a new open position. OpenedAt defaults to now.
func (l *Ledger) OpenPosition(pos Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now()
	}
	pos.Closed = false
	l.positions = append(l.positions, &pos)

	l.logger.Info("position opened",
		"side", pos.Side,
		"token", shortID(pos.TokenID),
		"price", pos.EntryPrice,
		"size", pos.Size,
		"strategy", pos.Strategy,
	)
}

// ClosePosition marks the most recently opened position for tokenID as
// closed and returns the resulting trade record. ok is false when no open
// position exists for the token.
func (l *Ledger) ClosePosition(tokenID string, exitPrice, balanceAfter float64, phase int) (TradeRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.findOpen(tokenID)
	if pos == nil {
		l.logger.Warn("cannot close unknown position", "token", shortID(tokenID))
		return TradeRecord{}, false
	}

	pos.ExitPrice = exitPrice
	pos.ClosedAt = time.Now()
	pos.Closed = true

	pnl := pos.PnL()
	pnlPct := pos.PnLPct()

	if pnl >= 0 {
		l.consecutiveWins++
		l.consecutiveLosses = 0
		if l.consecutiveWins > l.maxWinStreak {
			l.maxWinStreak = l.consecutiveWins
		}
	} else {
		l.consecutiveLosses++
		l.consecutiveWins = 0
		if l.consecutiveLosses > l.maxLossStreak {
			l.maxLossStreak = l.consecutiveLosses
		}
	}

	record := TradeRecord{
		Timestamp:    pos.ClosedAt,
		Strategy:     pos.Strategy,
		MarketName:   pos.MarketQuestion,
		Side:         pos.Side,
		EntryPrice:   pos.EntryPrice,
		ExitPrice:    exitPrice,
		SizeUSD:      pos.CostBasis(),
		PnLUSD:       pnl,
		PnLPct:       pnlPct,
		BalanceAfter: balanceAfter,
		Phase:        phase,
	}
	l.history = append(l.history, record)

	l.logger.Info("position closed",
		"side", pos.Side,
		"token", shortID(tokenID),
		"pnl_usd", pnl,
		"pnl_pct", pnlPct*100,
		"strategy", pos.Strategy,
	)
	return record, true
}

// findOpen returns the most recently opened position for the token.
func (l *Ledger) findOpen(tokenID string) *Position {
	for i := len(l.positions) - 1; i >= 0; i-- {
		if l.positions[i].TokenID == tokenID && l.positions[i].Open() {
			return l.positions[i]
		}
	}
	return nil
}

// OpenPositions returns copies of all currently open positions.
func (l *Ledger) OpenPositions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var open []Position
	for _, p := range l.positions {
		if p.Open() {
			open = append(open, *p)
		}
	}
	return open
}

// HasOpenPosition reports whether any open position exists for the token.
func (l *Ledger) HasOpenPosition(tokenID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.findOpen(tokenID) != nil
}

// TotalExposure is the USDC cost basis across all open positions.
func (l *Ledger) TotalExposure() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0.0
	for _, p := range l.positions {
		if p.Open() {
			total += p.CostBasis()
		}
	}
	return total
}

// StrategyExposure is the open cost basis for one strategy.
func (l *Ledger) StrategyExposure(strategy string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0.0
	for _, p := range l.positions {
		if p.Open() && p.Strategy == strategy {
			total += p.CostBasis()
		}
	}
	return total
}

// StrategyPositionCount is the number of open positions for one strategy.
func (l *Ledger) StrategyPositionCount(strategy string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, p := range l.positions {
		if p.Open() && p.Strategy == strategy {
			n++
		}
	}
	return n
}

// ConsecutiveLosses is the length of the trailing run of losing trades.
func (l *Ledger) ConsecutiveLosses() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.consecutiveLosses
}

// ConsecutiveWins is the length of the trailing run of non-losing trades.
func (l *Ledger) ConsecutiveWins() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.consecutiveWins
}

// TradeHistory returns a copy of all completed trades in close order.
func (l *Ledger) TradeHistory() []TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	history := make([]TradeRecord, len(l.history))
	copy(history, l.history)
	return history
}

// StrategyTradeHistory returns completed trades for one strategy.
func (l *Ledger) StrategyTradeHistory(strategy string) []TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var trades []TradeRecord
	for _, t := range l.history {
		if t.Strategy == strategy {
			trades = append(trades, t)
		}
	}
	return trades
}

// StrategyWinRate is the fraction of non-losing trades for one strategy.
// ok is false when the strategy has no completed trades.
func (l *Ledger) StrategyWinRate(strategy string) (rate float64, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total, wins := 0, 0
	for _, t := range l.history {
		if t.Strategy == strategy {
			total++
			if t.PnLUSD >= 0 {
				wins++
			}
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(wins) / float64(total), true
}

// Snapshot returns the full persistable state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := State{
		Positions:         make([]Position, len(l.positions)),
		History:           make([]TradeRecord, len(l.history)),
		ConsecutiveLosses: l.consecutiveLosses,
		ConsecutiveWins:   l.consecutiveWins,
		MaxWinStreak:      l.maxWinStreak,
		MaxLossStreak:     l.maxLossStreak,
	}
	for i, p := range l.positions {
		s.Positions[i] = *p
	}
	copy(s.History, l.history)
	return s
}

// Restore replaces the ledger contents from persisted state (used on
// restart).
func (l *Ledger) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make([]*Position, len(s.Positions))
	for i := range s.Positions {
		pos := s.Positions[i]
		l.positions[i] = &pos
	}
	l.history = make([]TradeRecord, len(s.History))
	copy(l.history, s.History)
	l.consecutiveLosses = s.ConsecutiveLosses
	l.consecutiveWins = s.ConsecutiveWins
	l.maxWinStreak = s.MaxWinStreak
	l.maxLossStreak = s.MaxLossStreak
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
