// Package risk enforces portfolio-level limits on every proposed trade.
//
// Every strategy calls Manager.CheckTrade before placing orders. The check
// runs a fixed sequence of gates: cooldown, daily drawdown, consecutive
// losses, single-trade loss, per-trade size, total exposure, per-strategy
// exposure, and absolute trade bounds. The first gate that fails rejects
// the trade with a human-readable reason.
//
// The manager also runs a three-state machine that throttles the bot after
// losing streaks:
//
//	NORMAL ──(drawdown or loss streak)──▶ COOLDOWN ──(timer expires)──▶ RECOVERY
//	   ▲                                                                  │
//	   └──────────────(enough winning trades at reduced size)─────────────┘
//
// COOLDOWN rejects everything until the timer expires; the transition to
// RECOVERY happens lazily on the next CheckTrade. RECOVERY trades at a
// reduced size multiplier and a loss during recovery re-enters cooldown at
// four times the base duration. Recovery always sits between cooldown and
// normal operation, so the bot never jumps straight back to full size.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/pkg/types"
)

// State is the risk manager's operating state.
type State string

const (
	StateNormal   State = "NORMAL"
	StateCooldown State = "COOLDOWN"
	StateRecovery State = "RECOVERY"
)

// TradeRequest describes a proposed trade for risk review.
type TradeRequest struct {
	Strategy   string     // strategy name, used for per-strategy exposure
	TokenID    string     // token being traded
	Side       types.Side // BUY or SELL
	Price      float64    // limit price
	Size       float64    // shares
	MaxLossUSD float64    // worst-case loss if the trade goes against us
}

// CostUSD returns the USDC outlay for the trade.
func (t TradeRequest) CostUSD() float64 {
	return t.Price * t.Size
}

// Snapshot is a point-in-time view of risk state for the dashboard.
type Snapshot struct {
	State                   State
	CooldownRemaining       time.Duration
	RecoveryTradesRemaining int
	DayStartBalance         float64
	DailyDrawdownPct        float64
	ConsecutiveLosses       int
	TotalExposure           float64
}

// Manager gates every trade against configured limits and tracks the
// cooldown/recovery state machine. Exposure and streak data come from the
// shared ledger.
type Manager struct {
	cfg    config.RiskConfig
	ledger *ledger.Ledger
	logger *slog.Logger

	mu                      sync.RWMutex
	state                   State
	cooldownUntil           time.Time
	recoveryTradesRemaining int
	dayStartBalance         float64
	dayStartTime            time.Time
	lastKnownBalance        float64
}

// NewManager creates a risk manager in the NORMAL state.
func NewManager(cfg config.RiskConfig, led *ledger.Ledger, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		ledger:       led,
		logger:       logger.With("component", "risk"),
		state:        StateNormal,
		dayStartTime: time.Now(),
	}
}

// SetDayStartBalance resets drawdown tracking at the start of each UTC day.
func (m *Manager) SetDayStartBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dayStartBalance = balance
	m.dayStartTime = time.Now()
	m.logger.Info("day-start balance set", "balance", balance)
}

// CheckTrade evaluates whether a proposed trade is allowed.
// Returns (approved, reason); reason is empty on approval.
func (m *Manager) CheckTrade(trade TradeRequest, balance float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastKnownBalance = balance

	// Cooldown: reject until the timer expires, then fall through into
	// recovery. The transition is lazy so the state machine needs no
	// background goroutine.
	if m.state == StateCooldown {
		if time.Now().Before(m.cooldownUntil) {
			remaining := int(time.Until(m.cooldownUntil).Seconds())
			return false, fmt.Sprintf("In cooldown (%ds remaining)", remaining)
		}
		m.enterRecovery()
	}

	// Daily drawdown.
	if m.dayStartBalance > 0 {
		drawdown := (m.dayStartBalance - balance) / m.dayStartBalance
		if drawdown >= m.cfg.MaxDailyDrawdownPct {
			m.enterCooldown(false)
			return false, fmt.Sprintf("Daily drawdown limit hit (%.1f%% >= %.1f%%)",
				drawdown*100, m.cfg.MaxDailyDrawdownPct*100)
		}
	}

	// Consecutive losses. Recovery mode is exempt: its whole point is to
	// let a few reduced-size trades through after a streak.
	if losses := m.ledger.ConsecutiveLosses(); losses >= m.cfg.MaxConsecutiveLosses &&
		m.state != StateRecovery {
		m.enterCooldown(false)
		return false, fmt.Sprintf("Consecutive loss limit (%d losses)", losses)
	}

	cost := trade.CostUSD()

	if balance > 0 {
		// Single-trade worst-case loss.
		if lossPct := trade.MaxLossUSD / balance; lossPct > m.cfg.MaxSingleLossPct {
			return false, fmt.Sprintf("Single-trade loss too large (%.1f%% > %.1f%%)",
				lossPct*100, m.cfg.MaxSingleLossPct*100)
		}

		// Per-trade position size.
		if posPct := cost / balance; posPct > m.cfg.MaxPositionPct {
			return false, fmt.Sprintf("Position too large (%.1f%% > %.1f%% of balance)",
				posPct*100, m.cfg.MaxPositionPct*100)
		}

		// Total exposure including this trade.
		if newTotal := (m.ledger.TotalExposure() + cost) / balance; newTotal > m.cfg.MaxTotalExposurePct {
			return false, fmt.Sprintf("Total exposure limit (%.1f%% > %.1f%%)",
				newTotal*100, m.cfg.MaxTotalExposurePct*100)
		}

		// Per-strategy exposure including this trade.
		if newStrat := (m.ledger.StrategyExposure(trade.Strategy) + cost) / balance; newStrat > m.cfg.MaxStrategyExposurePct {
			return false, fmt.Sprintf("Strategy exposure limit for %s (%.1f%% > %.1f%%)",
				trade.Strategy, newStrat*100, m.cfg.MaxStrategyExposurePct*100)
		}
	}

	// Absolute trade bounds.
	if cost < m.cfg.MinTradeUSD {
		return false, fmt.Sprintf("Trade too small ($%.2f < $%.2f)", cost, m.cfg.MinTradeUSD)
	}
	if cost > m.cfg.MaxTradeUSD {
		return false, fmt.Sprintf("Trade too large ($%.2f > $%.2f)", cost, m.cfg.MaxTradeUSD)
	}

	return true, ""
}

// PositionMultiplier returns the sizing multiplier for the current state.
// Recovery trades run at a reduced fraction of normal size.
func (m *Manager) PositionMultiplier() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == StateRecovery {
		return m.cfg.RecoveryMultiplier
	}
	return 1.0
}

// RecordTradeCompleted notifies the manager that a trade has resolved.
// Only recovery mode reacts: wins count down the proving period, a loss
// re-enters cooldown at four times the base duration.
func (m *Manager) RecordTradeCompleted(isWin bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRecovery {
		return
	}

	m.recoveryTradesRemaining--

	if !isWin {
		m.logger.Warn("loss during recovery, extending cooldown")
		m.enterCooldown(true)
		return
	}

	if m.recoveryTradesRemaining <= 0 {
		m.logger.Info("recovery complete, returning to normal operation")
		m.state = StateNormal
	}
}

// State returns the current operating state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsTradingAllowed reports whether any trading is currently possible.
// It does not advance the state machine; CheckTrade does that.
func (m *Manager) IsTradingAllowed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == StateCooldown {
		return !time.Now().Before(m.cooldownUntil)
	}
	return true
}

// Snapshot returns current risk metrics for the dashboard.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var remaining time.Duration
	if m.state == StateCooldown {
		if d := time.Until(m.cooldownUntil); d > 0 {
			remaining = d
		}
	}

	var drawdown float64
	if m.dayStartBalance > 0 && m.lastKnownBalance > 0 {
		drawdown = (m.dayStartBalance - m.lastKnownBalance) / m.dayStartBalance
	}

	return Snapshot{
		State:                   m.state,
		CooldownRemaining:       remaining,
		RecoveryTradesRemaining: m.recoveryTradesRemaining,
		DayStartBalance:         m.dayStartBalance,
		DailyDrawdownPct:        drawdown,
		ConsecutiveLosses:       m.ledger.ConsecutiveLosses(),
		TotalExposure:           m.ledger.TotalExposure(),
	}
}

// enterCooldown pauses all trading. Extended cooldowns (after a loss during
// recovery) run four times the base duration. Caller must hold mu.
func (m *Manager) enterCooldown(extended bool) {
	d := m.cfg.Cooldown
	if extended {
		d *= 4
	}
	m.state = StateCooldown
	m.cooldownUntil = time.Now().Add(d)
	m.logger.Warn("entering cooldown", "duration", d, "extended", extended)
}

// enterRecovery transitions from cooldown to reduced-size trading.
// Caller must hold mu.
func (m *Manager) enterRecovery() {
	m.state = StateRecovery
	m.recoveryTradesRemaining = m.cfg.RecoveryTradeCount
	m.logger.Info("entering recovery mode",
		"trades", m.cfg.RecoveryTradeCount,
		"size_multiplier", m.cfg.RecoveryMultiplier)
}
