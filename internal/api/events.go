package api

import (
	"time"

	"polymarket-compounder/internal/ledger"
)

// DashboardEvent is the wrapper for all events sent to the dashboard
type DashboardEvent struct {
	Type      string      `json:"type"`               // "snapshot", "trade", "risk", "phase", "heartbeat", "summary"
	Timestamp time.Time   `json:"timestamp"`          // Event time
	Strategy  string      `json:"strategy,omitempty"` // Originating strategy (empty for global events)
	Data      interface{} `json:"data"`               // Event-specific payload
}

// TradeEvent represents a completed round trip
type TradeEvent struct {
	Strategy   string  `json:"strategy"`
	Market     string  `json:"market"`
	Side       string  `json:"side"` // "YES" or "NO"
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	SizeUSD    float64 `json:"size_usd"`
	PnLUSD     float64 `json:"pnl_usd"`
	PnLPct     float64 `json:"pnl_pct"`
	Balance    float64 `json:"balance"`
	Phase      int     `json:"phase"`
}

// RiskEvent is emitted when the risk state machine changes state
type RiskEvent struct {
	State       string  `json:"state"` // "NORMAL", "COOLDOWN", "RECOVERY"
	Reason      string  `json:"reason"`
	CooldownSec int     `json:"cooldown_sec,omitempty"`
	Balance     float64 `json:"balance"`
}

// PhaseEvent is emitted when the balance crosses a phase threshold
type PhaseEvent struct {
	Phase      int      `json:"phase"`
	Balance    float64  `json:"balance"`
	Strategies []string `json:"strategies"` // active strategy names
}

// HeartbeatEvent is a periodic liveness signal with headline numbers
type HeartbeatEvent struct {
	Cycle         int     `json:"cycle"`
	Balance       float64 `json:"balance"`
	OpenPositions int     `json:"open_positions"`
	TotalExposure float64 `json:"total_exposure"`
	Phase         int     `json:"phase"`
}

// SummaryEvent carries a daily or weekly performance digest
type SummaryEvent struct {
	Text string `json:"text"`
}

// NewTradeEvent creates a trade event from a ledger record
func NewTradeEvent(rec ledger.TradeRecord) DashboardEvent {
	return DashboardEvent{
		Type:      "trade",
		Timestamp: rec.Timestamp,
		Strategy:  rec.Strategy,
		Data: TradeEvent{
			Strategy:   rec.Strategy,
			Market:     rec.MarketName,
			Side:       string(rec.Side),
			EntryPrice: rec.EntryPrice,
			ExitPrice:  rec.ExitPrice,
			SizeUSD:    rec.SizeUSD,
			PnLUSD:     rec.PnLUSD,
			PnLPct:     rec.PnLPct,
			Balance:    rec.BalanceAfter,
			Phase:      rec.Phase,
		},
	}
}

// NewRiskEvent creates a risk state change event
func NewRiskEvent(state, reason string, cooldownSec int, balance float64) DashboardEvent {
	return DashboardEvent{
		Type:      "risk",
		Timestamp: time.Now(),
		Data: RiskEvent{
			State:       state,
			Reason:      reason,
			CooldownSec: cooldownSec,
			Balance:     balance,
		},
	}
}

// NewPhaseEvent creates a phase change event
func NewPhaseEvent(phase int, balance float64, strategies []string) DashboardEvent {
	return DashboardEvent{
		Type:      "phase",
		Timestamp: time.Now(),
		Data: PhaseEvent{
			Phase:      phase,
			Balance:    balance,
			Strategies: strategies,
		},
	}
}

// NewHeartbeatEvent creates a periodic heartbeat event
func NewHeartbeatEvent(cycle int, balance float64, openPositions int, exposure float64, phase int) DashboardEvent {
	return DashboardEvent{
		Type:      "heartbeat",
		Timestamp: time.Now(),
		Data: HeartbeatEvent{
			Cycle:         cycle,
			Balance:       balance,
			OpenPositions: openPositions,
			TotalExposure: exposure,
			Phase:         phase,
		},
	}
}

// NewSummaryEvent wraps a journal digest for the dashboard feed
func NewSummaryEvent(text string) DashboardEvent {
	return DashboardEvent{
		Type:      "summary",
		Timestamp: time.Now(),
		Data:      SummaryEvent{Text: text},
	}
}
