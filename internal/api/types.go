package api

import (
	"time"

	"polymarket-compounder/internal/config"
)

// DashboardSnapshot represents the complete bot state for the dashboard
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Account state
	Balance float64 `json:"balance"`
	Phase   int     `json:"phase"`
	DryRun  bool    `json:"dry_run"`

	// Holdings
	Positions     []PositionStatus `json:"positions"`
	TotalExposure float64          `json:"total_exposure"`

	// Completed trades, most recent last
	RecentTrades []TradeStatus `json:"recent_trades"`
	TotalPnL     float64       `json:"total_pnl"`

	// Risk status
	Risk RiskStatus `json:"risk"`

	// Per-strategy performance
	Strategies []StrategyStats `json:"strategies"`

	// Configuration
	Config ConfigSummary `json:"config"`
}

// PositionStatus represents one open holding
type PositionStatus struct {
	TokenID    string    `json:"token_id"`
	MarketID   string    `json:"market_id"`
	Question   string    `json:"question"`
	Side       string    `json:"side"` // "YES" or "NO"
	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size"`
	CostUSD    float64   `json:"cost_usd"`
	Strategy   string    `json:"strategy"`
	OpenedAt   time.Time `json:"opened_at"`
}

// TradeStatus represents one completed round trip
type TradeStatus struct {
	Timestamp  time.Time `json:"timestamp"`
	Strategy   string    `json:"strategy"`
	Market     string    `json:"market"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	SizeUSD    float64   `json:"size_usd"`
	PnLUSD     float64   `json:"pnl_usd"`
	PnLPct     float64   `json:"pnl_pct"`
	Phase      int       `json:"phase"`
}

// RiskStatus represents the risk manager's state machine and limits
type RiskStatus struct {
	State                   string  `json:"state"` // "NORMAL", "COOLDOWN", "RECOVERY"
	CooldownRemainingSec    int     `json:"cooldown_remaining_sec"`
	RecoveryTradesRemaining int     `json:"recovery_trades_remaining"`
	DayStartBalance         float64 `json:"day_start_balance"`
	DailyDrawdownPct        float64 `json:"daily_drawdown_pct"`
	ConsecutiveLosses       int     `json:"consecutive_losses"`
	TotalExposure           float64 `json:"total_exposure"`
}

// StrategyStats represents one strategy's aggregate performance
type StrategyStats struct {
	Name          string  `json:"name"`
	OpenPositions int     `json:"open_positions"`
	ExposureUSD   float64 `json:"exposure_usd"`
	Trades        int     `json:"trades"`
	Wins          int     `json:"wins"`
	WinRate       float64 `json:"win_rate"`
	PnLUSD        float64 `json:"pnl_usd"`
}

// ConfigSummary represents the active strategy and risk configuration
type ConfigSummary struct {
	// Phase thresholds
	Phase2Threshold float64 `json:"phase2_threshold"`
	Phase3Threshold float64 `json:"phase3_threshold"`
	PhaseOverride   int     `json:"phase_override"`
	ScanInterval    string  `json:"scan_interval"`

	// Risk parameters
	MaxTradeUSD          float64 `json:"max_trade_usd"`
	MinTradeUSD          float64 `json:"min_trade_usd"`
	MaxPositionPct       float64 `json:"max_position_pct"`
	MaxTotalExposurePct  float64 `json:"max_total_exposure_pct"`
	MaxDailyDrawdownPct  float64 `json:"max_daily_drawdown_pct"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	Cooldown             string  `json:"cooldown"`

	// Strategy parameters
	ArbThreshold       float64 `json:"arb_threshold"`
	ResolutionMinEdge  float64 `json:"resolution_min_edge"`
	SniperAgeLimit     string  `json:"sniper_age_limit"`
	DirectionalMinEdge float64 `json:"directional_min_edge"`

	// Operational
	DryRun bool `json:"dry_run"`
}

// NewConfigSummary creates config summary from config
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		// Phases
		Phase2Threshold: cfg.Phases.Phase2Threshold,
		Phase3Threshold: cfg.Phases.Phase3Threshold,
		PhaseOverride:   cfg.Phases.Override,
		ScanInterval:    cfg.ScanInterval.String(),

		// Risk
		MaxTradeUSD:          cfg.Risk.MaxTradeUSD,
		MinTradeUSD:          cfg.Risk.MinTradeUSD,
		MaxPositionPct:       cfg.Risk.MaxPositionPct,
		MaxTotalExposurePct:  cfg.Risk.MaxTotalExposurePct,
		MaxDailyDrawdownPct:  cfg.Risk.MaxDailyDrawdownPct,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		Cooldown:             cfg.Risk.Cooldown.String(),

		// Strategies
		ArbThreshold:       cfg.SumToOne.ArbThreshold,
		ResolutionMinEdge:  cfg.Resolution.MinEdge,
		SniperAgeLimit:     cfg.Sniper.AgeLimit.String(),
		DirectionalMinEdge: cfg.Directional.MinEdge,

		// Operational
		DryRun: cfg.DryRun,
	}
}
