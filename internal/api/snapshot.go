package api

import (
	"sort"
	"time"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/risk"
)

// recentTradeLimit caps how many completed trades a snapshot carries.
const recentTradeLimit = 50

// BotSnapshotProvider provides snapshot access to engine state
type BotSnapshotProvider interface {
	GetLedger() *ledger.Ledger
	GetRiskManager() *risk.Manager
	GetBalance() float64
	GetPhase() int
}

// BuildSnapshot aggregates state from all components into a dashboard snapshot
func BuildSnapshot(provider BotSnapshotProvider, cfg config.Config) DashboardSnapshot {
	led := provider.GetLedger()
	riskSnap := provider.GetRiskManager().Snapshot()

	positions := led.OpenPositions()
	history := led.TradeHistory()

	// Total realized P&L across all completed trades.
	var totalPnL float64
	for _, t := range history {
		totalPnL += t.PnLUSD
	}

	recent := history
	if len(recent) > recentTradeLimit {
		recent = recent[len(recent)-recentTradeLimit:]
	}

	return DashboardSnapshot{
		Timestamp:     time.Now(),
		Balance:       provider.GetBalance(),
		Phase:         provider.GetPhase(),
		DryRun:        cfg.DryRun,
		Positions:     convertPositions(positions),
		TotalExposure: led.TotalExposure(),
		RecentTrades:  convertTrades(recent),
		TotalPnL:      totalPnL,
		Risk:          convertRiskSnapshot(riskSnap),
		Strategies:    buildStrategyStats(positions, history),
		Config:        NewConfigSummary(cfg),
	}
}

func convertPositions(positions []ledger.Position) []PositionStatus {
	out := make([]PositionStatus, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionStatus{
			TokenID:    p.TokenID,
			MarketID:   p.MarketID,
			Question:   p.MarketQuestion,
			Side:       string(p.Side),
			EntryPrice: p.EntryPrice,
			Size:       p.Size,
			CostUSD:    p.CostBasis(),
			Strategy:   p.Strategy,
			OpenedAt:   p.OpenedAt,
		})
	}
	return out
}

func convertTrades(trades []ledger.TradeRecord) []TradeStatus {
	out := make([]TradeStatus, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeStatus{
			Timestamp:  t.Timestamp,
			Strategy:   t.Strategy,
			Market:     t.MarketName,
			Side:       string(t.Side),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			SizeUSD:    t.SizeUSD,
			PnLUSD:     t.PnLUSD,
			PnLPct:     t.PnLPct,
			Phase:      t.Phase,
		})
	}
	return out
}

// convertRiskSnapshot converts internal risk snapshot to API format
func convertRiskSnapshot(snap risk.Snapshot) RiskStatus {
	return RiskStatus{
		State:                   string(snap.State),
		CooldownRemainingSec:    int(snap.CooldownRemaining.Seconds()),
		RecoveryTradesRemaining: snap.RecoveryTradesRemaining,
		DayStartBalance:         snap.DayStartBalance,
		DailyDrawdownPct:        snap.DailyDrawdownPct,
		ConsecutiveLosses:       snap.ConsecutiveLosses,
		TotalExposure:           snap.TotalExposure,
	}
}

// buildStrategyStats aggregates open exposure and realized results for every
// strategy that appears in the ledger, sorted by name for stable output.
func buildStrategyStats(positions []ledger.Position, history []ledger.TradeRecord) []StrategyStats {
	byName := make(map[string]*StrategyStats)
	stat := func(name string) *StrategyStats {
		s, ok := byName[name]
		if !ok {
			s = &StrategyStats{Name: name}
			byName[name] = s
		}
		return s
	}

	for _, p := range positions {
		s := stat(p.Strategy)
		s.OpenPositions++
		s.ExposureUSD += p.CostBasis()
	}
	for _, t := range history {
		s := stat(t.Strategy)
		s.Trades++
		if t.PnLUSD >= 0 {
			s.Wins++
		}
		s.PnLUSD += t.PnLUSD
	}

	out := make([]StrategyStats, 0, len(byName))
	for _, s := range byName {
		if s.Trades > 0 {
			s.WinRate = float64(s.Wins) / float64(s.Trades)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
