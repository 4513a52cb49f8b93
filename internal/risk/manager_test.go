package risk

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/pkg/types"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxTradeUSD:            100.0,
		MinTradeUSD:            2.0,
		MaxPositionPct:         0.20,
		MaxTotalExposurePct:    0.40,
		MaxStrategyExposurePct: 0.30,
		MaxConsecutiveLosses:   3,
		MaxDailyDrawdownPct:    0.05,
		MaxSingleLossPct:       0.03,
		Cooldown:               40 * time.Millisecond,
		RecoveryMultiplier:     0.5,
		RecoveryTradeCount:     2,
	}
}

func newTestManager() (*Manager, *ledger.Ledger) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	led := ledger.NewLedger(logger)
	return NewManager(testRiskConfig(), led, logger), led
}

// okTrade passes every gate at a balance of 100.
func okTrade() TradeRequest {
	return TradeRequest{
		Strategy:   "sum_to_one_arb",
		TokenID:    "tok-1",
		Side:       types.BUY,
		Price:      0.50,
		Size:       20,
		MaxLossUSD: 0.30,
	}
}

// recordLoss books one losing round trip in the ledger.
func recordLoss(led *ledger.Ledger) {
	led.OpenPosition(ledger.Position{
		TokenID: "loss-tok", EntryPrice: 0.50, Size: 10, Strategy: "sum_to_one_arb",
	})
	led.ClosePosition("loss-tok", 0.40, 100, 1)
}

// driveToRecovery trips cooldown via drawdown, waits it out, and verifies
// the next approved trade lands in recovery.
func driveToRecovery(t *testing.T, m *Manager) {
	t.Helper()

	m.SetDayStartBalance(100)
	if approved, _ := m.CheckTrade(okTrade(), 90); approved {
		t.Fatal("expected drawdown rejection")
	}
	if m.State() != StateCooldown {
		t.Fatalf("state = %s, want COOLDOWN", m.State())
	}

	time.Sleep(60 * time.Millisecond)
	m.SetDayStartBalance(100) // reset drawdown so the next check can pass

	approved, reason := m.CheckTrade(okTrade(), 100)
	if !approved {
		t.Fatalf("expected approval after cooldown, got %q", reason)
	}
	if m.State() != StateRecovery {
		t.Fatalf("state = %s, want RECOVERY", m.State())
	}
}

func TestCheckTradeApproved(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	approved, reason := m.CheckTrade(okTrade(), 100)
	if !approved {
		t.Fatalf("expected approval, got %q", reason)
	}
	if reason != "" {
		t.Errorf("reason = %q, want empty", reason)
	}
}

func TestCheckTradeSizeGates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trade      TradeRequest
		balance    float64
		wantReason string
	}{
		{
			name:       "below minimum",
			trade:      TradeRequest{Strategy: "s", Price: 0.50, Size: 2, MaxLossUSD: 0.01},
			balance:    100,
			wantReason: "Trade too small",
		},
		{
			name:       "above maximum",
			trade:      TradeRequest{Strategy: "s", Price: 0.50, Size: 300, MaxLossUSD: 0.01},
			balance:    1000,
			wantReason: "Trade too large",
		},
		{
			name:       "position above balance fraction",
			trade:      TradeRequest{Strategy: "s", Price: 0.50, Size: 60, MaxLossUSD: 0.01},
			balance:    100,
			wantReason: "Position too large",
		},
		{
			name:       "worst-case loss too large",
			trade:      TradeRequest{Strategy: "s", Price: 0.50, Size: 20, MaxLossUSD: 5},
			balance:    100,
			wantReason: "Single-trade loss too large",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, _ := newTestManager()

			approved, reason := m.CheckTrade(tt.trade, tt.balance)
			if approved {
				t.Fatalf("expected rejection for %s", tt.name)
			}
			if !strings.Contains(reason, tt.wantReason) {
				t.Errorf("reason = %q, want prefix %q", reason, tt.wantReason)
			}
		})
	}
}

func TestCheckTradeTotalExposureLimit(t *testing.T) {
	t.Parallel()
	m, led := newTestManager()

	// 35 USD already at risk; another 10 breaches the 40% cap at balance 100.
	led.OpenPosition(ledger.Position{TokenID: "a", EntryPrice: 0.50, Size: 70, Strategy: "resolution_arb"})

	approved, reason := m.CheckTrade(okTrade(), 100)
	if approved {
		t.Fatal("expected total exposure rejection")
	}
	if !strings.Contains(reason, "Total exposure limit") {
		t.Errorf("reason = %q", reason)
	}
}

func TestCheckTradeStrategyExposureLimit(t *testing.T) {
	t.Parallel()
	m, led := newTestManager()

	// 25 USD at risk in the same strategy; another 10 breaches the 30% cap.
	// Total exposure (35%) stays under its own 40% cap.
	led.OpenPosition(ledger.Position{TokenID: "a", EntryPrice: 0.50, Size: 50, Strategy: "sum_to_one_arb"})

	approved, reason := m.CheckTrade(okTrade(), 100)
	if approved {
		t.Fatal("expected strategy exposure rejection")
	}
	if !strings.Contains(reason, "Strategy exposure limit for sum_to_one_arb") {
		t.Errorf("reason = %q", reason)
	}
}

func TestDrawdownTripsCooldown(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	m.SetDayStartBalance(100)

	approved, reason := m.CheckTrade(okTrade(), 94)
	if approved {
		t.Fatal("expected drawdown rejection")
	}
	if !strings.Contains(reason, "Daily drawdown limit hit") {
		t.Errorf("reason = %q", reason)
	}
	if m.State() != StateCooldown {
		t.Errorf("state = %s, want COOLDOWN", m.State())
	}

	// Everything is rejected while the cooldown runs.
	approved, reason = m.CheckTrade(okTrade(), 100)
	if approved {
		t.Fatal("expected cooldown rejection")
	}
	if !strings.Contains(reason, "In cooldown") {
		t.Errorf("reason = %q", reason)
	}
	if m.IsTradingAllowed() {
		t.Error("IsTradingAllowed should be false during cooldown")
	}
}

func TestLossStreakTripsCooldown(t *testing.T) {
	t.Parallel()
	m, led := newTestManager()

	for i := 0; i < 3; i++ {
		recordLoss(led)
	}

	approved, reason := m.CheckTrade(okTrade(), 100)
	if approved {
		t.Fatal("expected loss streak rejection")
	}
	if !strings.Contains(reason, "Consecutive loss limit (3 losses)") {
		t.Errorf("reason = %q", reason)
	}
	if m.State() != StateCooldown {
		t.Errorf("state = %s, want COOLDOWN", m.State())
	}
}

func TestCooldownExitsThroughRecovery(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	driveToRecovery(t, m)

	if got := m.PositionMultiplier(); got != 0.5 {
		t.Errorf("PositionMultiplier() = %v, want 0.5 in recovery", got)
	}
}

func TestRecoveryCompletesAfterWins(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	driveToRecovery(t, m)

	m.RecordTradeCompleted(true)
	if m.State() != StateRecovery {
		t.Fatalf("state = %s, want RECOVERY after first win", m.State())
	}

	m.RecordTradeCompleted(true)
	if m.State() != StateNormal {
		t.Fatalf("state = %s, want NORMAL after proving period", m.State())
	}
	if got := m.PositionMultiplier(); got != 1.0 {
		t.Errorf("PositionMultiplier() = %v, want 1.0", got)
	}
}

func TestLossDuringRecoveryExtendsCooldown(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	driveToRecovery(t, m)

	m.RecordTradeCompleted(false)
	if m.State() != StateCooldown {
		t.Fatalf("state = %s, want COOLDOWN after recovery loss", m.State())
	}

	// The extended cooldown runs 4x the base 40ms, so it must still be
	// active well past the base duration.
	time.Sleep(60 * time.Millisecond)
	if m.IsTradingAllowed() {
		t.Error("extended cooldown should outlast the base duration")
	}
}

func TestRecordTradeCompletedIgnoredWhenNormal(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	m.RecordTradeCompleted(false)
	if m.State() != StateNormal {
		t.Errorf("state = %s, losses outside recovery should not change state", m.State())
	}
}

func TestRecoveryExemptFromLossStreakGate(t *testing.T) {
	t.Parallel()
	m, led := newTestManager()

	driveToRecovery(t, m)

	// The streak that caused the cooldown is still on the books, but
	// recovery trades must be allowed through anyway.
	for i := 0; i < 3; i++ {
		recordLoss(led)
	}

	approved, reason := m.CheckTrade(okTrade(), 100)
	if !approved {
		t.Fatalf("recovery trade rejected: %q", reason)
	}
}

func TestSnapshotReportsState(t *testing.T) {
	t.Parallel()
	m, led := newTestManager()

	led.OpenPosition(ledger.Position{TokenID: "a", EntryPrice: 0.25, Size: 40, Strategy: "sniper"})
	m.SetDayStartBalance(100)
	m.CheckTrade(okTrade(), 98)

	snap := m.Snapshot()
	if snap.State != StateNormal {
		t.Errorf("State = %s, want NORMAL", snap.State)
	}
	if snap.DayStartBalance != 100 {
		t.Errorf("DayStartBalance = %v, want 100", snap.DayStartBalance)
	}
	if snap.TotalExposure != 10 {
		t.Errorf("TotalExposure = %v, want 10", snap.TotalExposure)
	}
	if snap.DailyDrawdownPct < 0.019 || snap.DailyDrawdownPct > 0.021 {
		t.Errorf("DailyDrawdownPct = %v, want ~0.02", snap.DailyDrawdownPct)
	}
}
