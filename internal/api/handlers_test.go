package api

import (
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/internal/risk"
	"polymarket-compounder/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.DashboardConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8787",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8787",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8787",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8787",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8787",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8787",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://bot.internal:8787",
			cfg:     config.DashboardConfig{},
			reqHost: "bot.internal:8787",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

// stubProvider backs the handlers with a real ledger and risk manager.
type stubProvider struct {
	ledger  *ledger.Ledger
	riskMgr *risk.Manager
	balance float64
	phase   int
}

func (s *stubProvider) GetLedger() *ledger.Ledger     { return s.ledger }
func (s *stubProvider) GetRiskManager() *risk.Manager { return s.riskMgr }
func (s *stubProvider) GetBalance() float64           { return s.balance }
func (s *stubProvider) GetPhase() int                 { return s.phase }

func newStubProvider() *stubProvider {
	logger := quietLogger()
	led := ledger.NewLedger(logger)
	rm := risk.NewManager(config.RiskConfig{
		MaxTradeUSD:          100,
		MinTradeUSD:          2,
		MaxConsecutiveLosses: 3,
	}, led, logger)
	rm.SetDayStartBalance(300)

	led.OpenPosition(ledger.Position{
		TokenID:        "tok-yes",
		MarketID:       "cond-1",
		MarketQuestion: "Will BTC be above $100k?",
		Side:           types.YES,
		EntryPrice:     0.48,
		Size:           20,
		Strategy:       "sum_to_one_arb",
	})
	led.ClosePosition("tok-yes", 1.0, 310.4, 1)
	led.OpenPosition(ledger.Position{
		TokenID:        "tok-dir",
		MarketID:       "cond-2",
		MarketQuestion: "Will BTC be above $110k?",
		Side:           types.NO,
		EntryPrice:     0.30,
		Size:           10,
		Strategy:       "directional_engine",
	})

	return &stubProvider{ledger: led, riskMgr: rm, balance: 310.4, phase: 2}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()

	provider := newStubProvider()
	cfg := config.Config{DryRun: true}
	h := NewHandlers(provider, cfg, NewHub(quietLogger()), quietLogger())

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest("GET", "/api/snapshot", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap DashboardSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	if snap.Balance != 310.4 {
		t.Errorf("Balance = %v, want 310.4", snap.Balance)
	}
	if snap.Phase != 2 {
		t.Errorf("Phase = %v, want 2", snap.Phase)
	}
	if !snap.DryRun {
		t.Error("DryRun = false, want true")
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("Positions = %d, want 1", len(snap.Positions))
	}
	if snap.Positions[0].Strategy != "directional_engine" {
		t.Errorf("Positions[0].Strategy = %q, want directional_engine", snap.Positions[0].Strategy)
	}
	if len(snap.RecentTrades) != 1 {
		t.Fatalf("RecentTrades = %d, want 1", len(snap.RecentTrades))
	}
	if snap.Risk.State != "NORMAL" {
		t.Errorf("Risk.State = %q, want NORMAL", snap.Risk.State)
	}

	// Two strategies appear: one with an open position, one with history.
	if len(snap.Strategies) != 2 {
		t.Fatalf("Strategies = %d, want 2", len(snap.Strategies))
	}
	if snap.Strategies[0].Name != "directional_engine" || snap.Strategies[1].Name != "sum_to_one_arb" {
		t.Errorf("strategy order = %q, %q; want directional_engine, sum_to_one_arb",
			snap.Strategies[0].Name, snap.Strategies[1].Name)
	}
	if snap.Strategies[1].Trades != 1 || snap.Strategies[1].Wins != 1 {
		t.Errorf("sum_to_one stats = %d trades / %d wins, want 1/1",
			snap.Strategies[1].Trades, snap.Strategies[1].Wins)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	h := NewHandlers(newStubProvider(), config.Config{}, NewHub(quietLogger()), quietLogger())

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}
