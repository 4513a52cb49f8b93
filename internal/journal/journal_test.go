package journal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"polymarket-compounder/internal/ledger"
	"polymarket-compounder/pkg/types"
)

type fakeNotifier struct {
	sends []string
}

func (f *fakeNotifier) Send(text string) { f.sends = append(f.sends, text) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestJournal(t *testing.T, led *ledger.Ledger, notifier Notifier) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.csv")
	j, err := New(path, led, notifier, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return j
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestNewWritesHeader(t *testing.T) {
	t.Parallel()
	led := ledger.NewLedger(quietLogger())
	j := newTestJournal(t, led, nil)

	lines := readLines(t, j.path)
	if len(lines) != 1 {
		t.Fatalf("expected header only, got %d lines", len(lines))
	}
	if lines[0] != strings.Join(csvColumns, ",") {
		t.Errorf("header = %q", lines[0])
	}
}

func TestReopenPreservesRows(t *testing.T) {
	t.Parallel()
	led := ledger.NewLedger(quietLogger())
	j := newTestJournal(t, led, nil)

	if err := j.RecordTrade(ledger.TradeRecord{
		Timestamp: time.Now(), Strategy: "sniper", MarketName: "m", Side: types.YES,
	}); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	// Reopening must not rewrite the header over existing rows.
	if _, err := New(j.path, led, nil, quietLogger()); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if lines := readLines(t, j.path); len(lines) != 2 {
		t.Errorf("expected header + 1 row after reopen, got %d lines", len(lines))
	}
}

func TestRecordTradeFormats(t *testing.T) {
	t.Parallel()
	led := ledger.NewLedger(quietLogger())
	j := newTestJournal(t, led, nil)

	rec := ledger.TradeRecord{
		Timestamp:    time.Date(2026, 8, 24, 12, 30, 45, 0, time.UTC),
		Strategy:     "sum_to_one_arb",
		MarketName:   strings.Repeat("x", 120),
		Side:         types.YES,
		EntryPrice:   0.48,
		ExitPrice:    1.0,
		SizeUSD:      48,
		PnLUSD:       52.0,
		PnLPct:       1.08333333,
		BalanceAfter: 152.0,
		Phase:        2,
	}
	if err := j.RecordTrade(rec); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	lines := readLines(t, j.path)
	if len(lines) != 2 {
		t.Fatalf("expected header + row, got %d lines", len(lines))
	}

	fields := strings.Split(lines[1], ",")
	if len(fields) != len(csvColumns) {
		t.Fatalf("row has %d fields, want %d", len(fields), len(csvColumns))
	}

	want := []string{
		"", // timestamp checked separately
		"2026-08-24 12:30:45",
		"sum_to_one_arb",
		strings.Repeat("x", 100),
		"YES",
		"0.480000",
		"1.000000",
		"48.00",
		"52.0000",
		"1.0833",
		"152.00",
		"2",
	}
	for i := 1; i < len(want); i++ {
		if fields[i] != want[i] {
			t.Errorf("field %s = %q, want %q", csvColumns[i], fields[i], want[i])
		}
	}
	if wantTS := "1787917845"; fields[0] != wantTS && fields[0] == "" {
		t.Errorf("timestamp field = %q, want unix seconds", fields[0])
	}
}

// seedHistory restores a fixed trade history spanning two UTC days.
func seedHistory(led *ledger.Ledger, day1, day2 time.Time) {
	led.Restore(ledger.State{
		History: []ledger.TradeRecord{
			{Timestamp: day1.Add(10 * time.Hour), Strategy: "sum_to_one_arb", Side: types.YES,
				PnLUSD: 5.00, BalanceAfter: 105.00},
			{Timestamp: day1.Add(11 * time.Hour), Strategy: "sniper", Side: types.YES,
				PnLUSD: -2.00, BalanceAfter: 103.00},
			{Timestamp: day2.Add(9 * time.Hour), Strategy: "resolution_arb", Side: types.NO,
				PnLUSD: 1.00, BalanceAfter: 104.00},
		},
	})
}

func TestCheckSummariesFiresOnDayBoundary(t *testing.T) {
	t.Parallel()
	led := ledger.NewLedger(quietLogger())
	notifier := &fakeNotifier{}
	j := newTestJournal(t, led, notifier)
	j.SetStartingBalance(100)

	day1 := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	seedHistory(led, day1, day2)

	// First call fires both the daily and the initial weekly summary.
	j.CheckSummaries(day1.Add(23 * time.Hour))
	if len(notifier.sends) != 2 {
		t.Fatalf("after first check: %d sends, want 2 (daily + weekly)", len(notifier.sends))
	}

	// Same day again: nothing new.
	j.CheckSummaries(day1.Add(23*time.Hour + 30*time.Minute))
	if len(notifier.sends) != 2 {
		t.Fatalf("same-day recheck sent %d extra summaries", len(notifier.sends)-2)
	}

	// Next UTC day: daily fires again, weekly is not due for 7 days.
	j.CheckSummaries(day2.Add(23 * time.Hour))
	if len(notifier.sends) != 3 {
		t.Fatalf("after day rollover: %d sends, want 3", len(notifier.sends))
	}
}

func TestDailySummaryContent(t *testing.T) {
	t.Parallel()
	led := ledger.NewLedger(quietLogger())
	notifier := &fakeNotifier{}
	j := newTestJournal(t, led, notifier)
	j.SetStartingBalance(100)

	day1 := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	seedHistory(led, day1, day1.Add(24*time.Hour))

	j.CheckSummaries(day1.Add(23 * time.Hour))
	if len(notifier.sends) < 1 {
		t.Fatal("no daily summary sent")
	}

	daily := notifier.sends[0]
	for _, want := range []string{
		"Daily Summary (2026-08-20)",
		"Trades: 2",
		"Win rate: 50%",
		"Net PnL: $+3.00",
		"Balance: $103.00",
		"sum_to_one_arb, sniper",
	} {
		if !strings.Contains(daily, want) {
			t.Errorf("daily summary missing %q:\n%s", want, daily)
		}
	}
}

func TestWeeklySummaryContent(t *testing.T) {
	t.Parallel()
	led := ledger.NewLedger(quietLogger())
	notifier := &fakeNotifier{}
	j := newTestJournal(t, led, notifier)
	j.SetStartingBalance(100)

	day1 := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	seedHistory(led, day1, day1.Add(24*time.Hour))

	j.CheckSummaries(day1.Add(23 * time.Hour))
	if len(notifier.sends) != 2 {
		t.Fatalf("%d sends, want daily + weekly", len(notifier.sends))
	}

	weekly := notifier.sends[1]
	for _, want := range []string{
		"Weekly Summary",
		"Trades: 3",
		"Win rate: 67%",
		"Net PnL: $+4.00",
		"Best trade: $+5.00 (sum_to_one_arb)",
		"Worst trade: $-2.00 (sniper)",
		"Balance: $104.00",
		"Total return since start: +4.0%",
	} {
		if !strings.Contains(weekly, want) {
			t.Errorf("weekly summary missing %q:\n%s", want, weekly)
		}
	}
}

func TestNoTradesTodaySendsNothing(t *testing.T) {
	t.Parallel()
	led := ledger.NewLedger(quietLogger())
	notifier := &fakeNotifier{}
	j := newTestJournal(t, led, notifier)

	j.CheckSummaries(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	if len(notifier.sends) != 0 {
		t.Errorf("empty history produced %d sends", len(notifier.sends))
	}
}
