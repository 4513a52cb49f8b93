// Package journal appends every resolved trade to a CSV file and emits
// daily and weekly PnL summaries on UTC boundaries.
//
// The CSV is append-only and survives restarts; the header is written once
// when the file is missing or empty. Summaries aggregate the ledger's trade
// history and are pushed through an optional Notifier (Telegram in
// production).
package journal

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"polymarket-compounder/internal/ledger"
)

// csvColumns is the journal schema. Changing it breaks downstream analysis
// notebooks, so new fields go at the end only.
var csvColumns = []string{
	"timestamp",
	"datetime_utc",
	"strategy",
	"market_name",
	"side",
	"entry_price",
	"exit_price",
	"size_usd",
	"pnl_usd",
	"pnl_pct",
	"balance_after",
	"phase",
}

// Notifier pushes summary text to an external channel. A nil Notifier
// disables pushes; file logging still happens.
type Notifier interface {
	Send(text string)
}

// Journal owns the trade CSV and the periodic summary schedule.
type Journal struct {
	path     string
	ledger   *ledger.Ledger
	notifier Notifier
	logger   *slog.Logger

	mu              sync.Mutex
	lastDaily       time.Time
	lastWeekly      time.Time
	startingBalance float64
}

// New opens (or creates) the journal at path and makes sure the CSV header
// is in place.
func New(path string, led *ledger.Ledger, notifier Notifier, logger *slog.Logger) (*Journal, error) {
	j := &Journal{
		path:     path,
		ledger:   led,
		notifier: notifier,
		logger:   logger.With("component", "journal"),
	}
	if err := j.ensureHeader(); err != nil {
		return nil, fmt.Errorf("journal init: %w", err)
	}
	return j, nil
}

// SetStartingBalance records the balance at bot startup for total-return
// reporting in the weekly summary.
func (j *Journal) SetStartingBalance(balance float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.startingBalance = balance
}

// RecordTrade appends a completed trade to the CSV journal.
func (j *Journal) RecordTrade(rec ledger.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	name := rec.MarketName
	if len(name) > 100 {
		name = name[:100]
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		strconv.FormatInt(rec.Timestamp.Unix(), 10),
		rec.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		rec.Strategy,
		name,
		string(rec.Side),
		fmt.Sprintf("%.6f", rec.EntryPrice),
		fmt.Sprintf("%.6f", rec.ExitPrice),
		fmt.Sprintf("%.2f", rec.SizeUSD),
		fmt.Sprintf("%.4f", rec.PnLUSD),
		fmt.Sprintf("%.4f", rec.PnLPct),
		fmt.Sprintf("%.2f", rec.BalanceAfter),
		strconv.Itoa(rec.Phase),
	}); err != nil {
		return fmt.Errorf("write journal row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// CheckSummaries emits the daily summary when a UTC day boundary has been
// crossed since the last emission, and a weekly summary every seven days.
// Call once per main-loop cycle; off-boundary calls are no-ops.
func (j *Journal) CheckSummaries(now time.Time) {
	j.mu.Lock()

	if !j.lastDaily.IsZero() && sameUTCDay(j.lastDaily, now) {
		j.mu.Unlock()
		return
	}
	j.lastDaily = now

	weekly := j.lastWeekly.IsZero() || now.Sub(j.lastWeekly) >= 7*24*time.Hour
	if weekly {
		j.lastWeekly = now
	}
	starting := j.startingBalance
	j.mu.Unlock()

	j.emitDaily(now)
	if weekly {
		j.emitWeekly(now, starting)
	}
}

// emitDaily logs and pushes the summary of today's trades.
func (j *Journal) emitDaily(now time.Time) {
	var trades []ledger.TradeRecord
	for _, t := range j.ledger.TradeHistory() {
		if sameUTCDay(t.Timestamp, now) {
			trades = append(trades, t)
		}
	}

	if len(trades) == 0 {
		j.logger.Info("daily summary: no trades today")
		return
	}

	var totalPnL float64
	wins := 0
	for _, t := range trades {
		totalPnL += t.PnLUSD
		if t.PnLUSD >= 0 {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(trades))
	balance := trades[len(trades)-1].BalanceAfter

	summary := fmt.Sprintf(
		"📊 Daily Summary (%s)\nTrades: %d\nWin rate: %.0f%%\nNet PnL: $%+.2f\nBalance: $%.2f\nStrategies: %s",
		now.UTC().Format("2006-01-02"),
		len(trades),
		winRate*100,
		totalPnL,
		balance,
		strings.Join(uniqueStrategies(trades), ", "),
	)

	j.logger.Info(summary)
	j.push(summary)
}

// emitWeekly logs and pushes the aggregate summary of the trailing week.
func (j *Journal) emitWeekly(now time.Time, startingBalance float64) {
	weekStart := now.Add(-7 * 24 * time.Hour)

	var trades []ledger.TradeRecord
	for _, t := range j.ledger.TradeHistory() {
		if !t.Timestamp.Before(weekStart) {
			trades = append(trades, t)
		}
	}
	if len(trades) == 0 {
		return
	}

	var totalPnL float64
	wins := 0
	best := trades[0]
	worst := trades[0]
	for _, t := range trades {
		totalPnL += t.PnLUSD
		if t.PnLUSD >= 0 {
			wins++
		}
		if t.PnLUSD > best.PnLUSD {
			best = t
		}
		if t.PnLUSD < worst.PnLUSD {
			worst = t
		}
	}
	winRate := float64(wins) / float64(len(trades))
	balance := trades[len(trades)-1].BalanceAfter

	var totalReturn float64
	if startingBalance > 0 {
		totalReturn = (balance - startingBalance) / startingBalance
	}

	summary := fmt.Sprintf(
		"📈 Weekly Summary\nTrades: %d\nWin rate: %.0f%%\nNet PnL: $%+.2f\nBest trade: $%+.2f (%s)\nWorst trade: $%+.2f (%s)\nBalance: $%.2f\nTotal return since start: %+.1f%%",
		len(trades),
		winRate*100,
		totalPnL,
		best.PnLUSD, best.Strategy,
		worst.PnLUSD, worst.Strategy,
		balance,
		totalReturn*100,
	)

	j.logger.Info(summary)
	j.push(summary)
}

func (j *Journal) push(text string) {
	if j.notifier != nil {
		j.notifier.Send(text)
	}
}

// ensureHeader writes the CSV header when the journal is missing or empty.
func (j *Journal) ensureHeader() error {
	if info, err := os.Stat(j.path); err == nil && info.Size() > 0 {
		return nil
	}

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.Create(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// uniqueStrategies lists strategy names in first-seen order.
func uniqueStrategies(trades []ledger.TradeRecord) []string {
	seen := make(map[string]bool, len(trades))
	var out []string
	for _, t := range trades {
		if !seen[t.Strategy] {
			seen[t.Strategy] = true
			out = append(out, t.Strategy)
		}
	}
	return out
}

// sameUTCDay reports whether two instants fall on the same UTC calendar day.
func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
