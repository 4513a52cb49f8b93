// Package orders sits between the strategies and the exchange client.
//
// It owns the order lifecycle: submission with exponential-backoff retries,
// fill detection by polling the open-orders list, timeout-based cancellation
// of unfilled legs, and partial-fill recovery for paired arbitrage orders.
// A pair that only half-fills is unwound by selling the filled leg back at
// its entry price, so a failed arb never leaves directional exposure behind.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/pkg/types"
)

// Venue is the slice of the exchange client the coordinator needs.
type Venue interface {
	CreateLimitOrder(ctx context.Context, order types.UserOrder) (*types.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error)
	CancelAll(ctx context.Context) (*types.CancelResponse, error)
	GetOpenOrders(ctx context.Context) ([]types.OpenOrder, error)
}

// Ticket represents one leg of a trade before and after submission.
type Ticket struct {
	ID          string // local ticket id
	TokenID     string
	Side        types.Side
	Price       float64
	Size        float64
	OrderID     string // venue order id once submitted
	Status      types.TicketStatus
	SubmittedAt time.Time
}

// Filled reports whether the ticket reached a filled state.
func (t Ticket) Filled() bool { return t.Status == types.TicketFilled }

// Pair holds the two legs of a sum-to-one arb that must both fill or be
// unwound together.
type Pair struct {
	YesLeg Ticket
	NoLeg  Ticket
}

// BothFilled reports whether the arb completed on both legs.
func (p Pair) BothFilled() bool {
	return p.YesLeg.Filled() && p.NoLeg.Filled()
}

// Coordinator manages order submission, fill monitoring, and unwinding.
type Coordinator struct {
	venue        Venue
	cfg          config.OrderConfig
	dryRun       bool
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	active []*Ticket // submitted tickets, for shutdown bookkeeping
}

// NewCoordinator creates an order coordinator on top of a venue.
func NewCoordinator(venue Venue, cfg config.OrderConfig, dryRun bool, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		venue:        venue,
		cfg:          cfg,
		dryRun:       dryRun,
		pollInterval: time.Second,
		logger:       logger.With("component", "orders"),
	}
}

// PlaceLimit submits a single limit order, retrying transient failures with
// exponential backoff. The returned ticket is in the submitted state on
// success and failed once every attempt has been used up.
func (c *Coordinator) PlaceLimit(ctx context.Context, tokenID string, side types.Side, price, size float64) (Ticket, error) {
	ticket := Ticket{
		ID:      uuid.New().String(),
		TokenID: tokenID,
		Side:    side,
		Price:   price,
		Size:    size,
		Status:  types.TicketPending,
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.venue.CreateLimitOrder(ctx, types.UserOrder{
			TokenID: tokenID,
			Price:   price,
			Size:    size,
			Side:    side,
		})
		if err == nil {
			ticket.OrderID = resp.OrderID
			ticket.Status = types.TicketSubmitted
			ticket.SubmittedAt = time.Now()
			c.track(&ticket)
			c.logger.Info("order submitted",
				"side", side, "token", shortID(tokenID),
				"price", price, "size", size, "order_id", resp.OrderID)
			return ticket, nil
		}

		lastErr = err
		wait := time.Duration(math.Pow(c.cfg.RetryBackoffBase, float64(attempt)) * float64(time.Second))
		c.logger.Warn("order attempt failed",
			"attempt", attempt, "max", c.cfg.MaxRetries,
			"error", err, "retry_in", wait)

		if attempt < c.cfg.MaxRetries {
			if err := sleepCtx(ctx, wait); err != nil {
				ticket.Status = types.TicketFailed
				return ticket, err
			}
		}
	}

	ticket.Status = types.TicketFailed
	c.logger.Error("order permanently failed", "retries", c.cfg.MaxRetries, "error", lastErr)
	return ticket, fmt.Errorf("order failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

// PlaceArbPair submits both legs of a sum-to-one arb concurrently and
// monitors them until both fill or the order timeout expires. On timeout
// the unfilled leg is cancelled and any filled leg is sold back at its
// entry price to neutralise exposure.
func (c *Coordinator) PlaceArbPair(ctx context.Context, yesTokenID, noTokenID string, yesPrice, noPrice, size float64) (Pair, error) {
	var (
		wg     sync.WaitGroup
		pair   Pair
		yesErr error
		noErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		pair.YesLeg, yesErr = c.PlaceLimit(ctx, yesTokenID, types.BUY, yesPrice, size)
	}()
	go func() {
		defer wg.Done()
		pair.NoLeg, noErr = c.PlaceLimit(ctx, noTokenID, types.BUY, noPrice, size)
	}()
	wg.Wait()

	if yesErr != nil || noErr != nil {
		// One leg never made it out; pull back whatever did.
		c.cancelIfSubmitted(ctx, &pair.YesLeg)
		c.cancelIfSubmitted(ctx, &pair.NoLeg)
		c.logger.Warn("arb pair aborted, leg submission failed",
			"yes_err", yesErr, "no_err", noErr)
		return pair, fmt.Errorf("arb pair submission: yes=%v no=%v", yesErr, noErr)
	}

	// Simulated orders fill instantly; there is nothing to monitor.
	if c.dryRun {
		pair.YesLeg.Status = types.TicketFilled
		pair.NoLeg.Status = types.TicketFilled
		return pair, nil
	}

	c.monitorPair(ctx, &pair)
	return pair, nil
}

// monitorPair polls open orders until both legs fill or the timeout passes.
func (c *Coordinator) monitorPair(ctx context.Context, pair *Pair) {
	deadline := time.Now().Add(c.cfg.Timeout)
	yesFilled := false
	noFilled := false

	for time.Now().Before(deadline) {
		open, err := c.openOrderSet(ctx)
		if err != nil {
			c.logger.Debug("fill check error", "error", err)
		} else {
			if !yesFilled {
				yesFilled = filled(pair.YesLeg, open)
			}
			if !noFilled {
				noFilled = filled(pair.NoLeg, open)
			}
		}

		if yesFilled && noFilled {
			pair.YesLeg.Status = types.TicketFilled
			pair.NoLeg.Status = types.TicketFilled
			c.logger.Info("both arb legs filled")
			return
		}

		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return
		}
	}

	// Timeout. Cancel what never filled and unwind what did.
	switch {
	case yesFilled && !noFilled:
		c.cancelIfSubmitted(ctx, &pair.NoLeg)
		pair.NoLeg.Status = types.TicketCancelled
		pair.YesLeg.Status = types.TicketFilled
		c.logger.Warn("arb timeout: YES filled, NO cancelled, recovering")
		c.recoverFilledLeg(ctx, pair.YesLeg)

	case noFilled && !yesFilled:
		c.cancelIfSubmitted(ctx, &pair.YesLeg)
		pair.YesLeg.Status = types.TicketCancelled
		pair.NoLeg.Status = types.TicketFilled
		c.logger.Warn("arb timeout: NO filled, YES cancelled, recovering")
		c.recoverFilledLeg(ctx, pair.NoLeg)

	default:
		c.cancelIfSubmitted(ctx, &pair.YesLeg)
		c.cancelIfSubmitted(ctx, &pair.NoLeg)
		pair.YesLeg.Status = types.TicketCancelled
		pair.NoLeg.Status = types.TicketCancelled
		c.logger.Info("arb timeout: neither leg filled, both cancelled")
	}
}

// recoverFilledLeg sells back a filled leg at its entry price. Best effort:
// if the sell does not fill within the timeout the position is left for the
// risk manager to see.
func (c *Coordinator) recoverFilledLeg(ctx context.Context, leg Ticket) {
	c.logger.Info("recovering filled leg",
		"token", shortID(leg.TokenID), "price", leg.Price, "size", leg.Size)

	sell, err := c.PlaceLimit(ctx, leg.TokenID, types.SELL, leg.Price, leg.Size)
	if err != nil {
		c.logger.Warn("recovery sell failed to submit", "token", shortID(leg.TokenID), "error", err)
		return
	}

	if err := sleepCtx(ctx, c.cfg.Timeout); err != nil {
		return
	}
	open, err := c.openOrderSet(ctx)
	if err != nil || !filled(sell, open) {
		c.logger.Warn("recovery sell did not fill, position remains open",
			"token", shortID(leg.TokenID))
	}
}

// CancelAll cancels every open order at the venue. Used during shutdown and
// after fatal errors.
func (c *Coordinator) CancelAll(ctx context.Context) error {
	if _, err := c.venue.CancelAll(ctx); err != nil {
		c.logger.Error("cancel all failed", "error", err)
		return err
	}

	c.mu.Lock()
	for _, t := range c.active {
		if t.Status == types.TicketSubmitted {
			t.Status = types.TicketCancelled
		}
	}
	c.mu.Unlock()

	c.logger.Info("all open orders cancelled")
	return nil
}

// ActiveCount returns how many tracked tickets are still in the submitted
// state. Exposed for the dashboard.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.active {
		if t.Status == types.TicketSubmitted {
			n++
		}
	}
	return n
}

func (c *Coordinator) track(t *Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = append(c.active, t)
}

// cancelIfSubmitted cancels a leg that made it to the venue.
func (c *Coordinator) cancelIfSubmitted(ctx context.Context, t *Ticket) {
	if t.Status != types.TicketSubmitted || t.OrderID == "" {
		return
	}
	if _, err := c.venue.CancelOrder(ctx, t.OrderID); err != nil {
		c.logger.Warn("failed to cancel order", "order_id", t.OrderID, "error", err)
		return
	}
	t.Status = types.TicketCancelled
}

// openOrderSet fetches the venue's open orders as a lookup set.
func (c *Coordinator) openOrderSet(ctx context.Context) (map[string]struct{}, error) {
	orders, err := c.venue.GetOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		set[o.ID] = struct{}{}
	}
	return set, nil
}

// filled reports whether a ticket's order has left the open-orders list.
// Simulated orders (empty or placeholder ids) always read as filled.
func filled(t Ticket, open map[string]struct{}) bool {
	if t.OrderID == "" || t.OrderID == types.DryRunOrderID {
		return true
	}
	_, stillOpen := open[t.OrderID]
	return !stillOpen
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// shortID truncates long token ids for log lines.
func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16]
}
