package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/pkg/types"
)

// catalogCacheTTL bounds how often the full market list is re-fetched.
// The Gamma API is rate limited; 60 seconds is fresh enough for every
// strategy except the sniper, which forces a bypass.
const catalogCacheTTL = 60 * time.Second

// gammaToken is one outcome token in a Gamma API market record.
type gammaToken struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"` // "Yes" / "No" (case varies)
}

// gammaMarket is the JSON shape returned by the Gamma API.
type gammaMarket struct {
	ConditionID     string       `json:"condition_id"`
	Question        string       `json:"question"`
	Slug            string       `json:"slug"`
	Active          bool         `json:"active"`
	Closed          bool         `json:"closed"`
	EnableOrderBook bool         `json:"enable_order_book"`
	Tokens          []gammaToken `json:"tokens"`
	Volume24h       float64      `json:"volume_num_24hr"`
	CreatedAt       string       `json:"created_at"`
	EndDateISO      string       `json:"end_date_iso"`
	Category        string       `json:"category"`
}

// Catalog discovers markets through the Gamma API. It caches the full
// market list for catalogCacheTTL and keeps a monotonically growing set of
// seen condition IDs so the sniper can spot newly created markets by diffing
// a fresh fetch against that baseline.
//
// All methods are safe for concurrent use; strategies run in parallel and
// share one Catalog.
type Catalog struct {
	httpClient *resty.Client
	ageLimit   time.Duration // sniper window: only markets younger than this count as new
	logger     *slog.Logger

	mu        sync.Mutex
	cache     []types.Market
	fetchedAt time.Time
	knownIDs  map[string]struct{}
	primed    bool // baseline established by at least one successful fetch
}

// NewCatalog creates a Gamma API catalog client.
func NewCatalog(cfg config.Config, logger *slog.Logger) *Catalog {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Catalog{
		httpClient: client,
		ageLimit:   cfg.Sniper.AgeLimit,
		logger:     logger.With("component", "catalog"),
		knownIDs:   make(map[string]struct{}),
	}
}

// Close releases idle HTTP connections.
func (c *Catalog) Close() {
	c.httpClient.GetClient().CloseIdleConnections()
}

// ActiveMarkets returns all active, unresolved markets. Results are cached
// for catalogCacheTTL; on fetch failure a stale cache is served if one
// exists, so a Gamma outage degrades to trading on old metadata rather than
// not trading at all.
func (c *Catalog) ActiveMarkets(ctx context.Context) ([]types.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeMarketsLocked(ctx)
}

func (c *Catalog) activeMarketsLocked(ctx context.Context) ([]types.Market, error) {
	if c.cache != nil && time.Since(c.fetchedAt) < catalogCacheTTL {
		return c.cache, nil
	}

	markets, err := c.fetchAllPages(ctx)
	if err != nil {
		if c.cache != nil {
			c.logger.Warn("catalog fetch failed, serving stale cache",
				"error", err,
				"age", time.Since(c.fetchedAt).Round(time.Second),
			)
			return c.cache, nil
		}
		return nil, err
	}

	c.cache = markets
	c.fetchedAt = time.Now()
	for _, m := range markets {
		c.knownIDs[m.ConditionID] = struct{}{}
	}
	c.primed = true

	c.logger.Debug("catalog refreshed", "markets", len(markets))
	return markets, nil
}

// DetectNewMarkets returns markets that appeared since the previous fetch
// and were created within the configured age limit. It always bypasses the
// cache. The first successful call only establishes the baseline and
// returns nothing.
func (c *Catalog) DetectNewMarkets(ctx context.Context) ([]types.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasPrimed := c.primed
	baseline := make(map[string]struct{}, len(c.knownIDs))
	for id := range c.knownIDs {
		baseline[id] = struct{}{}
	}

	c.fetchedAt = time.Time{} // force a fresh fetch
	markets, err := c.activeMarketsLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !wasPrimed {
		return nil, nil
	}

	now := time.Now()
	var fresh []types.Market
	for _, m := range markets {
		if _, seen := baseline[m.ConditionID]; seen {
			continue
		}
		if m.CreatedAt.IsZero() || now.Sub(m.CreatedAt) >= c.ageLimit {
			continue
		}
		fresh = append(fresh, m)
	}

	if len(fresh) > 0 {
		c.logger.Info("new markets detected", "count", len(fresh))
	}
	return fresh, nil
}

func (c *Catalog) fetchAllPages(ctx context.Context) ([]types.Market, error) {
	var all []types.Market
	offset := 0
	const limit = 100

	for {
		var page []gammaMarket
		resp, err := c.httpClient.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(limit),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		for _, gm := range page {
			if gm.ConditionID == "" {
				continue
			}
			all = append(all, gm.toMarket())
		}

		if len(page) < limit {
			break
		}
		offset += limit
	}

	return all, nil
}

// toMarket converts a Gamma API record to the internal Market type. Outcome
// token IDs are resolved by case-insensitive label match and assigned only
// for markets with exactly two outcomes; multi-outcome markets end up
// untradable and drop out at the filter stage.
func (gm gammaMarket) toMarket() types.Market {
	var yesToken, noToken string
	if len(gm.Tokens) == 2 {
		for _, t := range gm.Tokens {
			switch {
			case strings.EqualFold(t.Outcome, "yes"):
				yesToken = t.TokenID
			case strings.EqualFold(t.Outcome, "no"):
				noToken = t.TokenID
			}
		}
	}

	return types.Market{
		ConditionID:     gm.ConditionID,
		Question:        gm.Question,
		Slug:            gm.Slug,
		YesTokenID:      yesToken,
		NoTokenID:       noToken,
		Active:          gm.Active,
		Closed:          gm.Closed,
		OrderBookActive: gm.EnableOrderBook,
		Volume24h:       gm.Volume24h,
		CreatedAt:       parseISOTime(gm.CreatedAt),
		EndDate:         parseISOTime(gm.EndDateISO),
		Category:        gm.Category,
	}
}

// parseISOTime is a best-effort ISO-8601 parse; unparseable or empty
// strings yield the zero time.
func parseISOTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FilterBinaryTradable keeps markets that satisfy the binary-market
// invariant and meet a minimum 24h volume.
func FilterBinaryTradable(markets []types.Market, minVolume float64) []types.Market {
	var result []types.Market
	for _, m := range markets {
		if m.Tradable() && m.Volume24h >= minVolume {
			result = append(result, m)
		}
	}
	return result
}

var (
	btcKeywords       = []string{"btc", "bitcoin"}
	thresholdKeywords = []string{"above", "below", "price", "over", "under"}
)

// FilterThresholdMarkets identifies Bitcoin price threshold markets by
// keyword heuristics on the question text. These are the markets whose
// outcome an external price oracle can settle.
func FilterThresholdMarkets(markets []types.Market) []types.Market {
	var result []types.Market
	for _, m := range markets {
		q := strings.ToLower(m.Question)
		if containsAny(q, btcKeywords) && containsAny(q, thresholdKeywords) {
			result = append(result, m)
		}
	}
	return result
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
