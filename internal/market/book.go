// Package market provides order book analysis and market discovery.
//
// Book is a parsed point-in-time view of one token's order book, converted
// from the CLOB wire format (string prices/sizes) into floats once so the
// depth walker and the strategies never re-parse. The Catalog discovers
// binary markets via the Gamma API, and the question parser extracts
// strike/direction pairs from threshold-market questions.
package market

import (
	"strconv"
	"time"

	"polymarket-compounder/pkg/types"
)

// Level is a single parsed price level. Prices live in (0, 1), sizes are
// positive share counts.
type Level struct {
	Price float64
	Size  float64
}

// Book is a parsed order book snapshot for one token.
// Bids are sorted descending by price (best bid first), asks ascending
// (best ask first), as returned by the CLOB.
type Book struct {
	TokenID   string
	Bids      []Level
	Asks      []Level
	FetchedAt time.Time
}

// ParseBook converts a CLOB book response into a Book, dropping levels
// with unparsable or non-positive prices or sizes.
func ParseBook(resp *types.BookResponse) *Book {
	return &Book{
		TokenID:   resp.AssetID,
		Bids:      parseLevels(resp.Bids),
		Asks:      parseLevels(resp.Asks),
		FetchedAt: time.Now(),
	}
}

func parseLevels(raw []types.PriceLevel) []Level {
	levels := make([]Level, 0, len(raw))
	for _, lvl := range raw {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil || price <= 0 || price >= 1 {
			continue
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil || size <= 0 {
			continue
		}
		levels = append(levels, Level{Price: price, Size: size})
	}
	return levels
}

// BestAsk returns the lowest ask price. ok is false when the side is empty.
func (b *Book) BestAsk() (price float64, ok bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// BestBid returns the highest bid price. ok is false when the side is empty.
func (b *Book) BestBid() (price float64, ok bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// MidPrice returns (bestBid + bestAsk) / 2, or false when either side is empty.
func (b *Book) MidPrice() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}
