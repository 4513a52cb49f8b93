package market

import (
	"testing"

	"polymarket-compounder/pkg/types"
)

func TestParseBook(t *testing.T) {
	t.Parallel()

	b := ParseBook(&types.BookResponse{
		AssetID: "yes-token-123",
		Bids:    []types.PriceLevel{{Price: "0.55", Size: "100"}, {Price: "0.54", Size: "200"}},
		Asks:    []types.PriceLevel{{Price: "0.57", Size: "150"}},
	})

	if b.TokenID != "yes-token-123" {
		t.Errorf("TokenID = %q, want yes-token-123", b.TokenID)
	}
	if len(b.Bids) != 2 || len(b.Asks) != 1 {
		t.Fatalf("parsed %d bids / %d asks, want 2 / 1", len(b.Bids), len(b.Asks))
	}
	if b.Bids[0].Price != 0.55 || b.Bids[0].Size != 100 {
		t.Errorf("top bid = %+v, want {0.55 100}", b.Bids[0])
	}
	if b.Asks[0].Price != 0.57 {
		t.Errorf("top ask price = %v, want 0.57", b.Asks[0].Price)
	}
}

func TestParseBookDropsInvalidLevels(t *testing.T) {
	t.Parallel()

	b := ParseBook(&types.BookResponse{
		AssetID: "tok",
		Asks: []types.PriceLevel{
			{Price: "not-a-number", Size: "10"},
			{Price: "0", Size: "10"},     // price outside (0,1)
			{Price: "1.0", Size: "10"},   // price outside (0,1)
			{Price: "0.40", Size: "0"},   // non-positive size
			{Price: "0.40", Size: "-5"},  // non-positive size
			{Price: "0.41", Size: "100"}, // valid
		},
	})

	if len(b.Asks) != 1 {
		t.Fatalf("parsed %d asks, want 1 (invalid levels dropped)", len(b.Asks))
	}
	if b.Asks[0].Price != 0.41 {
		t.Errorf("surviving ask = %v, want 0.41", b.Asks[0].Price)
	}
}

func TestBestPricesEmptyAndOneSided(t *testing.T) {
	t.Parallel()

	empty := &Book{}
	if _, ok := empty.BestAsk(); ok {
		t.Error("BestAsk should return ok=false for empty book")
	}
	if _, ok := empty.BestBid(); ok {
		t.Error("BestBid should return ok=false for empty book")
	}
	if _, ok := empty.MidPrice(); ok {
		t.Error("MidPrice should return ok=false for empty book")
	}

	oneSided := &Book{Bids: []Level{{Price: 0.50, Size: 100}}}
	if _, ok := oneSided.MidPrice(); ok {
		t.Error("MidPrice should return ok=false with only bids")
	}
	bid, ok := oneSided.BestBid()
	if !ok || bid != 0.50 {
		t.Errorf("BestBid = %v/%v, want 0.50/true", bid, ok)
	}
}

func TestMidPrice(t *testing.T) {
	t.Parallel()

	b := &Book{
		Bids: []Level{{Price: 0.50, Size: 100}},
		Asks: []Level{{Price: 0.60, Size: 100}},
	}

	mid, ok := b.MidPrice()
	if !ok {
		t.Fatal("MidPrice returned false for populated book")
	}
	if mid != 0.55 {
		t.Errorf("mid = %v, want 0.55", mid)
	}
}
