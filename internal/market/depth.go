// depth.go walks order book depth to compute real fill prices.
//
// Using only the best bid/ask ignores that an order may eat through several
// price levels. The walkers below compute the volume-weighted average fill
// price at a given size, so arb profit calculations reflect what a taker
// order would actually pay.

package market

// FillEstimate is the result of walking one book side for a target size.
type FillEstimate struct {
	AveragePrice   float64 // volume-weighted average price across consumed levels
	TotalFilled    float64 // shares actually fillable (may be < requested)
	TotalCost      float64 // USDC cost (asks) or proceeds (bids) for the filled amount
	LevelsConsumed int     // how many price levels were (partially) consumed
	FullyFillable  bool    // book had enough depth for the entire request
}

// WalkAsks computes the real cost of buying target shares against the ask
// side (lowest ask first). Each level contributes min(remaining, size); a
// book exhausted before the target yields a partial estimate.
func WalkAsks(asks []Level, target float64) FillEstimate {
	return walk(asks, target)
}

// WalkBids computes the real proceeds of selling target shares into the bid
// side (highest bid first).
func WalkBids(bids []Level, target float64) FillEstimate {
	return walk(bids, target)
}

func walk(levels []Level, target float64) FillEstimate {
	remaining := target
	totalCost := 0.0
	consumed := 0

	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		fillQty := lvl.Size
		if remaining < fillQty {
			fillQty = remaining
		}
		totalCost += fillQty * lvl.Price
		remaining -= fillQty
		consumed++
	}

	filled := target - remaining
	avg := 0.0
	if filled > 0 {
		avg = totalCost / filled
	}

	return FillEstimate{
		AveragePrice:   avg,
		TotalFilled:    filled,
		TotalCost:      totalCost,
		LevelsConsumed: consumed,
		FullyFillable:  remaining <= 0,
	}
}

// CombinedFillCost computes the per-share cost of buying size shares of both
// YES and NO. ok is true only when both sides are fully fillable; this is
// the key metric for sum-to-one arbitrage (combined cost below $1.00 minus
// fees is a risk-free profit).
func CombinedFillCost(yesAsks, noAsks []Level, size float64) (perShare float64, ok bool) {
	yesFill := WalkAsks(yesAsks, size)
	noFill := WalkAsks(noAsks, size)

	if !yesFill.FullyFillable || !noFill.FullyFillable {
		return 0, false
	}
	return yesFill.AveragePrice + noFill.AveragePrice, true
}

// LiquidityAtOrBelow returns the total shares available on the ask side at
// or below maxPrice.
func LiquidityAtOrBelow(asks []Level, maxPrice float64) float64 {
	total := 0.0
	for _, lvl := range asks {
		if lvl.Price > maxPrice {
			break
		}
		total += lvl.Size
	}
	return total
}
