// Package oracle provides external BTC price data for strategies that
// settle or model threshold markets: a dual-source confirmed spot price
// and a realized-volatility estimate built from Binance 1-minute candles.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"polymarket-compounder/internal/config"
)

const (
	// agreementTolerance is the maximum relative difference between the
	// two spot sources before the reading is discarded as unreliable.
	agreementTolerance = 0.005

	volCacheTTL = 5 * time.Minute
	klineLimit  = 1440 // 24h of 1-minute candles
	minCandles  = 60
	minReturns  = 30
)

// ErrDisagreement is returned when both spot sources respond but differ by
// more than agreementTolerance. Strategies abstain rather than act on a
// price that might be stale on one side.
var ErrDisagreement = errors.New("price sources disagree")

// Oracle fetches BTC prices from CoinGecko and Binance. Each source sits
// behind a circuit breaker, so a flapping endpoint degrades to
// single-source operation instead of slowing every scan cycle.
type Oracle struct {
	coingecko *resty.Client
	binance   *resty.Client
	cgBreaker *gobreaker.CircuitBreaker
	bnBreaker *gobreaker.CircuitBreaker
	logger    *slog.Logger

	mu        sync.Mutex
	volAt     time.Time
	volPrice  float64
	volHourly float64
}

// NewOracle creates an oracle client for the configured endpoints.
func NewOracle(cfg config.Config, logger *slog.Logger) *Oracle {
	logger = logger.With("component", "oracle")

	newBreaker := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("price source breaker state changed",
					"source", name, "from", from.String(), "to", to.String())
			},
		})
	}

	return &Oracle{
		coingecko: resty.New().
			SetBaseURL(cfg.API.CoinGeckoBaseURL).
			SetTimeout(10 * time.Second),
		binance: resty.New().
			SetBaseURL(cfg.API.BinanceBaseURL).
			SetTimeout(15 * time.Second),
		cgBreaker: newBreaker("coingecko"),
		bnBreaker: newBreaker("binance"),
		logger:    logger,
	}
}

// Close releases idle HTTP connections.
func (o *Oracle) Close() {
	o.coingecko.GetClient().CloseIdleConnections()
	o.binance.GetClient().CloseIdleConnections()
}

// SpotPrice returns the current BTC/USD price. When both sources respond
// the prices must agree within agreementTolerance and the average is
// returned; if only one responds, its price is used as-is.
func (o *Oracle) SpotPrice(ctx context.Context) (float64, error) {
	cgPrice, cgErr := o.fetchCoinGecko(ctx)
	bnPrice, bnErr := o.fetchBinanceTicker(ctx)

	switch {
	case cgErr == nil && bnErr == nil:
		diff := math.Abs(cgPrice-bnPrice) / math.Max(cgPrice, bnPrice)
		if diff < agreementTolerance {
			return (cgPrice + bnPrice) / 2, nil
		}
		o.logger.Warn("BTC price sources disagree",
			"coingecko", cgPrice,
			"binance", bnPrice,
			"diff_pct", diff*100,
		)
		return 0, ErrDisagreement
	case cgErr == nil:
		return cgPrice, nil
	case bnErr == nil:
		return bnPrice, nil
	default:
		return 0, fmt.Errorf("all price sources failed: coingecko: %v; binance: %w", cgErr, bnErr)
	}
}

// Volatility returns the current BTC price and the realized hourly
// volatility of 1-minute log returns over the trailing 24 hours. Results
// are cached for volCacheTTL.
func (o *Oracle) Volatility(ctx context.Context) (price, hourlyVol float64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.volAt.IsZero() && time.Since(o.volAt) < volCacheTTL {
		return o.volPrice, o.volHourly, nil
	}

	closes, err := o.fetchKlineCloses(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(closes) < minCandles {
		return 0, 0, fmt.Errorf("volatility: %d candles, need %d", len(closes), minCandles)
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, math.Log(closes[i]/closes[i-1]))
		}
	}
	if len(returns) < minReturns {
		return 0, 0, fmt.Errorf("volatility: %d returns, need %d", len(returns), minReturns)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	// Volatility scales with the square root of time under a random walk.
	std1m := math.Sqrt(variance)
	hourly := std1m * math.Sqrt(60)
	current := closes[len(closes)-1]

	o.volAt = time.Now()
	o.volPrice = current
	o.volHourly = hourly

	o.logger.Debug("volatility refreshed",
		"btc_price", current,
		"hourly_vol", hourly,
	)
	return current, hourly, nil
}

func (o *Oracle) fetchCoinGecko(ctx context.Context) (float64, error) {
	price, err := o.cgBreaker.Execute(func() (interface{}, error) {
		var result struct {
			Bitcoin struct {
				USD float64 `json:"usd"`
			} `json:"bitcoin"`
		}
		resp, err := o.coingecko.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"ids":           "bitcoin",
				"vs_currencies": "usd",
			}).
			SetResult(&result).
			Get("/simple/price")
		if err != nil {
			return nil, fmt.Errorf("coingecko: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("coingecko: status %d", resp.StatusCode())
		}
		if result.Bitcoin.USD <= 0 {
			return nil, fmt.Errorf("coingecko: missing price")
		}
		return result.Bitcoin.USD, nil
	})
	if err != nil {
		return 0, err
	}
	return price.(float64), nil
}

func (o *Oracle) fetchBinanceTicker(ctx context.Context) (float64, error) {
	price, err := o.bnBreaker.Execute(func() (interface{}, error) {
		var result struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
		}
		resp, err := o.binance.R().
			SetContext(ctx).
			SetQueryParam("symbol", "BTCUSDT").
			SetResult(&result).
			Get("/api/v3/ticker/price")
		if err != nil {
			return nil, fmt.Errorf("binance ticker: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("binance ticker: status %d", resp.StatusCode())
		}
		p, err := strconv.ParseFloat(result.Price, 64)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("binance ticker: bad price %q", result.Price)
		}
		return p, nil
	})
	if err != nil {
		return 0, err
	}
	return price.(float64), nil
}

// fetchKlineCloses pulls 1-minute BTCUSDT candles. Binance encodes each
// candle as a mixed-type array; index 4 is the close price as a string.
func (o *Oracle) fetchKlineCloses(ctx context.Context) ([]float64, error) {
	raw, err := o.bnBreaker.Execute(func() (interface{}, error) {
		var klines [][]any
		resp, err := o.binance.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":   "BTCUSDT",
				"interval": "1m",
				"limit":    strconv.Itoa(klineLimit),
			}).
			SetResult(&klines).
			Get("/api/v3/klines")
		if err != nil {
			return nil, fmt.Errorf("binance klines: %w", err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("binance klines: status %d", resp.StatusCode())
		}
		return klines, nil
	})
	if err != nil {
		return nil, err
	}

	klines := raw.([][]any)
	closes := make([]float64, 0, len(klines))
	for _, k := range klines {
		if len(k) < 5 {
			continue
		}
		s, ok := k[4].(string)
		if !ok {
			continue
		}
		c, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		closes = append(closes, c)
	}
	return closes, nil
}
