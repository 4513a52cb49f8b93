// Package exchange implements the Polymarket CLOB REST client and the
// on-chain balance reader.
//
// The REST client (Client) talks to the Polymarket CLOB API for order
// management:
//   - GetServerTime:  GET  /time                — connectivity self-test
//   - GetOrderBook:   GET  /book                — fetch L2 book for a token
//   - GetOpenOrders:  GET  /data/orders         — list resting orders (fill detection)
//   - CreateLimitOrder: POST /order             — place one signed GTC order
//   - CancelOrder:    DELETE /order             — cancel a specific order by ID
//   - CancelAll:      DELETE /cancel-all        — emergency cancel everything
//   - DeriveAPIKey:   GET  /auth/derive-api-key — bootstrap L2 creds from L1 wallet
//
// Every request is rate-limited per endpoint category, automatically retried
// on 5xx errors, and authenticated with L2 HMAC headers (except public reads).
// The balance reader calls USDC balanceOf on Polygon through ethclient.
//
// In dry-run mode every mutating method returns fake success without touching
// the network, and GetOpenOrders reports an empty book so simulated orders
// count as filled immediately.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/pkg/types"
)

// Client is the Polymarket CLOB REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth, plus an
// ethclient connection for reading the wallet's USDC balance.
// auth may be nil in dry-run mode; only live trading paths touch it.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	auth   *Auth         // L1/L2 auth provider and order signer (nil in keyless dry-run)
	rl     *RateLimiter  // per-endpoint-category rate limiting
	eth    *ethclient.Client
	usdc   common.Address // USDC contract on Polygon
	dryRun bool           // when true, mutating methods return fake success without HTTP calls
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	// ethclient.Dial is lazy for HTTP endpoints, so this only fails on a
	// malformed URL. A missing RPC just disables balance reads.
	var eth *ethclient.Client
	if cfg.Wallet.RPCURL != "" {
		var err error
		eth, err = ethclient.Dial(cfg.Wallet.RPCURL)
		if err != nil {
			logger.Warn("rpc dial failed, balance reads disabled", "url", cfg.Wallet.RPCURL, "error", err)
			eth = nil
		}
	}

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		eth:    eth,
		usdc:   common.HexToAddress(cfg.Wallet.USDCAddress),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// GetServerTime fetches the CLOB server's unix timestamp. Used as the
// startup connectivity self-test: a response proves DNS, TLS, and the API
// are all reachable.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Get("/time")
	if err != nil {
		return 0, fmt.Errorf("get server time: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("get server time: status %d: %s", resp.StatusCode(), resp.String())
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(resp.String()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse server time %q: %w", resp.String(), err)
	}
	return ts, nil
}

// GetOrderBook fetches the order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetOpenOrders lists the wallet's resting orders across all markets.
// An order that has fully filled disappears from this list, which is the
// coordinator's fill signal. In dry-run the list is always empty so
// simulated orders count as filled on the first poll.
func (c *Client) GetOpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	if c.dryRun {
		return nil, nil
	}
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/data/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result []types.OpenOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/data/orders")
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get open orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// CreateLimitOrder signs and places a single GTC limit order.
func (c *Client) CreateLimitOrder(ctx context.Context, order types.UserOrder) (*types.OrderResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"token", order.TokenID, "side", order.Side,
			"price", order.Price, "size", order.Size)
		return &types.OrderResponse{Success: true, OrderID: types.DryRunOrderID, Status: "live"}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	signed, err := c.auth.SignOrder(order)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}
	payload := types.OrderPayload{
		Order:     signed,
		Owner:     c.auth.creds.ApiKey,
		OrderType: types.OrderTypeGTC,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return &result, fmt.Errorf("order rejected: %s", result.ErrorMsg)
	}

	return &result, nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error) {
	if orderID == "" {
		return &types.CancelResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return &types.CancelResponse{Canceled: []string{orderID}}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"orderID":%q}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/order")
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &result, nil
}

// CancelAll cancels every open order across all markets. Called on shutdown
// and after fatal errors so no stale quotes outlive the process.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &types.CancelResponse{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}

// balanceOfSelector is the 4-byte ABI selector for ERC-20 balanceOf(address).
var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// GetBalance reads the funder wallet's USDC balance from Polygon.
// USDC has 6 decimals, so the raw uint256 is scaled down by 1e6.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if c.eth == nil {
		return 0, fmt.Errorf("get balance: no rpc connection")
	}
	if c.auth == nil {
		return 0, fmt.Errorf("get balance: wallet not configured")
	}

	owner := c.auth.FunderAddress()
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.usdc, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("balanceOf call: %w", err)
	}

	raw := new(big.Int).SetBytes(out)
	bal, _ := decimal.NewFromBigInt(raw, -6).Float64()
	return bal, nil
}
