// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — order and outcome
// enums, market metadata, order book levels, and the wire shapes of the
// CLOB and Gamma APIs. It has no dependencies on internal packages, so it
// can be imported by any layer.
package types

import (
	"math/big"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Outcome labels the two legs of a binary market.
type Outcome string

const (
	YES Outcome = "YES"
	NO  Outcome = "NO"
)

// TerminalPrice is the settlement price of an outcome token: 1.0 for the
// winning side, 0.0 for the losing side.
func (o Outcome) TerminalPrice(won bool) float64 {
	if won {
		return 1.0
	}
	return 0.0
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: stays on book until filled or cancelled
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TicketStatus tracks an order ticket through its lifecycle. Status advances
// monotonically except submitted → cancelled on timeout or error.
type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketSubmitted TicketStatus = "submitted"
	TicketFilled    TicketStatus = "filled"
	TicketCancelled TicketStatus = "cancelled"
	TicketFailed    TicketStatus = "failed"
)

// DryRunOrderID is the placeholder id returned for simulated submissions.
// The fill monitor treats it (and the empty id) as filled immediately.
const DryRunOrderID = "dry-run-placeholder"

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Market is the internal representation of a binary market. Populated from
// the Gamma API by the catalog and passed to the strategy layer. A tradable
// binary market has exactly two outcome tokens (YES and NO), is active, not
// closed, and has an enabled order book.
type Market struct {
	ConditionID string // CTF condition ID (stable identity across scans)
	Question    string // the prediction question, e.g. "Will BTC be above $65k by noon?"
	Slug        string // human-readable URL slug

	YesTokenID string // CLOB token ID for the YES outcome
	NoTokenID  string // CLOB token ID for the NO outcome

	Active          bool      // market is live
	Closed          bool      // market has been resolved
	OrderBookActive bool      // CLOB order book is enabled
	Volume24h       float64   // trailing 24-hour volume in USD
	CreatedAt       time.Time // when the market was created (zero if unknown)
	EndDate         time.Time // scheduled resolution time (zero if unknown)
	Category        string    // optional venue category tag
}

// Tradable reports whether the market satisfies the binary-market invariant.
func (m Market) Tradable() bool {
	return m.Active && !m.Closed && m.OrderBookActive &&
		m.YesTokenID != "" && m.NoTokenID != ""
}

// HoursToEnd returns the time to scheduled resolution in hours, measured
// from now. Negative when the end date has passed, zero when unknown.
func (m Market) HoursToEnd(now time.Time) float64 {
	if m.EndDate.IsZero() {
		return 0
	}
	return m.EndDate.Sub(now).Hours()
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level in the order book.
// Price and Size are strings because the CLOB API returns them as strings
// to preserve decimal precision.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Hash      string       `json:"hash"`
	Timestamp string       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders (wire)
// ————————————————————————————————————————————————————————————————————————

// UserOrder is the high-level order representation produced by a strategy.
// The exchange client converts it to a SignedOrder for the CLOB API.
type UserOrder struct {
	TokenID    string  // which token to trade (YES or NO asset ID)
	Price      float64 // limit price in (0, 1)
	Size       float64 // quantity in outcome tokens
	Side       Side    // BUY or SELL
	Expiration int64   // unix timestamp, 0 = no expiry
	FeeRateBps int     // fee rate in basis points
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`     // API key of the order owner
	OrderType OrderType   `json:"orderType"` // GTC
}

// OrderResponse is the REST API response to an order submission.
type OrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"` // e.g. "live", "matched"
}

// OpenOrder represents a live resting order on the CLOB. Filled orders
// disappear from the open-orders query, which is the bot's only fill signal.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// CancelResponse is returned by DELETE /order and /cancel-all.
type CancelResponse struct {
	Canceled []string `json:"canceled"` // IDs of successfully cancelled orders
}
