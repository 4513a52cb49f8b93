package exchange

import (
	"math/big"
	"strings"
	"testing"

	"polymarket-compounder/internal/config"
	"polymarket-compounder/pkg/types"
)

// Well-known throwaway test key (hardhat account #0). Never funded on mainnet.
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	auth, err := NewAuth(config.Config{
		Wallet: config.WalletConfig{
			PrivateKey: testPrivateKey,
			ChainID:    137,
		},
	})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	return auth
}

func TestNewAuthDerivesAddress(t *testing.T) {
	t.Parallel()
	auth := newTestAuth(t)

	if auth.Address().Hex() != testAddress {
		t.Errorf("Address() = %s, want %s", auth.Address().Hex(), testAddress)
	}
	// No funder configured, so the funder defaults to the signer.
	if auth.FunderAddress() != auth.Address() {
		t.Errorf("FunderAddress() = %s, want %s", auth.FunderAddress().Hex(), auth.Address().Hex())
	}
}

func TestNewAuthStripsHexPrefix(t *testing.T) {
	t.Parallel()
	auth, err := NewAuth(config.Config{
		Wallet: config.WalletConfig{
			PrivateKey: "0x" + testPrivateKey,
			ChainID:    137,
		},
	})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if auth.Address().Hex() != testAddress {
		t.Errorf("Address() = %s, want %s", auth.Address().Hex(), testAddress)
	}
}

func TestL1HeadersComplete(t *testing.T) {
	t.Parallel()
	auth := newTestAuth(t)

	headers, err := auth.L1Headers(0)
	if err != nil {
		t.Fatalf("L1Headers: %v", err)
	}

	for _, key := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_NONCE"} {
		if headers[key] == "" {
			t.Errorf("header %s is empty", key)
		}
	}
	if !strings.HasPrefix(headers["POLY_SIGNATURE"], "0x") {
		t.Errorf("signature %q missing 0x prefix", headers["POLY_SIGNATURE"])
	}
}

func TestSignOrderFieldsAndSignature(t *testing.T) {
	t.Parallel()
	auth := newTestAuth(t)

	signed, err := auth.SignOrder(types.UserOrder{
		TokenID:    "123456789",
		Price:      0.50,
		Size:       100,
		Side:       types.BUY,
		FeeRateBps: 0,
	})
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}

	if signed.Maker != testAddress {
		t.Errorf("Maker = %s, want %s", signed.Maker, testAddress)
	}
	if signed.Signer != testAddress {
		t.Errorf("Signer = %s, want %s", signed.Signer, testAddress)
	}
	if signed.Taker != zeroAddress {
		t.Errorf("Taker = %s, want zero address", signed.Taker)
	}
	if signed.Side != types.BUY {
		t.Errorf("Side = %s, want BUY", signed.Side)
	}
	if signed.Salt == "" || signed.Salt == "0" {
		t.Errorf("Salt = %q, want random non-zero", signed.Salt)
	}

	// 65-byte signature hex: 0x + 130 chars, V adjusted to 27/28 (1b/1c).
	if !strings.HasPrefix(signed.Signature, "0x") || len(signed.Signature) != 132 {
		t.Fatalf("Signature = %q, want 0x-prefixed 65 bytes", signed.Signature)
	}
	v := signed.Signature[130:]
	if v != "1b" && v != "1c" {
		t.Errorf("signature V byte = %s, want 1b or 1c", v)
	}
}

func TestSignOrderDiffersPerSalt(t *testing.T) {
	t.Parallel()
	auth := newTestAuth(t)

	order := types.UserOrder{TokenID: "42", Price: 0.30, Size: 10, Side: types.SELL}
	first, err := auth.SignOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	second, err := auth.SignOrder(order)
	if err != nil {
		t.Fatal(err)
	}
	if first.Salt == second.Salt {
		t.Error("two orders share a salt")
	}
	if first.Signature == second.Signature {
		t.Error("two orders with different salts share a signature")
	}
}

func TestSideIndex(t *testing.T) {
	t.Parallel()
	if got := sideIndex(types.BUY); got != 0 {
		t.Errorf("sideIndex(BUY) = %d, want 0", got)
	}
	if got := sideIndex(types.SELL); got != 1 {
		t.Errorf("sideIndex(SELL) = %d, want 1", got)
	}
}

func TestPriceToAmounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		price   float64
		size    float64
		side    types.Side
		wantMkr int64 // expected makerAmount (6 decimal units)
		wantTkr int64 // expected takerAmount (6 decimal units)
	}{
		{
			name:    "BUY at 0.50, size 100",
			price:   0.50,
			size:    100.0,
			side:    types.BUY,
			wantMkr: 50_000_000,  // 100 * 0.50 = 50 USDC
			wantTkr: 100_000_000, // 100 tokens
		},
		{
			name:    "SELL at 0.50, size 100",
			price:   0.50,
			size:    100.0,
			side:    types.SELL,
			wantMkr: 100_000_000, // 100 tokens
			wantTkr: 50_000_000,  // 100 * 0.50 = 50 USDC
		},
		{
			name:    "BUY at 0.75, size 10",
			price:   0.75,
			size:    10.0,
			side:    types.BUY,
			wantMkr: 7_500_000,  // 10 * 0.75 = 7.5 USDC
			wantTkr: 10_000_000, // 10 tokens
		},
		{
			name:    "BUY small size truncated",
			price:   0.55,
			size:    1.999, // truncated to 1.99
			side:    types.BUY,
			wantMkr: 1_094_500, // 1.99 * 0.55 = 1.0945 USDC
			wantTkr: 1_990_000, // 1.99 tokens
		},
		{
			name:    "BUY cash truncates not rounds",
			price:   0.333333,
			size:    3.0,
			side:    types.BUY,
			wantMkr: 999_900,   // 3 * 0.333333 = 0.999999 → 0.9999
			wantTkr: 3_000_000, // 3 tokens
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mkr, tkr := PriceToAmounts(tt.price, tt.size, tt.side)

			if mkr.Cmp(big.NewInt(tt.wantMkr)) != 0 {
				t.Errorf("makerAmount = %s, want %d", mkr.String(), tt.wantMkr)
			}
			if tkr.Cmp(big.NewInt(tt.wantTkr)) != 0 {
				t.Errorf("takerAmount = %s, want %d", tkr.String(), tt.wantTkr)
			}
		})
	}
}

func TestPriceToAmountsSellMirrorsBuy(t *testing.T) {
	t.Parallel()

	// For the same price/size, BUY's maker == SELL's taker (USDC)
	// and BUY's taker == SELL's maker (tokens)
	buyMkr, buyTkr := PriceToAmounts(0.60, 50.0, types.BUY)
	sellMkr, sellTkr := PriceToAmounts(0.60, 50.0, types.SELL)

	if buyMkr.Cmp(sellTkr) != 0 {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", buyMkr, sellTkr)
	}
	if buyTkr.Cmp(sellMkr) != 0 {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", buyTkr, sellMkr)
	}
}
