// Package config defines all configuration for the trading bot.
// Config is loaded from an optional YAML file (default: configs/config.yaml)
// layered over built-in defaults, with sensitive fields overridable via
// environment variables (PRIVATE_KEY, POLYMARKET_API_KEY, ...).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun       bool          `mapstructure:"dry_run"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`

	Wallet      WalletConfig      `mapstructure:"wallet"`
	API         APIConfig         `mapstructure:"api"`
	Phases      PhaseConfig       `mapstructure:"phases"`
	SumToOne    SumToOneConfig    `mapstructure:"sum_to_one"`
	Resolution  ResolutionConfig  `mapstructure:"resolution"`
	Sniper      SniperConfig      `mapstructure:"sniper"`
	Directional DirectionalConfig `mapstructure:"directional"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Orders      OrderConfig       `mapstructure:"orders"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Store       StoreConfig       `mapstructure:"store"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
}

// WalletConfig holds the Polygon wallet used for signing orders and the
// on-chain endpoints used to read the USDC balance.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from
// the signer when using a proxy wallet).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
	RPCURL        string `mapstructure:"rpc_url"`
	USDCAddress   string `mapstructure:"usdc_address"`
}

// APIConfig holds external HTTP endpoints and optional pre-derived L2
// credentials. If ApiKey/Secret/Passphrase are empty, the bot derives them
// via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL      string `mapstructure:"clob_base_url"`
	GammaBaseURL     string `mapstructure:"gamma_base_url"`
	CoinGeckoBaseURL string `mapstructure:"coingecko_base_url"`
	BinanceBaseURL   string `mapstructure:"binance_base_url"`
	ApiKey           string `mapstructure:"api_key"`
	Secret           string `mapstructure:"secret"`
	Passphrase       string `mapstructure:"passphrase"`
}

// PhaseConfig controls balance-driven strategy activation.
// Phase 1 runs sum-to-one + resolution, phase 2 adds the sniper, phase 3
// adds the directional engine. Override pins the phase regardless of balance
// (0 = automatic).
type PhaseConfig struct {
	Phase2Threshold float64 `mapstructure:"phase2_threshold"`
	Phase3Threshold float64 `mapstructure:"phase3_threshold"`
	Override        int     `mapstructure:"override"`
}

// SumToOneConfig tunes the sum-to-one arbitrage strategy.
//
//   - ArbThreshold: skip markets whose best-ask sum exceeds this (no edge).
//   - SlippageBuffer: worst-case loss assumption for the risk check.
//   - MinProfitPct: minimum per-share profit after fees.
//   - MinDailyVolume: 24h volume floor for candidate markets.
type SumToOneConfig struct {
	ArbThreshold   float64 `mapstructure:"arb_threshold"`
	SlippageBuffer float64 `mapstructure:"slippage_buffer"`
	MinProfitPct   float64 `mapstructure:"min_profit_pct"`
	MinDailyVolume float64 `mapstructure:"min_daily_volume"`
}

// ResolutionConfig tunes the resolution arbitrage strategy.
//
//   - MinEdge: minimum 1−ask edge on the winning side.
//   - PriceBufferPct: abstain when oracle price is within this fraction of the strike.
//   - MaxPositionPct: per-trade cap as a fraction of balance.
type ResolutionConfig struct {
	MinEdge        float64 `mapstructure:"min_edge"`
	PriceBufferPct float64 `mapstructure:"price_buffer_pct"`
	MaxPositionPct float64 `mapstructure:"max_position_pct"`
}

// SniperConfig tunes the new-market sniper.
//
//   - ScanInterval: self-throttle between sniper scans (coarser than the main loop).
//   - AgeLimit: only markets created within this window count as new.
//   - HighPriorityThreshold: ask sums at or below this are high-priority entries.
//   - MaxExposurePct: per-strategy exposure cap as a fraction of balance.
type SniperConfig struct {
	ScanInterval          time.Duration `mapstructure:"scan_interval"`
	AgeLimit              time.Duration `mapstructure:"age_limit"`
	HighPriorityThreshold float64       `mapstructure:"high_priority_threshold"`
	MaxExposurePct        float64       `mapstructure:"max_exposure_pct"`
}

// DirectionalConfig tunes the volatility-model directional engine.
//
//   - MinEdge: minimum |model − implied| probability gap to act on.
//   - MaxPositionPct: half-Kelly clamp as a fraction of balance.
//   - MaxConcurrent: open directional position count cap.
//   - MaxTotalPct: total directional exposure cap as a fraction of balance.
//   - AutoDisableWinRate / MinSample: self-disable below this win rate once
//     the sample is large enough.
type DirectionalConfig struct {
	MinEdge            float64 `mapstructure:"min_edge"`
	MaxPositionPct     float64 `mapstructure:"max_position_pct"`
	MaxConcurrent      int     `mapstructure:"max_concurrent"`
	MaxTotalPct        float64 `mapstructure:"max_total_pct"`
	AutoDisableWinRate float64 `mapstructure:"auto_disable_win_rate"`
	MinSample          int     `mapstructure:"min_sample"`
}

// RiskConfig sets the hard limits enforced by the risk manager on every trade.
//
//   - MaxTradeUSD / MinTradeUSD: absolute per-trade cash bounds.
//   - MaxPositionPct: single-trade cost cap as a fraction of balance.
//   - MaxTotalExposurePct: open cost basis cap across all strategies.
//   - MaxStrategyExposurePct: open cost basis cap per strategy.
//   - MaxConsecutiveLosses: loss streak that trips the cooldown.
//   - MaxDailyDrawdownPct: intraday drawdown that trips the cooldown.
//   - MaxSingleLossPct: worst-case single-trade loss cap.
//   - Cooldown: trading halt after a trip (4x when re-tripped from recovery).
//   - RecoveryMultiplier / RecoveryTradeCount: reduced sizing while proving
//     the strategy again after a cooldown.
type RiskConfig struct {
	MaxTradeUSD            float64       `mapstructure:"max_trade_usd"`
	MinTradeUSD            float64       `mapstructure:"min_trade_usd"`
	MaxPositionPct         float64       `mapstructure:"max_position_pct"`
	MaxTotalExposurePct    float64       `mapstructure:"max_total_exposure_pct"`
	MaxStrategyExposurePct float64       `mapstructure:"max_strategy_exposure_pct"`
	MaxConsecutiveLosses   int           `mapstructure:"max_consecutive_losses"`
	MaxDailyDrawdownPct    float64       `mapstructure:"max_daily_drawdown_pct"`
	MaxSingleLossPct       float64       `mapstructure:"max_single_loss_pct"`
	Cooldown               time.Duration `mapstructure:"cooldown"`
	RecoveryMultiplier     float64       `mapstructure:"recovery_multiplier"`
	RecoveryTradeCount     int           `mapstructure:"recovery_trade_count"`
}

// OrderConfig controls order submission and fill monitoring.
//
//   - Timeout: how long to wait for fills before unwinding.
//   - MaxRetries: submission attempts per order.
//   - RetryBackoffBase: sleep backoffBase^attempt seconds between attempts.
//   - EstimatedFeeRate: taker fee estimate used in profit calculations.
type OrderConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoffBase float64       `mapstructure:"retry_backoff_base"`
	EstimatedFeeRate float64       `mapstructure:"estimated_fee_rate"`
}

// JournalConfig sets where the CSV trade journal is written.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// StoreConfig sets where ledger state is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// DashboardConfig controls the status API server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// AllowedOrigins restricts WebSocket upgrades. Empty means same-host
	// and localhost only.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TelegramConfig enables trade and risk alerts. Both fields empty = disabled.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Load reads config from an optional YAML file layered over defaults, with
// env var overrides. Sensitive fields use the raw env names the original
// deployment scripts export: PRIVATE_KEY, POLYMARKET_API_KEY,
// POLYMARKET_API_SECRET, POLYMARKET_PASSPHRASE, TELEGRAM_BOT_TOKEN,
// TELEGRAM_CHAT_ID, DRY_RUN, ACTIVE_PHASE_OVERRIDE.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("COMPOUNDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine (defaults + env); a malformed one is not.
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dry_run", true)
	v.SetDefault("scan_interval", "10s")

	v.SetDefault("wallet.chain_id", 137)
	v.SetDefault("wallet.signature_type", 0)
	v.SetDefault("wallet.rpc_url", "https://polygon-rpc.com")
	// USDC.e on Polygon, the collateral token of the CTF exchange.
	v.SetDefault("wallet.usdc_address", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")

	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.coingecko_base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("api.binance_base_url", "https://api.binance.com")

	v.SetDefault("phases.phase2_threshold", 250.0)
	v.SetDefault("phases.phase3_threshold", 500.0)
	v.SetDefault("phases.override", 0)

	v.SetDefault("sum_to_one.arb_threshold", 0.985)
	v.SetDefault("sum_to_one.slippage_buffer", 0.005)
	v.SetDefault("sum_to_one.min_profit_pct", 0.005)
	v.SetDefault("sum_to_one.min_daily_volume", 500.0)

	v.SetDefault("resolution.min_edge", 0.03)
	v.SetDefault("resolution.price_buffer_pct", 0.005)
	v.SetDefault("resolution.max_position_pct", 0.20)

	v.SetDefault("sniper.scan_interval", "30s")
	v.SetDefault("sniper.age_limit", "15m")
	v.SetDefault("sniper.high_priority_threshold", 0.94)
	v.SetDefault("sniper.max_exposure_pct", 0.25)

	v.SetDefault("directional.min_edge", 0.10)
	v.SetDefault("directional.max_position_pct", 0.10)
	v.SetDefault("directional.max_concurrent", 3)
	v.SetDefault("directional.max_total_pct", 0.25)
	v.SetDefault("directional.auto_disable_win_rate", 0.50)
	v.SetDefault("directional.min_sample", 20)

	v.SetDefault("risk.max_trade_usd", 100.0)
	v.SetDefault("risk.min_trade_usd", 2.0)
	v.SetDefault("risk.max_position_pct", 0.20)
	v.SetDefault("risk.max_total_exposure_pct", 0.40)
	v.SetDefault("risk.max_strategy_exposure_pct", 0.30)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.max_daily_drawdown_pct", 0.05)
	v.SetDefault("risk.max_single_loss_pct", 0.03)
	v.SetDefault("risk.cooldown", "30m")
	v.SetDefault("risk.recovery_multiplier", 0.5)
	v.SetDefault("risk.recovery_trade_count", 5)

	v.SetDefault("orders.timeout", "15s")
	v.SetDefault("orders.max_retries", 3)
	v.SetDefault("orders.retry_backoff_base", 2.0)
	v.SetDefault("orders.estimated_fee_rate", 0.01)

	v.SetDefault("journal.path", "data/journal.csv")
	v.SetDefault("store.data_dir", "data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8787)
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLYMARKET_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLYMARKET_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLYMARKET_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Telegram.BotToken = token
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		var id int64
		if _, err := fmt.Sscanf(chat, "%d", &id); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	switch strings.ToLower(os.Getenv("DRY_RUN")) {
	case "true", "1", "yes":
		cfg.DryRun = true
	case "false", "0", "no":
		cfg.DryRun = false
	}
	if ov := os.Getenv("ACTIVE_PHASE_OVERRIDE"); ov != "" {
		var phase int
		if _, err := fmt.Sscanf(ov, "%d", &phase); err == nil {
			cfg.Phases.Override = phase
		}
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if !c.DryRun && c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required for live trading (set PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for Polygon mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan_interval must be > 0")
	}
	if c.Phases.Override < 0 || c.Phases.Override > 3 {
		return fmt.Errorf("phases.override must be 0 (auto) or 1-3")
	}
	if c.Phases.Phase2Threshold >= c.Phases.Phase3Threshold {
		return fmt.Errorf("phases.phase2_threshold must be below phases.phase3_threshold")
	}
	if c.Risk.MinTradeUSD <= 0 || c.Risk.MaxTradeUSD < c.Risk.MinTradeUSD {
		return fmt.Errorf("risk trade bounds invalid: min %.2f max %.2f", c.Risk.MinTradeUSD, c.Risk.MaxTradeUSD)
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("risk.max_consecutive_losses must be > 0")
	}
	if c.Risk.Cooldown <= 0 {
		return fmt.Errorf("risk.cooldown must be > 0")
	}
	if c.Risk.RecoveryMultiplier <= 0 || c.Risk.RecoveryMultiplier > 1 {
		return fmt.Errorf("risk.recovery_multiplier must be in (0, 1]")
	}
	if c.Orders.MaxRetries <= 0 {
		return fmt.Errorf("orders.max_retries must be > 0")
	}
	if c.Orders.RetryBackoffBase <= 1 {
		return fmt.Errorf("orders.retry_backoff_base must be > 1")
	}
	if c.Orders.Timeout <= 0 {
		return fmt.Errorf("orders.timeout must be > 0")
	}
	return nil
}
