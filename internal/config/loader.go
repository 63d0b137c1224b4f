package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies KEEPER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known KEEPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "KEEPER_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "KEEPER_CHAIN_ID")
	setDuration(&cfg.Chain.ReadTimeout, "KEEPER_CHAIN_READ_TIMEOUT")
	setDuration(&cfg.Chain.ConfirmTimeout, "KEEPER_CHAIN_CONFIRM_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "KEEPER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "KEEPER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "KEEPER_WALLET_KEY_PASSWORD")

	// ── Swap ──
	setStr(&cfg.Swap.Router, "KEEPER_SWAP_ROUTER")
	setFloat64(&cfg.Swap.SlippagePct, "KEEPER_SWAP_SLIPPAGE_PCT")

	// ── Scanner ──
	setDuration(&cfg.Scanner.Interval, "KEEPER_SCANNER_INTERVAL")
	setInt(&cfg.Scanner.FanOut, "KEEPER_SCANNER_FAN_OUT")
	setInt(&cfg.Scanner.MaxCheckAttempts, "KEEPER_SCANNER_MAX_CHECK_ATTEMPTS")

	// ── Liquidator ──
	setFloat64(&cfg.Liquidator.PercentPriceDelta, "KEEPER_LIQUIDATOR_PERCENT_PRICE_DELTA")
	setInt(&cfg.Liquidator.AuctionWorkers, "KEEPER_LIQUIDATOR_AUCTION_WORKERS")
	setDuration(&cfg.Liquidator.RespawnInterval, "KEEPER_LIQUIDATOR_RESPAWN_INTERVAL")
	setDuration(&cfg.Liquidator.AuctionListInterval, "KEEPER_LIQUIDATOR_AUCTION_LIST_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "KEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "KEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "KEEPER_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "KEEPER_MODE")
	setStr(&cfg.LogLevel, "KEEPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
