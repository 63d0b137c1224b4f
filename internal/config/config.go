// Package config defines the top-level configuration for the liquidation
// keeper and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by KEEPER_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Wallet     WalletConfig     `toml:"wallet"`
	Swap       SwapConfig       `toml:"swap"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Liquidator LiquidatorConfig `toml:"liquidator"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig holds RPC parameters and the protocol address book.
type ChainConfig struct {
	RPCURL         string               `toml:"rpc_url"`
	ChainID        int64                `toml:"chain_id"`
	ReadTimeout    duration             `toml:"read_timeout"`
	ConfirmTimeout duration             `toml:"confirm_timeout"`
	StableSymbol   string               `toml:"stable_symbol"`
	Contracts      ContractsConfig      `toml:"contracts"`
	Tokens         map[string]string    `toml:"tokens"`
	Ilks           map[string]IlkConfig `toml:"ilks"`
}

// ContractsConfig lists the core protocol contract addresses. The keys mirror
// the protocol chainlog entries.
type ContractsConfig struct {
	CDPManager    string `toml:"cdp_manager"`
	Vat           string `toml:"vat"`
	Dog           string `toml:"dog"`
	Spotter       string `toml:"spotter"`
	StableJoin    string `toml:"stable_join"`
	WrappedNative string `toml:"wrapped_native"`
	StableToken   string `toml:"stable_token"`
}

// IlkConfig holds the per-collateral-type contract addresses.
type IlkConfig struct {
	Clipper string `toml:"clipper"`
	GemJoin string `toml:"gem_join"`
}

// WalletConfig holds the keeper signing key. Either a raw hex key or an
// encrypted key file plus password must be provided for liquidating modes.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SwapConfig holds DEX-router parameters. Routes maps a collateral coin tag
// to the ordered token-symbol path ending at the stable token.
type SwapConfig struct {
	Router      string              `toml:"router"`
	SlippagePct float64             `toml:"slippage_pct"`
	Routes      map[string][]string `toml:"routes"`
}

// ScannerConfig holds vault-scanning parameters.
type ScannerConfig struct {
	Interval duration `toml:"interval"`
	FanOut   int      `toml:"fan_out"`
	// MaxCheckAttempts bounds per-vault retries within one scan pass;
	// 0 retries forever (the scan repeats anyway on the next interval).
	MaxCheckAttempts int `toml:"max_check_attempts"`
}

// LiquidatorConfig holds pipeline parameters.
type LiquidatorConfig struct {
	// PercentPriceDelta adjusts the swap-implied market price into the bid
	// acceptance ceiling; -7 bids only at a 7% discount or better.
	PercentPriceDelta   float64  `toml:"percent_price_delta"`
	AuctionWorkers      int      `toml:"auction_workers"`
	RespawnInterval     duration `toml:"respawn_interval"`
	AuctionListInterval duration `toml:"auction_list_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "https://evmexplorer.velas.com/rpc",
			ChainID:        106,
			ReadTimeout:    duration{10 * time.Second},
			ConfirmTimeout: duration{30 * time.Second},
			StableSymbol:   "USDV",
			Tokens:         map[string]string{},
			Ilks:           map[string]IlkConfig{},
		},
		Swap: SwapConfig{
			SlippagePct: 0.5,
			Routes:      map[string][]string{},
		},
		Scanner: ScannerConfig{
			Interval:         duration{30 * time.Second},
			FanOut:           6,
			MaxCheckAttempts: 0,
		},
		Liquidator: LiquidatorConfig{
			PercentPriceDelta:   -7,
			AuctionWorkers:      5,
			RespawnInterval:     duration{300 * time.Second},
			AuctionListInterval: duration{30 * time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.ReadTimeout.Duration <= 0 {
		errs = append(errs, "chain: read_timeout must be positive")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be positive")
	}
	for _, field := range []struct{ name, addr string }{
		{"cdp_manager", c.Chain.Contracts.CDPManager},
		{"vat", c.Chain.Contracts.Vat},
		{"spotter", c.Chain.Contracts.Spotter},
	} {
		if !common.IsHexAddress(field.addr) {
			errs = append(errs, fmt.Sprintf("chain.contracts: %s must be a hex address, got %q", field.name, field.addr))
		}
	}
	for symbol, addr := range c.Chain.Tokens {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain.tokens: %s must be a hex address, got %q", symbol, addr))
		}
	}
	for ilk, ic := range c.Chain.Ilks {
		if !common.IsHexAddress(ic.Clipper) {
			errs = append(errs, fmt.Sprintf("chain.ilks.%s: clipper must be a hex address, got %q", ilk, ic.Clipper))
		}
		if !common.IsHexAddress(ic.GemJoin) {
			errs = append(errs, fmt.Sprintf("chain.ilks.%s: gem_join must be a hex address, got %q", ilk, ic.GemJoin))
		}
	}

	// Full mode additionally needs liquidation contracts, a wallet, and a
	// router; monitor mode only scans and notifies.
	if strings.ToLower(c.Mode) == "full" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode full")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if !common.IsHexAddress(c.Swap.Router) {
			errs = append(errs, fmt.Sprintf("swap: router must be a hex address, got %q", c.Swap.Router))
		}
		for _, field := range []struct{ name, addr string }{
			{"dog", c.Chain.Contracts.Dog},
			{"stable_join", c.Chain.Contracts.StableJoin},
			{"wrapped_native", c.Chain.Contracts.WrappedNative},
			{"stable_token", c.Chain.Contracts.StableToken},
		} {
			if !common.IsHexAddress(field.addr) {
				errs = append(errs, fmt.Sprintf("chain.contracts: %s must be a hex address, got %q", field.name, field.addr))
			}
		}
		if len(c.Chain.Ilks) == 0 {
			errs = append(errs, "chain: at least one ilk must be configured for mode full")
		}
		for coin, route := range c.Swap.Routes {
			if len(route) < 2 {
				errs = append(errs, fmt.Sprintf("swap.routes.%s: route needs at least two tokens", coin))
				continue
			}
			for _, symbol := range route {
				if _, ok := c.Chain.Tokens[symbol]; !ok {
					errs = append(errs, fmt.Sprintf("swap.routes.%s: unknown token symbol %q", coin, symbol))
				}
			}
			if last := route[len(route)-1]; last != c.Chain.StableSymbol {
				errs = append(errs, fmt.Sprintf("swap.routes.%s: route must end at %s, ends at %s", coin, c.Chain.StableSymbol, last))
			}
		}
	}

	// Scanner
	if c.Scanner.FanOut < 1 {
		errs = append(errs, "scanner: fan_out must be >= 1")
	}
	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be positive")
	}
	if c.Scanner.MaxCheckAttempts < 0 {
		errs = append(errs, "scanner: max_check_attempts must be >= 0")
	}

	// Liquidator
	if c.Liquidator.AuctionWorkers < 1 {
		errs = append(errs, "liquidator: auction_workers must be >= 1")
	}
	if c.Liquidator.RespawnInterval.Duration <= 0 {
		errs = append(errs, "liquidator: respawn_interval must be positive")
	}

	// Swap
	if c.Swap.SlippagePct < 0 || c.Swap.SlippagePct >= 100 {
		errs = append(errs, fmt.Sprintf("swap: slippage_pct must be in [0, 100), got %g", c.Swap.SlippagePct))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
