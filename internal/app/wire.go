package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cdpkeeper/internal/chain"
	"github.com/alanyoungcy/cdpkeeper/internal/config"
	"github.com/alanyoungcy/cdpkeeper/internal/crypto"
	"github.com/alanyoungcy/cdpkeeper/internal/domain"
	"github.com/alanyoungcy/cdpkeeper/internal/notify"
	"github.com/alanyoungcy/cdpkeeper/internal/pipeline"
	"github.com/alanyoungcy/cdpkeeper/internal/scanner"
	"github.com/alanyoungcy/cdpkeeper/internal/swap"
)

// Dependencies bundles everything the application modes need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Chain    *chain.Client
	Scanner  *scanner.Scanner
	Pipeline *pipeline.Orchestrator
	Notifier *notify.Notifier

	// Intake is the scanner-fed queue of unsafe vaults, shared with the
	// pipeline in full mode.
	Intake *domain.Queue[domain.Vault]
}

// needsSigner returns true for modes that submit transactions.
func needsSigner(mode string) bool {
	return strings.ToLower(mode) == "full"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Intake: domain.NewQueue[domain.Vault](),
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, logger)

	// --- Signing key (only for modes that submit transactions) ---
	var signer *crypto.Signer
	if needsSigner(cfg.Mode) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: loading signing key: %w", err)
		}
		signer, err = crypto.NewSigner(key, cfg.Chain.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		logger.Info("keeper account loaded",
			slog.String("address", signer.Address().Hex()))
	}

	// --- Chain connector ---
	ilks := make(map[string]chain.IlkContracts, len(cfg.Chain.Ilks))
	for ilk, ic := range cfg.Chain.Ilks {
		ilks[ilk] = chain.IlkContracts{
			Clipper: common.HexToAddress(ic.Clipper),
			GemJoin: common.HexToAddress(ic.GemJoin),
		}
	}
	chainClient, err := chain.New(ctx, chain.ClientConfig{
		RPCURL:      cfg.Chain.RPCURL,
		ReadTimeout: cfg.Chain.ReadTimeout.Duration,
		Contracts: chain.Contracts{
			CDPManager:    common.HexToAddress(cfg.Chain.Contracts.CDPManager),
			Vat:           common.HexToAddress(cfg.Chain.Contracts.Vat),
			Dog:           common.HexToAddress(cfg.Chain.Contracts.Dog),
			Spotter:       common.HexToAddress(cfg.Chain.Contracts.Spotter),
			StableJoin:    common.HexToAddress(cfg.Chain.Contracts.StableJoin),
			WrappedNative: common.HexToAddress(cfg.Chain.Contracts.WrappedNative),
			StableToken:   common.HexToAddress(cfg.Chain.Contracts.StableToken),
		},
		Ilks: ilks,
	}, signer, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, chainClient.Close)
	deps.Chain = chainClient

	// --- Scanner ---
	deps.Scanner = scanner.New(chainClient, deps.Intake, deps.Notifier, logger, scanner.Config{
		Interval:         cfg.Scanner.Interval.Duration,
		FanOut:           cfg.Scanner.FanOut,
		MaxCheckAttempts: cfg.Scanner.MaxCheckAttempts,
	})

	// --- Liquidation pipeline (full mode only) ---
	if needsSigner(cfg.Mode) {
		routes, err := ResolveRoutes(cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: swap routes: %w", err)
		}
		router := swap.NewRouter(chainClient, common.HexToAddress(cfg.Swap.Router), logger)

		// The wrapped native token's coin tag selects the unwrap and
		// native-swap paths; resolve it from the token address book.
		nativeCoin := ""
		wrapped := common.HexToAddress(cfg.Chain.Contracts.WrappedNative)
		for symbol, addr := range cfg.Chain.Tokens {
			if common.HexToAddress(addr) == wrapped {
				nativeCoin = symbol
				break
			}
		}

		deps.Pipeline = pipeline.New(
			chainClient, chainClient, chainClient, router,
			chainClient.KeeperAddress(), routes,
			deps.Intake, deps.Notifier, logger,
			pipeline.Config{
				AuctionWorkers:    cfg.Liquidator.AuctionWorkers,
				ConfirmTimeout:    cfg.Chain.ConfirmTimeout.Duration,
				RespawnInterval:   cfg.Liquidator.RespawnInterval.Duration,
				DiscoveryInterval: cfg.Liquidator.AuctionListInterval.Duration,
				PriceDelta:        decimal.NewFromFloat(cfg.Liquidator.PercentPriceDelta),
				SlippagePct:       decimal.NewFromFloat(cfg.Swap.SlippagePct),
				NativeCoin:        nativeCoin,
			},
		)
	}

	return deps, cleanup, nil
}

// ResolveRoutes turns the configured symbol routes into per-ilk address paths.
// Each ilk's route is looked up by its coin tag; an ilk without a route is an
// error because the pipeline could not pay its auctions back.
func ResolveRoutes(cfg *config.Config) (map[string][]common.Address, error) {
	routes := make(map[string][]common.Address, len(cfg.Chain.Ilks))
	for ilk := range cfg.Chain.Ilks {
		coin := domain.CoinOf(ilk)
		symbols, ok := cfg.Swap.Routes[coin]
		if !ok {
			return nil, fmt.Errorf("no swap route configured for %s (ilk %s)", coin, ilk)
		}
		path := make([]common.Address, 0, len(symbols))
		for _, symbol := range symbols {
			addr, ok := cfg.Chain.Tokens[symbol]
			if !ok {
				return nil, fmt.Errorf("route for %s names unknown token %q", coin, symbol)
			}
			path = append(path, common.HexToAddress(addr))
		}
		routes[ilk] = path
	}
	return routes, nil
}
