// Package scanner walks the full vault range on a fixed interval, computes
// each vault's collateralisation ratio and pushes unsafe vaults onto the
// intake queue for the liquidation pipeline.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
	"github.com/alanyoungcy/cdpkeeper/internal/notify"
)

const (
	// retryBackoffBase is the first-attempt backoff of a failed vault check;
	// subsequent attempts back off linearly from it.
	retryBackoffBase = 5 * time.Second
	retryBackoffMax  = 60 * time.Second
)

// Config tunes a Scanner.
type Config struct {
	// Interval between full scan passes.
	Interval time.Duration
	// FanOut is the number of contiguous id-range chunks scanned concurrently.
	FanOut int
	// MaxCheckAttempts bounds per-vault retries; 0 retries until the scan
	// context is cancelled.
	MaxCheckAttempts int
	// RetryBackoff is the first-attempt backoff of a failed vault check;
	// defaults to retryBackoffBase.
	RetryBackoff time.Duration
}

// Scanner is the vault-range scanner.
type Scanner struct {
	reader   domain.VaultReader
	intake   *domain.Queue[domain.Vault]
	notifier *notify.Notifier
	logger   *slog.Logger
	cfg      Config
}

// New creates a Scanner pushing unsafe vaults onto intake.
func New(reader domain.VaultReader, intake *domain.Queue[domain.Vault], notifier *notify.Notifier, logger *slog.Logger, cfg Config) *Scanner {
	if cfg.FanOut < 1 {
		cfg.FanOut = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = retryBackoffBase
	}
	return &Scanner{
		reader:   reader,
		intake:   intake,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "scanner")),
		cfg:      cfg,
	}
}

// Run scans the whole vault set every Interval until ctx is cancelled. An
// in-flight pass completes before cancellation is honoured.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.Scan(ctx); err != nil {
			s.logger.Error("scan pass failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Scan runs one full pass over ids 1..N, N being the current vault count.
func (s *Scanner) Scan(ctx context.Context) error {
	count, err := s.reader.VaultCount(ctx)
	if err != nil {
		return fmt.Errorf("scanner: reading vault count: %w", err)
	}
	if count == 0 {
		return nil
	}

	ids := make([]uint64, count)
	for i := range ids {
		ids[i] = uint64(i) + 1
	}
	return s.ScanIDs(ctx, ids)
}

// ScanIDs checks the given vaults: the id set is partitioned into FanOut
// contiguous chunks scanned concurrently, and every vault within a chunk is
// checked on its own concurrent sub-task.
func (s *Scanner) ScanIDs(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	s.logger.Info("scan pass started",
		slog.Int("vaults", len(ids)),
		slog.Int("fan_out", s.cfg.FanOut))

	chunk := (len(ids) + s.cfg.FanOut - 1) / s.cfg.FanOut

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		part := ids[start:end]
		g.Go(func() error {
			return s.scanChunk(gctx, part)
		})
	}
	return g.Wait()
}

func (s *Scanner) scanChunk(ctx context.Context, ids []uint64) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.checkWithRetry(gctx, id)
		})
	}
	return g.Wait()
}

// checkWithRetry checks one vault, retrying failed checks with a linear
// backoff. With MaxCheckAttempts == 0 it keeps retrying until the pass is
// cancelled; safe vaults on an unchanged chain always resolve identically.
func (s *Scanner) checkWithRetry(ctx context.Context, id uint64) error {
	for attempt := 1; ; attempt++ {
		err := s.check(ctx, id)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		level := slog.LevelWarn
		if domain.Classify(err) == domain.FailureTransient {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "vault check failed",
			slog.Uint64("vault_id", id),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		if s.cfg.MaxCheckAttempts > 0 && attempt >= s.cfg.MaxCheckAttempts {
			return fmt.Errorf("scanner: vault %d unreadable after %d attempts: %w", id, attempt, err)
		}

		backoff := time.Duration(attempt) * s.cfg.RetryBackoff
		if backoff > retryBackoffMax {
			backoff = retryBackoffMax
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// check reads one vault's state and enqueues it when unsafe. The urn, proxy
// and ilk lookups run concurrently, then the reads that depend on them.
func (s *Scanner) check(ctx context.Context, id uint64) error {
	var (
		urn, proxy common.Address
		ilk        string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		urn, err = s.reader.VaultUrn(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		proxy, err = s.reader.VaultOwnerProxy(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		ilk, err = s.reader.VaultIlk(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	var (
		collateral, debt *big.Int
		owner            common.Address
		price            decimal.Decimal
	)
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		collateral, debt, err = s.reader.UrnState(gctx, ilk, urn)
		return err
	})
	g.Go(func() (err error) {
		owner, err = s.reader.ProxyOwner(gctx, proxy)
		return err
	})
	g.Go(func() (err error) {
		price, err = s.reader.CurrentPrice(gctx, ilk)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	vault := domain.NewVault(id, urn, proxy, owner, ilk, collateral, debt, price)
	if vault.IsSecured() {
		return nil
	}

	s.intake.Push(vault)
	s.notifier.Actionable(ctx, "unsafe vault found",
		fmt.Sprintf("vault %d (%s) owned by %s is at %s%% collateralisation, debt %s",
			vault.ID, vault.Ilk, vault.Owner.Hex(),
			vault.CurrentLiquidity.StringFixed(2), vault.Debt.StringFixed(4)),
		slog.Uint64("vault_id", vault.ID),
		slog.String("ilk", vault.Ilk))
	return nil
}
