package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
	"github.com/alanyoungcy/cdpkeeper/internal/notify"
)

// intakeStage turns unsafe vaults into open auctions by triggering their
// liquidation. A revert here is deterministic (the vault is already safe or
// already under auction) and drops the job.
type intakeStage struct {
	house    domain.AuctionHouse
	waiter   domain.TxWaiter
	notifier *notify.Notifier
	logger   *slog.Logger
	// confirm bounds the bark confirmation wait.
	confirm time.Duration
}

func (s *intakeStage) process(ctx context.Context, vault domain.Vault) error {
	logger := s.logger.With(
		slog.Uint64("vault_id", vault.ID),
		slog.String("ilk", vault.Ilk))

	hash, err := s.house.Bark(ctx, vault.Ilk, vault.Urn)
	if err != nil {
		return fmt.Errorf("triggering liquidation of vault %d: %w", vault.ID, err)
	}
	s.notifier.Actionable(ctx, "liquidation triggered",
		fmt.Sprintf("vault %d (%s) at %s%% collateralisation, tx %s",
			vault.ID, vault.Ilk, vault.CurrentLiquidity.StringFixed(2), hash.Hex()),
		slog.Uint64("vault_id", vault.ID))

	if _, err := s.waiter.WaitReceipt(ctx, hash, s.confirm); err != nil {
		if errors.Is(err, domain.ErrConfirmTimeout) {
			logger.Warn("bark confirmation timed out, outcome unknown, reconcile manually",
				slog.String("tx", hash.Hex()))
		}
		return fmt.Errorf("awaiting bark %s: %w", hash.Hex(), err)
	}

	logger.Info("liquidation confirmed, auction will surface on next discovery pass")
	return nil
}
