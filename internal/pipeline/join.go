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

// joinStage deposits swap proceeds back into the internal ledger, closing the
// liquidation loop. Terminal stage.
type joinStage struct {
	ledger   domain.Ledger
	waiter   domain.TxWaiter
	notifier *notify.Notifier
	logger   *slog.Logger
	// confirm bounds the join confirmation wait.
	confirm time.Duration
}

func (s *joinStage) process(ctx context.Context, job domain.JoinJob) error {
	logger := s.logger.With(
		slog.String("trace_id", job.TraceID.String()),
		slog.Uint64("auction_id", job.AuctionID),
		slog.String("ilk", job.Ilk))

	hash, err := s.ledger.JoinStable(ctx, job.Amount)
	if err != nil {
		return fmt.Errorf("joining stable: %w", err)
	}
	if _, err := s.waiter.WaitReceipt(ctx, hash, s.confirm); err != nil {
		if errors.Is(err, domain.ErrConfirmTimeout) {
			logger.Warn("join confirmation timed out, outcome unknown, reconcile manually",
				slog.String("tx", hash.Hex()))
		}
		return fmt.Errorf("awaiting join %s: %w", hash.Hex(), err)
	}

	s.notifier.Actionable(ctx, "liquidation cycle completed",
		fmt.Sprintf("auction %d (%s): deposited %s stable back into the ledger",
			job.AuctionID, job.Ilk, domain.FromWad(job.Amount).StringFixed(4)),
		slog.String("trace_id", job.TraceID.String()))
	return nil
}
