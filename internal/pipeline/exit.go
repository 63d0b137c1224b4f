package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
	"github.com/alanyoungcy/cdpkeeper/internal/notify"
)

// exitStage withdraws won collateral from the internal ledger to the keeper's
// token balance, unwrapping the native wrapper when the lot requires it.
type exitStage struct {
	ledger   domain.Ledger
	waiter   domain.TxWaiter
	notifier *notify.Notifier
	logger   *slog.Logger
	// confirm bounds exit and unwrap confirmation waits.
	confirm time.Duration
}

func (s *exitStage) process(ctx context.Context, job domain.ExitJob) (*domain.PaybackJob, error) {
	logger := s.logger.With(
		slog.String("trace_id", job.TraceID.String()),
		slog.Uint64("auction_id", job.AuctionID),
		slog.String("ilk", job.Ilk))

	hash, err := s.ledger.ExitCollateral(ctx, job.Ilk, job.Lot)
	if err != nil {
		return nil, fmt.Errorf("exiting %s collateral: %w", job.Ilk, err)
	}
	if err := s.await(ctx, logger, "exit", hash); err != nil {
		return nil, err
	}

	if job.Unwrap {
		hash, err = s.ledger.UnwrapNative(ctx, job.Lot)
		if err != nil {
			return nil, fmt.Errorf("unwrapping native collateral: %w", err)
		}
		if err := s.await(ctx, logger, "unwrap", hash); err != nil {
			return nil, err
		}
	}

	s.notifier.Actionable(ctx, "collateral withdrawn",
		fmt.Sprintf("auction %d (%s): withdrew %s collateral",
			job.AuctionID, job.Ilk, domain.FromWad(job.Lot).StringFixed(4)),
		slog.String("trace_id", job.TraceID.String()))

	return &domain.PaybackJob{
		TraceID:   job.TraceID,
		AuctionID: job.AuctionID,
		Ilk:       job.Ilk,
		Amount:    job.Lot,
		Price:     job.Price,
		Route:     job.Route,
	}, nil
}

func (s *exitStage) await(ctx context.Context, logger *slog.Logger, step string, hash common.Hash) error {
	if _, err := s.waiter.WaitReceipt(ctx, hash, s.confirm); err != nil {
		if errors.Is(err, domain.ErrConfirmTimeout) {
			logger.Warn("confirmation timed out, outcome unknown, reconcile manually",
				slog.String("step", step),
				slog.String("tx", hash.Hex()))
		}
		return fmt.Errorf("awaiting %s %s: %w", step, hash.Hex(), err)
	}
	return nil
}
