package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
	"github.com/alanyoungcy/cdpkeeper/internal/notify"
)

// paybackStage swaps withdrawn collateral back into the stable token. The
// minimum-output floor is the lot valued at the auction clearing price, less
// the configured slippage tolerance.
type paybackStage struct {
	swapper  domain.SwapRouter
	waiter   domain.TxWaiter
	keeper   common.Address
	notifier *notify.Notifier
	logger   *slog.Logger

	// slippagePct is the tolerated shortfall of the swap output in percent.
	slippagePct decimal.Decimal
	nativeCoin  string
	// confirm bounds the swap confirmation wait.
	confirm time.Duration
}

func (s *paybackStage) process(ctx context.Context, job domain.PaybackJob) (*domain.JoinJob, error) {
	logger := s.logger.With(
		slog.String("trace_id", job.TraceID.String()),
		slog.Uint64("auction_id", job.AuctionID),
		slog.String("ilk", job.Ilk))

	amount := domain.FromWad(job.Amount)
	floor := amount.Mul(domain.FromRay(job.Price))
	minOut := domain.ToWad(domain.ApplyPercent(floor, s.slippagePct.Neg()))

	var (
		hash common.Hash
		err  error
	)
	if domain.CoinOf(job.Ilk) == s.nativeCoin {
		hash, err = s.swapper.SwapNative(ctx, job.Route, job.Amount, minOut)
	} else {
		hash, err = s.swapper.SwapTokens(ctx, job.Route, job.Amount, minOut)
	}
	if err != nil {
		return nil, fmt.Errorf("swapping %s payback: %w", job.Ilk, err)
	}

	receipt, err := s.waiter.WaitReceipt(ctx, hash, s.confirm)
	if err != nil {
		if errors.Is(err, domain.ErrConfirmTimeout) {
			logger.Warn("swap confirmation timed out, outcome unknown, reconcile manually",
				slog.String("tx", hash.Hex()))
		}
		return nil, fmt.Errorf("awaiting swap %s: %w", hash.Hex(), err)
	}

	received := s.receivedAmount(receipt)
	if received == nil {
		logger.Warn("no stable transfer to keeper in swap receipt, dropping job",
			slog.String("tx", hash.Hex()))
		return nil, nil
	}

	s.notifier.Actionable(ctx, "collateral swapped",
		fmt.Sprintf("auction %d (%s): swapped %s collateral for %s stable",
			job.AuctionID, job.Ilk, amount.StringFixed(4), domain.FromWad(received).StringFixed(4)),
		slog.String("trace_id", job.TraceID.String()))

	return &domain.JoinJob{
		TraceID:   job.TraceID,
		AuctionID: job.AuctionID,
		Ilk:       job.Ilk,
		Amount:    received,
	}, nil
}

// receivedAmount returns the amount of the single stable-token Transfer
// addressed to the keeper, or nil when the receipt does not settle
// unambiguously.
func (s *paybackStage) receivedAmount(receipt *types.Receipt) *big.Int {
	var received *big.Int
	for _, tr := range s.waiter.StableTransfers(receipt) {
		if tr.To != s.keeper {
			continue
		}
		if received != nil {
			return nil
		}
		received = tr.Amount
	}
	return received
}
