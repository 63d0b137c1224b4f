package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
	"github.com/alanyoungcy/cdpkeeper/internal/notify"
)

// auctionStage decides on and submits bids for open collateral auctions.
// Per job: fetch status, restart stale auctions, gate the auction price
// against the swap-implied market price, size the bid against the keeper's
// stable balance and submit a take with a price-protection ceiling.
type auctionStage struct {
	house    domain.AuctionHouse
	ledger   domain.Ledger
	waiter   domain.TxWaiter
	swapper  domain.SwapRouter
	keeper   common.Address
	notifier *notify.Notifier
	logger   *slog.Logger

	// priceDelta is the acceptance discount in percent, negative for a
	// discount (default -7: only bid at 7% under market or better).
	priceDelta decimal.Decimal
	// nativeCoin is the coin tag of the wrapped native token; won lots of it
	// need an unwrap step after exit.
	nativeCoin string
	// confirm bounds take and redo confirmation waits.
	confirm time.Duration
}

// process runs the bid decision for one auction. A nil ExitJob with nil error
// means the job resolved without a completed take (closed, skipped, restarted
// or ambiguous); it must not be forwarded.
func (s *auctionStage) process(ctx context.Context, job domain.AuctionJob) (*domain.ExitJob, error) {
	logger := s.logger.With(
		slog.String("trace_id", job.TraceID.String()),
		slog.Uint64("auction_id", job.AuctionID),
		slog.String("ilk", job.Ilk))

	status, err := s.house.AuctionStatus(ctx, job.Ilk, job.AuctionID)
	if err != nil {
		return nil, fmt.Errorf("auction %d status: %w", job.AuctionID, err)
	}

	if status.NeedsRedo {
		return nil, s.restart(ctx, job, logger)
	}

	if status.Tab.Sign() <= 0 || status.Lot.Sign() <= 0 {
		logger.Debug("auction already closed")
		return nil, nil
	}

	tab := domain.FromRay(status.Tab)
	lot := domain.FromWad(status.Lot)
	auctionPrice := domain.FromRay(status.Price)

	quoted, err := s.swapper.QuoteInput(ctx, tab, job.Route)
	if err != nil {
		return nil, fmt.Errorf("quoting %s for auction %d: %w", job.Ilk, job.AuctionID, err)
	}
	if quoted.IsZero() {
		logger.Warn("swap quote returned zero input, skipping")
		return nil, nil
	}
	marketPrice := tab.Div(quoted)

	ceiling := domain.ApplyPercent(marketPrice, s.priceDelta)
	if auctionPrice.GreaterThan(ceiling) {
		logger.Debug("auction price above acceptance ceiling",
			slog.String("auction_price", auctionPrice.String()),
			slog.String("ceiling", ceiling.String()))
		return nil, nil
	}

	rawBalance, err := s.ledger.StableBalance(ctx, s.keeper)
	if err != nil {
		return nil, fmt.Errorf("reading stable balance: %w", err)
	}
	balance := domain.FromRay(rawBalance)

	bid := decimal.Min(lot, balance)
	if bid.IsZero() {
		logger.Debug("no stable balance to bid with")
		return nil, nil
	}
	if bid.LessThan(lot) {
		rawChost, err := s.house.MinLotRemainder(ctx, job.Ilk)
		if err != nil {
			return nil, fmt.Errorf("reading chost for %s: %w", job.Ilk, err)
		}
		remainder := lot.Sub(bid)
		if remainder.LessThan(domain.FromRay(rawChost)) {
			logger.Info("partial bid would leave dust remainder, skipping",
				slog.String("bid", bid.String()),
				slog.String("remainder", remainder.String()))
			return nil, nil
		}
	}

	// Price protection: accept up to 10% above the quoted auction price in
	// case it moves between the status read and the take landing.
	maxPrice := new(big.Int).Mul(status.Price, big.NewInt(11))
	maxPrice.Div(maxPrice, big.NewInt(10))

	hash, err := s.house.Take(ctx, job.Ilk, job.AuctionID, domain.ToWad(bid), maxPrice)
	if err != nil {
		return nil, fmt.Errorf("taking auction %d: %w", job.AuctionID, err)
	}
	s.notifier.Actionable(ctx, "auction bid submitted",
		fmt.Sprintf("auction %d (%s): bidding %s at price %s, tx %s",
			job.AuctionID, job.Ilk, bid.StringFixed(4), auctionPrice.StringFixed(6), hash.Hex()),
		slog.String("trace_id", job.TraceID.String()))

	receipt, err := s.waiter.WaitReceipt(ctx, hash, s.confirm)
	if err != nil {
		if errors.Is(err, domain.ErrConfirmTimeout) {
			logger.Warn("take confirmation timed out, outcome unknown, reconcile manually",
				slog.String("tx", hash.Hex()))
		}
		return nil, fmt.Errorf("awaiting take %s: %w", hash.Hex(), err)
	}

	events := s.waiter.TakeEvents(receipt)
	if len(events) != 1 {
		logger.Warn("ambiguous take receipt, dropping job",
			slog.Int("take_events", len(events)),
			slog.String("tx", hash.Hex()))
		return nil, nil
	}
	ev := events[0]
	if ev.Price.Sign() <= 0 {
		logger.Warn("take event carries a zero clearing price, dropping job",
			slog.String("tx", hash.Hex()))
		return nil, nil
	}

	// The actually won lot is what the paid amount bought at the clearing
	// price, not the requested bid amount.
	wonLot := new(big.Int).Div(ev.Owe, ev.Price)

	logger.Info("auction take confirmed",
		slog.String("won_lot", domain.FromWad(wonLot).String()),
		slog.String("clearing_price", domain.FromRay(ev.Price).String()))

	return &domain.ExitJob{
		TraceID:   job.TraceID,
		AuctionID: job.AuctionID,
		Ilk:       job.Ilk,
		Lot:       wonLot,
		Price:     ev.Price,
		Route:     job.Route,
		Unwrap:    domain.CoinOf(job.Ilk) == s.nativeCoin,
	}, nil
}

func (s *auctionStage) restart(ctx context.Context, job domain.AuctionJob, logger *slog.Logger) error {
	hash, err := s.house.Redo(ctx, job.Ilk, job.AuctionID)
	if err != nil {
		return fmt.Errorf("restarting auction %d: %w", job.AuctionID, err)
	}
	s.notifier.Actionable(ctx, "stale auction restarted",
		fmt.Sprintf("auction %d (%s) restarted, tx %s", job.AuctionID, job.Ilk, hash.Hex()),
		slog.String("trace_id", job.TraceID.String()))

	if _, err := s.waiter.WaitReceipt(ctx, hash, s.confirm); err != nil {
		if errors.Is(err, domain.ErrConfirmTimeout) {
			logger.Warn("redo confirmation timed out, outcome unknown",
				slog.String("tx", hash.Hex()))
		}
		return fmt.Errorf("awaiting redo %s: %w", hash.Hex(), err)
	}
	logger.Info("auction restarted")
	return nil
}
