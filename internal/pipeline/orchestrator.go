// Package pipeline implements the multi-stage liquidation pipeline: intake
// (trigger liquidation), auction bidding, collateral exit, payback swap and
// stable join. The orchestrator owns the five stage queues and supervises the
// worker pool, respawning the full set on a fixed interval so that a worker
// lost to an unhandled condition is restarted within one window.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
	"github.com/alanyoungcy/cdpkeeper/internal/notify"
)

// Config tunes the orchestrator's worker pool and pacing.
type Config struct {
	// AuctionWorkers is the number of concurrent auction-stage workers.
	AuctionWorkers int
	// ConfirmTimeout bounds every transaction-confirmation wait in the
	// pipeline. A wait past it surfaces as an unknown outcome.
	ConfirmTimeout time.Duration
	// RespawnInterval is the lifetime of one worker set before the full pool
	// is respawned. Crash resilience, not scaling.
	RespawnInterval time.Duration
	// DiscoveryInterval is the pause between active-auction discovery passes.
	DiscoveryInterval time.Duration
	// PriceDelta is the acceptance discount in percent, negative for a
	// discount to the swap-implied market price.
	PriceDelta decimal.Decimal
	// SlippagePct is the tolerated payback-swap shortfall in percent.
	SlippagePct decimal.Decimal
	// NativeCoin is the coin tag of the wrapped native token.
	NativeCoin string

	// Worker pacing. Zero values take the defaults below.
	IntakePause    time.Duration // after every intake job
	AuctionPause   time.Duration // after every auction job
	SettlePause    time.Duration // after every exit/payback/join job
	EmptyPollPause time.Duration // when a queue is empty
	TransientPause time.Duration // before retrying a transient failure
	EnqueuePause   time.Duration // between discovery enqueues
}

func (c *Config) applyDefaults() {
	if c.AuctionWorkers < 1 {
		c.AuctionWorkers = 5
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.RespawnInterval <= 0 {
		c.RespawnInterval = 300 * time.Second
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = 30 * time.Second
	}
	if c.IntakePause <= 0 {
		c.IntakePause = 3 * time.Second
	}
	if c.AuctionPause <= 0 {
		c.AuctionPause = 5 * time.Second
	}
	if c.SettlePause <= 0 {
		c.SettlePause = 10 * time.Second
	}
	if c.EmptyPollPause <= 0 {
		c.EmptyPollPause = 10 * time.Second
	}
	if c.TransientPause <= 0 {
		c.TransientPause = 5 * time.Second
	}
	if c.EnqueuePause <= 0 {
		c.EnqueuePause = 5 * time.Second
	}
}

// Orchestrator owns the stage queues and runs the worker pool.
type Orchestrator struct {
	cfg Config

	intake   *domain.Queue[domain.Vault]
	auctions *domain.Queue[domain.AuctionJob]
	exits    *domain.Queue[domain.ExitJob]
	paybacks *domain.Queue[domain.PaybackJob]
	joins    *domain.Queue[domain.JoinJob]

	house domain.AuctionHouse
	// routes maps each ilk to its swap path from collateral to stable token.
	routes map[string][]common.Address

	intakeStage  *intakeStage
	auctionStage *auctionStage
	exitStage    *exitStage
	paybackStage *paybackStage
	joinStage    *joinStage

	logger *slog.Logger
}

// New wires an Orchestrator around the chain capabilities. intake is the
// scanner-fed queue of unsafe vaults; routes maps ilks to swap paths.
func New(
	house domain.AuctionHouse,
	ledger domain.Ledger,
	waiter domain.TxWaiter,
	swapper domain.SwapRouter,
	keeper common.Address,
	routes map[string][]common.Address,
	intake *domain.Queue[domain.Vault],
	notifier *notify.Notifier,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	cfg.applyDefaults()
	logger = logger.With(slog.String("component", "pipeline"))

	return &Orchestrator{
		cfg:      cfg,
		intake:   intake,
		auctions: domain.NewQueue[domain.AuctionJob](),
		exits:    domain.NewQueue[domain.ExitJob](),
		paybacks: domain.NewQueue[domain.PaybackJob](),
		joins:    domain.NewQueue[domain.JoinJob](),
		house:    house,
		routes:   routes,
		intakeStage: &intakeStage{
			house: house, waiter: waiter, notifier: notifier,
			logger:  logger.With(slog.String("stage", "intake")),
			confirm: cfg.ConfirmTimeout,
		},
		auctionStage: &auctionStage{
			house: house, ledger: ledger, waiter: waiter, swapper: swapper,
			keeper: keeper, notifier: notifier,
			logger:     logger.With(slog.String("stage", "auction")),
			priceDelta: cfg.PriceDelta,
			nativeCoin: cfg.NativeCoin,
			confirm:    cfg.ConfirmTimeout,
		},
		exitStage: &exitStage{
			ledger: ledger, waiter: waiter, notifier: notifier,
			logger:  logger.With(slog.String("stage", "exit")),
			confirm: cfg.ConfirmTimeout,
		},
		paybackStage: &paybackStage{
			swapper: swapper, waiter: waiter, keeper: keeper, notifier: notifier,
			logger:      logger.With(slog.String("stage", "payback")),
			slippagePct: cfg.SlippagePct,
			nativeCoin:  cfg.NativeCoin,
			confirm:     cfg.ConfirmTimeout,
		},
		joinStage: &joinStage{
			ledger: ledger, waiter: waiter, notifier: notifier,
			logger:  logger.With(slog.String("stage", "join")),
			confirm: cfg.ConfirmTimeout,
		},
		logger: logger,
	}
}

// Run supervises the worker pool until ctx is cancelled: spawn one worker set,
// let it live for RespawnInterval, wait for it to drain, respawn.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.logger.Info("spawning worker set",
			slog.Int("auction_workers", o.cfg.AuctionWorkers),
			slog.Duration("window", o.cfg.RespawnInterval))
		o.runWindow(ctx)
	}
}

// runWindow runs one worker set for one respawn window. Workers only exit on
// context expiry, so Wait returning means the whole set has drained.
func (o *Orchestrator) runWindow(ctx context.Context) {
	wctx, cancel := context.WithTimeout(ctx, o.cfg.RespawnInterval)
	defer cancel()

	g := new(errgroup.Group)
	g.Go(func() error { o.runIntake(wctx); return nil })
	g.Go(func() error { o.runDiscovery(wctx); return nil })
	for i := 0; i < o.cfg.AuctionWorkers; i++ {
		g.Go(func() error { o.runAuctions(wctx); return nil })
	}
	g.Go(func() error { o.runExits(wctx); return nil })
	g.Go(func() error { o.runPaybacks(wctx); return nil })
	g.Go(func() error { o.runJoins(wctx); return nil })
	_ = g.Wait()
}

// runDiscovery lists the open auctions of every ilk on a fixed interval and
// enqueues an auction job for each, spacing enqueues to bound request rate. A
// failed pass is abandoned and retried on the next tick.
func (o *Orchestrator) runDiscovery(ctx context.Context) {
	logger := o.logger.With(slog.String("stage", "discovery"))
	for {
		for _, ilk := range o.house.Ilks() {
			ids, err := o.house.ActiveAuctions(ctx, ilk)
			if err != nil {
				logger.Warn("listing active auctions failed, abandoning pass",
					slog.String("ilk", ilk),
					slog.Any("error", err))
				break
			}
			for _, id := range ids {
				o.auctions.Push(domain.NewAuctionJob(id, ilk, o.routes[ilk]))
				logger.Debug("auction enqueued",
					slog.Uint64("auction_id", id),
					slog.String("ilk", ilk))
				if !sleep(ctx, o.cfg.EnqueuePause) {
					return
				}
			}
		}
		if !sleep(ctx, o.cfg.DiscoveryInterval) {
			return
		}
	}
}

func (o *Orchestrator) runIntake(ctx context.Context) {
	workQueue(ctx, o.intake, o.logger.With(slog.String("stage", "intake")), queuePacing{
		jobPause:       o.cfg.IntakePause,
		emptyPause:     o.cfg.EmptyPollPause,
		transientPause: o.cfg.TransientPause,
	}, func(ctx context.Context, v domain.Vault) error {
		return o.intakeStage.process(ctx, v)
	})
}

func (o *Orchestrator) runAuctions(ctx context.Context) {
	workQueue(ctx, o.auctions, o.logger.With(slog.String("stage", "auction")), queuePacing{
		jobPause:       o.cfg.AuctionPause,
		emptyPause:     o.cfg.EmptyPollPause,
		transientPause: o.cfg.TransientPause,
	}, func(ctx context.Context, job domain.AuctionJob) error {
		next, err := o.auctionStage.process(ctx, job)
		if next != nil {
			o.exits.Push(*next)
		}
		return err
	})
}

func (o *Orchestrator) runExits(ctx context.Context) {
	workQueue(ctx, o.exits, o.logger.With(slog.String("stage", "exit")), queuePacing{
		jobPause:       o.cfg.SettlePause,
		emptyPause:     o.cfg.EmptyPollPause,
		transientPause: o.cfg.TransientPause,
	}, func(ctx context.Context, job domain.ExitJob) error {
		next, err := o.exitStage.process(ctx, job)
		if next != nil {
			o.paybacks.Push(*next)
		}
		return err
	})
}

func (o *Orchestrator) runPaybacks(ctx context.Context) {
	workQueue(ctx, o.paybacks, o.logger.With(slog.String("stage", "payback")), queuePacing{
		jobPause:       o.cfg.SettlePause,
		emptyPause:     o.cfg.EmptyPollPause,
		transientPause: o.cfg.TransientPause,
	}, func(ctx context.Context, job domain.PaybackJob) error {
		next, err := o.paybackStage.process(ctx, job)
		if next != nil {
			o.joins.Push(*next)
		}
		return err
	})
}

func (o *Orchestrator) runJoins(ctx context.Context) {
	workQueue(ctx, o.joins, o.logger.With(slog.String("stage", "join")), queuePacing{
		jobPause:       o.cfg.SettlePause,
		emptyPause:     o.cfg.EmptyPollPause,
		transientPause: o.cfg.TransientPause,
	}, func(ctx context.Context, job domain.JoinJob) error {
		return o.joinStage.process(ctx, job)
	})
}

type queuePacing struct {
	jobPause       time.Duration
	emptyPause     time.Duration
	transientPause time.Duration
}

// workQueue drains a stage queue until ctx expires, dispatching on each job's
// failure class: transient failures requeue after a short pause, deterministic
// rejections drop the job, anything else logs at error severity and requeues.
func workQueue[J any](ctx context.Context, q *domain.Queue[J], logger *slog.Logger, pacing queuePacing, process func(context.Context, J) error) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, ok := q.TryPop()
		if !ok {
			if !sleep(ctx, pacing.emptyPause) {
				return
			}
			continue
		}

		err := process(ctx, job)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Window expiry surfaces as context errors from in-flight calls;
			// put the job back for the next worker set instead of
			// misclassifying it.
			q.Push(job)
			return
		default:
			switch domain.Classify(err) {
			case domain.FailureTransient:
				logger.Debug("transient failure, requeueing", slog.Any("error", err))
				q.Push(job)
				if !sleep(ctx, pacing.transientPause) {
					return
				}
			case domain.FailureTerminal:
				logger.Info("deterministic rejection, dropping job", slog.Any("error", err))
			default:
				logger.Error("unclassified failure, requeueing", slog.Any("error", err))
				q.Push(job)
			}
		}

		if !sleep(ctx, pacing.jobPause) {
			return
		}
	}
}

// sleep pauses for d or until ctx expires; false means ctx expired.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
