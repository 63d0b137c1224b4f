package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
	"github.com/alanyoungcy/cdpkeeper/internal/notify"
)

var keeperAddr = common.HexToAddress("0x00000000000000000000000000000000000f00d1")

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ray(s string) *big.Int {
	return domain.ToRay(dec(s))
}

func wad(s string) *big.Int {
	return domain.ToWad(dec(s))
}

// rad returns s scaled by 10^45.
func rad(s string) *big.Int {
	out := domain.ToRay(dec(s))
	return out.Mul(out, big.NewInt(1e18))
}

// fakeHouse implements domain.AuctionHouse with scripted state.
type fakeHouse struct {
	mu       sync.Mutex
	ilks     []string
	active   map[string][]uint64
	status   map[uint64]domain.AuctionState
	chost    *big.Int
	barkErr  error
	takeErr  error
	barks    []common.Address
	takes    []takeCall
	redos    []uint64
	txSerial int64
}

type takeCall struct {
	id       uint64
	amt      *big.Int
	maxPrice *big.Int
}

func (h *fakeHouse) nextHash() common.Hash {
	h.txSerial++
	return common.BigToHash(big.NewInt(h.txSerial))
}

func (h *fakeHouse) Ilks() []string { return h.ilks }

func (h *fakeHouse) ActiveAuctions(_ context.Context, ilk string) ([]uint64, error) {
	return h.active[ilk], nil
}

func (h *fakeHouse) AuctionStatus(_ context.Context, _ string, id uint64) (domain.AuctionState, error) {
	st, ok := h.status[id]
	if !ok {
		return domain.AuctionState{}, errors.New("unknown auction")
	}
	return st, nil
}

func (h *fakeHouse) MinLotRemainder(context.Context, string) (*big.Int, error) {
	return h.chost, nil
}

func (h *fakeHouse) Bark(_ context.Context, _ string, urn common.Address) (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.barkErr != nil {
		return common.Hash{}, h.barkErr
	}
	h.barks = append(h.barks, urn)
	return h.nextHash(), nil
}

func (h *fakeHouse) Take(_ context.Context, _ string, id uint64, amt, maxPrice *big.Int) (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.takeErr != nil {
		return common.Hash{}, h.takeErr
	}
	h.takes = append(h.takes, takeCall{id: id, amt: amt, maxPrice: maxPrice})
	return h.nextHash(), nil
}

func (h *fakeHouse) Redo(_ context.Context, _ string, id uint64) (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redos = append(h.redos, id)
	return h.nextHash(), nil
}

// fakeLedger implements domain.Ledger.
type fakeLedger struct {
	mu      sync.Mutex
	balance *big.Int // ray
	exits   []*big.Int
	unwraps []*big.Int
	joins   []*big.Int
	serial  int64
}

func (l *fakeLedger) nextHash() common.Hash {
	l.serial++
	return common.BigToHash(big.NewInt(1000 + l.serial))
}

func (l *fakeLedger) StableBalance(context.Context, common.Address) (*big.Int, error) {
	return l.balance, nil
}

func (l *fakeLedger) ExitCollateral(_ context.Context, _ string, amount *big.Int) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exits = append(l.exits, amount)
	return l.nextHash(), nil
}

func (l *fakeLedger) UnwrapNative(_ context.Context, amount *big.Int) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unwraps = append(l.unwraps, amount)
	return l.nextHash(), nil
}

func (l *fakeLedger) JoinStable(_ context.Context, amount *big.Int) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joins = append(l.joins, amount)
	return l.nextHash(), nil
}

// fakeWaiter implements domain.TxWaiter; every wait resolves instantly and
// records the timeout it was handed.
type fakeWaiter struct {
	waitErr    error
	takes      []domain.TakeEvent
	transfers  []domain.TransferEvent
	gotTimeout time.Duration
}

func (w *fakeWaiter) WaitReceipt(_ context.Context, _ common.Hash, timeout time.Duration) (*types.Receipt, error) {
	w.gotTimeout = timeout
	if w.waitErr != nil {
		return nil, w.waitErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (w *fakeWaiter) TakeEvents(*types.Receipt) []domain.TakeEvent {
	return w.takes
}

func (w *fakeWaiter) StableTransfers(*types.Receipt) []domain.TransferEvent {
	return w.transfers
}

// fakeSwapper implements domain.SwapRouter with a fixed quote.
type fakeSwapper struct {
	mu           sync.Mutex
	quote        decimal.Decimal
	tokenSwaps   []swapCall
	nativeSwaps  []swapCall
	swapErr      error
	quotedOutput decimal.Decimal
}

type swapCall struct {
	amountIn *big.Int
	minOut   *big.Int
}

func (s *fakeSwapper) QuoteInput(_ context.Context, out decimal.Decimal, _ []common.Address) (decimal.Decimal, error) {
	s.quotedOutput = out
	return s.quote, nil
}

func (s *fakeSwapper) SwapTokens(_ context.Context, _ []common.Address, amountIn, minOut *big.Int) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swapErr != nil {
		return common.Hash{}, s.swapErr
	}
	s.tokenSwaps = append(s.tokenSwaps, swapCall{amountIn: amountIn, minOut: minOut})
	return common.BigToHash(big.NewInt(7001)), nil
}

func (s *fakeSwapper) SwapNative(_ context.Context, _ []common.Address, amountIn, minOut *big.Int) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nativeSwaps = append(s.nativeSwaps, swapCall{amountIn: amountIn, minOut: minOut})
	return common.BigToHash(big.NewInt(7002)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNotifier() *notify.Notifier {
	return notify.NewNotifier(nil, testLogger())
}

func newAuctionStage(house *fakeHouse, ledger *fakeLedger, waiter *fakeWaiter, swapper *fakeSwapper) *auctionStage {
	return &auctionStage{
		house:      house,
		ledger:     ledger,
		waiter:     waiter,
		swapper:    swapper,
		keeper:     keeperAddr,
		notifier:   testNotifier(),
		logger:     testLogger(),
		priceDelta: decimal.NewFromInt(-7),
		nativeCoin: "WMATIC",
		confirm:    30 * time.Second,
	}
}

func auctionJob(id uint64) domain.AuctionJob {
	return domain.NewAuctionJob(id, "WETH-A", []common.Address{
		common.HexToAddress("0x0a"), common.HexToAddress("0x0b"),
	})
}

func TestAuctionRedoSubmitsRestartAndDoesNotForward(t *testing.T) {
	house := &fakeHouse{status: map[uint64]domain.AuctionState{
		1: {NeedsRedo: true, Price: ray("1"), Lot: wad("10"), Tab: ray("10")},
	}}
	stage := newAuctionStage(house, &fakeLedger{}, &fakeWaiter{}, &fakeSwapper{})

	next, err := stage.process(context.Background(), auctionJob(1))
	require.NoError(t, err)

	assert.Nil(t, next)
	assert.Equal(t, []uint64{1}, house.redos)
	assert.Empty(t, house.takes)
}

func TestAuctionClosedIsNoOp(t *testing.T) {
	house := &fakeHouse{status: map[uint64]domain.AuctionState{
		1: {Price: ray("1"), Lot: wad("0"), Tab: ray("0")},
	}}
	stage := newAuctionStage(house, &fakeLedger{}, &fakeWaiter{}, &fakeSwapper{})

	next, err := stage.process(context.Background(), auctionJob(1))
	require.NoError(t, err)

	assert.Nil(t, next)
	assert.Empty(t, house.takes)
	assert.Empty(t, house.redos)
}

func TestAuctionPriceGateSkipsExpensiveAuctions(t *testing.T) {
	// Quote: 100 stable costs 100 collateral, so market price is 1 and the
	// -7% ceiling is 0.93. An auction price of 0.95 must be skipped.
	house := &fakeHouse{status: map[uint64]domain.AuctionState{
		1: {Price: ray("0.95"), Lot: wad("50"), Tab: ray("100")},
	}}
	swapper := &fakeSwapper{quote: dec("100")}
	stage := newAuctionStage(house, &fakeLedger{balance: ray("1000")}, &fakeWaiter{}, swapper)

	next, err := stage.process(context.Background(), auctionJob(1))
	require.NoError(t, err)

	assert.Nil(t, next)
	assert.Empty(t, house.takes)
}

func TestAuctionPartialBidDustRejection(t *testing.T) {
	// lot=50, tab=100, chost=10, balance=45: bid would be 45 leaving a
	// remainder of 5 below chost, so no transaction may be submitted.
	house := &fakeHouse{
		status: map[uint64]domain.AuctionState{
			1: {Price: ray("0.9"), Lot: wad("50"), Tab: ray("100")},
		},
		chost: ray("10"),
	}
	swapper := &fakeSwapper{quote: dec("100")}
	stage := newAuctionStage(house, &fakeLedger{balance: ray("45")}, &fakeWaiter{}, swapper)

	next, err := stage.process(context.Background(), auctionJob(1))
	require.NoError(t, err)

	assert.Nil(t, next)
	assert.Empty(t, house.takes)
}

func TestAuctionFullLotBidForwardsExitJob(t *testing.T) {
	house := &fakeHouse{
		status: map[uint64]domain.AuctionState{
			1: {Price: ray("0.9"), Lot: wad("50"), Tab: ray("100")},
		},
		chost: ray("10"),
	}
	// Clearing price 0.9 ray; owe 40.5 rad buys a lot of 45.
	waiter := &fakeWaiter{takes: []domain.TakeEvent{{
		AuctionID: big.NewInt(1),
		Price:     ray("0.9"),
		Owe:       rad("40.5"),
		Tab:       rad("59.5"),
		Lot:       wad("5"),
		Recipient: keeperAddr,
	}}}
	swapper := &fakeSwapper{quote: dec("100")}
	stage := newAuctionStage(house, &fakeLedger{balance: ray("1000")}, waiter, swapper)

	next, err := stage.process(context.Background(), auctionJob(1))
	require.NoError(t, err)

	require.Len(t, house.takes, 1)
	take := house.takes[0]
	assert.Equal(t, wad("50"), take.amt, "full lot within balance")
	// Price protection ceiling is 10% above the quoted auction price.
	assert.Equal(t, ray("0.99"), take.maxPrice)

	require.NotNil(t, next)
	assert.Equal(t, wad("45"), next.Lot, "won lot is owe divided by clearing price")
	assert.Equal(t, ray("0.9"), next.Price)
	assert.Equal(t, "WETH-A", next.Ilk)
	assert.False(t, next.Unwrap)
}

func TestAuctionNativeCollateralMarksUnwrap(t *testing.T) {
	house := &fakeHouse{
		status: map[uint64]domain.AuctionState{
			1: {Price: ray("0.9"), Lot: wad("50"), Tab: ray("100")},
		},
		chost: ray("10"),
	}
	waiter := &fakeWaiter{takes: []domain.TakeEvent{{
		AuctionID: big.NewInt(1),
		Price:     ray("0.9"),
		Owe:       rad("45"),
		Tab:       rad("55"),
		Lot:       wad("0"),
		Recipient: keeperAddr,
	}}}
	stage := newAuctionStage(house, &fakeLedger{balance: ray("1000")}, waiter, &fakeSwapper{quote: dec("100")})

	job := domain.NewAuctionJob(1, "WMATIC-B", nil)
	next, err := stage.process(context.Background(), job)
	require.NoError(t, err)

	require.NotNil(t, next)
	assert.True(t, next.Unwrap)
}

func TestAuctionAmbiguousReceiptDropsJob(t *testing.T) {
	house := &fakeHouse{
		status: map[uint64]domain.AuctionState{
			1: {Price: ray("0.9"), Lot: wad("50"), Tab: ray("100")},
		},
		chost: ray("10"),
	}
	ev := domain.TakeEvent{AuctionID: big.NewInt(1), Price: ray("0.9"), Owe: rad("45")}
	waiter := &fakeWaiter{takes: []domain.TakeEvent{ev, ev}}
	stage := newAuctionStage(house, &fakeLedger{balance: ray("1000")}, waiter, &fakeSwapper{quote: dec("100")})

	next, err := stage.process(context.Background(), auctionJob(1))
	require.NoError(t, err)

	assert.Nil(t, next, "ambiguous receipts must not be forwarded")
	assert.Len(t, house.takes, 1)
}

func TestAuctionZeroClearingPriceDropsJob(t *testing.T) {
	house := &fakeHouse{
		status: map[uint64]domain.AuctionState{
			1: {Price: ray("0.9"), Lot: wad("50"), Tab: ray("100")},
		},
		chost: ray("10"),
	}
	waiter := &fakeWaiter{takes: []domain.TakeEvent{{
		AuctionID: big.NewInt(1),
		Price:     big.NewInt(0),
		Owe:       rad("45"),
		Recipient: keeperAddr,
	}}}
	stage := newAuctionStage(house, &fakeLedger{balance: ray("1000")}, waiter, &fakeSwapper{quote: dec("100")})

	next, err := stage.process(context.Background(), auctionJob(1))
	require.NoError(t, err)

	assert.Nil(t, next, "a zero-price take event must not be forwarded")
	assert.Len(t, house.takes, 1)
}

func TestAuctionConfirmTimeoutPropagates(t *testing.T) {
	house := &fakeHouse{
		status: map[uint64]domain.AuctionState{
			1: {Price: ray("0.9"), Lot: wad("50"), Tab: ray("100")},
		},
		chost: ray("10"),
	}
	waiter := &fakeWaiter{waitErr: domain.ErrConfirmTimeout}
	stage := newAuctionStage(house, &fakeLedger{balance: ray("1000")}, waiter, &fakeSwapper{quote: dec("100")})

	next, err := stage.process(context.Background(), auctionJob(1))

	assert.Nil(t, next)
	require.ErrorIs(t, err, domain.ErrConfirmTimeout)
	assert.Equal(t, domain.FailureUnknown, domain.Classify(err))
}

func newExitStage(ledger *fakeLedger, waiter *fakeWaiter) *exitStage {
	return &exitStage{
		ledger: ledger, waiter: waiter, notifier: testNotifier(), logger: testLogger(),
		confirm: 30 * time.Second,
	}
}

func exitJob(unwrap bool) domain.ExitJob {
	return domain.ExitJob{
		TraceID:   uuid.New(),
		AuctionID: 1,
		Ilk:       "WMATIC-A",
		Lot:       wad("45"),
		Price:     ray("0.9"),
		Route:     []common.Address{common.HexToAddress("0x0a"), common.HexToAddress("0x0b")},
		Unwrap:    unwrap,
	}
}

func TestExitForwardsPaybackJob(t *testing.T) {
	ledger := &fakeLedger{}
	stage := newExitStage(ledger, &fakeWaiter{})

	next, err := stage.process(context.Background(), exitJob(false))
	require.NoError(t, err)

	assert.Equal(t, []*big.Int{wad("45")}, ledger.exits)
	assert.Empty(t, ledger.unwraps)
	require.NotNil(t, next)
	assert.Equal(t, wad("45"), next.Amount)
	assert.Equal(t, ray("0.9"), next.Price)
}

func TestExitUnwrapsNativeCollateral(t *testing.T) {
	ledger := &fakeLedger{}
	stage := newExitStage(ledger, &fakeWaiter{})

	next, err := stage.process(context.Background(), exitJob(true))
	require.NoError(t, err)

	assert.Equal(t, []*big.Int{wad("45")}, ledger.exits)
	assert.Equal(t, []*big.Int{wad("45")}, ledger.unwraps)
	assert.NotNil(t, next)
}

func TestExitConfirmTimeoutPropagates(t *testing.T) {
	stage := newExitStage(&fakeLedger{}, &fakeWaiter{waitErr: domain.ErrConfirmTimeout})

	next, err := stage.process(context.Background(), exitJob(false))

	assert.Nil(t, next)
	assert.ErrorIs(t, err, domain.ErrConfirmTimeout)
}

func newPaybackStage(swapper *fakeSwapper, waiter *fakeWaiter) *paybackStage {
	return &paybackStage{
		swapper:     swapper,
		waiter:      waiter,
		keeper:      keeperAddr,
		notifier:    testNotifier(),
		logger:      testLogger(),
		slippagePct: decimal.NewFromInt(1),
		nativeCoin:  "WMATIC",
		confirm:     30 * time.Second,
	}
}

func paybackJob(ilk string) domain.PaybackJob {
	return domain.PaybackJob{
		TraceID:   uuid.New(),
		AuctionID: 1,
		Ilk:       ilk,
		Amount:    wad("45"),
		Price:     ray("0.9"),
		Route:     []common.Address{common.HexToAddress("0x0a"), common.HexToAddress("0x0b")},
	}
}

func TestPaybackSwapsTokensAndForwardsReceivedAmount(t *testing.T) {
	swapper := &fakeSwapper{}
	waiter := &fakeWaiter{transfers: []domain.TransferEvent{
		{From: common.HexToAddress("0x0b"), To: keeperAddr, Amount: wad("40.2")},
	}}
	stage := newPaybackStage(swapper, waiter)

	next, err := stage.process(context.Background(), paybackJob("WETH-A"))
	require.NoError(t, err)

	require.Len(t, swapper.tokenSwaps, 1)
	assert.Empty(t, swapper.nativeSwaps)
	assert.Equal(t, wad("45"), swapper.tokenSwaps[0].amountIn)
	// Floor is lot x clearing price (40.5) less the 1% slippage tolerance.
	assert.Equal(t, wad("40.095"), swapper.tokenSwaps[0].minOut)

	require.NotNil(t, next)
	assert.Equal(t, wad("40.2"), next.Amount, "forwarded amount comes from the Transfer event")
}

func TestPaybackSelectsNativeSwapByCoinTag(t *testing.T) {
	swapper := &fakeSwapper{}
	waiter := &fakeWaiter{transfers: []domain.TransferEvent{
		{To: keeperAddr, Amount: wad("40")},
	}}
	stage := newPaybackStage(swapper, waiter)

	next, err := stage.process(context.Background(), paybackJob("WMATIC-B"))
	require.NoError(t, err)

	assert.Empty(t, swapper.tokenSwaps)
	assert.Len(t, swapper.nativeSwaps, 1)
	assert.NotNil(t, next)
}

func TestPaybackZeroTransfersDropsJob(t *testing.T) {
	swapper := &fakeSwapper{}
	waiter := &fakeWaiter{transfers: []domain.TransferEvent{
		{To: common.HexToAddress("0x0e"), Amount: wad("40")}, // not the keeper
	}}
	stage := newPaybackStage(swapper, waiter)

	next, err := stage.process(context.Background(), paybackJob("WETH-A"))
	require.NoError(t, err)

	assert.Nil(t, next, "ambiguous settlement must not produce a join job")
}

func TestJoinDepositsReceivedStable(t *testing.T) {
	ledger := &fakeLedger{}
	stage := &joinStage{
		ledger: ledger, waiter: &fakeWaiter{}, notifier: testNotifier(), logger: testLogger(),
		confirm: 30 * time.Second,
	}

	err := stage.process(context.Background(), domain.JoinJob{
		TraceID: uuid.New(), AuctionID: 1, Ilk: "WETH-A", Amount: wad("40.2"),
	})
	require.NoError(t, err)

	assert.Equal(t, []*big.Int{wad("40.2")}, ledger.joins)
}

func TestIntakeBarksAndDropsOnRevert(t *testing.T) {
	house := &fakeHouse{}
	stage := &intakeStage{
		house: house, waiter: &fakeWaiter{}, notifier: testNotifier(), logger: testLogger(),
		confirm: 30 * time.Second,
	}

	urn := common.HexToAddress("0x0aa1")
	vault := domain.NewVault(7, urn, common.Address{}, common.Address{}, "WETH-A",
		wad("100"), rad("100"), decimal.NewFromInt(1))

	require.NoError(t, stage.process(context.Background(), vault))
	assert.Equal(t, []common.Address{urn}, house.barks)

	house.barkErr = domain.ErrContractReverted
	err := stage.process(context.Background(), vault)
	require.Error(t, err)
	assert.Equal(t, domain.FailureTerminal, domain.Classify(err))
}

func TestConfirmTimeoutFlowsToEveryStage(t *testing.T) {
	o := New(&fakeHouse{}, &fakeLedger{}, &fakeWaiter{}, &fakeSwapper{}, keeperAddr, nil,
		domain.NewQueue[domain.Vault](), testNotifier(), testLogger(), Config{
			ConfirmTimeout: 90 * time.Second,
		})

	for name, got := range map[string]time.Duration{
		"intake":  o.intakeStage.confirm,
		"auction": o.auctionStage.confirm,
		"exit":    o.exitStage.confirm,
		"payback": o.paybackStage.confirm,
		"join":    o.joinStage.confirm,
	} {
		assert.Equal(t, 90*time.Second, got, name)
	}

	// Unset falls back to the default.
	o = New(&fakeHouse{}, &fakeLedger{}, &fakeWaiter{}, &fakeSwapper{}, keeperAddr, nil,
		domain.NewQueue[domain.Vault](), testNotifier(), testLogger(), Config{})
	assert.Equal(t, 30*time.Second, o.joinStage.confirm)
}

func TestIntakeWaitsWithConfiguredConfirmTimeout(t *testing.T) {
	waiter := &fakeWaiter{}
	stage := &intakeStage{
		house: &fakeHouse{}, waiter: waiter, notifier: testNotifier(), logger: testLogger(),
		confirm: 17 * time.Second,
	}
	vault := domain.NewVault(7, common.HexToAddress("0x0aa1"), common.Address{}, common.Address{},
		"WETH-A", wad("100"), rad("100"), decimal.NewFromInt(1))

	require.NoError(t, stage.process(context.Background(), vault))
	assert.Equal(t, 17*time.Second, waiter.gotTimeout)
}

// fastPacing keeps worker-loop tests quick.
func fastPacing() queuePacing {
	return queuePacing{
		jobPause:       time.Millisecond,
		emptyPause:     time.Millisecond,
		transientPause: time.Millisecond,
	}
}

func TestWorkQueueDispatch(t *testing.T) {
	type result struct {
		err error
	}
	cases := []struct {
		name     string
		err      error
		requeued bool
	}{
		{name: "success is consumed", err: nil, requeued: false},
		{name: "transient failure requeues", err: domain.ErrReadTimeout, requeued: true},
		{name: "deterministic rejection drops", err: domain.ErrContractReverted, requeued: false},
		{name: "unclassified failure requeues", err: errors.New("boom"), requeued: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := domain.NewQueue[result]()
			q.Push(result{err: tc.err})

			processed := 0
			ctx, cancel := context.WithCancel(context.Background())
			workQueue(ctx, q, testLogger(), fastPacing(), func(_ context.Context, r result) error {
				processed++
				cancel() // stop after the first job
				return r.err
			})

			assert.Equal(t, 1, processed)
			if tc.requeued {
				assert.Equal(t, 1, q.Len())
			} else {
				assert.Equal(t, 0, q.Len())
			}
		})
	}
}

func TestIntakeEmptyQueueUsesEmptyPollPause(t *testing.T) {
	house := &fakeHouse{}
	intake := domain.NewQueue[domain.Vault]()
	o := New(house, &fakeLedger{}, &fakeWaiter{}, &fakeSwapper{}, keeperAddr, nil,
		intake, testNotifier(), testLogger(), Config{
			IntakePause:    time.Millisecond,
			TransientPause: time.Millisecond,
			EmptyPollPause: 500 * time.Millisecond,
		})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		o.runIntake(ctx)
		close(done)
	}()

	// The first poll finds an empty queue and must sleep the long empty-poll
	// pause, so a vault arriving just after is not picked up before the
	// context expires.
	time.Sleep(20 * time.Millisecond)
	intake.Push(domain.NewVault(7, common.HexToAddress("0x0aa1"), common.Address{}, common.Address{},
		"WETH-A", wad("100"), rad("100"), decimal.NewFromInt(1)))
	<-done

	house.mu.Lock()
	defer house.mu.Unlock()
	assert.Empty(t, house.barks)
	assert.Equal(t, 1, intake.Len())
}

func TestDiscoveryEnqueuesOpenAuctions(t *testing.T) {
	house := &fakeHouse{
		ilks:   []string{"WETH-A", "WMATIC-A"},
		active: map[string][]uint64{"WETH-A": {3, 4}, "WMATIC-A": {9}},
	}
	routes := map[string][]common.Address{
		"WETH-A":   {common.HexToAddress("0x0a"), common.HexToAddress("0x0b")},
		"WMATIC-A": {common.HexToAddress("0x0c"), common.HexToAddress("0x0b")},
	}
	o := New(house, &fakeLedger{}, &fakeWaiter{}, &fakeSwapper{}, keeperAddr, routes,
		domain.NewQueue[domain.Vault](), testNotifier(), testLogger(), Config{
			EnqueuePause:      time.Millisecond,
			DiscoveryInterval: time.Hour,
		})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	o.runDiscovery(ctx)

	seen := map[uint64]string{}
	for {
		job, ok := o.auctions.TryPop()
		if !ok {
			break
		}
		seen[job.AuctionID] = job.Ilk
		assert.Equal(t, routes[job.Ilk], job.Route)
		assert.NotEqual(t, uuid.Nil, job.TraceID)
	}
	assert.Equal(t, map[uint64]string{3: "WETH-A", 4: "WETH-A", 9: "WMATIC-A"}, seen)
}
