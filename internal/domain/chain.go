package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// Capability interfaces over the chain-RPC/contract layer. The core consumes
// these; internal/chain implements them over go-ethereum. All connectors are
// safe for concurrent use: each action is a single atomic submit-and-wait.

// AuctionState is one clipper auction's live status. Price, Lot and Tab are
// raw fixed-point integers: price ray-scaled, lot wad-scaled, tab ray-scaled.
type AuctionState struct {
	NeedsRedo bool
	Price     *big.Int
	Lot       *big.Int
	Tab       *big.Int
}

// TakeEvent is one decoded clipper Take log.
type TakeEvent struct {
	AuctionID *big.Int
	MaxPrice  *big.Int // ray
	Price     *big.Int // ray, actual clearing price
	Owe       *big.Int // rad, stable amount owed for the slice
	Tab       *big.Int // rad, remaining tab after the take
	Lot       *big.Int // wad, remaining lot after the take
	Recipient common.Address
}

// TransferEvent is one decoded ERC-20 Transfer log.
type TransferEvent struct {
	From   common.Address
	To     common.Address
	Amount *big.Int // wad
}

// VaultReader provides the per-vault reads the scanner needs. Implementations
// wrap read failures caused by RPC timeouts in ErrReadTimeout.
type VaultReader interface {
	// VaultCount returns the highest allocated vault identifier.
	VaultCount(ctx context.Context) (uint64, error)
	// VaultUrn returns the vault's urn address.
	VaultUrn(ctx context.Context, id uint64) (common.Address, error)
	// VaultOwnerProxy returns the proxy contract owning the vault.
	VaultOwnerProxy(ctx context.Context, id uint64) (common.Address, error)
	// VaultIlk returns the vault's collateral type tag.
	VaultIlk(ctx context.Context, id uint64) (string, error)
	// UrnState returns locked collateral (wad) and outstanding debt
	// (art × rate, rad) for one urn.
	UrnState(ctx context.Context, ilk string, urn common.Address) (collateral, debt *big.Int, err error)
	// ProxyOwner resolves the externally-owned account behind a proxy.
	ProxyOwner(ctx context.Context, proxy common.Address) (common.Address, error)
	// CurrentPrice returns the oracle price for one collateral type in
	// stable tokens per collateral token.
	CurrentPrice(ctx context.Context, ilk string) (decimal.Decimal, error)
}

// AuctionHouse provides auction discovery and the mutating auction actions.
// Mutating calls return the submitted transaction hash; contract-level
// rejections are wrapped in ErrContractReverted.
type AuctionHouse interface {
	// Ilks lists every configured collateral type tag.
	Ilks() []string
	// ActiveAuctions lists the ids of all currently open auctions for ilk.
	ActiveAuctions(ctx context.Context, ilk string) ([]uint64, error)
	// AuctionStatus returns the live status of one auction.
	AuctionStatus(ctx context.Context, ilk string, id uint64) (AuctionState, error)
	// MinLotRemainder returns chost (ray): the smallest lot an auction may be
	// left with after a partial take.
	MinLotRemainder(ctx context.Context, ilk string) (*big.Int, error)
	// Bark triggers liquidation of an unsafe urn, naming the keeper as
	// incentive recipient.
	Bark(ctx context.Context, ilk string, urn common.Address) (common.Hash, error)
	// Take bids amt (wad) on an auction with a price-protection ceiling
	// maxPrice (ray), sending collateral to the keeper.
	Take(ctx context.Context, ilk string, id uint64, amt, maxPrice *big.Int) (common.Hash, error)
	// Redo restarts a stale auction, naming the keeper as incentive recipient.
	Redo(ctx context.Context, ilk string, id uint64) (common.Hash, error)
}

// Ledger provides the internal-balance operations of the exit and join stages.
type Ledger interface {
	// StableBalance returns the keeper's internal stable balance (ray).
	StableBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	// ExitCollateral withdraws amount (wad) of ilk collateral from the
	// internal ledger to the keeper's token balance.
	ExitCollateral(ctx context.Context, ilk string, amount *big.Int) (common.Hash, error)
	// UnwrapNative withdraws amount (wad) of the wrapped native token into
	// native coin.
	UnwrapNative(ctx context.Context, amount *big.Int) (common.Hash, error)
	// JoinStable deposits amount (wad) of the stable token back into the
	// internal ledger.
	JoinStable(ctx context.Context, amount *big.Int) (common.Hash, error)
}

// TxWaiter awaits transaction confirmation and decodes receipt logs.
type TxWaiter interface {
	// WaitReceipt blocks until the transaction is mined or timeout elapses,
	// in which case it returns ErrConfirmTimeout. A timed-out transaction may
	// still land later and must not be resubmitted blindly.
	WaitReceipt(ctx context.Context, tx common.Hash, timeout time.Duration) (*types.Receipt, error)
	// TakeEvents decodes every clipper Take log in the receipt.
	TakeEvents(receipt *types.Receipt) []TakeEvent
	// StableTransfers decodes every stable-token Transfer log in the receipt.
	StableTransfers(receipt *types.Receipt) []TransferEvent
}

// SwapRouter quotes and executes token swaps through the DEX router.
type SwapRouter interface {
	// QuoteInput returns the route-input amount needed to receive amountOut
	// of the route's final token.
	QuoteInput(ctx context.Context, amountOut decimal.Decimal, route []common.Address) (decimal.Decimal, error)
	// SwapTokens swaps amountIn (wad) of the route's first token, reverting
	// if fewer than minOut (wad) final tokens would be received.
	SwapTokens(ctx context.Context, route []common.Address, amountIn, minOut *big.Int) (common.Hash, error)
	// SwapNative is SwapTokens with native coin as input; the route must
	// start with the wrapped native token.
	SwapNative(ctx context.Context, route []common.Address, amountIn, minOut *big.Int) (common.Hash, error)
}
