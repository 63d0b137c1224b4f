package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Each pipeline stage carries its own job struct so the fields valid at a
// given stage are a compile-time property. A job only reaches stage N+1 by
// being rebuilt from stage N's completed outputs; incomplete jobs are dropped,
// never forwarded.

// AuctionJob is one open auction awaiting a bid decision.
type AuctionJob struct {
	TraceID   uuid.UUID
	AuctionID uint64
	Ilk       string
	// Route is the swap path from the collateral token to the stable token,
	// resolved once at discovery time.
	Route []common.Address
}

// NewAuctionJob assigns a fresh trace ID for log and alert correlation.
func NewAuctionJob(auctionID uint64, ilk string, route []common.Address) AuctionJob {
	return AuctionJob{
		TraceID:   uuid.New(),
		AuctionID: auctionID,
		Ilk:       ilk,
		Route:     route,
	}
}

// ExitJob withdraws a won lot from the internal collateral ledger.
type ExitJob struct {
	TraceID   uuid.UUID
	AuctionID uint64
	Ilk       string
	// Lot is the won collateral amount (wad) and Price the auction clearing
	// price (ray) recorded from the Take event.
	Lot   *big.Int
	Price *big.Int
	Route []common.Address
	// Unwrap is set when the collateral is the chain's native-token wrapper
	// and requires an extra withdraw step after the ledger exit.
	Unwrap bool
}

// PaybackJob swaps withdrawn collateral for the stable token.
type PaybackJob struct {
	TraceID   uuid.UUID
	AuctionID uint64
	Ilk       string
	Amount    *big.Int // collateral amount, wad
	Price     *big.Int // clearing price, ray; floors the swap output
	Route     []common.Address
}

// JoinJob deposits swap proceeds back into the internal ledger. Terminal.
type JoinJob struct {
	TraceID   uuid.UUID
	AuctionID uint64
	Ilk       string
	Amount    *big.Int // stable amount received, wad
}
