// Package swap implements the DEX-router connector used to quote collateral
// prices and to convert won collateral back into the stable token. It speaks
// the UniswapV2 router interface and shares the chain client's transport so
// all keeper transactions go through one nonce sequence.
//
// Token allowances for the router are an operator responsibility; the keeper
// never submits approvals.
package swap

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cdpkeeper/internal/domain"
)

const routerABI = `[
  {"type":"function","name":"getAmountsIn","stateMutability":"view","inputs":[{"name":"amountOut","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"type":"function","name":"swapExactETHForTokens","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

// swapDeadline bounds how long a submitted swap stays valid in the mempool.
const swapDeadline = 5 * time.Minute

var routerAbi = mustParseABI(routerABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("swap: invalid ABI definition: " + err.Error())
	}
	return parsed
}

// Transport is the slice of the chain client the router needs.
type Transport interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Submit(ctx context.Context, method string, to common.Address, value *big.Int, data []byte) (common.Hash, error)
	KeeperAddress() common.Address
}

// Router is the swap connector.
type Router struct {
	transport Transport
	address   common.Address
	logger    *slog.Logger
}

// NewRouter creates a Router for the given router contract address.
func NewRouter(transport Transport, address common.Address, logger *slog.Logger) *Router {
	return &Router{
		transport: transport,
		address:   address,
		logger:    logger.With(slog.String("component", "swap")),
	}
}

// QuoteInput returns how many of the route's first token are needed to
// receive amountOut of its final token.
func (r *Router) QuoteInput(ctx context.Context, amountOut decimal.Decimal, route []common.Address) (decimal.Decimal, error) {
	if len(route) < 2 {
		return decimal.Zero, fmt.Errorf("swap: route needs at least two tokens, got %d", len(route))
	}

	data, err := routerAbi.Pack("getAmountsIn", domain.ToWad(amountOut), route)
	if err != nil {
		return decimal.Zero, fmt.Errorf("swap: packing getAmountsIn: %w", err)
	}

	raw, err := r.transport.Call(ctx, r.address, data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("swap: getAmountsIn: %w", err)
	}

	out, err := routerAbi.Unpack("getAmountsIn", raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("swap: unpacking getAmountsIn: %w", err)
	}
	amounts := out[0].([]*big.Int)
	if len(amounts) != len(route) {
		return decimal.Zero, fmt.Errorf("swap: getAmountsIn returned %d amounts for a %d-token route", len(amounts), len(route))
	}

	return domain.FromWad(amounts[0]), nil
}

// SwapTokens swaps amountIn (wad) of the route's first token for the final
// token, reverting on-chain if fewer than minOut (wad) would be received.
func (r *Router) SwapTokens(ctx context.Context, route []common.Address, amountIn, minOut *big.Int) (common.Hash, error) {
	data, err := routerAbi.Pack("swapExactTokensForTokens",
		amountIn, minOut, route, r.transport.KeeperAddress(), deadline())
	if err != nil {
		return common.Hash{}, fmt.Errorf("swap: packing swapExactTokensForTokens: %w", err)
	}
	r.logger.Debug("submitting token swap",
		slog.String("amount_in", amountIn.String()),
		slog.String("min_out", minOut.String()))
	return r.transport.Submit(ctx, "swapExactTokensForTokens", r.address, nil, data)
}

// SwapNative swaps amountIn (wad) of native coin along the route, which must
// start with the wrapped native token.
func (r *Router) SwapNative(ctx context.Context, route []common.Address, amountIn, minOut *big.Int) (common.Hash, error) {
	data, err := routerAbi.Pack("swapExactETHForTokens",
		minOut, route, r.transport.KeeperAddress(), deadline())
	if err != nil {
		return common.Hash{}, fmt.Errorf("swap: packing swapExactETHForTokens: %w", err)
	}
	r.logger.Debug("submitting native swap",
		slog.String("amount_in", amountIn.String()),
		slog.String("min_out", minOut.String()))
	return r.transport.Submit(ctx, "swapExactETHForTokens", r.address, amountIn, data)
}

func deadline() *big.Int {
	return big.NewInt(time.Now().Add(swapDeadline).Unix())
}
