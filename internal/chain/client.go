// Package chain implements the protocol connector over go-ethereum: vault
// reads for the scanner, auction and ledger actions for the pipeline, and
// receipt waiting with log decoding. It is the concrete implementation of the
// capability interfaces in internal/domain.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cdpkeeper/internal/crypto"
	"github.com/alanyoungcy/cdpkeeper/internal/domain"
)

// Contracts holds the resolved core protocol addresses.
type Contracts struct {
	CDPManager    common.Address
	Vat           common.Address
	Dog           common.Address
	Spotter       common.Address
	StableJoin    common.Address
	WrappedNative common.Address
	StableToken   common.Address
}

// IlkContracts holds the per-collateral-type addresses.
type IlkContracts struct {
	Clipper common.Address
	GemJoin common.Address
}

// ClientConfig configures the chain connector.
type ClientConfig struct {
	RPCURL      string
	ReadTimeout time.Duration
	Contracts   Contracts
	Ilks        map[string]IlkContracts
}

// Client is the chain connector. Safe for concurrent use: reads go straight to
// the RPC node, mutating submissions are serialised to keep nonce assignment
// consistent.
type Client struct {
	eth    *ethclient.Client
	cfg    ClientConfig
	signer *crypto.Signer // nil in monitor mode; mutating calls then fail
	ilks   []string
	logger *slog.Logger

	nonceMu sync.Mutex
}

// New dials the RPC endpoint and returns a connected Client. signer may be
// nil for read-only deployments.
func New(ctx context.Context, cfg ClientConfig, signer *crypto.Signer, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dialing %s: %w", cfg.RPCURL, err)
	}

	ilks := make([]string, 0, len(cfg.Ilks))
	for ilk := range cfg.Ilks {
		ilks = append(ilks, ilk)
	}
	sort.Strings(ilks)

	return &Client{
		eth:    eth,
		cfg:    cfg,
		signer: signer,
		ilks:   ilks,
		logger: logger.With(slog.String("component", "chain")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// KeeperAddress returns the keeper's account address, or the zero address in
// read-only mode.
func (c *Client) KeeperAddress() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// ---------------------------------------------------------------------------
// Read path
// ---------------------------------------------------------------------------

// Call executes a raw view call against to with the configured read timeout.
// It exists so sibling connectors (the swap router) can share the transport
// and its error taxonomy.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	raw, err := c.eth.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, wrapRPCErr("call", err)
	}
	return raw, nil
}

// call packs a view call, executes it with the read timeout, and unpacks the
// outputs.
func (c *Client) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: packing %s: %w", method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	raw, err := c.eth.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, wrapRPCErr(method, err)
	}

	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpacking %s: %w", method, err)
	}
	return out, nil
}

// wrapRPCErr maps transport failures onto the core error taxonomy.
func wrapRPCErr(op string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("chain: %s: %w", op, domain.ErrReadTimeout)
	case isRevert(err):
		return fmt.Errorf("chain: %s: %s: %w", op, err.Error(), domain.ErrContractReverted)
	default:
		return fmt.Errorf("chain: %s: %w", op, err)
	}
}

// isRevert recognises contract-logic rejections in RPC error strings. Node
// implementations phrase these differently, so match loosely.
func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") || strings.Contains(msg, "always failing transaction")
}

// VaultCount returns the highest allocated vault identifier.
func (c *Client) VaultCount(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, c.cfg.Contracts.CDPManager, cdpManagerAbi, "cdpi")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

// VaultUrn returns the vault's urn address.
func (c *Client) VaultUrn(ctx context.Context, id uint64) (common.Address, error) {
	out, err := c.call(ctx, c.cfg.Contracts.CDPManager, cdpManagerAbi, "urns", new(big.Int).SetUint64(id))
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// VaultOwnerProxy returns the proxy contract owning the vault.
func (c *Client) VaultOwnerProxy(ctx context.Context, id uint64) (common.Address, error) {
	out, err := c.call(ctx, c.cfg.Contracts.CDPManager, cdpManagerAbi, "owns", new(big.Int).SetUint64(id))
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// VaultIlk returns the vault's collateral type tag.
func (c *Client) VaultIlk(ctx context.Context, id uint64) (string, error) {
	out, err := c.call(ctx, c.cfg.Contracts.CDPManager, cdpManagerAbi, "ilks", new(big.Int).SetUint64(id))
	if err != nil {
		return "", err
	}
	return ilkFromBytes32(out[0].([32]byte)), nil
}

// ProxyOwner resolves the externally-owned account behind a proxy.
func (c *Client) ProxyOwner(ctx context.Context, proxy common.Address) (common.Address, error) {
	out, err := c.call(ctx, proxy, dsProxyAbi, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// UrnState returns locked collateral (wad) and outstanding debt (art × rate,
// rad) for one urn.
func (c *Client) UrnState(ctx context.Context, ilk string, urn common.Address) (*big.Int, *big.Int, error) {
	urnOut, err := c.call(ctx, c.cfg.Contracts.Vat, vatAbi, "urns", bytes32Ilk(ilk), urn)
	if err != nil {
		return nil, nil, err
	}
	ink := urnOut[0].(*big.Int)
	art := urnOut[1].(*big.Int)

	ilkOut, err := c.call(ctx, c.cfg.Contracts.Vat, vatAbi, "ilks", bytes32Ilk(ilk))
	if err != nil {
		return nil, nil, err
	}
	rate := ilkOut[1].(*big.Int)

	return ink, new(big.Int).Mul(art, rate), nil
}

// CurrentPrice reconstructs the oracle price for one collateral type from the
// vat safety margin (spot, ray) and the liquidation ratio (mat, ray).
func (c *Client) CurrentPrice(ctx context.Context, ilk string) (decimal.Decimal, error) {
	ilkOut, err := c.call(ctx, c.cfg.Contracts.Vat, vatAbi, "ilks", bytes32Ilk(ilk))
	if err != nil {
		return decimal.Zero, err
	}
	spot := ilkOut[2].(*big.Int)

	spotOut, err := c.call(ctx, c.cfg.Contracts.Spotter, spotterAbi, "ilks", bytes32Ilk(ilk))
	if err != nil {
		return decimal.Zero, err
	}
	mat := spotOut[1].(*big.Int)

	return domain.FromRay(spot).Mul(domain.FromRay(mat)), nil
}

// StableBalance returns the keeper's internal stable balance (ray).
func (c *Client) StableBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	out, err := c.call(ctx, c.cfg.Contracts.Vat, vatAbi, "usdv", addr)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Ilks lists every configured collateral type tag in stable order.
func (c *Client) Ilks() []string {
	return c.ilks
}

// ilkContracts resolves the per-ilk addresses, failing on unknown tags.
func (c *Client) ilkContracts(ilk string) (IlkContracts, error) {
	ic, ok := c.cfg.Ilks[ilk]
	if !ok {
		return IlkContracts{}, fmt.Errorf("chain: ilk %q: %w", ilk, domain.ErrUnsupportedCollateral)
	}
	return ic, nil
}

// ActiveAuctions lists the ids of all currently open auctions for ilk.
func (c *Client) ActiveAuctions(ctx context.Context, ilk string) ([]uint64, error) {
	ic, err := c.ilkContracts(ilk)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, ic.Clipper, clipperAbi, "list")
	if err != nil {
		return nil, err
	}
	raw := out[0].([]*big.Int)
	ids := make([]uint64, len(raw))
	for i, id := range raw {
		ids[i] = id.Uint64()
	}
	return ids, nil
}

// AuctionStatus returns the live status of one auction.
func (c *Client) AuctionStatus(ctx context.Context, ilk string, id uint64) (domain.AuctionState, error) {
	ic, err := c.ilkContracts(ilk)
	if err != nil {
		return domain.AuctionState{}, err
	}
	out, err := c.call(ctx, ic.Clipper, clipperAbi, "getStatus", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.AuctionState{}, err
	}
	return domain.AuctionState{
		NeedsRedo: out[0].(bool),
		Price:     out[1].(*big.Int),
		Lot:       out[2].(*big.Int),
		Tab:       out[3].(*big.Int),
	}, nil
}

// MinLotRemainder returns chost (ray) for ilk.
func (c *Client) MinLotRemainder(ctx context.Context, ilk string) (*big.Int, error) {
	ic, err := c.ilkContracts(ilk)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, ic.Clipper, clipperAbi, "chost")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// ---------------------------------------------------------------------------
// Write path
// ---------------------------------------------------------------------------

// Submit builds, signs, and sends one raw transaction. It exists so sibling
// connectors sharing the keeper account go through the same nonce
// serialisation. method only labels logs and errors.
func (c *Client) Submit(ctx context.Context, method string, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	return c.submitData(ctx, method, to, value, data)
}

// submit packs a mutating call and hands it to submitData.
func (c *Client) submit(ctx context.Context, to common.Address, parsed abi.ABI, method string, value *big.Int, args ...any) (common.Hash, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: packing %s: %w", method, err)
	}
	return c.submitData(ctx, method, to, value, data)
}

// submitData is the single transaction path. Submissions are serialised so
// concurrent stage workers cannot race on nonce assignment. Gas estimation
// doubles as a dry run: a revert there is reported as ErrContractReverted
// before any fee is spent.
func (c *Client) submitData(ctx context.Context, method string, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, fmt.Errorf("chain: %s: no signer configured (read-only mode)", method)
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	from := c.signer.Address()

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, wrapRPCErr(method+" nonce", err)
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, wrapRPCErr(method+" gas price", err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, wrapRPCErr(method+" estimate", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas + gas/5, // headroom over the estimate
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: %s: %w", method, err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, wrapRPCErr(method+" send", err)
	}

	c.logger.DebugContext(ctx, "transaction submitted",
		slog.String("method", method),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)
	return signed.Hash(), nil
}

// Bark triggers liquidation of an unsafe urn, naming the keeper as incentive
// recipient.
func (c *Client) Bark(ctx context.Context, ilk string, urn common.Address) (common.Hash, error) {
	return c.submit(ctx, c.cfg.Contracts.Dog, dogAbi, "bark", nil,
		bytes32Ilk(ilk), urn, c.signer.Address())
}

// Take bids amt (wad) on an auction with price ceiling maxPrice (ray),
// sending collateral to the keeper.
func (c *Client) Take(ctx context.Context, ilk string, id uint64, amt, maxPrice *big.Int) (common.Hash, error) {
	ic, err := c.ilkContracts(ilk)
	if err != nil {
		return common.Hash{}, err
	}
	return c.submit(ctx, ic.Clipper, clipperAbi, "take", nil,
		new(big.Int).SetUint64(id), amt, maxPrice, c.signer.Address(), []byte{})
}

// Redo restarts a stale auction, naming the keeper as incentive recipient.
func (c *Client) Redo(ctx context.Context, ilk string, id uint64) (common.Hash, error) {
	ic, err := c.ilkContracts(ilk)
	if err != nil {
		return common.Hash{}, err
	}
	return c.submit(ctx, ic.Clipper, clipperAbi, "redo", nil,
		new(big.Int).SetUint64(id), c.signer.Address())
}

// ExitCollateral withdraws amount (wad) of ilk collateral from the internal
// ledger to the keeper's token balance.
func (c *Client) ExitCollateral(ctx context.Context, ilk string, amount *big.Int) (common.Hash, error) {
	ic, err := c.ilkContracts(ilk)
	if err != nil {
		return common.Hash{}, err
	}
	return c.submit(ctx, ic.GemJoin, gemJoinAbi, "exit", nil, c.signer.Address(), amount)
}

// UnwrapNative withdraws amount (wad) of the wrapped native token into native
// coin.
func (c *Client) UnwrapNative(ctx context.Context, amount *big.Int) (common.Hash, error) {
	return c.submit(ctx, c.cfg.Contracts.WrappedNative, wrappedNativeAbi, "withdraw", nil, amount)
}

// JoinStable deposits amount (wad) of the stable token back into the internal
// ledger.
func (c *Client) JoinStable(ctx context.Context, amount *big.Int) (common.Hash, error) {
	return c.submit(ctx, c.cfg.Contracts.StableJoin, stableJoinAbi, "join", nil, c.signer.Address(), amount)
}

// WaitReceipt polls for the transaction receipt until it is mined or timeout
// elapses. A mined-but-failed transaction is a deterministic rejection; an
// expired wait returns ErrConfirmTimeout because the transaction may still
// land later.
func (c *Client) WaitReceipt(ctx context.Context, tx common.Hash, timeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, tx)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, fmt.Errorf("chain: tx %s mined but failed: %w", tx.Hex(), domain.ErrContractReverted)
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.DebugContext(ctx, "receipt poll failed",
				slog.String("tx", tx.Hex()),
				slog.String("error", err.Error()),
			)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("chain: tx %s not confirmed within %s: %w", tx.Hex(), timeout, domain.ErrConfirmTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
