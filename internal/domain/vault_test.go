package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(WadExp), nil))
}

func rad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(RadExp), nil))
}

func newTestVault(collateral, debt int64, price string) Vault {
	return NewVault(
		1,
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
		common.HexToAddress("0x03"),
		"VLX-A",
		wad(collateral),
		rad(debt),
		decimal.RequireFromString(price),
	)
}

func TestVaultSecuredAtHighRatio(t *testing.T) {
	// collateral=300, debt=100, price=1 → ratio 300%.
	v := newTestVault(300, 100, "1")

	require.True(t, v.CurrentLiquidity.Equal(decimal.NewFromInt(300)),
		"liquidity = %s", v.CurrentLiquidity)
	assert.True(t, v.IsSecured())
}

func TestVaultUnsafeAtLowRatio(t *testing.T) {
	// collateral=100, debt=100, price=1 → ratio 100%.
	v := newTestVault(100, 100, "1")

	require.True(t, v.CurrentLiquidity.Equal(decimal.NewFromInt(100)))
	assert.False(t, v.IsSecured())
}

func TestVaultSecuredExactlyAtFloor(t *testing.T) {
	v := newTestVault(150, 100, "1")

	require.True(t, v.CurrentLiquidity.Equal(MinLiquidity))
	assert.True(t, v.IsSecured())
}

func TestVaultNoDebtIsSecured(t *testing.T) {
	v := newTestVault(100, 0, "1")

	assert.True(t, v.CurrentLiquidity.IsZero())
	assert.True(t, v.IsSecured())
}

func TestVaultLiquidationPrice(t *testing.T) {
	// debt=100, collateral=300 → liquidation price = 100·1.5/300 = 0.5.
	v := newTestVault(300, 100, "1")

	assert.True(t, v.LiquidationPrice.Equal(decimal.RequireFromString("0.5")),
		"liquidation price = %s", v.LiquidationPrice)
}

func TestCoinOf(t *testing.T) {
	assert.Equal(t, "VLX", CoinOf("VLX-A"))
	assert.Equal(t, "WBTC", CoinOf("WBTC-B"))
	assert.Equal(t, "WAG", CoinOf("WAG"))
}

func TestApplyPercent(t *testing.T) {
	hundred := decimal.NewFromInt(100)

	down := ApplyPercent(hundred, decimal.NewFromInt(-7))
	assert.True(t, down.Equal(decimal.NewFromInt(93)), "got %s", down)

	up := ApplyPercent(hundred, decimal.RequireFromString("0.1"))
	assert.True(t, up.Equal(decimal.RequireFromString("100.1")), "got %s", up)
}

func TestScalingRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("12.5")

	assert.Equal(t, "12500000000000000000", ToWad(d).String())
	assert.Equal(t, "12500000000000000000000000000", ToRay(d).String())
	assert.True(t, FromWad(ToWad(d)).Equal(d))
	assert.True(t, FromRay(ToRay(d)).Equal(d))
}
