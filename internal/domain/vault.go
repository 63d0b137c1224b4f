package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MinLiquidity is the safety floor, in percent, below which a vault becomes
// eligible for liquidation.
var MinLiquidity = decimal.NewFromInt(150)

// Vault is an immutable snapshot of one CDP, constructed fresh on every scan
// pass from live chain reads. It is never persisted; a new scan produces a new
// generation of snapshots.
type Vault struct {
	ID         uint64
	Urn        common.Address
	OwnerProxy common.Address
	Owner      common.Address
	Ilk        string

	// Collateral is the locked collateral in whole tokens (unscaled from wad)
	// and Debt the outstanding debt in stable tokens (unscaled from rad).
	// Both are zero when the raw inputs are non-positive.
	Collateral decimal.Decimal
	Debt       decimal.Decimal

	// CurrentLiquidity is the liquidity ratio in percent at the current price,
	// zero when the vault carries no debt. LiquidationPrice is the collateral
	// price at which the ratio hits MinLiquidity.
	CurrentLiquidity decimal.Decimal
	LiquidationPrice decimal.Decimal
	CurrentPrice     decimal.Decimal
}

// NewVault builds a Vault snapshot from raw chain reads. collateral is
// wad-scaled, debt is rad-scaled (art × rate), price is already a decimal
// value in stable tokens per collateral token.
func NewVault(id uint64, urn, ownerProxy, owner common.Address, ilk string,
	collateral, debt *big.Int, price decimal.Decimal) Vault {

	v := Vault{
		ID:           id,
		Urn:          urn,
		OwnerProxy:   ownerProxy,
		Owner:        owner,
		Ilk:          ilk,
		CurrentPrice: price,
	}

	if collateral.Sign() > 0 && debt.Sign() > 0 {
		v.Collateral = FromWad(collateral)
		v.Debt = FromRad(debt)
		v.CurrentLiquidity = liquidity(price, v.Collateral, v.Debt)
		v.LiquidationPrice = liquidationPrice(v.Collateral, v.Debt)
	}

	return v
}

// IsSecured reports whether the vault is safe from liquidation. A vault with
// no debt has an undefined (zero) liquidity ratio and is always secured.
func (v Vault) IsSecured() bool {
	return v.CurrentLiquidity.IsZero() || v.CurrentLiquidity.GreaterThanOrEqual(MinLiquidity)
}

// liquidity returns the collateralisation ratio in percent:
// collateral × price ÷ debt × 100.
func liquidity(price, collateral, debt decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return collateral.Mul(price).Div(debt).Mul(hundred)
}

// liquidationPrice returns the collateral price at which the ratio equals
// MinLiquidity: debt × MinLiquidity ÷ 100 ÷ collateral.
func liquidationPrice(collateral, debt decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return debt.Mul(MinLiquidity).Div(hundred).Div(collateral)
}

// CoinOf extracts the collateral coin tag from an ilk identifier, e.g.
// "VLX-A" → "VLX".
func CoinOf(ilk string) string {
	for i := 0; i < len(ilk); i++ {
		if ilk[i] == '-' {
			return ilk[:i]
		}
	}
	return ilk
}
