package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Fixed-point scales used by the protocol contracts. Token amounts cross the
// chain boundary as wad (1e18), prices and per-unit values as ray (1e27), and
// debt totals as rad (1e45). All arithmetic inside the core happens on
// decimal.Decimal after unscaling.
const (
	WadExp = 18
	RayExp = 27
	RadExp = 45
)

// FromWad converts a raw wad-scaled integer to a decimal value.
func FromWad(x *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x, -WadExp)
}

// FromRay converts a raw ray-scaled integer to a decimal value.
func FromRay(x *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x, -RayExp)
}

// FromRad converts a raw rad-scaled integer to a decimal value.
func FromRad(x *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x, -RadExp)
}

// ToWad converts a decimal value to a raw wad-scaled integer, truncating any
// fractional remainder below 1e-18.
func ToWad(d decimal.Decimal) *big.Int {
	return d.Shift(WadExp).BigInt()
}

// ToRay converts a decimal value to a raw ray-scaled integer, truncating any
// fractional remainder below 1e-27.
func ToRay(d decimal.Decimal) *big.Int {
	return d.Shift(RayExp).BigInt()
}

// ApplyPercent returns d adjusted by pct percent: ApplyPercent(100, -7) == 93.
func ApplyPercent(d, pct decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	return d.Mul(one.Add(pct.Div(hundred)))
}
