// Package money implements the financial transform applied to billing
// figures: forex conversion, margin adjustment, and VAT. All arithmetic is
// decimal; binary floating point drifts across repeated sum/divide/multiply
// chains on currency values and is never used for totals.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// divisionPrecision is the number of fraction digits kept by divisions.
// Fixed so that per-row and aggregate computations of the same figures are
// bit-stable.
const divisionPrecision = 16

// CurrencyFractionDigits is the minimum number of fraction digits shown for
// a currency amount.
const CurrencyFractionDigits = 2

var one = decimal.NewFromInt(1)

// Params are the normalized financial transform inputs. Construct with
// Normalize; the zero value applies no adjustment only by accident.
type Params struct {
	Forex  decimal.Decimal // multiplier converting pricing currency
	Margin decimal.Decimal // divisor representing markup
	VAT    decimal.Decimal // multiplier from VAT-exclusive to VAT-inclusive
}

// Breakdown is the result of applying Params to a raw pretax figure.
type Breakdown struct {
	PreTaxWithForex decimal.Decimal
	VATExclusive    decimal.Decimal
	VATInclusive    decimal.Decimal
}

// Normalize replaces non-positive or absent parameters with their defaults:
// forex 1, margin 1, VAT the configured default. Zero, negative, and absent
// inputs all normalize identically.
func Normalize(forex, margin, vat, defaultVAT decimal.Decimal) Params {
	if defaultVAT.Sign() <= 0 {
		defaultVAT = one
	}
	if forex.Sign() <= 0 {
		forex = one
	}
	if margin.Sign() <= 0 {
		margin = one
	}
	if vat.Sign() <= 0 {
		vat = defaultVAT
	}
	return Params{Forex: forex, Margin: margin, VAT: vat}
}

// Apply computes the forex-adjusted, VAT-exclusive, and VAT-inclusive
// figures for a raw pretax amount. The same code path serves per-row and
// aggregate values.
func (p Params) Apply(raw decimal.Decimal) Breakdown {
	withForex := raw.Mul(p.Forex)
	vatEx := withForex.DivRound(p.Margin, divisionPrecision)
	return Breakdown{
		PreTaxWithForex: withForex,
		VATExclusive:    vatEx,
		VATInclusive:    vatEx.Mul(p.VAT),
	}
}

// WeightedUnitPrice is sum(total)/sum(quantity), the financial rollup
// convention for a per-group unit price. A zero total quantity yields a
// zero unit price, never a division fault.
func WeightedUnitPrice(total, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	return total.DivRound(quantity, divisionPrecision)
}

// ParseOrZero parses a decimal from the store's text representation.
// Uncastable values become zero rather than an error; the store already
// excludes them from aggregates the same way.
func ParseOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Format renders a decimal with trailing zero fraction digits stripped,
// padded back out to minFraction digits. Currency amounts use
// CurrencyFractionDigits; plain quantities use 0.
func Format(d decimal.Decimal, minFraction int) string {
	text := d.String()

	integer, fraction, found := strings.Cut(text, ".")
	if found {
		fraction = strings.TrimRight(fraction, "0")
	}
	for len(fraction) < minFraction {
		fraction += "0"
	}
	if fraction == "" {
		return integer
	}
	return integer + "." + fraction
}
