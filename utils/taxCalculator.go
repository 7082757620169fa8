package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BasisPoints is the divisor for rates expressed in basis points (10000 = 100%).
const BasisPoints = 10000

var decimalBasisPoints = decimal.NewFromInt(BasisPoints)

// DecomposeInclusiveTotal splits a tax-inclusive total into subtotal and tax.
// subtotal + tax == total always holds.
func DecomposeInclusiveTotal(totalCents int64, rateBp int64) (subtotalCents int64, taxCents int64) {
	if rateBp <= 0 {
		return totalCents, 0
	}
	divisor := decimalBasisPoints.Add(decimal.NewFromInt(rateBp))
	subtotalCents = decimal.NewFromInt(totalCents).Mul(decimalBasisPoints).Div(divisor).Round(0).IntPart()
	return subtotalCents, totalCents - subtotalCents
}

// NetCost applies the discount, rounds, then loads the tax and rounds again.
// The order must not change: stored purchase costs were computed this way.
func NetCost(unitCostCents int64, discountBp int64, taxRateBp int64) int64 {
	afterDiscount := decimal.NewFromInt(unitCostCents).
		Mul(decimalBasisPoints.Sub(decimal.NewFromInt(discountBp))).
		Div(decimalBasisPoints).
		Round(0)
	return afterDiscount.
		Mul(decimalBasisPoints.Add(decimal.NewFromInt(taxRateBp))).
		Div(decimalBasisPoints).
		Round(0).
		IntPart()
}

// LineTotal is qty * unit price rounded to whole cents.
func LineTotal(qty decimal.Decimal, unitCents int64) int64 {
	return qty.Mul(decimal.NewFromInt(unitCents)).Round(0).IntPart()
}

// InvoiceCode renders the display code of a document, e.g. A-00012.
func InvoiceCode(series string, number int64) string {
	return fmt.Sprintf("%s-%05d", series, number)
}
