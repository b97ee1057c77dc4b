package services

import (
	"github.com/shopspring/decimal"
)

const moneyPlaces = 2

// ComputeTotals derives the checkout breakdown for the lines. Intermediate sums
// keep full precision; only the reported figures are rounded to pence.
// Lines without a snapshot add nothing to the subtotal and are counted as unpriced.
func ComputeTotals(lines []CartLine, vatRate, depositRate decimal.Decimal) CartTotals {
	subtotal := decimal.Zero
	items := 0
	unpriced := 0
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		items += line.Quantity
		if line.Product == nil {
			unpriced++
			continue
		}
		subtotal = subtotal.Add(line.Product.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	vat := subtotal.Mul(vatRate)
	total := subtotal.Add(vat)
	deposit := total.Mul(depositRate)
	balance := total.Sub(deposit)

	return CartTotals{
		Subtotal:      subtotal.Round(moneyPlaces),
		VAT:           vat.Round(moneyPlaces),
		Total:         total.Round(moneyPlaces),
		Deposit:       deposit.Round(moneyPlaces),
		Balance:       balance.Round(moneyPlaces),
		VATRate:       vatRate,
		DepositRate:   depositRate,
		Lines:         len(lines),
		Items:         items,
		UnpricedLines: unpriced,
	}
}
