package handlers

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// moneyFormatter renders canonical decimal amounts for payloads.
type moneyFormatter struct {
	code   string
	symbol string
}

func newMoneyFormatter(code string) moneyFormatter {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		unit = currency.GBP
	}
	return moneyFormatter{
		code:   unit.String(),
		symbol: fmt.Sprint(currency.NarrowSymbol(unit)),
	}
}

// amount renders the figure with two decimals, e.g. "28.50".
func (m moneyFormatter) amount(value decimal.Decimal) string {
	return value.StringFixed(2)
}

// display renders the figure for humans, e.g. "£28.50".
func (m moneyFormatter) display(value decimal.Decimal) string {
	if value.IsNegative() {
		return "-" + m.symbol + value.Abs().StringFixed(2)
	}
	return m.symbol + value.StringFixed(2)
}

func (m moneyFormatter) money(value decimal.Decimal) moneyPayload {
	return moneyPayload{
		Amount:   m.amount(value),
		Currency: m.code,
		Display:  m.display(value),
	}
}

type moneyPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}
