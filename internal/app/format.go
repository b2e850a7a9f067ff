package app

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders an installment amount for humans: grouped thousands, and two decimals
// only when the amount is not whole. The digits come from the decimal itself, never a float.
func FormatAmount(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	whole := rounded.Truncate(0)
	if !whole.BigInt().IsInt64() {
		return rounded.String()
	}

	out := amountPrinter.Sprintf("%d", whole.IntPart())
	if rounded.Equal(whole) {
		return out
	}
	fixed := rounded.StringFixed(2)
	return out + fixed[len(fixed)-3:]
}
