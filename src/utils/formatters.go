package utils

import (
	"fmt"
	"strings"

	"github.com/zwehtet-dev/exchange-bot/src/models"
)

// FormatAmount renders an amount for user-facing messages: MMK as a whole
// number with thousands separators, THB with two decimals.
func FormatAmount(amount float64, currency models.Currency) string {
	if currency == models.MMK {
		return fmt.Sprintf("%s MMK", groupThousands(fmt.Sprintf("%.0f", amount)))
	}
	s := fmt.Sprintf("%.2f", amount)
	intPart, frac, _ := strings.Cut(s, ".")
	return fmt.Sprintf("%s.%s THB", groupThousands(intPart), frac)
}

func groupThousands(digits string) string {
	neg := strings.HasPrefix(digits, "-")
	if neg {
		digits = digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
