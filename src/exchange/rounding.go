package exchange

import (
	"fmt"
	"math"

	"github.com/zwehtet-dev/exchange-bot/src/models"
)

// RoundMMK rounds an MMK amount to the business grid: amounts land on
// multiples of 50, with the sub-hundred remainder deciding the direction.
// A remainder of 25 or less drops to the hundred below, 26-50 snaps to the
// half-hundred, 51-99 rises to the hundred above. Already-rounded values
// pass through unchanged.
func RoundMMK(amount float64) float64 {
	n := math.Floor(amount)
	base := math.Floor(n/100) * 100
	d := n - base
	switch {
	case d <= 25:
		return base
	case d <= 50:
		return base + 50
	default:
		return base + 100
	}
}

// RoundTHB rounds a THB amount to 2 decimal places (half away from zero).
func RoundTHB(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// Round applies the rounding rule for the given currency.
func Round(amount float64, currency models.Currency) float64 {
	if currency == models.MMK {
		return RoundMMK(amount)
	}
	return RoundTHB(amount)
}

// Convert rounds the source amount under its own currency's rule first,
// then derives the target amount from the rounded source, so the quoted
// pair is internally consistent.
func Convert(amount, rate float64, from, to models.Currency) (roundedSource, target float64, err error) {
	if rate <= 0 {
		return 0, 0, fmt.Errorf("exchange rate must be positive, got %g", rate)
	}
	roundedSource = Round(amount, from)
	switch {
	case from == models.THB && to == models.MMK:
		target = Round(roundedSource*rate, to)
	case from == models.MMK && to == models.THB:
		target = Round(roundedSource/rate, to)
	default:
		return 0, 0, fmt.Errorf("unsupported conversion %s -> %s", from, to)
	}
	return roundedSource, target, nil
}
