package grid

import (
	"math"

	"github.com/shopspring/decimal"
)

// pipValueUSD is the per-unit USD value of one pip for USD-quoted pairs.
const pipValueUSD = 0.0001

// GrossProfitPerCycle is the profit of one filled level closed one grid
// spacing away, before spread costs.
func GrossProfitPerCycle(spacingPips float64, units int) float64 {
	return roundCents(spacingPips * float64(units) * pipValueUSD)
}

// ProfitPerCycle nets out the spread paid on the round trip.
func ProfitPerCycle(spacingPips, spreadPips float64, units int) float64 {
	gross := GrossProfitPerCycle(spacingPips, units)
	cost := spreadPips * float64(units) * pipValueUSD
	return roundCents(gross - cost)
}

// SpreadCostPerCycle is the round-trip spread cost at the given size.
func SpreadCostPerCycle(spreadPips float64, units int) float64 {
	return roundCents(spreadPips * float64(units) * pipValueUSD)
}

// RequiredCapital estimates the margin needed to hold the buy half of the
// ladder fully filled. Only the buy side ties up capital: sells close
// previously opened longs one spacing above.
func RequiredCapital(units, count int, price decimal.Decimal, leverage float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	buyGrids := count / 2
	if buyGrids < 1 {
		buyGrids = 1
	}
	notional := float64(units*buyGrids) * price.InexactFloat64()
	capital := notional / leverage
	if capital < 1 {
		capital = 1
	}
	return roundCents(capital)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
