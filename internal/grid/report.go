package grid

import (
	"github.com/shopspring/decimal"
)

const tradingDaysPerMonth = 20

// Report summarizes ladder geometry and expected economics at the current
// price. It is informational output for the verify command and the status
// API; nothing in the trading path consumes it.
type Report struct {
	Instrument         string   `json:"instrument"`
	CurrentPrice       string   `json:"current_price"`
	Lower              string   `json:"lower_level"`
	Upper              string   `json:"upper_level"`
	RangePips          float64  `json:"range_pips"`
	GridCount          int      `json:"grid_count"`
	SpacingPips        float64  `json:"spacing_pips"`
	BuyLevels          int      `json:"buy_levels"`
	SellLevels         int      `json:"sell_levels"`
	UnitsPerTrade      int      `json:"units_per_trade"`
	GrossProfitCycle   float64  `json:"gross_profit_per_cycle"`
	SpreadCostCycle    float64  `json:"spread_cost_per_cycle"`
	NetProfitCycle     float64  `json:"net_profit_per_cycle"`
	DailyProjection    float64  `json:"expected_daily_projection"`
	MonthlyProjection  float64  `json:"expected_monthly_projection"`
	MonthlyROIPercent  float64  `json:"monthly_roi_percent"`
	RequiredCapitalUSD float64  `json:"required_capital_usd"`
	Profitable         bool     `json:"is_profitable"`
	Warnings           []string `json:"warnings,omitempty"`
}

// BuildReport assumes each level cycles roughly once per traversal of the
// range, so expected daily cycles = range/spacing halved for direction.
func (p *Planner) BuildReport(instrument string, current decimal.Decimal, spreadPips float64, units int, leverage float64) Report {
	levels := p.Levels(current)
	buys, sells := 0, 0
	for _, lvl := range levels {
		if lvl.Side == SideBuy {
			buys++
		} else {
			sells++
		}
	}

	spacingPips := p.SpacingPips()
	net := ProfitPerCycle(spacingPips, spreadPips, units)
	dailyCycles := 0.0
	if spacingPips > 0 {
		dailyCycles = p.RangePips() / spacingPips / 2
	}
	daily := roundCents(net * dailyCycles)
	monthly := roundCents(daily * tradingDaysPerMonth)
	capital := RequiredCapital(units, p.count, current, leverage)
	roi := 0.0
	if capital > 0 {
		roi = roundCents(monthly / capital * 100)
	}

	report := Report{
		Instrument:         instrument,
		CurrentPrice:       current.StringFixed(p.precision),
		Lower:              p.lower.StringFixed(p.precision),
		Upper:              p.upper.StringFixed(p.precision),
		RangePips:          p.RangePips(),
		GridCount:          p.count,
		SpacingPips:        spacingPips,
		BuyLevels:          buys,
		SellLevels:         sells,
		UnitsPerTrade:      units,
		GrossProfitCycle:   GrossProfitPerCycle(spacingPips, units),
		SpreadCostCycle:    SpreadCostPerCycle(spreadPips, units),
		NetProfitCycle:     net,
		DailyProjection:    daily,
		MonthlyProjection:  monthly,
		MonthlyROIPercent:  roi,
		RequiredCapitalUSD: capital,
		Profitable:         net > 0,
	}

	if report.RangePips < 10 {
		report.Warnings = append(report.Warnings, "price range is very narrow")
	}
	if spacingPips < 1 {
		report.Warnings = append(report.Warnings, "grid spacing is below one pip")
	}
	if p.count > 100 {
		report.Warnings = append(report.Warnings, "large number of grids")
	}
	if net <= 0 {
		report.Warnings = append(report.Warnings, "spread cost exceeds gross profit per cycle")
	}
	return report
}
