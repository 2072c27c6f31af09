// Package broker holds the value types exchanged with the trading venue.
// The core packages consume these through narrow interfaces they declare
// themselves; only internal/oanda produces them.
package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"oanda-grid-bot/internal/grid"
)

// Price is one pricing observation. SpreadPips is precomputed from bid/ask
// so consumers never need the instrument's pip size.
type Price struct {
	Instrument string
	Bid        decimal.Decimal
	Ask        decimal.Decimal
	Mid        decimal.Decimal
	SpreadPips float64
	Time       time.Time
}

// AccountSnapshot is a point-in-time read of account state. It is fetched
// fresh every cycle and never cached across cycles.
type AccountSnapshot struct {
	Balance           float64
	Equity            float64
	UnrealizedPL      float64
	MarginUsed        float64
	MarginAvailable   float64
	OpenPositionCount int
	Time              time.Time
}

// OrderState mirrors the broker's order lifecycle for resting orders.
type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderFilled    OrderState = "FILLED"
	OrderCancelled OrderState = "CANCELLED"
)

// Order is one resting limit order as reported by the broker.
type Order struct {
	ID            string
	ClientOrderID string
	Instrument    string
	Side          grid.Side
	Price         decimal.Decimal
	Units         int
	State         OrderState
	CreatedAt     time.Time
}

// Position is one open trade. OANDA keeps per-trade records, so the
// client order ID placed with the originating order survives the fill.
type Position struct {
	ID            string
	ClientOrderID string
	Instrument    string
	Side          grid.Side
	Units         int
	EntryPrice    decimal.Decimal
	UnrealizedPL  float64
	OpenedAt      time.Time
}

// OrderRequest is a limit order to be placed at one grid level.
type OrderRequest struct {
	Instrument    string
	Side          grid.Side
	Price         decimal.Decimal
	Units         int
	ClientOrderID string
}
