package grid

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidRange = errors.New("invalid grid range")

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Level is one target price in the ladder, classified relative to the
// price it was computed against. Levels are immutable once computed.
type Level struct {
	Index int
	Price decimal.Decimal
	Side  Side
}

// Planner computes ladder geometry for one instrument. All methods are
// pure; the Planner holds only validated configuration.
type Planner struct {
	lower     decimal.Decimal
	upper     decimal.Decimal
	count     int
	pipSize   decimal.Decimal
	precision int32
}

func NewPlanner(lower, upper decimal.Decimal, count int, pipSize decimal.Decimal, precision int32) (*Planner, error) {
	if lower.Cmp(upper) >= 0 {
		return nil, fmt.Errorf("%w: lower %s must be below upper %s", ErrInvalidRange, lower, upper)
	}
	if count < 2 {
		return nil, fmt.Errorf("%w: need at least 2 grids, got %d", ErrInvalidRange, count)
	}
	if lower.Sign() <= 0 {
		return nil, fmt.Errorf("%w: lower %s must be positive", ErrInvalidRange, lower)
	}
	if pipSize.Sign() <= 0 {
		return nil, fmt.Errorf("%w: pip size %s must be positive", ErrInvalidRange, pipSize)
	}
	return &Planner{
		lower:     lower,
		upper:     upper,
		count:     count,
		pipSize:   pipSize,
		precision: precision,
	}, nil
}

// Spacing uses inclusive endpoints: both lower and upper are grid levels,
// so the divisor is count-1.
func (p *Planner) Spacing() decimal.Decimal {
	return p.upper.Sub(p.lower).Div(decimal.NewFromInt(int64(p.count - 1)))
}

func (p *Planner) SpacingPips() float64 {
	return p.Spacing().Div(p.pipSize).InexactFloat64()
}

func (p *Planner) RangePips() float64 {
	return p.upper.Sub(p.lower).Div(p.pipSize).InexactFloat64()
}

func (p *Planner) Count() int { return p.count }

func (p *Planner) Lower() decimal.Decimal { return p.lower }

func (p *Planner) Upper() decimal.Decimal { return p.upper }

func (p *Planner) Precision() int32 { return p.precision }

func (p *Planner) PipSize() decimal.Decimal { return p.pipSize }

// Levels computes the full ladder for the given current price. Prices are
// strictly increasing before rounding; levels below the current price are
// buys, levels above are sells. A level exactly at the current price joins
// whichever side has fewer members, buys winning the tie.
func (p *Planner) Levels(current decimal.Decimal) []Level {
	spacing := p.Spacing()
	levels := make([]Level, 0, p.count)
	below, above := 0, 0
	var at []int
	for i := 0; i < p.count; i++ {
		price := p.lower.Add(spacing.Mul(decimal.NewFromInt(int64(i)))).Round(p.precision)
		side := SideBuy
		switch price.Cmp(current) {
		case -1:
			below++
		case 1:
			side = SideSell
			above++
		default:
			at = append(at, len(levels))
		}
		levels = append(levels, Level{Index: i, Price: price, Side: side})
	}
	for _, idx := range at {
		if above < below {
			levels[idx].Side = SideSell
			above++
		} else {
			levels[idx].Side = SideBuy
			below++
		}
	}
	return levels
}

// ComputeLevels is the standalone form of Planner.Levels for callers that
// do not carry planner configuration around.
func ComputeLevels(lower, upper decimal.Decimal, count int, current decimal.Decimal, pipSize decimal.Decimal, precision int32) ([]Level, error) {
	p, err := NewPlanner(lower, upper, count, pipSize, precision)
	if err != nil {
		return nil, err
	}
	return p.Levels(current), nil
}
