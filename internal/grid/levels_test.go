package grid

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func mustPlanner(t *testing.T, lower, upper string, count int) *Planner {
	t.Helper()
	p, err := NewPlanner(decimal.RequireFromString(lower), decimal.RequireFromString(upper), count, decimal.RequireFromString("0.0001"), 5)
	if err != nil {
		t.Fatalf("planner: %v", err)
	}
	return p
}

func TestNewPlannerRejectsInvalidRange(t *testing.T) {
	cases := []struct {
		name  string
		lower string
		upper string
		count int
	}{
		{"inverted", "1.0900", "1.0700", 20},
		{"equal", "1.0800", "1.0800", 20},
		{"one grid", "1.0700", "1.0900", 1},
		{"zero grids", "1.0700", "1.0900", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPlanner(decimal.RequireFromString(tc.lower), decimal.RequireFromString(tc.upper), tc.count, decimal.RequireFromString("0.0001"), 5)
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v", err)
			}
		})
	}
}

func TestLevelsCountAndBounds(t *testing.T) {
	p := mustPlanner(t, "1.0700", "1.0900", 20)
	levels := p.Levels(decimal.RequireFromString("1.0800"))
	if len(levels) != 20 {
		t.Fatalf("expected 20 levels, got %d", len(levels))
	}
	lower := decimal.RequireFromString("1.0700")
	upper := decimal.RequireFromString("1.0900")
	for i, lvl := range levels {
		if lvl.Index != i {
			t.Fatalf("expected index %d, got %d", i, lvl.Index)
		}
		if lvl.Price.Cmp(lower) < 0 || lvl.Price.Cmp(upper) > 0 {
			t.Fatalf("level %d price %s outside [%s, %s]", i, lvl.Price, lower, upper)
		}
		if i > 0 && levels[i-1].Price.Cmp(lvl.Price) >= 0 {
			t.Fatalf("levels not strictly increasing at %d: %s >= %s", i, levels[i-1].Price, lvl.Price)
		}
	}
	if levels[0].Price.Cmp(lower) != 0 {
		t.Fatalf("expected first level %s, got %s", lower, levels[0].Price)
	}
	if levels[len(levels)-1].Price.Cmp(upper) != 0 {
		t.Fatalf("expected last level %s, got %s", upper, levels[len(levels)-1].Price)
	}
}

func TestSpacingUsesInclusiveEndpoints(t *testing.T) {
	p := mustPlanner(t, "1.0700", "1.0900", 20)
	// 200 pips over 19 intervals.
	got := p.SpacingPips()
	want := 200.0 / 19.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected spacing %.6f pips, got %.6f", want, got)
	}
}

func TestSideClassification(t *testing.T) {
	p := mustPlanner(t, "1.0700", "1.0900", 20)
	current := decimal.RequireFromString("1.0800")
	levels := p.Levels(current)
	buys, sells := 0, 0
	for _, lvl := range levels {
		switch {
		case lvl.Price.Cmp(current) < 0:
			if lvl.Side != SideBuy {
				t.Fatalf("level %s below current must be BUY, got %s", lvl.Price, lvl.Side)
			}
			buys++
		case lvl.Price.Cmp(current) > 0:
			if lvl.Side != SideSell {
				t.Fatalf("level %s above current must be SELL, got %s", lvl.Price, lvl.Side)
			}
			sells++
		}
	}
	// 1.08 is not itself a level for count=20, so the split is 10/10.
	if buys != 10 || sells != 10 {
		t.Fatalf("expected 10 buys and 10 sells, got %d/%d", buys, sells)
	}
}

func TestLevelAtCurrentPriceBalancesSides(t *testing.T) {
	// count=3 over [1.0700, 1.0900] puts a level exactly at 1.0800.
	p := mustPlanner(t, "1.0700", "1.0900", 3)
	levels := p.Levels(decimal.RequireFromString("1.0800"))
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(levels))
	}
	// One below, one above: the tied level breaks toward BUY.
	if levels[1].Side != SideBuy {
		t.Fatalf("expected tied level to be BUY, got %s", levels[1].Side)
	}
}

func TestLevelAtCurrentPriceJoinsSmallerSide(t *testing.T) {
	// Levels at 1.00, 1.05, 1.10; current at 1.00 leaves zero below and
	// two above, so the tied first level becomes a BUY to balance.
	p, err := NewPlanner(decimal.RequireFromString("1.0000"), decimal.RequireFromString("1.1000"), 3, decimal.RequireFromString("0.0001"), 5)
	if err != nil {
		t.Fatalf("planner: %v", err)
	}
	levels := p.Levels(decimal.RequireFromString("1.0000"))
	if levels[0].Side != SideBuy {
		t.Fatalf("expected tied level to join smaller buy side, got %s", levels[0].Side)
	}
}

func TestLevelsDeterministic(t *testing.T) {
	p := mustPlanner(t, "1.0700", "1.0900", 20)
	current := decimal.RequireFromString("1.0812")
	first := p.Levels(current)
	second := p.Levels(current)
	if len(first) != len(second) {
		t.Fatalf("expected identical lengths, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Price.Cmp(second[i].Price) != 0 || first[i].Side != second[i].Side {
			t.Fatalf("level %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestComputeLevelsStandalone(t *testing.T) {
	levels, err := ComputeLevels(
		decimal.RequireFromString("1.0700"),
		decimal.RequireFromString("1.0900"),
		5,
		decimal.RequireFromString("1.0750"),
		decimal.RequireFromString("0.0001"),
		5,
	)
	if err != nil {
		t.Fatalf("compute levels: %v", err)
	}
	if len(levels) != 5 {
		t.Fatalf("expected 5 levels, got %d", len(levels))
	}
	if _, err := ComputeLevels(
		decimal.RequireFromString("1.0900"),
		decimal.RequireFromString("1.0700"),
		5,
		decimal.RequireFromString("1.0750"),
		decimal.RequireFromString("0.0001"),
		5,
	); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Fatalf("expected SELL, got %s", SideBuy.Opposite())
	}
	if SideSell.Opposite() != SideBuy {
		t.Fatalf("expected BUY, got %s", SideSell.Opposite())
	}
}
