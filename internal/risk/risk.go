// Package risk gates each trading cycle. Halting violations (unrealized
// loss, position count, margin) latch the controller into a halted state
// that only an operator can clear; a wide spread merely suppresses
// placements for the current cycle.
package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"oanda-grid-bot/internal/broker"
	"oanda-grid-bot/internal/config"
)

var (
	ErrMaxLossExceeded  = errors.New("max loss exceeded")
	ErrTooManyPositions = errors.New("too many open positions")
	ErrMarginCritical   = errors.New("margin usage critical")
	ErrSpreadTooWide    = errors.New("spread too wide")
	ErrManualHalt       = errors.New("halted by operator")
)

// IsHalting reports whether err is a violation that must halt trading.
// Spread violations are transient and do not halt.
func IsHalting(err error) bool {
	return errors.Is(err, ErrMaxLossExceeded) ||
		errors.Is(err, ErrTooManyPositions) ||
		errors.Is(err, ErrMarginCritical) ||
		errors.Is(err, ErrManualHalt)
}

// State is the controller's latched view. Once Halted flips true it stays
// true until an operator resume.
type State struct {
	Halted     bool      `json:"halted"`
	Reason     string    `json:"reason,omitempty"`
	HaltedAt   time.Time `json:"halted_at,omitempty"`
	Resumeable bool      `json:"resumeable"`
}

type Controller struct {
	cfg config.RiskConfig
	log *zap.Logger

	mu           sync.Mutex
	state        State
	haltErr      error
	baseline     float64
	baselineSet  bool
	spreadBlocks int
}

func NewController(cfg config.RiskConfig, log *zap.Logger) *Controller {
	return &Controller{cfg: cfg, log: log}
}

// SetBaseline records the starting equity. The max-loss rule itself runs on
// the snapshot's unrealized P&L; the baseline only feeds a total-drawdown
// figure into the halt log. Only the first call takes effect.
func (c *Controller) SetBaseline(balance float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baselineSet {
		return
	}
	c.baseline = balance
	c.baselineSet = true
}

// Baseline returns the latched starting equity, if one was recorded.
func (c *Controller) Baseline() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline, c.baselineSet
}

// Check evaluates the halting rules against a fresh account snapshot. The
// first violation wins; on violation the controller latches halted and the
// same error is returned on the spot.
func (c *Controller) Check(snap broker.AccountSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Halted {
		return c.haltErr
	}
	if err := c.evaluate(snap); err != nil {
		c.state = State{
			Halted:     true,
			Reason:     err.Error(),
			HaltedAt:   time.Now().UTC(),
			Resumeable: true,
		}
		c.haltErr = err
		fields := []zap.Field{
			zap.Error(err),
			zap.Float64("balance", snap.Balance),
			zap.Float64("unrealized_pl", snap.UnrealizedPL),
			zap.Int("open_positions", snap.OpenPositionCount),
		}
		if c.baselineSet {
			fields = append(fields, zap.Float64("equity_drawdown", c.baseline-(snap.Balance+snap.UnrealizedPL)))
		}
		c.log.Error("risk violation, halting", fields...)
		return err
	}
	return nil
}

func (c *Controller) evaluate(snap broker.AccountSnapshot) error {
	if c.cfg.MaxLossUSD > 0 && snap.UnrealizedPL <= -c.cfg.MaxLossUSD {
		return fmt.Errorf("unrealized loss %.2f reaches limit %.2f: %w", -snap.UnrealizedPL, c.cfg.MaxLossUSD, ErrMaxLossExceeded)
	}
	if c.cfg.MaxOpenPositions > 0 && snap.OpenPositionCount > c.cfg.MaxOpenPositions {
		return fmt.Errorf("%d open positions exceed %d: %w", snap.OpenPositionCount, c.cfg.MaxOpenPositions, ErrTooManyPositions)
	}
	if c.cfg.MaxMarginRatio > 0 && snap.Equity > 0 {
		ratio := snap.MarginUsed / snap.Equity
		if ratio > c.cfg.MaxMarginRatio {
			return fmt.Errorf("margin ratio %.4f exceeds %.4f: %w", ratio, c.cfg.MaxMarginRatio, ErrMarginCritical)
		}
	}
	return nil
}

// CheckSpread gates new placements for the current cycle only. It never
// latches the halted state.
func (c *Controller) CheckSpread(price broker.Price) error {
	if c.cfg.MaxSpreadPips > 0 && price.SpreadPips > c.cfg.MaxSpreadPips {
		c.mu.Lock()
		c.spreadBlocks++
		c.mu.Unlock()
		return fmt.Errorf("spread %.1f pips exceeds %.1f: %w", price.SpreadPips, c.cfg.MaxSpreadPips, ErrSpreadTooWide)
	}
	return nil
}

// Halt latches the halted state with an operator-supplied reason. Used by
// the manual kill switch.
func (c *Controller) Halt(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Halted {
		return
	}
	c.state = State{Halted: true, Reason: reason, HaltedAt: time.Now().UTC(), Resumeable: true}
	c.haltErr = fmt.Errorf("%s: %w", reason, ErrManualHalt)
	c.log.Warn("manual halt", zap.String("reason", reason))
}

// Resume clears the halted state. The equity baseline stays latched so
// resumes do not reset the logged drawdown figure.
func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Halted {
		return false
	}
	c.state = State{}
	c.haltErr = nil
	c.log.Warn("risk halt cleared by operator")
	return true
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) SpreadBlocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spreadBlocks
}
