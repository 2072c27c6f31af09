// Package engine runs the fixed-interval trading loop: fetch market and
// account state, apply risk gates, sync the ledger against the broker, then
// reconcile the ladder. Each cycle is independent; a transient failure skips
// the cycle and the next tick starts clean.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oanda-grid-bot/internal/broker"
	"oanda-grid-bot/internal/config"
	"oanda-grid-bot/internal/ledger"
	"oanda-grid-bot/internal/metrics"
	"oanda-grid-bot/internal/oanda"
	"oanda-grid-bot/internal/risk"
	"oanda-grid-bot/internal/state"
	"oanda-grid-bot/internal/timescale"
)

type Phase string

const (
	PhaseStarting Phase = "STARTING"
	PhaseRunning  Phase = "RUNNING"
	PhaseHalted   Phase = "HALTED"
	PhaseStopped  Phase = "STOPPED"
)

// Broker is the read side of the gateway. Order placement goes through the
// ledger's executor.
type Broker interface {
	Account(ctx context.Context) (broker.AccountSnapshot, error)
	Price(ctx context.Context, instrument string, pipSize decimal.Decimal) (broker.Price, error)
	PendingOrders(ctx context.Context, instrument string) ([]broker.Order, error)
	OpenTrades(ctx context.Context, instrument string) ([]broker.Position, error)
}

// Notifier is the alert hook. All methods are best-effort.
type Notifier interface {
	NotifyHalt(ctx context.Context, instrument, reason string)
	NotifyFill(ctx context.Context, instrument string, fills int)
	NotifyCyclesClosed(ctx context.Context, instrument string, cycles int)
}

type Engine struct {
	cfg     *config.Config
	brk     Broker
	ledger  *ledger.Ledger
	risk    *risk.Controller
	metrics *metrics.Metrics
	alerts  Notifier
	store   state.Store
	writer  *timescale.Writer
	log     *zap.Logger
	pipSize decimal.Decimal

	stopOnce sync.Once
	stopCh   chan struct{}

	mu        sync.Mutex
	phase     Phase
	lastPrice broker.Price
	lastAcct  broker.AccountSnapshot
	lastCycle time.Time
	cycleErr  string
}

func New(cfg *config.Config, brk Broker, lgr *ledger.Ledger, ctrl *risk.Controller, m *metrics.Metrics, alerts Notifier, store state.Store, writer *timescale.Writer, log *zap.Logger) *Engine {
	pipSize, err := decimal.NewFromString(cfg.Trading.PipSize)
	if err != nil || !pipSize.IsPositive() {
		pipSize = decimal.NewFromFloat(0.0001)
	}
	return &Engine{
		cfg:     cfg,
		brk:     brk,
		ledger:  lgr,
		risk:    ctrl,
		metrics: m,
		alerts:  alerts,
		store:   store,
		writer:  writer,
		log:     log,
		pipSize: pipSize,
		stopCh:  make(chan struct{}),
		phase:   PhaseStarting,
	}
}

// Run drives the loop until ctx is canceled, Stop is called, or a fatal
// error surfaces. Resting orders are left on the broker on a normal stop.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.preflight(ctx); err != nil {
		e.setPhase(PhaseStopped)
		return fmt.Errorf("preflight: %w", err)
	}
	e.setPhase(PhaseRunning)
	e.log.Info("engine running",
		zap.String("instrument", e.cfg.Trading.Instrument),
		zap.Duration("interval", e.cfg.Engine.CheckInterval))

	// First cycle immediately, then on the ticker.
	if err := e.cycle(ctx); err != nil {
		e.setPhase(PhaseStopped)
		return err
	}

	ticker := time.NewTicker(e.cfg.Engine.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.setPhase(PhaseStopped)
			e.log.Info("engine stopped, resting orders left in place")
			return ctx.Err()
		case <-e.stopCh:
			e.setPhase(PhaseStopped)
			e.log.Info("engine stopped by operator, resting orders left in place")
			return nil
		case <-ticker.C:
			if err := e.cycle(ctx); err != nil {
				e.setPhase(PhaseStopped)
				return err
			}
		}
	}
}

// preflight verifies credentials, a tradeable price, and a healthy account
// before any order goes out.
func (e *Engine) preflight(ctx context.Context) error {
	acct, err := e.brk.Account(ctx)
	if err != nil {
		return fmt.Errorf("account check: %w", err)
	}
	if acct.Balance <= 0 {
		return errors.New("account has no balance")
	}
	if acct.MarginAvailable <= 0 {
		return errors.New("account has no margin available")
	}
	price, err := e.brk.Price(ctx, e.cfg.Trading.Instrument, e.pipSize)
	if err != nil {
		return fmt.Errorf("pricing check: %w", err)
	}
	if acct.MarginAvailable < acct.Balance*0.2 {
		e.log.Warn("low margin available at startup",
			zap.Float64("margin_available", acct.MarginAvailable),
			zap.Float64("balance", acct.Balance))
	}
	e.risk.SetBaseline(acct.Balance + acct.UnrealizedPL)
	e.mu.Lock()
	e.lastPrice = price
	e.lastAcct = acct
	e.mu.Unlock()
	e.log.Info("preflight passed",
		zap.Float64("balance", acct.Balance),
		zap.Float64("equity", acct.Equity),
		zap.String("mid", price.Mid.String()),
		zap.Float64("spread_pips", price.SpreadPips))
	return nil
}

// cycle runs one scheduler pass. A returned error is fatal; transient
// trouble is recorded and swallowed so the next tick retries.
func (e *Engine) cycle(ctx context.Context) error {
	e.metrics.Cycles.Inc()
	instrument := e.cfg.Trading.Instrument

	price, err := e.brk.Price(ctx, instrument, e.pipSize)
	if err != nil {
		return e.cycleFailure("pricing", err)
	}
	acct, err := e.brk.Account(ctx)
	if err != nil {
		return e.cycleFailure("account", err)
	}
	e.writer.EnqueueTick(timescale.Tick{
		Time:       time.Now().UTC(),
		Instrument: instrument,
		Bid:        mustFloat(price.Bid),
		Ask:        mustFloat(price.Ask),
		Mid:        mustFloat(price.Mid),
		SpreadPips: price.SpreadPips,
	})

	wasHalted := e.risk.State().Halted
	riskErr := e.risk.Check(acct)
	if riskErr != nil && !wasHalted {
		e.metrics.RiskHalts.Inc()
		e.setPhase(PhaseHalted)
		e.log.Error("risk halt", zap.Error(riskErr))
		if e.alerts != nil {
			e.alerts.NotifyHalt(ctx, instrument, riskErr.Error())
		}
	}
	halted := riskErr != nil
	if !halted && e.phaseIs(PhaseHalted) {
		// Operator resumed through the API between cycles.
		e.setPhase(PhaseRunning)
		e.log.Info("resuming after halt")
	}

	suppress := false
	if !halted {
		if err := e.risk.CheckSpread(price); err != nil {
			suppress = true
			e.metrics.SpreadSuppressed.Inc()
			e.log.Warn("placements suppressed this cycle", zap.Error(err))
		}
	}

	orders, err := e.brk.PendingOrders(ctx, instrument)
	if err != nil {
		return e.cycleFailure("pending orders", err)
	}
	trades, err := e.brk.OpenTrades(ctx, instrument)
	if err != nil {
		return e.cycleFailure("open trades", err)
	}

	syncSum := e.ledger.Sync(orders, trades)
	for i := 0; i < syncSum.Fills; i++ {
		e.metrics.Fills.Inc()
	}
	for i := 0; i < syncSum.CyclesClosed; i++ {
		e.metrics.CyclesClosed.Inc()
	}
	if e.alerts != nil {
		if syncSum.Fills > 0 {
			e.alerts.NotifyFill(ctx, instrument, syncSum.Fills)
		}
		if syncSum.CyclesClosed > 0 {
			e.alerts.NotifyCyclesClosed(ctx, instrument, syncSum.CyclesClosed)
		}
	}

	recSum := e.ledger.Reconcile(ctx, price.Mid, halted, suppress)
	for i := 0; i < recSum.Placed+recSum.OpposingPlaced; i++ {
		e.metrics.OrdersPlaced.Inc()
	}
	for i := 0; i < recSum.Canceled; i++ {
		e.metrics.OrdersCanceled.Inc()
	}
	for i := 0; i < recSum.Failed; i++ {
		e.metrics.OrdersFailed.Inc()
	}

	e.mu.Lock()
	e.lastPrice = price
	e.lastAcct = acct
	e.lastCycle = time.Now().UTC()
	e.cycleErr = ""
	e.mu.Unlock()

	e.persistCycle(ctx, price, acct, syncSum, recSum)
	return nil
}

// cycleFailure distinguishes fatal from transient errors. Bad credentials
// stop the engine; everything else skips the cycle.
func (e *Engine) cycleFailure(stage string, err error) error {
	if oanda.IsAuthError(err) {
		return fmt.Errorf("%s: %w", stage, err)
	}
	e.log.Warn("cycle skipped", zap.String("stage", stage), zap.Error(err))
	e.mu.Lock()
	e.cycleErr = fmt.Sprintf("%s: %v", stage, err)
	e.mu.Unlock()
	return nil
}

func (e *Engine) persistCycle(ctx context.Context, price broker.Price, acct broker.AccountSnapshot, syncSum, recSum ledger.Summary) {
	empty, pending, filled, cooldown := e.ledger.Counts()
	riskState := e.risk.State()

	e.writer.EnqueueCycle(timescale.CycleSnapshot{
		Time:           time.Now().UTC(),
		Instrument:     e.cfg.Trading.Instrument,
		Phase:          string(e.Phase()),
		Balance:        acct.Balance,
		Equity:         acct.Equity,
		UnrealizedPL:   acct.UnrealizedPL,
		MarginUsed:     acct.MarginUsed,
		OpenPositions:  acct.OpenPositionCount,
		SlotsEmpty:     empty,
		SlotsPending:   pending,
		SlotsFilled:    filled,
		SlotsCooldown:  cooldown,
		OrdersPlaced:   recSum.Placed + recSum.OpposingPlaced,
		OrdersCanceled: recSum.Canceled,
		CyclesClosed:   syncSum.CyclesClosed,
		Halted:         riskState.Halted,
	})

	snapshot := state.LadderSnapshot{
		Instrument:   e.cfg.Trading.Instrument,
		CurrentPrice: price.Mid.String(),
		Halted:       riskState.Halted,
		HaltReason:   riskState.Reason,
		UpdatedAtMS:  time.Now().UnixMilli(),
	}
	for _, slot := range e.ledger.Slots() {
		snapshot.Slots = append(snapshot.Slots, state.SlotSnapshot{
			Index:    slot.Index,
			Price:    slot.Price.String(),
			Side:     string(slot.Side),
			State:    string(slot.State),
			OrderID:  slot.OrderID,
			OpenedAt: slot.OpenedAt,
			FilledAt: slot.FilledAt,
		})
	}
	if err := state.SaveLadderSnapshot(ctx, e.store, snapshot); err != nil {
		e.log.Warn("ladder snapshot save failed", zap.Error(err))
	}
}

// Stop requests a cooperative shutdown. Resting orders stay on the broker.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Halt latches the risk controller; the next cycle cancels entry orders.
func (e *Engine) Halt(reason string) {
	e.risk.Halt(reason)
	e.setPhase(PhaseHalted)
}

// Resume clears an operator or risk halt.
func (e *Engine) Resume() bool {
	return e.risk.Resume()
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

func (e *Engine) phaseIs(p Phase) bool {
	return e.Phase() == p
}

// Status is the API's view of the engine.
type Status struct {
	Phase         Phase      `json:"phase"`
	Instrument    string     `json:"instrument"`
	Mid           string     `json:"mid,omitempty"`
	SpreadPips    float64    `json:"spread_pips"`
	Balance       float64    `json:"balance"`
	Equity        float64    `json:"equity"`
	UnrealizedPL  float64    `json:"unrealized_pl"`
	OpenPositions int        `json:"open_positions"`
	SlotsEmpty    int        `json:"slots_empty"`
	SlotsPending  int        `json:"slots_pending"`
	SlotsFilled   int        `json:"slots_filled"`
	SlotsCooldown int        `json:"slots_cooldown"`
	Risk          risk.State `json:"risk"`
	LastCycleAt   time.Time  `json:"last_cycle_at,omitempty"`
	LastCycleErr  string     `json:"last_cycle_error,omitempty"`
}

func (e *Engine) Status() Status {
	empty, pending, filled, cooldown := e.ledger.Counts()
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Phase:         e.phase,
		Instrument:    e.cfg.Trading.Instrument,
		SpreadPips:    e.lastPrice.SpreadPips,
		Balance:       e.lastAcct.Balance,
		Equity:        e.lastAcct.Equity,
		UnrealizedPL:  e.lastAcct.UnrealizedPL,
		OpenPositions: e.lastAcct.OpenPositionCount,
		SlotsEmpty:    empty,
		SlotsPending:  pending,
		SlotsFilled:   filled,
		SlotsCooldown: cooldown,
		Risk:          e.risk.State(),
		LastCycleAt:   e.lastCycle,
		LastCycleErr:  e.cycleErr,
	}
	if !e.lastPrice.Mid.IsZero() {
		st.Mid = e.lastPrice.Mid.String()
	}
	return st
}

// Slots exposes the ledger's ladder for the API.
func (e *Engine) Slots() []ledger.Slot {
	return e.ledger.Slots()
}

// RiskState exposes the controller's latched state for the API.
func (e *Engine) RiskState() risk.State {
	return e.risk.State()
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
