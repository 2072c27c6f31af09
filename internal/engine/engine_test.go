package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oanda-grid-bot/internal/broker"
	"oanda-grid-bot/internal/config"
	"oanda-grid-bot/internal/grid"
	"oanda-grid-bot/internal/ledger"
	"oanda-grid-bot/internal/metrics"
	"oanda-grid-bot/internal/oanda"
	"oanda-grid-bot/internal/risk"
)

type fakeBroker struct {
	mu       sync.Mutex
	price    broker.Price
	acct     broker.AccountSnapshot
	orders   []broker.Order
	trades   []broker.Position
	priceErr error
	acctErr  error
}

func (f *fakeBroker) Account(ctx context.Context) (broker.AccountSnapshot, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acctErr != nil {
		return broker.AccountSnapshot{}, f.acctErr
	}
	return f.acct, nil
}

func (f *fakeBroker) Price(ctx context.Context, instrument string, pipSize decimal.Decimal) (broker.Price, error) {
	_, _, _ = ctx, instrument, pipSize
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return broker.Price{}, f.priceErr
	}
	return f.price, nil
}

func (f *fakeBroker) PendingOrders(ctx context.Context, instrument string) ([]broker.Order, error) {
	_, _ = ctx, instrument
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders, nil
}

func (f *fakeBroker) OpenTrades(ctx context.Context, instrument string) ([]broker.Position, error) {
	_, _ = ctx, instrument
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades, nil
}

type fakeExec struct {
	mu       sync.Mutex
	placed   []broker.OrderRequest
	canceled []string
	nextID   int
}

func (f *fakeExec) PlaceLimitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.placed = append(f.placed, req)
	return broker.Order{ID: "oid-" + strconv.Itoa(f.nextID), ClientOrderID: req.ClientOrderID, Price: req.Price, Side: req.Side, Units: req.Units, State: broker.OrderPending}, nil
}

func (f *fakeExec) CancelOrder(ctx context.Context, orderID string) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	return nil
}

func testEngineConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			Instrument:     "EUR_USD",
			LowerLevel:     "1.07",
			UpperLevel:     "1.09",
			NumberOfGrids:  5,
			UnitsPerTrade:  1000,
			PipSize:        "0.0001",
			PricePrecision: 5,
		},
		Risk: config.RiskConfig{
			MaxLossUSD:       50,
			MaxOpenPositions: 10,
			MaxMarginRatio:   0.5,
			MaxSpreadPips:    2.0,
		},
		Engine: config.EngineConfig{CheckInterval: time.Second},
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(t *testing.T, brk *fakeBroker) (*Engine, *fakeExec, *risk.Controller) {
	t.Helper()
	cfg := testEngineConfig()
	levels, err := grid.ComputeLevels(dec(cfg.Trading.LowerLevel), dec(cfg.Trading.UpperLevel),
		cfg.Trading.NumberOfGrids, dec("1.08"), dec(cfg.Trading.PipSize), cfg.Trading.PricePrecision)
	if err != nil {
		t.Fatalf("compute levels: %v", err)
	}
	exec := &fakeExec{}
	lgr := ledger.New(levels, dec("0.005"), cfg.Trading.PricePrecision, cfg.Trading.Instrument,
		cfg.Trading.UnitsPerTrade, 0, exec, zap.NewNop())
	ctrl := risk.NewController(cfg.Risk, zap.NewNop())
	eng := New(cfg, brk, lgr, ctrl, metrics.NewNoop(), nil, nil, nil, zap.NewNop())
	return eng, exec, ctrl
}

func healthyBroker() *fakeBroker {
	return &fakeBroker{
		price: broker.Price{
			Instrument: "EUR_USD",
			Bid:        dec("1.07995"),
			Ask:        dec("1.08005"),
			Mid:        dec("1.08"),
			SpreadPips: 1.0,
		},
		acct: broker.AccountSnapshot{Balance: 10000, Equity: 10000, MarginAvailable: 9000},
	}
}

func TestPreflightFailsWithoutAccount(t *testing.T) {
	brk := healthyBroker()
	brk.acctErr = errors.New("connection refused")
	eng, _, _ := newTestEngine(t, brk)

	err := eng.Run(context.Background())
	if err == nil {
		t.Fatalf("expected preflight error")
	}
	if eng.Phase() != PhaseStopped {
		t.Fatalf("expected stopped phase, got %s", eng.Phase())
	}
}

func TestPreflightRejectsExhaustedMargin(t *testing.T) {
	brk := healthyBroker()
	brk.acct.MarginAvailable = 0
	eng, _, _ := newTestEngine(t, brk)

	if err := eng.preflight(context.Background()); err == nil {
		t.Fatalf("expected preflight to fail with no margin available")
	}
}

func TestCycleArmsLadder(t *testing.T) {
	brk := healthyBroker()
	eng, exec, _ := newTestEngine(t, brk)

	if err := eng.preflight(context.Background()); err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if err := eng.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(exec.placed) == 0 {
		t.Fatalf("expected ladder to be armed")
	}
	status := eng.Status()
	if status.SlotsPending != len(exec.placed) {
		t.Fatalf("expected %d pending slots, got %d", len(exec.placed), status.SlotsPending)
	}
	if status.Mid != "1.08" {
		t.Fatalf("unexpected mid %q", status.Mid)
	}
}

func TestRiskHaltCancelsEntries(t *testing.T) {
	brk := healthyBroker()
	eng, exec, _ := newTestEngine(t, brk)
	ctx := context.Background()

	if err := eng.preflight(ctx); err != nil {
		t.Fatalf("preflight: %v", err)
	}
	eng.setPhase(PhaseRunning)
	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	armed := len(exec.placed)

	// Broker reports the resting orders back, then the account blows
	// through the loss limit.
	brk.mu.Lock()
	for _, req := range exec.placed {
		brk.orders = append(brk.orders, broker.Order{
			ID:            "oid-" + req.ClientOrderID,
			ClientOrderID: req.ClientOrderID,
			Side:          req.Side,
			Price:         req.Price,
			State:         broker.OrderPending,
		})
	}
	brk.acct = broker.AccountSnapshot{Balance: 10000, Equity: 9949, UnrealizedPL: -51}
	brk.mu.Unlock()

	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if eng.Phase() != PhaseHalted {
		t.Fatalf("expected halted phase, got %s", eng.Phase())
	}
	if len(exec.canceled) != armed {
		t.Fatalf("expected %d cancels, got %d", armed, len(exec.canceled))
	}
	if !eng.RiskState().Halted {
		t.Fatalf("expected latched risk state")
	}
}

func TestWideSpreadSuppressesPlacements(t *testing.T) {
	brk := healthyBroker()
	brk.price.SpreadPips = 3.5
	eng, exec, _ := newTestEngine(t, brk)
	ctx := context.Background()

	if err := eng.preflight(ctx); err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(exec.placed) != 0 {
		t.Fatalf("expected no placements with wide spread, got %d", len(exec.placed))
	}
	if eng.Phase() == PhaseHalted {
		t.Fatalf("spread must not halt the engine")
	}

	// Spread normalizes: next cycle arms the ladder.
	brk.mu.Lock()
	brk.price.SpreadPips = 1.0
	brk.mu.Unlock()
	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(exec.placed) == 0 {
		t.Fatalf("expected placements after spread narrowed")
	}
}

func TestTransientErrorSkipsCycle(t *testing.T) {
	brk := healthyBroker()
	eng, exec, _ := newTestEngine(t, brk)
	ctx := context.Background()

	if err := eng.preflight(ctx); err != nil {
		t.Fatalf("preflight: %v", err)
	}
	brk.mu.Lock()
	brk.priceErr = errors.New("gateway timeout")
	brk.mu.Unlock()

	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("transient error must not be fatal: %v", err)
	}
	if len(exec.placed) != 0 {
		t.Fatalf("expected skipped cycle to place nothing")
	}
	if eng.Status().LastCycleErr == "" {
		t.Fatalf("expected cycle error to be recorded")
	}
}

func TestAuthErrorIsFatal(t *testing.T) {
	brk := healthyBroker()
	eng, _, _ := newTestEngine(t, brk)
	ctx := context.Background()

	if err := eng.preflight(ctx); err != nil {
		t.Fatalf("preflight: %v", err)
	}
	brk.mu.Lock()
	brk.priceErr = &oanda.APIError{Status: 401, Message: "bad token"}
	brk.mu.Unlock()

	if err := eng.cycle(ctx); err == nil {
		t.Fatalf("expected fatal auth error")
	}
}

func TestStopEndsRun(t *testing.T) {
	brk := healthyBroker()
	eng, _, _ := newTestEngine(t, brk)

	done := make(chan error, 1)
	go func() { done <- eng.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	eng.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("engine did not stop")
	}
	if eng.Phase() != PhaseStopped {
		t.Fatalf("expected stopped phase, got %s", eng.Phase())
	}
}

func TestManualHaltThenResume(t *testing.T) {
	brk := healthyBroker()
	eng, _, ctrl := newTestEngine(t, brk)
	ctx := context.Background()

	if err := eng.preflight(ctx); err != nil {
		t.Fatalf("preflight: %v", err)
	}
	eng.Halt("maintenance")
	if eng.Phase() != PhaseHalted {
		t.Fatalf("expected halted phase")
	}
	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !eng.Resume() {
		t.Fatalf("expected resume to succeed")
	}
	if ctrl.State().Halted {
		t.Fatalf("expected cleared risk state")
	}
	if err := eng.cycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if eng.Phase() != PhaseRunning {
		t.Fatalf("expected running phase after resume, got %s", eng.Phase())
	}
}
