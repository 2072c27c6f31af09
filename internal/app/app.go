// Package app wires the bot together: config, store, broker client,
// executor, ledger, risk controller, engine, and the operator surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oanda-grid-bot/internal/alerts"
	"oanda-grid-bot/internal/api"
	"oanda-grid-bot/internal/config"
	"oanda-grid-bot/internal/engine"
	"oanda-grid-bot/internal/exec"
	"oanda-grid-bot/internal/grid"
	"oanda-grid-bot/internal/ledger"
	"oanda-grid-bot/internal/metrics"
	"oanda-grid-bot/internal/oanda"
	"oanda-grid-bot/internal/risk"
	"oanda-grid-bot/internal/state/sqlite"
	"oanda-grid-bot/internal/timescale"
)

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	client   *oanda.Client
	executor *exec.Executor
	risk     *risk.Controller
	planner  *grid.Planner
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	alerts   *alerts.Telegram
	writer   *timescale.Writer
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	token := strings.TrimSpace(cfg.OANDA.AccessToken)
	if token == "" {
		return nil, errors.New("OANDA_ACCESS_TOKEN is required")
	}
	accountID := strings.TrimSpace(cfg.OANDA.AccountID)
	if accountID == "" {
		return nil, errors.New("OANDA_ACCOUNT_ID is required")
	}

	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	planner, err := buildPlanner(cfg.Trading)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := oanda.New(cfg.OANDA.BaseURL, token, accountID, cfg.OANDA.Timeout, log)
	executor := exec.New(client, store, log)

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.EnabledValue() {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale init: %w", err)
	}

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		client:   client,
		executor: executor,
		risk:     risk.NewController(cfg.Risk, log),
		planner:  planner,
		metrics:  m,
		prom:     prom,
		alerts:   alerts.NewTelegram(cfg.Telegram, log),
		writer:   writer,
	}, nil
}

func buildPlanner(cfg config.TradingConfig) (*grid.Planner, error) {
	lower, err := decimal.NewFromString(cfg.LowerLevel)
	if err != nil {
		return nil, fmt.Errorf("trading.lower_level: %w", err)
	}
	upper, err := decimal.NewFromString(cfg.UpperLevel)
	if err != nil {
		return nil, fmt.Errorf("trading.upper_level: %w", err)
	}
	pipSize, err := decimal.NewFromString(cfg.PipSize)
	if err != nil {
		return nil, fmt.Errorf("trading.pip_size: %w", err)
	}
	return grid.NewPlanner(lower, upper, cfg.NumberOfGrids, pipSize, cfg.PricePrecision)
}

// Run fetches the current price, plans the ladder, and drives the engine
// until ctx is canceled or the engine stops.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.writer.Close()
	a.writer.Start(ctx)

	price, err := a.client.Price(ctx, a.cfg.Trading.Instrument, a.planner.PipSize())
	if err != nil {
		return fmt.Errorf("initial price: %w", err)
	}
	levels := a.planner.Levels(price.Mid)
	a.log.Info("grid planned",
		zap.String("instrument", a.cfg.Trading.Instrument),
		zap.Int("levels", len(levels)),
		zap.String("lower", a.planner.Lower().String()),
		zap.String("upper", a.planner.Upper().String()),
		zap.String("spacing", a.planner.Spacing().String()),
		zap.String("mid", price.Mid.String()))

	lgr := ledger.New(levels, a.planner.Spacing(), a.planner.Precision(),
		a.cfg.Trading.Instrument, a.cfg.Trading.UnitsPerTrade,
		a.cfg.Engine.RearmCooldown, a.executor, a.log)
	eng := engine.New(a.cfg, a.client, lgr, a.risk, a.metrics, a.alerts, a.store, a.writer, a.log)

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	if a.prom != nil {
		go a.serveMetrics(serveCtx)
	}
	if a.cfg.API.Enabled {
		server := api.NewServer(a.cfg.API, eng, a.log)
		go func() {
			if err := server.Start(serveCtx); err != nil {
				a.log.Error("api server failed", zap.Error(err))
			}
		}()
	}

	return eng.Run(ctx)
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics server listening",
		zap.String("address", a.cfg.Metrics.Address),
		zap.String("path", a.cfg.Metrics.Path))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.Error("metrics server failed", zap.Error(err))
	}
}

// Verify runs the preflight checks without trading: credentials, pricing,
// and whether the account can fund the configured ladder.
func (a *App) Verify(ctx context.Context) error {
	acct, err := a.client.Account(ctx)
	if err != nil {
		return fmt.Errorf("account check: %w", err)
	}
	if acct.Balance <= 0 {
		return errors.New("account has no balance")
	}
	price, err := a.client.Price(ctx, a.cfg.Trading.Instrument, a.planner.PipSize())
	if err != nil {
		return fmt.Errorf("pricing check: %w", err)
	}
	required := grid.RequiredCapital(a.cfg.Trading.UnitsPerTrade, a.planner.Count(), price.Mid, a.cfg.Trading.Leverage)
	if required > acct.MarginAvailable {
		return fmt.Errorf("required capital %.2f exceeds margin available %.2f", required, acct.MarginAvailable)
	}
	a.log.Info("verify passed",
		zap.Float64("balance", acct.Balance),
		zap.Float64("margin_available", acct.MarginAvailable),
		zap.Float64("required_capital", required),
		zap.String("mid", price.Mid.String()),
		zap.Float64("spread_pips", price.SpreadPips))
	return nil
}

// Report builds the profitability report for the configured grid at the
// current market price.
func (a *App) Report(ctx context.Context) (grid.Report, error) {
	price, err := a.client.Price(ctx, a.cfg.Trading.Instrument, a.planner.PipSize())
	if err != nil {
		return grid.Report{}, err
	}
	return a.planner.BuildReport(a.cfg.Trading.Instrument, price.Mid, price.SpreadPips,
		a.cfg.Trading.UnitsPerTrade, a.cfg.Trading.Leverage), nil
}
