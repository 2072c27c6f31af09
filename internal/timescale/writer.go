// Package timescale persists price ticks and cycle snapshots for offline
// analysis. Writes are queued and best-effort; a slow or absent database
// never stalls the trading loop.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"oanda-grid-bot/internal/config"
)

const writeTimeout = 3 * time.Second

type Tick struct {
	Time       time.Time
	Instrument string
	Bid        float64
	Ask        float64
	Mid        float64
	SpreadPips float64
}

type CycleSnapshot struct {
	Time           time.Time
	Instrument     string
	Phase          string
	Balance        float64
	Equity         float64
	UnrealizedPL   float64
	MarginUsed     float64
	OpenPositions  int
	SlotsEmpty     int
	SlotsPending   int
	SlotsFilled    int
	SlotsCooldown  int
	OrdersPlaced   int
	OrdersCanceled int
	CyclesClosed   int
	Halted         bool
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	ticks     chan Tick
	cycles    chan CycleSnapshot
	started   atomic.Bool
	dropTick  atomic.Uint64
	dropCycle atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		ticks:  make(chan Tick, queueSize),
		cycles: make(chan CycleSnapshot, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTick(tick Tick) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- tick:
		return
	default:
		if w.dropTick.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale tick queue full")
		}
	}
}

func (w *Writer) EnqueueCycle(snapshot CycleSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- snapshot:
		return
	default:
		if w.dropCycle.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-w.ticks:
			w.writeTick(ctx, tick)
		case snap := <-w.cycles:
			w.writeCycle(ctx, snap)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		bid DOUBLE PRECISION NOT NULL,
		ask DOUBLE PRECISION NOT NULL,
		mid DOUBLE PRECISION NOT NULL,
		spread_pips DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, instrument)
	)`, w.table("price_ticks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		phase TEXT NOT NULL,
		balance DOUBLE PRECISION NOT NULL,
		equity DOUBLE PRECISION NOT NULL,
		unrealized_pl DOUBLE PRECISION NOT NULL,
		margin_used DOUBLE PRECISION NOT NULL,
		open_positions INTEGER NOT NULL,
		slots_empty INTEGER NOT NULL,
		slots_pending INTEGER NOT NULL,
		slots_filled INTEGER NOT NULL,
		slots_cooldown INTEGER NOT NULL,
		orders_placed INTEGER NOT NULL,
		orders_canceled INTEGER NOT NULL,
		cycles_closed INTEGER NOT NULL,
		halted BOOLEAN NOT NULL
	)`, w.table("cycle_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("price_ticks"))); err != nil && w.log != nil {
		w.log.Warn("timescale price_ticks hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("cycle_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale cycle_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, tick Tick) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, bid, ask, mid, spread_pips
	) VALUES (
		$1,$2,$3,$4,$5,$6
	)
	ON CONFLICT (ts, instrument) DO UPDATE SET
		bid = EXCLUDED.bid,
		ask = EXCLUDED.ask,
		mid = EXCLUDED.mid,
		spread_pips = EXCLUDED.spread_pips`, w.table("price_ticks"))
	if _, err := w.db.ExecContext(ctx, query,
		tick.Time,
		tick.Instrument,
		tick.Bid,
		tick.Ask,
		tick.Mid,
		tick.SpreadPips,
	); err != nil && w.log != nil {
		w.log.Warn("timescale tick upsert failed", zap.Error(err))
	}
}

func (w *Writer) writeCycle(ctx context.Context, snap CycleSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, phase, balance, equity, unrealized_pl, margin_used, open_positions,
		slots_empty, slots_pending, slots_filled, slots_cooldown,
		orders_placed, orders_canceled, cycles_closed, halted
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	)`, w.table("cycle_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Instrument,
		snap.Phase,
		snap.Balance,
		snap.Equity,
		snap.UnrealizedPL,
		snap.MarginUsed,
		snap.OpenPositions,
		snap.SlotsEmpty,
		snap.SlotsPending,
		snap.SlotsFilled,
		snap.SlotsCooldown,
		snap.OrdersPlaced,
		snap.OrdersCanceled,
		snap.CyclesClosed,
		snap.Halted,
	); err != nil && w.log != nil {
		w.log.Warn("timescale cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
