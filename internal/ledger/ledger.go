// Package ledger tracks one slot per grid level and reconciles the ladder
// against the broker every cycle. The broker is the source of truth; the
// ledger is an advisory cache that is rebuilt from pending orders and open
// trades before it decides anything.
//
// The per-slot cooldown is a timed re-arm delay after a completed cycle,
// nothing more. It expires on its own and is unrelated to a risk halt,
// which latches in the risk controller until an operator resumes.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oanda-grid-bot/internal/broker"
	"oanda-grid-bot/internal/grid"
)

type SlotState string

const (
	SlotEmpty    SlotState = "EMPTY"
	SlotPending  SlotState = "PENDING_ORDER"
	SlotFilled   SlotState = "FILLED"
	SlotCooldown SlotState = "COOLDOWN"
)

// Slot is the ledger's record for one grid level. Identity is the level's
// price, not any broker order id: orders come and go, the level does not.
type Slot struct {
	Index int
	Price decimal.Decimal
	Side  grid.Side
	State SlotState

	OrderID         string
	ClientOrderID   string
	TradeID         string
	OpposingOrderID string
	OpposingCloID   string
	OpposingPrice   decimal.Decimal

	OpenedAt      time.Time
	FilledAt      time.Time
	CooldownUntil time.Time
}

// OrderExecutor is the slice of the executor the ledger drives.
type OrderExecutor interface {
	PlaceLimitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Summary reports what one reconcile pass did.
type Summary struct {
	Placed         int
	OpposingPlaced int
	Canceled       int
	Fills          int
	CyclesClosed   int
	Failed         int
	Suppressed     int
}

type Ledger struct {
	instrument string
	units      int
	spacing    decimal.Decimal
	precision  int32
	cooldown   time.Duration
	exec       OrderExecutor
	log        *zap.Logger
	now        func() time.Time

	// mu guards the slots. The scheduler mutates them each cycle while the
	// operator API reads them from its own goroutine.
	mu    sync.Mutex
	slots []*Slot
}

func New(levels []grid.Level, spacing decimal.Decimal, precision int32, instrument string, units int, cooldown time.Duration, exec OrderExecutor, log *zap.Logger) *Ledger {
	l := &Ledger{
		instrument: instrument,
		units:      units,
		spacing:    spacing,
		precision:  precision,
		cooldown:   cooldown,
		exec:       exec,
		log:        log,
		now:        time.Now,
	}
	seen := make(map[string]int)
	for _, level := range levels {
		key := level.Price.String()
		if prev, ok := seen[key]; ok {
			// Rounding collapsed two levels onto one price. The lower
			// index keeps the slot; arming both would double the order.
			log.Warn("dropping level with duplicate rounded price",
				zap.Int("index", level.Index),
				zap.Int("kept_index", prev),
				zap.String("price", key))
			continue
		}
		seen[key] = level.Index
		l.slots = append(l.slots, &Slot{
			Index: level.Index,
			Price: level.Price,
			Side:  level.Side,
			State: SlotEmpty,
		})
	}
	return l
}

// ClientOrderID returns the stable entry order id for a slot. It encodes the
// level index and price so a restarted bot derives the same id.
func (l *Ledger) ClientOrderID(slot *Slot) string {
	return fmt.Sprintf("grid-%d-%s", slot.Index, priceTag(slot.Price))
}

func (l *Ledger) opposingClientOrderID(slot *Slot, cycle string) string {
	return fmt.Sprintf("tp-%d-%s-%s", slot.Index, priceTag(slot.Price), cycle)
}

func priceTag(p decimal.Decimal) string {
	return strings.ReplaceAll(p.String(), ".", "")
}

// Sync rebuilds slot states from the broker's pending orders and open
// trades. Matching is by client order id first, then by exact price for
// orders placed outside the bot's id scheme.
func (l *Ledger) Sync(orders []broker.Order, trades []broker.Position) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum Summary

	ordersByCloID := make(map[string]broker.Order, len(orders))
	ordersByPrice := make(map[string]broker.Order, len(orders))
	for _, o := range orders {
		if o.ClientOrderID != "" {
			ordersByCloID[o.ClientOrderID] = o
		}
		ordersByPrice[o.Price.String()] = o
	}
	tradesByCloID := make(map[string]broker.Position, len(trades))
	tradesByPrice := make(map[string]broker.Position, len(trades))
	for _, tr := range trades {
		if tr.ClientOrderID != "" {
			tradesByCloID[tr.ClientOrderID] = tr
		}
		tradesByPrice[tr.EntryPrice.String()] = tr
	}

	for _, slot := range l.slots {
		entryID := l.ClientOrderID(slot)

		if order, ok := l.matchOrder(ordersByCloID, ordersByPrice, entryID, slot); ok {
			if slot.State != SlotPending {
				if !order.CreatedAt.IsZero() {
					slot.OpenedAt = order.CreatedAt
				} else {
					slot.OpenedAt = l.now()
				}
				l.log.Info("slot armed",
					zap.Int("index", slot.Index),
					zap.String("price", slot.Price.String()),
					zap.String("order_id", order.ID))
			}
			slot.State = SlotPending
			slot.OrderID = order.ID
			slot.ClientOrderID = entryID
			continue
		}

		if trade, ok := l.matchTrade(tradesByCloID, tradesByPrice, entryID, slot); ok {
			if slot.State != SlotFilled {
				sum.Fills++
				slot.FilledAt = l.now()
				l.log.Info("slot filled",
					zap.Int("index", slot.Index),
					zap.String("price", slot.Price.String()),
					zap.String("trade_id", trade.ID))
			}
			slot.State = SlotFilled
			slot.TradeID = trade.ID
			slot.OrderID = ""
			// The opposing order may have been filled or pulled while we
			// were away; forget it if the broker no longer lists it.
			if slot.OpposingOrderID != "" {
				if _, ok := hasOrder(orders, slot.OpposingOrderID); !ok {
					slot.OpposingOrderID = ""
					slot.OpposingCloID = ""
				}
			}
			continue
		}

		switch slot.State {
		case SlotFilled:
			// Trade is gone: the opposing order closed it. Cycle complete.
			sum.CyclesClosed++
			l.log.Info("grid cycle closed",
				zap.Int("index", slot.Index),
				zap.String("price", slot.Price.String()))
			l.clearSlot(slot)
			if l.cooldown > 0 {
				slot.State = SlotCooldown
				slot.CooldownUntil = l.now().Add(l.cooldown)
			}
		case SlotPending:
			// Order vanished without a trade: canceled out-of-band.
			l.log.Warn("pending order disappeared, re-arming slot",
				zap.Int("index", slot.Index),
				zap.String("price", slot.Price.String()))
			l.clearSlot(slot)
		}
	}
	return sum
}

func (l *Ledger) matchOrder(byCloID, byPrice map[string]broker.Order, entryID string, slot *Slot) (broker.Order, bool) {
	if order, ok := byCloID[entryID]; ok {
		return order, true
	}
	if order, ok := byPrice[slot.Price.String()]; ok && order.ClientOrderID == "" && order.Side == slot.Side {
		return order, true
	}
	return broker.Order{}, false
}

func (l *Ledger) matchTrade(byCloID, byPrice map[string]broker.Position, entryID string, slot *Slot) (broker.Position, bool) {
	if trade, ok := byCloID[entryID]; ok {
		return trade, true
	}
	if trade, ok := byPrice[slot.Price.String()]; ok && trade.ClientOrderID == "" && trade.Side == slot.Side {
		return trade, true
	}
	return broker.Position{}, false
}

func hasOrder(orders []broker.Order, id string) (broker.Order, bool) {
	for _, o := range orders {
		if o.ID == id {
			return o, true
		}
	}
	return broker.Order{}, false
}

func (l *Ledger) clearSlot(slot *Slot) {
	slot.State = SlotEmpty
	slot.OrderID = ""
	slot.ClientOrderID = ""
	slot.TradeID = ""
	slot.OpposingOrderID = ""
	slot.OpposingCloID = ""
	slot.OpposingPrice = decimal.Decimal{}
	slot.OpenedAt = time.Time{}
	slot.FilledAt = time.Time{}
	slot.CooldownUntil = time.Time{}
}

// Reconcile arms empty slots, places opposing orders for fills, and expires
// cooldowns. When cancelOnly is set it pulls every pending entry order and
// places nothing; opposing orders stay, since they only reduce exposure.
// When suppress is set (wide spread) no new orders go out this cycle but
// nothing is canceled. Failed calls leave the slot unchanged so the next
// cycle retries.
func (l *Ledger) Reconcile(ctx context.Context, current decimal.Decimal, cancelOnly, suppress bool) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum Summary
	now := l.now()

	for _, slot := range l.slots {
		if slot.State == SlotCooldown && !now.Before(slot.CooldownUntil) {
			l.clearSlot(slot)
		}

		if cancelOnly {
			if slot.State == SlotPending && slot.OrderID != "" {
				if err := l.exec.CancelOrder(ctx, slot.OrderID); err != nil {
					sum.Failed++
					l.log.Error("cancel failed", zap.String("order_id", slot.OrderID), zap.Error(err))
					continue
				}
				sum.Canceled++
				l.clearSlot(slot)
			}
			continue
		}

		switch slot.State {
		case SlotEmpty:
			if suppress {
				sum.Suppressed++
				continue
			}
			if crossesMarket(slot, current) {
				continue
			}
			req := broker.OrderRequest{
				Instrument:    l.instrument,
				Side:          slot.Side,
				Price:         slot.Price,
				Units:         l.units,
				ClientOrderID: l.ClientOrderID(slot),
			}
			order, err := l.exec.PlaceLimitOrder(ctx, req)
			if err != nil {
				sum.Failed++
				l.log.Error("order placement failed",
					zap.Int("index", slot.Index),
					zap.String("price", slot.Price.String()),
					zap.Error(err))
				continue
			}
			slot.State = SlotPending
			slot.OrderID = order.ID
			slot.ClientOrderID = req.ClientOrderID
			slot.OpenedAt = now
			sum.Placed++

		case SlotFilled:
			if slot.OpposingOrderID != "" {
				continue
			}
			if suppress {
				sum.Suppressed++
				continue
			}
			opposing := l.opposingRequest(slot)
			order, err := l.exec.PlaceLimitOrder(ctx, opposing)
			if err != nil {
				sum.Failed++
				l.log.Error("opposing order placement failed",
					zap.Int("index", slot.Index),
					zap.String("price", opposing.Price.String()),
					zap.Error(err))
				continue
			}
			slot.OpposingOrderID = order.ID
			slot.OpposingCloID = opposing.ClientOrderID
			slot.OpposingPrice = opposing.Price
			sum.OpposingPlaced++
			l.log.Info("opposing order placed",
				zap.Int("index", slot.Index),
				zap.String("entry", slot.Price.String()),
				zap.String("exit", opposing.Price.String()))
		}
	}
	return sum
}

// opposingRequest builds the take-profit order one spacing away from the
// entry, on the opposite side. The trade id keys the client order id so each
// fill gets exactly one opposing order.
func (l *Ledger) opposingRequest(slot *Slot) broker.OrderRequest {
	var price decimal.Decimal
	if slot.Side == grid.SideBuy {
		price = slot.Price.Add(l.spacing)
	} else {
		price = slot.Price.Sub(l.spacing)
	}
	price = price.Round(l.precision)
	return broker.OrderRequest{
		Instrument:    l.instrument,
		Side:          slot.Side.Opposite(),
		Price:         price,
		Units:         l.units,
		ClientOrderID: l.opposingClientOrderID(slot, slot.TradeID),
	}
}

// crossesMarket reports whether arming the slot now would execute
// immediately instead of resting: a buy at or above the market, or a sell at
// or below it.
func crossesMarket(slot *Slot, current decimal.Decimal) bool {
	if current.IsZero() {
		return false
	}
	if slot.Side == grid.SideBuy {
		return slot.Price.GreaterThanOrEqual(current)
	}
	return slot.Price.LessThanOrEqual(current)
}

// CancelAll pulls every tracked order, entry and opposing alike. Used on
// halt escalation, never on normal shutdown.
func (l *Ledger) CancelAll(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	canceled := 0
	var firstErr error
	for _, slot := range l.slots {
		for _, id := range []string{slot.OrderID, slot.OpposingOrderID} {
			if id == "" {
				continue
			}
			if err := l.exec.CancelOrder(ctx, id); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			canceled++
		}
		if slot.State == SlotPending {
			l.clearSlot(slot)
		} else {
			slot.OpposingOrderID = ""
			slot.OpposingCloID = ""
		}
	}
	return canceled, firstErr
}

// Slots returns a copy of the ladder for status reporting.
func (l *Ledger) Slots() []Slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Slot, len(l.slots))
	for i, slot := range l.slots {
		out[i] = *slot
	}
	return out
}

// Counts returns slot totals by state.
func (l *Ledger) Counts() (empty, pending, filled, cooldown int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, slot := range l.slots {
		switch slot.State {
		case SlotEmpty:
			empty++
		case SlotPending:
			pending++
		case SlotFilled:
			filled++
		case SlotCooldown:
			cooldown++
		}
	}
	return
}
