// Package exec wraps the order gateway with bounded retries and an
// idempotency cache keyed by client order id, so a crash between placement
// and acknowledgement cannot double an order on restart.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"oanda-grid-bot/internal/broker"
	"oanda-grid-bot/internal/oanda"
	"oanda-grid-bot/internal/state"
)

// Gateway is the slice of the broker client the executor drives.
type Gateway interface {
	PlaceLimitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type Executor struct {
	gateway Gateway
	store   state.Store
	log     *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

func New(gateway Gateway, store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		gateway: gateway,
		store:   store,
		log:     log,
		cache:   make(map[string]string),
	}
}

// PlaceLimitOrder places a LIMIT order at most once per client order id.
// Placements without a client order id skip the cache entirely.
func (e *Executor) PlaceLimitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	if req.ClientOrderID == "" {
		return e.placeWithRetry(ctx, req)
	}
	cacheKey := "cloid:" + req.ClientOrderID
	if oid, ok := e.cachedOrderID(ctx, cacheKey); ok {
		order := broker.Order{
			ID:            oid,
			ClientOrderID: req.ClientOrderID,
			Instrument:    req.Instrument,
			Side:          req.Side,
			Price:         req.Price,
			Units:         req.Units,
			State:         broker.OrderPending,
		}
		return order, nil
	}
	order, err := e.placeWithRetry(ctx, req)
	if err != nil {
		return broker.Order{}, err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, order.ID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = order.ID
	e.mu.Unlock()
	return order, nil
}

func (e *Executor) CancelOrder(ctx context.Context, orderID string) error {
	return e.retry(ctx, func() error {
		return e.gateway.CancelOrder(ctx, orderID)
	})
}

func (e *Executor) cachedOrderID(ctx context.Context, cacheKey string) (string, bool) {
	e.mu.Lock()
	if oid, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return oid, true
	}
	e.mu.Unlock()
	if e.store == nil {
		return "", false
	}
	oid, ok, err := e.store.Get(ctx, cacheKey)
	if err != nil {
		e.log.Warn("idempotency cache read failed", zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	e.mu.Lock()
	e.cache[cacheKey] = oid
	e.mu.Unlock()
	return oid, true
}

func (e *Executor) placeWithRetry(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	var order broker.Order
	err := e.retry(ctx, func() error {
		var err error
		order, err = e.gateway.PlaceLimitOrder(ctx, req)
		return err
	})
	if err != nil {
		return broker.Order{}, err
	}
	if order.ID == "" {
		return broker.Order{}, errors.New("empty order id")
	}
	return order, nil
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 5; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		// Bad credentials never heal with a retry.
		if oanda.IsAuthError(err) {
			return err
		}
		if attempt == 4 {
			return fmt.Errorf("retry failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
