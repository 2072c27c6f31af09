// Package oanda implements the v20 REST surface the bot needs: pricing,
// account summary, pending orders, open trades, and LIMIT order
// placement/cancellation.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oanda-grid-bot/internal/broker"
	"oanda-grid-bot/internal/grid"
)

type Client struct {
	baseURL   string
	accountID string
	token     string
	http      *http.Client
	log       *zap.Logger
}

func New(baseURL, token, accountID string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: accountID,
		token:     token,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Account fetches the account summary used by the risk controller and the
// preflight health check.
func (c *Client) Account(ctx context.Context) (broker.AccountSnapshot, error) {
	var resp accountSummaryResponse
	path := fmt.Sprintf("/v3/accounts/%s/summary", c.accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return broker.AccountSnapshot{}, err
	}
	snap := broker.AccountSnapshot{
		Balance:           parseFloat(resp.Account.Balance),
		Equity:            parseFloat(resp.Account.NAV),
		UnrealizedPL:      parseFloat(resp.Account.UnrealizedPL),
		MarginUsed:        parseFloat(resp.Account.MarginUsed),
		MarginAvailable:   parseFloat(resp.Account.MarginAvailable),
		OpenPositionCount: resp.Account.OpenTradeCount,
		Time:              time.Now().UTC(),
	}
	return snap, nil
}

// Price fetches the current bid/ask for one instrument. pipSize converts the
// raw spread into pips for the risk controller's spread gate.
func (c *Client) Price(ctx context.Context, instrument string, pipSize decimal.Decimal) (broker.Price, error) {
	var resp pricingResponse
	path := fmt.Sprintf("/v3/accounts/%s/pricing?instruments=%s", c.accountID, url.QueryEscape(instrument))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return broker.Price{}, err
	}
	for _, p := range resp.Prices {
		if p.Instrument != instrument || len(p.Bids) == 0 || len(p.Asks) == 0 {
			continue
		}
		bid, err := decimal.NewFromString(p.Bids[0].Price)
		if err != nil {
			return broker.Price{}, fmt.Errorf("oanda: bad bid %q: %w", p.Bids[0].Price, err)
		}
		ask, err := decimal.NewFromString(p.Asks[0].Price)
		if err != nil {
			return broker.Price{}, fmt.Errorf("oanda: bad ask %q: %w", p.Asks[0].Price, err)
		}
		price := broker.Price{
			Instrument: instrument,
			Bid:        bid,
			Ask:        ask,
			Mid:        bid.Add(ask).Div(decimal.NewFromInt(2)),
			Time:       parseTime(p.Time),
		}
		if pipSize.IsPositive() {
			price.SpreadPips, _ = ask.Sub(bid).Div(pipSize).Float64()
		}
		return price, nil
	}
	return broker.Price{}, fmt.Errorf("oanda: no pricing returned for %s", instrument)
}

// PlaceLimitOrder submits a GTC LIMIT order. Sell orders use negative units
// per the v20 convention. The client order id rides along as a client
// extension and survives onto the resulting trade.
func (c *Client) PlaceLimitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	units := strconv.Itoa(req.Units)
	if req.Side == grid.SideSell {
		units = "-" + units
	}
	body := orderCreateRequest{
		Order: limitOrder{
			Type:         "LIMIT",
			Instrument:   req.Instrument,
			Units:        units,
			Price:        req.Price.String(),
			TimeInForce:  "GTC",
			PositionFill: "DEFAULT",
		},
	}
	if req.ClientOrderID != "" {
		body.Order.ClientExtensions = &clientExtensions{ID: req.ClientOrderID}
	}
	var resp orderCreateResponse
	path := fmt.Sprintf("/v3/accounts/%s/orders", c.accountID)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return broker.Order{}, err
	}
	if resp.OrderCancelTransaction != nil {
		return broker.Order{}, fmt.Errorf("oanda: order rejected: %s", resp.OrderCancelTransaction.Reason)
	}
	order := broker.Order{
		ID:            resp.OrderCreateTransaction.ID,
		ClientOrderID: req.ClientOrderID,
		Instrument:    req.Instrument,
		Side:          req.Side,
		Price:         req.Price,
		Units:         req.Units,
		State:         broker.OrderPending,
		CreatedAt:     parseTime(resp.OrderCreateTransaction.Time),
	}
	if resp.OrderFillTransaction != nil {
		order.State = broker.OrderFilled
	}
	return order, nil
}

// PendingOrders lists resting LIMIT orders for the configured instrument.
func (c *Client) PendingOrders(ctx context.Context, instrument string) ([]broker.Order, error) {
	var resp pendingOrdersResponse
	path := fmt.Sprintf("/v3/accounts/%s/pendingOrders", c.accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	orders := make([]broker.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		if o.Type != "LIMIT" || o.Instrument != instrument {
			continue
		}
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			c.log.Warn("skipping order with bad price", zap.String("order_id", o.ID), zap.String("price", o.Price))
			continue
		}
		units, side := parseUnits(o.Units)
		order := broker.Order{
			ID:         o.ID,
			Instrument: o.Instrument,
			Side:       side,
			Price:      price,
			Units:      units,
			State:      broker.OrderPending,
			CreatedAt:  parseTime(o.CreateTime),
		}
		if o.ClientExtensions != nil {
			order.ClientOrderID = o.ClientExtensions.ID
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// OpenTrades lists open positions for the configured instrument.
func (c *Client) OpenTrades(ctx context.Context, instrument string) ([]broker.Position, error) {
	var resp openTradesResponse
	path := fmt.Sprintf("/v3/accounts/%s/openTrades", c.accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	positions := make([]broker.Position, 0, len(resp.Trades))
	for _, tr := range resp.Trades {
		if tr.Instrument != instrument {
			continue
		}
		price, err := decimal.NewFromString(tr.Price)
		if err != nil {
			c.log.Warn("skipping trade with bad price", zap.String("trade_id", tr.ID), zap.String("price", tr.Price))
			continue
		}
		units, side := parseUnits(tr.CurrentUnits)
		pos := broker.Position{
			ID:           tr.ID,
			Instrument:   tr.Instrument,
			Side:         side,
			Units:        units,
			EntryPrice:   price,
			UnrealizedPL: parseFloat(tr.UnrealizedPL),
			OpenedAt:     parseTime(tr.OpenTime),
		}
		if tr.ClientExtensions != nil {
			pos.ClientOrderID = tr.ClientExtensions.ID
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// CancelOrder cancels a pending order by broker id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/v3/accounts/%s/orders/%s/cancel", c.accountID, url.PathEscape(orderID))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.ErrorMessage != "" {
			apiErr.Code = eb.ErrorCode
			apiErr.Message = eb.ErrorMessage
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseUnits(raw string) (int, grid.Side) {
	units, _ := strconv.Atoi(raw)
	if units < 0 {
		return -units, grid.SideSell
	}
	return units, grid.SideBuy
}

func parseFloat(raw string) float64 {
	f, _ := strconv.ParseFloat(raw, 64)
	return f
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
