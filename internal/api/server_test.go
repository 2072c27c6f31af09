package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oanda-grid-bot/internal/config"
	"oanda-grid-bot/internal/engine"
	"oanda-grid-bot/internal/grid"
	"oanda-grid-bot/internal/ledger"
	"oanda-grid-bot/internal/risk"
)

type fakeController struct {
	status  engine.Status
	slots   []ledger.Slot
	risk    risk.State
	halts   []string
	resumed bool
	stopped bool
}

func (f *fakeController) Status() engine.Status { return f.status }
func (f *fakeController) Slots() []ledger.Slot  { return f.slots }
func (f *fakeController) RiskState() risk.State { return f.risk }
func (f *fakeController) Halt(reason string)    { f.halts = append(f.halts, reason) }
func (f *fakeController) Resume() bool          { return f.resumed }
func (f *fakeController) Stop()                 { f.stopped = true }

func newTestServer(ctrl *fakeController) *Server {
	cfg := config.APIConfig{Enabled: true, Address: "127.0.0.1:0", Key: "secret"}
	return NewServer(cfg, ctrl, zap.NewNop())
}

func doRequest(s *Server, method, path, key string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoKey(t *testing.T) {
	s := newTestServer(&fakeController{})
	rec := doRequest(s, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusRequiresKey(t *testing.T) {
	ctrl := &fakeController{status: engine.Status{Phase: engine.PhaseRunning, Instrument: "EUR_USD"}}
	s := newTestServer(ctrl)

	rec := doRequest(s, http.MethodGet, "/api/status", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	rec = doRequest(s, http.MethodGet, "/api/status", "wrong", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/api/status", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got engine.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got.Phase != engine.PhaseRunning || got.Instrument != "EUR_USD" {
		t.Fatalf("unexpected status: %#v", got)
	}
}

func TestSlotsEndpoint(t *testing.T) {
	armed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctrl := &fakeController{slots: []ledger.Slot{
		{Index: 0, Price: decimal.RequireFromString("1.07"), Side: grid.SideBuy, State: ledger.SlotPending, OrderID: "11", OpenedAt: armed},
		{Index: 1, Price: decimal.RequireFromString("1.09"), Side: grid.SideSell, State: ledger.SlotEmpty},
	}}
	s := newTestServer(ctrl)

	rec := doRequest(s, http.MethodGet, "/api/slots", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []slotView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode slots: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(views))
	}
	if views[0].Price != "1.07" || views[0].State != "PENDING_ORDER" || views[0].OrderID != "11" {
		t.Fatalf("unexpected slot view: %#v", views[0])
	}
	if views[0].OpenedAt == nil || !views[0].OpenedAt.Equal(armed) {
		t.Fatalf("expected opened-at %v, got %v", armed, views[0].OpenedAt)
	}
	if views[1].OpenedAt != nil {
		t.Fatalf("empty slot must not report opened-at, got %v", views[1].OpenedAt)
	}
}

func TestHaltEndpoint(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	rec := doRequest(s, http.MethodPost, "/api/halt", "secret", `{"reason":"drill"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(ctrl.halts) != 1 || ctrl.halts[0] != "drill" {
		t.Fatalf("unexpected halts: %v", ctrl.halts)
	}

	rec = doRequest(s, http.MethodPost, "/api/halt", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ctrl.halts[1] != "manual halt via api" {
		t.Fatalf("expected default reason, got %q", ctrl.halts[1])
	}
}

func TestResumeEndpoint(t *testing.T) {
	ctrl := &fakeController{resumed: false}
	s := newTestServer(ctrl)

	rec := doRequest(s, http.MethodPost, "/api/resume", "secret", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 when not halted, got %d", rec.Code)
	}

	ctrl.resumed = true
	rec = doRequest(s, http.MethodPost, "/api/resume", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStopEndpoint(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	rec := doRequest(s, http.MethodPost, "/api/stop", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ctrl.stopped {
		t.Fatalf("expected stop to be forwarded")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeController{})
	rec := doRequest(s, http.MethodGet, "/api/halt", "secret", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
