// Package api exposes a small operator facade over HTTP: status, the
// ladder, risk state, and the kill switch. Everything except the health
// probe requires the configured API key.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"oanda-grid-bot/internal/config"
	"oanda-grid-bot/internal/engine"
	"oanda-grid-bot/internal/ledger"
	"oanda-grid-bot/internal/risk"
)

const apiKeyHeader = "X-API-Key"

// Controller is the slice of the engine the API drives.
type Controller interface {
	Status() engine.Status
	Slots() []ledger.Slot
	RiskState() risk.State
	Halt(reason string)
	Resume() bool
	Stop()
}

type Server struct {
	cfg    config.APIConfig
	ctrl   Controller
	log    *zap.Logger
	router *mux.Router
	srv    *http.Server
}

func NewServer(cfg config.APIConfig, ctrl Controller, log *zap.Logger) *Server {
	s := &Server{cfg: cfg, ctrl: ctrl, log: log}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	authed.HandleFunc("/slots", s.handleSlots).Methods(http.MethodGet)
	authed.HandleFunc("/risk", s.handleRisk).Methods(http.MethodGet)
	authed.HandleFunc("/halt", s.handleHalt).Methods(http.MethodPost)
	authed.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost)
	authed.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	s.log.Info("api server listening", zap.String("address", s.cfg.Address))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(apiKeyHeader) != s.cfg.Key {
			s.log.Warn("rejected api request", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

type slotView struct {
	Index    int        `json:"index"`
	Price    string     `json:"price"`
	Side     string     `json:"side"`
	State    string     `json:"state"`
	OrderID  string     `json:"order_id,omitempty"`
	TradeID  string     `json:"trade_id,omitempty"`
	Opposing string     `json:"opposing_order_id,omitempty"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	_ = r
	slots := s.ctrl.Slots()
	views := make([]slotView, 0, len(slots))
	for _, slot := range slots {
		view := slotView{
			Index:    slot.Index,
			Price:    slot.Price.String(),
			Side:     string(slot.Side),
			State:    string(slot.State),
			OrderID:  slot.OrderID,
			TradeID:  slot.TradeID,
			Opposing: slot.OpposingOrderID,
		}
		if !slot.OpenedAt.IsZero() {
			opened := slot.OpenedAt
			view.OpenedAt = &opened
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, s.ctrl.RiskState())
}

func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "manual halt via api"
	}
	s.ctrl.Halt(body.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "halted", "reason": body.Reason})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	_ = r
	if !s.ctrl.Resume() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not halted"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	_ = r
	s.ctrl.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
