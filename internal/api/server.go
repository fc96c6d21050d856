// Package api provides the read-only HTTP and WebSocket surface over the
// position book, trade journal, and trailing controller.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/journal"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/pkg/trading"
)

// PositionBook is the read surface the API needs into open positions.
type PositionBook interface {
	Position(symbol string) (trading.Position, bool)
	ListOpen() []trading.Position
	PortfolioRollup() trading.PortfolioStats
}

// Journal is the read surface the API needs into the trade store.
type Journal interface {
	Get(ctx context.Context, tradeID int64) (trading.TradeRecord, error)
	OpenTrades(ctx context.Context) ([]trading.TradeRecord, error)
	ClosedTrades(ctx context.Context, start, end *time.Time, symbol string) ([]trading.TradeRecord, error)
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger         *zap.Logger
	cfg            config.ServerConfig
	startingEquity decimal.Decimal
	positions      PositionBook
	journal        Journal
	metrics        *metrics.Registry
	router         *mux.Router
	httpServer     *http.Server
	hub            *Hub
}

// New constructs a Server wired to its read-only collaborators.
// startingEquity seeds analytics/equity-curve endpoints when the request
// doesn't override it explicitly.
func New(logger *zap.Logger, cfg config.ServerConfig, startingEquity decimal.Decimal, positions PositionBook, j Journal, reg *metrics.Registry) *Server {
	s := &Server{
		logger:         logger,
		cfg:            cfg,
		startingEquity: startingEquity,
		positions:      positions,
		journal:        j,
		metrics:        reg,
		router:         mux.NewRouter(),
		hub:            NewHub(logger),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/positions/{symbol}", s.handlePosition).Methods("GET")
	s.router.HandleFunc("/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/trades/{id}", s.handleTrade).Methods("GET")
	s.router.HandleFunc("/analytics", s.handleAnalytics).Methods("GET")
	s.router.HandleFunc("/equity-curve", s.handleEquityCurve).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/ws/prices", s.hub.ServeWS)
}

// Start runs the HTTP server; blocks until it returns an error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go s.hub.Run()

	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// BroadcastPrice publishes a price tick to every subscribed WebSocket client.
// cmd/server calls it right after pricebus.Publish in the aggregator's
// completion callback.
func (s *Server) BroadcastPrice(symbol string, price string, ts time.Time) {
	s.hub.Broadcast(wsMessage{
		Type:      "price",
		Symbol:    symbol,
		Payload:   map[string]string{"price": price},
		Timestamp: ts.UnixMilli(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.positions.ListOpen()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	pos, ok := s.positions.Position(symbol)
	if !ok {
		http.Error(w, "no open position for symbol", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")

	var start, end *time.Time
	if v := q.Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = &t
		}
	}
	if v := q.Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = &t
		}
	}

	if q.Get("open") == "true" {
		trades, err := s.journal.OpenTrades(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades, "count": len(trades)})
		return
	}

	trades, err := s.journal.ClosedTrades(r.Context(), start, end, symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades, "count": len(trades)})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid trade id", http.StatusBadRequest)
		return
	}
	trade, err := s.journal.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	trades, err := s.journal.ClosedTrades(r.Context(), nil, nil, symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, journal.PerformanceStats(trades, s.startingEquityOrOverride(r)))
}

func (s *Server) handleEquityCurve(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	trades, err := s.journal.ClosedTrades(r.Context(), nil, nil, symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, journal.EquityCurve(trades, s.startingEquityOrOverride(r)))
}

// startingEquityOrOverride returns the configured starting equity unless the
// request supplies an explicit starting_equity query parameter.
func (s *Server) startingEquityOrOverride(r *http.Request) decimal.Decimal {
	if v := r.URL.Query().Get("starting_equity"); v != "" {
		if parsed, err := decimal.NewFromString(v); err == nil {
			return parsed
		}
	}
	return s.startingEquity
}
