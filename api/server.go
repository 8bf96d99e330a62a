// Package api exposes the minimal read-only HTTP introspection surface: a
// health check, the wallet snapshot, the current best-cycle queue, and
// recently completed trades.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chonky-labs/triarb/pkg/scanner"
	"github.com/chonky-labs/triarb/pkg/simulator"
	"github.com/chonky-labs/triarb/pkg/wallet"
)

// RecentTrades is a small ring buffer of the most recent completed cycle
// attempts, fed by the simulator.TradeSink the engine already wires up for
// CSV logging.
type RecentTrades struct {
	mu    sync.Mutex
	cap   int
	items []simulator.CycleRecord
}

// NewRecentTrades returns a buffer retaining at most capacity records.
func NewRecentTrades(capacity int) *RecentTrades {
	return &RecentTrades{cap: capacity}
}

// Add appends r, evicting the oldest record once capacity is exceeded.
func (rt *RecentTrades) Add(r simulator.CycleRecord) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.items = append(rt.items, r)
	if len(rt.items) > rt.cap {
		rt.items = rt.items[len(rt.items)-rt.cap:]
	}
}

// Snapshot returns a copy of the buffer, most recent last.
func (rt *RecentTrades) Snapshot() []simulator.CycleRecord {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]simulator.CycleRecord, len(rt.items))
	copy(out, rt.items)
	return out
}

// Server is the read-only HTTP introspection endpoint.
type Server struct {
	wallet  *wallet.Wallet
	scanner *scanner.Scanner
	trades  *RecentTrades
	log     *logrus.Entry
	port    string
	start   time.Time
}

// NewServer builds a Server bound to port.
func NewServer(w *wallet.Wallet, sc *scanner.Scanner, trades *RecentTrades, log *logrus.Entry, port string) *Server {
	return &Server{wallet: w, scanner: sc, trades: trades, log: log, port: port, start: time.Now()}
}

// Start blocks serving HTTP on s.port. Callers typically run it in its own
// goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/wallet", s.handleWallet)
	mux.HandleFunc("/api/cycles/top", s.handleTopCycles)
	mux.HandleFunc("/api/trades/recent", s.handleRecentTrades)

	s.log.WithField("port", s.port).Info("starting API server")
	return http.ListenAndServe(":"+s.port, corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"uptime_sec": int(time.Since(s.start).Seconds()),
		"timestamp":  time.Now().UTC(),
	})
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.wallet.Snapshot())
}

func (s *Server) handleTopCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type topCycle struct {
		ProfitPct   float64 `json:"profit_pct"`
		TriangleKey string  `json:"triangle_key"`
	}

	ranked := s.scanner.PeekBestCycles(20)
	out := make([]topCycle, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, topCycle{ProfitPct: r.ProfitPct, TriangleKey: r.Triangle.Key()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecentTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.trades.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("failed to encode JSON response")
	}
}
