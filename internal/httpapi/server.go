package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"smartcfd/internal/domain"
	"smartcfd/internal/monitor"
	"smartcfd/internal/status"
	"smartcfd/internal/store"
)

const (
	// defaultListLimit bounds list endpoints when no limit is given.
	defaultListLimit = 50
	maxListLimit     = 1000

	// dbHealthWindow is how many recent heartbeats feed the /health/db
	// statistics.
	dbHealthWindow = 100
)

// Server serves the engine's read-only HTTP API. All trading state comes
// from the status board and the persistent stores; the server never
// touches the broker.
type Server struct {
	board      *status.Board
	heartbeats store.HeartbeatStore
	runs       store.RunStore
	groups     store.TradeGroupStore
	maxAge     time.Duration
	log        *slog.Logger
}

// NewServer creates the API server. maxAge is how old the newest OK
// heartbeat may be before the database component reports unhealthy.
func NewServer(
	board *status.Board,
	heartbeats store.HeartbeatStore,
	runs store.RunStore,
	groups store.TradeGroupStore,
	maxAge time.Duration,
	log *slog.Logger,
) *Server {
	return &Server{
		board:      board,
		heartbeats: heartbeats,
		runs:       runs,
		groups:     groups,
		maxAge:     maxAge,
		log:        log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /health/db", s.handleDBHealth)
	mux.HandleFunc("GET /health/data", s.handleDataHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/trade-groups", s.handleTradeGroups)
	mux.HandleFunc("GET /api/v1/trade-groups/{gid}", s.handleTradeGroup)
	mux.HandleFunc("GET /api/v1/heartbeats", s.handleHeartbeats)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.Handle("GET /metrics", monitor.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseLimit extracts a positive row limit from the "limit" query param.
func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxListLimit {
		return def
	}
	return n
}

func validGroupStatus(s domain.GroupStatus) bool {
	switch s {
	case domain.GroupStatusNew, domain.GroupStatusEntrySubmitted,
		domain.GroupStatusEntryFilled, domain.GroupStatusExitsSubmitted,
		domain.GroupStatusClosed, domain.GroupStatusCanceled,
		domain.GroupStatusError:
		return true
	}
	return false
}

// handleHealthz aggregates the two liveness components: a fresh OK
// heartbeat proves the engine is cycling and the broker answers; the data
// feed verdict comes from the last validation pass.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Components: map[string]string{"database": "ok", "data_feed": "ok"},
	}

	if msg := s.databaseHealth(r); msg != "" {
		resp.Components["database"] = msg
		resp.Status = "degraded"
		resp.Reason = "database: " + msg
	}
	if !s.board.DataFeedHealthy() {
		resp.Components["data_feed"] = "validation failing"
		resp.Status = "degraded"
		if resp.Reason == "" {
			resp.Reason = "data_feed: validation failing"
		}
	}

	if resp.Status != "ok" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(resp)
		return
	}
	writeJSON(w, resp)
}

// databaseHealth returns "" when the newest heartbeat is OK and fresh,
// otherwise a short description of the problem.
func (s *Server) databaseHealth(r *http.Request) string {
	hbs, err := s.heartbeats.ListHeartbeats(r.Context(), 1)
	if err != nil {
		return "unreadable: " + err.Error()
	}
	if len(hbs) == 0 {
		return "no heartbeats recorded"
	}
	hb := hbs[0]
	if !hb.OK {
		return "last heartbeat failed"
	}
	if age := time.Since(hb.TS); age > s.maxAge {
		return "last heartbeat is " + age.Round(time.Second).String() + " old"
	}
	return ""
}

func (s *Server) handleDBHealth(w http.ResponseWriter, r *http.Request) {
	hbs, err := s.heartbeats.ListHeartbeats(r.Context(), dbHealthWindow)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing heartbeats: "+err.Error())
		return
	}

	resp := DBHealthResponse{Window: dbHealthWindow, Heartbeats: len(hbs)}
	if len(hbs) == 0 {
		writeJSON(w, resp)
		return
	}

	resp.LastTS = hbs[0].TS
	resp.LastOK = hbs[0].OK

	var okCount int
	var sum float64
	resp.LatencyMS.Min = hbs[0].LatencyMS
	for _, hb := range hbs {
		if hb.OK {
			okCount++
		}
		sum += hb.LatencyMS
		if hb.LatencyMS < resp.LatencyMS.Min {
			resp.LatencyMS.Min = hb.LatencyMS
		}
		if hb.LatencyMS > resp.LatencyMS.Max {
			resp.LatencyMS.Max = hb.LatencyMS
		}
	}
	resp.OKRatio = float64(okCount) / float64(len(hbs))
	resp.LatencyMS.Avg = sum / float64(len(hbs))

	writeJSON(w, resp)
}

func (s *Server) handleDataHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.board.Snapshot()
	resp := DataHealthResponse{
		OK:      s.board.DataFeedHealthy(),
		Symbols: make(map[string]FeedHealthJSON, len(snap.DataFeed)),
	}
	for symbol, fs := range snap.DataFeed {
		resp.Symbols[symbol] = FeedHealthJSON{
			OK:        fs.OK,
			Reason:    fs.Reason,
			Bars:      fs.Bars,
			LastBarAt: fs.LastBarAt,
			CheckedAt: fs.CheckedAt,
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.board.Snapshot())
}

func (s *Server) handleTradeGroups(w http.ResponseWriter, r *http.Request) {
	var (
		groups []domain.TradeGroup
		err    error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := domain.GroupStatus(raw)
		if !validGroupStatus(st) {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		groups, err = s.groups.ListTradeGroupsByStatus(r.Context(), st)
	} else {
		groups, err = s.groups.ListTradeGroups(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing trade groups: "+err.Error())
		return
	}
	writeJSON(w, convertTradeGroups(groups))
}

func (s *Server) handleTradeGroup(w http.ResponseWriter, r *http.Request) {
	gid := r.PathValue("gid")
	g, err := s.groups.GetTradeGroup(r.Context(), gid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade group "+gid+" not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "loading trade group: "+err.Error())
		return
	}
	writeJSON(w, convertTradeGroup(g))
}

func (s *Server) handleHeartbeats(w http.ResponseWriter, r *http.Request) {
	hbs, err := s.heartbeats.ListHeartbeats(r.Context(), parseLimit(r, defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing heartbeats: "+err.Error())
		return
	}
	writeJSON(w, convertHeartbeats(hbs))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context(), parseLimit(r, defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing runs: "+err.Error())
		return
	}
	writeJSON(w, convertRuns(runs))
}
