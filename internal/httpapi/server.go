// Package httpapi exposes the backtest engine over HTTP. The layer is
// thin: it validates shapes, forwards to the runner and the run store,
// and polls job status — it never blocks on a running simulation.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"vela/internal/backtest"
	"vela/internal/domain"
	"vela/internal/runstore"
	"vela/internal/universe"
)

// Comparer is the multi-run comparison surface of the run store.
type Comparer interface {
	Compare(runIDs []string) (*runstore.Comparison, error)
}

// Server wires the HTTP surface to the runner and stores.
type Server struct {
	runner   *backtest.Runner
	store    backtest.Store
	comparer Comparer
	universe *universe.Universe
	defaults RunDefaults
	log      *slog.Logger
}

// NewServer creates the API server.
func NewServer(runner *backtest.Runner, store backtest.Store, comparer Comparer, log *slog.Logger) *Server {
	return &Server{
		runner:   runner,
		store:    store,
		comparer: comparer,
		universe: universe.New(),
		log:      log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backtest/run", s.handleRun)
	mux.HandleFunc("GET /api/backtest/status", s.handleStatus)
	mux.HandleFunc("GET /api/backtest/results", s.handleResults)
	mux.HandleFunc("GET /api/backtest/result/{run_id}", s.handleResult)
	mux.HandleFunc("DELETE /api/backtest/result/{run_id}", s.handleDelete)
	mux.HandleFunc("POST /api/backtest/compare", s.handleCompare)
	mux.HandleFunc("GET /api/universe/sectors", s.handleSectors)
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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

// runRequest is the POST /api/backtest/run payload. Dates are YYYY-MM-DD.
type runRequest struct {
	Tickers          []string `json:"tickers"`
	Sector           string   `json:"sector"`
	Start            string   `json:"start"`
	End              string   `json:"end"`
	StrategyVariant  string   `json:"strategy_variant"`
	RiskLevel        string   `json:"risk_level"`
	SentimentMode    string   `json:"sentiment_mode"`
	InitialCapital   float64  `json:"initial_capital"`
	MaxOpenPositions int      `json:"max_open_positions"`
	BuyThreshold     float64  `json:"buy_threshold"`
	SellThreshold    float64  `json:"sell_threshold"`
	AllowShorts      bool     `json:"allow_shorts"`
	BenchmarkTicker  string   `json:"benchmark_ticker"`
	RunID            string   `json:"run_id"`
}

// Defaults applied to omitted run-request fields.
type RunDefaults struct {
	InitialCapital   float64
	MaxOpenPositions int
	BuyThreshold     float64
	SellThreshold    float64
	BenchmarkTicker  string
	SlippageBPS      float64
	Commission       float64
	RiskFreeRate     float64
}

// WithDefaults installs engine defaults for omitted request fields.
func (s *Server) WithDefaults(d RunDefaults) *Server {
	s.defaults = d
	return s
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	cfg, err := s.buildConfig(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.runner.Start(r.Context(), cfg)
	if err != nil {
		switch {
		case errors.Is(err, backtest.ErrRunActive):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrInvalidConfig):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(task.Status())
}

func (s *Server) buildConfig(req runRequest) (domain.RunConfig, error) {
	cfg := domain.RunConfig{
		RunID:            req.RunID,
		Tickers:          req.Tickers,
		Sector:           req.Sector,
		AllowShorts:      req.AllowShorts,
		InitialCapital:   req.InitialCapital,
		MaxOpenPositions: req.MaxOpenPositions,
		BuyThreshold:     req.BuyThreshold,
		SellThreshold:    req.SellThreshold,
		BenchmarkTicker:  req.BenchmarkTicker,
		SlippageBPS:      s.defaults.SlippageBPS,
		Commission:       s.defaults.Commission,
		RiskFreeRate:     s.defaults.RiskFreeRate,
	}

	var err error
	if cfg.Start, err = parseDate(req.Start); err != nil {
		return cfg, errors.New("start: " + err.Error())
	}
	if cfg.End, err = parseDate(req.End); err != nil {
		return cfg, errors.New("end: " + err.Error())
	}
	if cfg.Variant, err = domain.ParseStrategyVariant(nonEmpty(req.StrategyVariant, string(domain.VariantThreshold))); err != nil {
		return cfg, err
	}
	if cfg.Risk, err = domain.ParseRiskLevel(nonEmpty(req.RiskLevel, string(domain.RiskMedium))); err != nil {
		return cfg, err
	}
	if cfg.SentimentMode, err = domain.ParseSentimentMode(req.SentimentMode); err != nil {
		return cfg, err
	}

	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = s.defaults.InitialCapital
	}
	if cfg.MaxOpenPositions == 0 {
		cfg.MaxOpenPositions = s.defaults.MaxOpenPositions
	}
	if cfg.BuyThreshold == 0 {
		cfg.BuyThreshold = s.defaults.BuyThreshold
	}
	if cfg.SellThreshold == 0 {
		cfg.SellThreshold = s.defaults.SellThreshold
	}
	if cfg.BenchmarkTicker == "" {
		cfg.BenchmarkTicker = s.defaults.BenchmarkTicker
	}
	return cfg, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.runner.Status())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []backtest.RunMeta{}
	}
	writeJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.Load(r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("run_id")); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunIDs []string `json:"run_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	cmp, err := s.comparer.Compare(req.RunIDs)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRunNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrInvalidConfig):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, cmp)
}

func (s *Server) handleSectors(w http.ResponseWriter, r *http.Request) {
	sectors := s.universe.Sectors()
	bySector := make(map[string][]string, len(sectors))
	for _, sec := range sectors {
		bySector[sec] = s.universe.BySector(sec)
	}
	writeJSON(w, map[string]any{"sectors": sectors, "tickers": bySector})
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("date required (YYYY-MM-DD)")
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.New("bad date " + s + ", want YYYY-MM-DD")
	}
	return t, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
