// Package server exposes the edge feed, research reports and alert runs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rewired-gh/proporacle/internal/alerts"
	"github.com/rewired-gh/proporacle/internal/logger"
	"github.com/rewired-gh/proporacle/internal/metrics"
	"github.com/rewired-gh/proporacle/internal/models"
	"github.com/rewired-gh/proporacle/internal/momentum"
	"github.com/rewired-gh/proporacle/internal/research"
)

// FeedComputer produces a ranked edge feed.
type FeedComputer interface {
	ComputeEdgeFeed(ctx context.Context, measure models.Measure, minMinutes float64, season int) (*models.EdgeFeed, error)
}

// Researcher produces a per-player report.
type Researcher interface {
	Research(ctx context.Context, name string, measure models.Measure, refresh bool) research.Result
}

// AlertRunner executes one alert run.
type AlertRunner interface {
	Run(ctx context.Context, req alerts.RunRequest) (*alerts.Summary, error)
}

// AlertHistory lists and clears sent alerts.
type AlertHistory interface {
	GetRecentAlerts(k int) ([]models.AlertRecord, error)
	ClearAlerts() error
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Config holds listener settings and request defaults.
type Config struct {
	Addr              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	DefaultSeason     int
	DefaultMinMinutes float64
}

// Server is the HTTP surface.
type Server struct {
	router   *mux.Router
	server   *http.Server
	feed     FeedComputer
	research Researcher
	alerts   AlertRunner
	history  AlertHistory
	cfg      Config
	metrics  *metrics.Metrics
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// New creates a server. runner may be nil, in which case alert runs answer 400.
// history may be nil, in which case the history routes answer 404.
func New(cfg Config, feed FeedComputer, researcher Researcher, runner AlertRunner, history AlertHistory, m *metrics.Metrics) *Server {
	if cfg.DefaultMinMinutes <= 0 {
		cfg.DefaultMinMinutes = 20
	}
	s := &Server{
		router:   mux.NewRouter(),
		feed:     feed,
		research: researcher,
		alerts:   runner,
		history:  history,
		cfg:      cfg,
		metrics:  metrics.OrNew(m),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/edge", s.handleEdge).Methods(http.MethodGet)
	api.HandleFunc("/research/{player}", s.handleResearch).Methods(http.MethodGet)
	api.HandleFunc("/alerts/run", s.handleAlertRun).Methods(http.MethodPost)
	if s.history != nil {
		api.HandleFunc("/alerts/history", s.handleAlertHistory).Methods(http.MethodGet)
		api.HandleFunc("/alerts/history", s.handleClearAlertHistory).Methods(http.MethodDelete)
	}

	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("Starting HTTP server on %s", s.cfg.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down HTTP server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(wrapper.statusCode)).Inc()
		logger.Debug("REQ %v %s %s %d %v", r.Context().Value(requestIDKey), r.Method, r.URL.Path, wrapper.statusCode, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleEdge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	measure, err := parseMeasure(q.Get("stat"), models.MeasurePoints)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	minMinutes, err := parseFloat(q.Get("min_minutes"), s.cfg.DefaultMinMinutes)
	if err != nil || minMinutes < 0 {
		writeError(w, http.StatusBadRequest, "min_minutes must be a non-negative number")
		return
	}
	season, err := parseInt(q.Get("season"), s.cfg.DefaultSeason)
	if err != nil {
		writeError(w, http.StatusBadRequest, "season must be an integer")
		return
	}

	feed, err := s.feed.ComputeEdgeFeed(r.Context(), measure, minMinutes, season)
	if err != nil {
		logger.Error("Edge feed failed: %v", err)
		status := http.StatusBadGateway
		if errors.Is(err, momentum.ErrRosterUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	player := strings.TrimSpace(mux.Vars(r)["player"])
	if player == "" {
		writeError(w, http.StatusBadRequest, "player is required")
		return
	}
	q := r.URL.Query()
	measure, err := parseMeasure(q.Get("prop"), models.MeasurePoints)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	refresh := q.Get("refresh") == "true" || q.Get("refresh") == "1"

	writeJSON(w, http.StatusOK, s.research.Research(r.Context(), player, measure, refresh))
}

func (s *Server) handleAlertRun(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusBadRequest, alerts.ErrNoNotifier.Error())
		return
	}
	q := r.URL.Query()
	req := alerts.RunRequest{Direction: models.ParseDirection(q.Get("direction"))}
	var err error
	if req.Measure, err = parseMeasure(q.Get("stat"), models.MeasurePoints); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MinMinutes, err = parseFloat(q.Get("min_minutes"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "min_minutes must be a number")
		return
	}
	if req.MinDelta, err = parseFloat(q.Get("min_delta"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "min_delta must be a number")
		return
	}
	if req.TopN, err = parseInt(q.Get("top_n"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "top_n must be an integer")
		return
	}
	if req.Season, err = parseInt(q.Get("season"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "season must be an integer")
		return
	}

	summary, err := s.alerts.Run(r.Context(), req)
	switch {
	case errors.Is(err, alerts.ErrNoNotifier):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil && summary != nil:
		logger.Error("Alert run incomplete: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": err.Error(), "summary": summary})
	case err != nil:
		logger.Error("Alert run failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseInt(r.URL.Query().Get("limit"), defaultHistoryLimit)
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	records, err := s.history.GetRecentAlerts(limit)
	if err != nil {
		logger.Error("Alert history failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": records, "count": len(records)})
}

func (s *Server) handleClearAlertHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.ClearAlerts(); err != nil {
		logger.Error("Clearing alert history failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("Alert history cleared")
	w.WriteHeader(http.StatusNoContent)
}

func parseMeasure(raw string, def models.Measure) (models.Measure, error) {
	if raw == "" {
		return def, nil
	}
	return models.ParseMeasure(raw)
}

var errNotFinite = errors.New("value must be finite")

func parseFloat(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

func parseInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
