// Package api exposes the HTTP interface for the scrape tracker service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelfwatch/shelfwatch/internal/config"
	"github.com/shelfwatch/shelfwatch/internal/metrics"
	"github.com/shelfwatch/shelfwatch/internal/orchestrator"
	"github.com/shelfwatch/shelfwatch/internal/tracker"

	"go.uber.org/zap"
)

// Server wires HTTP handlers to the run orchestrator.
type Server struct {
	router chi.Router
	orch   *orchestrator.Orchestrator
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(orch *orchestrator.Orchestrator, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:   orch,
		cfg:    cfg,
		logger: logger,
	}
	timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.createRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Post("/retry", s.retryRun)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createRunRequest struct {
	URLs []string `json:"urls"`
	// ProductType applies to every URL unless Items is used instead.
	ProductType string           `json:"product_type"`
	Items       []runItemRequest `json:"items"`
}

type runItemRequest struct {
	URL         string `json:"url"`
	ProductType string `json:"product_type"`
}

type runAccepted struct {
	RunID    string                `json:"run_id"`
	Status   tracker.RunStatus     `json:"status"`
	Total    int                   `json:"total"`
	Rejected []tracker.RejectedURL `json:"rejected,omitempty"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	subs, err := toSubmissions(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.orch.CreateRun(r.Context(), subs)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runAccepted{
		RunID:    run.ID,
		Status:   run.Status,
		Total:    run.Counters.Total,
		Rejected: run.Rejected,
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	view, err := s.orch.GetRun(r.Context(), runID)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) retryRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.orch.RetryFailed(r.Context(), runID)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runAccepted{
		RunID:    run.ID,
		Status:   run.Status,
		Total:    run.Counters.Total,
		Rejected: run.Rejected,
	})
}

func toSubmissions(req createRunRequest) ([]orchestrator.Submission, error) {
	if len(req.Items) > 0 {
		subs := make([]orchestrator.Submission, 0, len(req.Items))
		for _, it := range req.Items {
			pt, err := parseProductType(it.ProductType)
			if err != nil {
				return nil, err
			}
			subs = append(subs, orchestrator.Submission{URL: it.URL, ProductType: pt})
		}
		return subs, nil
	}
	pt, err := parseProductType(req.ProductType)
	if err != nil {
		return nil, err
	}
	subs := make([]orchestrator.Submission, 0, len(req.URLs))
	for _, u := range req.URLs {
		subs = append(subs, orchestrator.Submission{URL: u, ProductType: pt})
	}
	return subs, nil
}

func parseProductType(raw string) (tracker.ProductType, error) {
	switch raw {
	case "":
		return tracker.ProductTypeOwn, nil
	case string(tracker.ProductTypeOwn):
		return tracker.ProductTypeOwn, nil
	case string(tracker.ProductTypeCompetitor):
		return tracker.ProductTypeCompetitor, nil
	default:
		return "", tracker.Errorf(tracker.ErrKindValidation, "unknown product_type %q", raw)
	}
}

func writeTrackerError(w http.ResponseWriter, err error) {
	switch tracker.KindOf(err) {
	case tracker.ErrKindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case tracker.ErrKindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
