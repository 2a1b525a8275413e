// Package server exposes the engine over HTTP: a REST surface for the
// profile, analysis, filling and job tracking, plus the WebSocket
// endpoint the browser extension connects to.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applyflow/api/schemas"
	"github.com/xkilldash9x/applyflow/internal/config"
	"github.com/xkilldash9x/applyflow/internal/filler"
	"github.com/xkilldash9x/applyflow/internal/gateway"
	"github.com/xkilldash9x/applyflow/internal/profile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Analyzer maps an extracted form against the stored profile.
type Analyzer interface {
	AnalyzeForm(ctx context.Context, form *schemas.ExtractedForm) (*schemas.FormAnalysis, error)
}

// Filler executes one fill command.
type Filler interface {
	Fill(ctx context.Context, analysis *schemas.FormAnalysis, progress filler.ProgressFunc) schemas.FillOutcome
}

// CDPConnector manages the remote browser attachment.
type CDPConnector interface {
	Connect(ctx context.Context) error
	Connected() bool
}

// Server wires the engine components behind one HTTP listener.
type Server struct {
	cfg      config.Interface
	logger   *zap.Logger
	gw       *gateway.Gateway
	analyzer Analyzer
	filler   Filler
	driver   CDPConnector
	profiles *profile.Service
	jobs     schemas.JobRepository

	httpSrv *http.Server
}

// New assembles the server and attaches the engine callbacks to the
// gateway. The jobs repository may be nil; persistence is then disabled.
func New(cfg config.Interface, gw *gateway.Gateway, an Analyzer, fl Filler, driver CDPConnector, profiles *profile.Service, jobs schemas.JobRepository, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server requires a configuration")
	}
	if gw == nil {
		return nil, fmt.Errorf("server requires a gateway")
	}
	if an == nil {
		return nil, fmt.Errorf("server requires an analyzer")
	}
	if fl == nil {
		return nil, fmt.Errorf("server requires a filler")
	}
	if driver == nil {
		return nil, fmt.Errorf("server requires a browser driver")
	}
	if profiles == nil {
		return nil, fmt.Errorf("server requires a profile service")
	}
	if logger == nil {
		return nil, fmt.Errorf("server requires a logger")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		gw:       gw,
		analyzer: an,
		filler:   fl,
		driver:   driver,
		profiles: profiles,
		jobs:     jobs,
	}

	gw.SetHandlers(gateway.Handlers{
		OnFormExtracted: an.AnalyzeForm,
		OnFillForm: func(ctx context.Context, analysis *schemas.FormAnalysis, progress func(string)) schemas.FillOutcome {
			return fl.Fill(ctx, analysis, progress)
		},
		OnConnectCDP: driver.Connect,
		OnStatus:     s.status,
	})

	s.httpSrv = &http.Server{
		Addr:              cfg.Server().Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.gw.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/profile", s.handleGetProfile)
		r.Post("/profile/reload", s.handleReloadProfile)
		r.Post("/form/analyze", s.handleAnalyze)
		r.Post("/form/fill", s.handleFill)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs", s.handleUpsertJob)
	})

	return r
}

// Start begins serving and performs the initial CDP attach. An
// unreachable browser is logged, not fatal: the extension can request a
// reconnect later.
func (s *Server) Start(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := s.driver.Connect(connectCtx); err != nil {
		s.logger.Warn("Browser CDP endpoint unreachable at startup; reconnect via the extension",
			zap.String("cdp_url", s.cfg.Browser().CDPURL),
			zap.Error(err),
		)
	}

	s.logger.Info("HTTP server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) status() any {
	return map[string]any{
		"connected":     true,
		"cdp_connected": s.driver.Connected(),
		"profile":       s.profiles.Profile().PersonalInfo.FullName(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"cdp_connected": s.driver.Connected(),
		"ws_connected":  s.gw.Connected(),
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.profiles.Profile())
}

func (s *Server) handleReloadProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.profiles.Reload(); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("profile reload failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var form schemas.ExtractedForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form payload: %v", err))
		return
	}

	analysis, err := s.analyzer.AnalyzeForm(r.Context(), &form)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("analysis failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, analysis)
}

// fillRequest is the REST fill command. JobID is optional; when set and
// persistence is enabled the outcome is recorded against that job.
type fillRequest struct {
	JobID    string               `json:"job_id,omitempty"`
	Analysis schemas.FormAnalysis `json:"analysis"`
}

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid fill payload: %v", err))
		return
	}

	outcome := s.filler.Fill(r.Context(), &req.Analysis, func(msg string) {
		s.logger.Debug("Fill progress", zap.String("message", msg))
	})

	if req.JobID != "" && s.jobs != nil {
		snapshot, err := json.Marshal(s.profiles.Profile())
		if err != nil {
			snapshot = nil
		}
		app := schemas.Application{
			JobID:           req.JobID,
			ProfileSnapshot: snapshot,
			FilledCount:     outcome.Filled,
			FailedCount:     outcome.Failed,
			Errors:          outcome.Errors,
		}
		if err := s.jobs.RecordApplication(r.Context(), app); err != nil {
			s.logger.Error("Failed to record application", zap.String("job_id", req.JobID), zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}

	status := schemas.JobStatus(r.URL.Query().Get("status"))
	jobs, err := s.jobs.ListJobs(r.Context(), status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list jobs: %v", err))
		return
	}
	if jobs == nil {
		jobs = []schemas.JobListing{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleUpsertJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "persistence is not configured")
		return
	}

	var job schemas.JobListing
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job payload: %v", err))
		return
	}
	if err := s.jobs.UpsertJob(r.Context(), job); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to save job: %v", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
