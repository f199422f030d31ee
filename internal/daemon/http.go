package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/metrics"
	"git.home.luguber.info/inful/satellited/internal/services"
	"git.home.luguber.info/inful/satellited/internal/version"
)

const maxRequestBody = 1 << 20

type healthSource interface {
	Healthy() bool
	GetAllServiceInfo() []services.ServiceInfo
}

type actionLister interface {
	actionHandler
	Actions() []string
}

// AdminConfig wires the admin HTTP server.
type AdminConfig struct {
	Addr        string
	MetricsPath string
	Registry    *prometheus.Registry // nil disables the metrics endpoint
	Facade      actionLister
	Health      healthSource
	StartedAt   time.Time
	Logger      *slog.Logger
}

// AdminServer serves health, metrics and the action API.
type AdminServer struct {
	cfg     AdminConfig
	errs    *ferrors.HTTPErrorAdapter
	logger  *slog.Logger
	handler http.Handler

	mu     sync.Mutex
	server *http.Server
	addr   string
}

// NewAdminServer builds the server and its routes.
func NewAdminServer(cfg AdminConfig) *AdminServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &AdminServer{cfg: cfg, errs: ferrors.NewHTTPErrorAdapter(logger), logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/actions", s.handleListActions)
	mux.HandleFunc("POST /api/actions/{name}", s.handleAction)
	mux.HandleFunc("GET /api/timers", s.handleTimers)
	if cfg.Registry != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, metrics.HTTPHandler(cfg.Registry))
	}
	s.handler = loggingMiddleware(logger, mux)
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *AdminServer) Handler() http.Handler { return s.handler }

// Addr returns the bound address once started.
func (s *AdminServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start binds the listener and serves in the background.
func (s *AdminServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "admin listener failed").
			WithContext("addr", s.cfg.Addr).Build()
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server stopped", logfields.Error(err))
		}
	}()
	s.logger.Info("Admin server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down gracefully.
func (s *AdminServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Uptime   string                 `json:"uptime"`
	Services []services.ServiceInfo `json:"services,omitempty"`
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Version: version.Version}
	if !s.cfg.StartedAt.IsZero() {
		resp.Uptime = time.Since(s.cfg.StartedAt).Round(time.Second).String()
	}
	status := http.StatusOK
	if s.cfg.Health != nil {
		resp.Services = s.cfg.Health.GetAllServiceInfo()
		if !s.cfg.Health.Healthy() {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *AdminServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Health != nil && !s.cfg.Health.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *AdminServer) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.cfg.Facade.Actions()})
}

func (s *AdminServer) handleAction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var args map[string]any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.errs.WriteErrorResponse(w, r, ferrors.InvalidArgumentError("failed to read request body").WithCause(err).Build())
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			s.errs.WriteErrorResponse(w, r, ferrors.InvalidArgumentError("request body is not a JSON object").WithCause(err).Build())
			return
		}
	}
	resp, err := s.cfg.Facade.Handle(r.Context(), name, args)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *AdminServer) handleTimers(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{}
	if dev := r.URL.Query().Get("device_id"); dev != "" {
		args["device_id"] = dev
	}
	resp, err := s.cfg.Facade.Handle(r.Context(), services.ActionGetTimers, args)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp.Data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
