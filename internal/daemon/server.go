package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jacky040124/openquest/internal/agent"
	"github.com/Jacky040124/openquest/internal/config"
	"github.com/Jacky040124/openquest/internal/github"
	"github.com/Jacky040124/openquest/internal/llm/configbuilder"
	"github.com/Jacky040124/openquest/internal/observability"
	"github.com/Jacky040124/openquest/internal/rpc"
	agentrpc "github.com/Jacky040124/openquest/internal/rpc/agent"
	"github.com/Jacky040124/openquest/internal/sandbox"
	"github.com/Jacky040124/openquest/internal/session"
	"github.com/Jacky040124/openquest/internal/version"
)

// Server hosts the agent endpoints plus health and metrics.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	handler *agentrpc.Handler
	store   *session.Store
	metrics *observability.Metrics
}

// NewServer constructs a daemon instance.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	registry, err := configbuilder.BuildRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	metrics := observability.NewMetrics()

	runtime := sandbox.NewLocal(cfg.Sandbox.WorkDir)
	gateway := sandbox.NewGateway(runtime, time.Duration(cfg.Sandbox.TimeoutSeconds)*time.Second, logger.Named("sandbox"))
	executor := agent.NewExecutor(gateway, cfg.Agent.MaxTokensPerTool, logger.Named("tools"))

	hosting := func(token string) agent.HostingClient {
		return github.NewClient(token)
	}

	service := agent.NewService(registry, gateway, executor, hosting, cfg.Agent, cfg.GitHub, metrics, logger.Named("agent"))
	store := session.NewStore(cfg.Sessions.TTL)
	handler := agentrpc.NewHandler(service, store, metrics)

	return &Server{cfg: cfg, logger: logger, handler: handler, store: store, metrics: metrics}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.HandleFunc("/agent/analyze", s.handler.HandleAnalyze)
	mux.HandleFunc("/agent/implement", s.handler.HandleImplement)
	mux.HandleFunc("/agent/sessions", s.handler.HandleSession)

	transport := strings.ToLower(strings.TrimSpace(s.cfg.Server.Transport))
	if transport != "ndjson" {
		analyzePath, analyzeHandler := agentrpc.NewConnectAnalyzeHandler(s.handler)
		mux.Handle(analyzePath, analyzeHandler)
		implementPath, implementHandler := agentrpc.NewConnectImplementHandler(s.handler)
		mux.Handle(implementPath, implementHandler)
	}

	handler := http.Handler(mux)
	if transport != "ndjson" {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting openquest daemon",
			zap.String("version", version.Full()),
			zap.String("addr", s.cfg.Server.Addr),
			zap.String("transport", s.cfg.Server.Transport))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down openquest daemon")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks := rpc.HealthChecks{
		LLMConfigured:     s.llmConfigured(),
		SandboxConfigured: true, // the local runtime needs no credential
	}
	status := "healthy"
	if !checks.LLMConfigured {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpc.HealthResponse{
		Status:         status,
		Checks:         checks,
		ActiveSessions: s.store.Len(),
	})
}

func (s *Server) llmConfigured() bool {
	for _, p := range s.cfg.Providers {
		if p.APIKey != "" {
			return true
		}
	}
	return false
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
