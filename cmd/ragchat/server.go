package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/agent"
	"github.com/BaSui01/ragchat/api/handlers"
	"github.com/BaSui01/ragchat/config"
	"github.com/BaSui01/ragchat/internal/cache"
	"github.com/BaSui01/ragchat/internal/metrics"
	"github.com/BaSui01/ragchat/internal/server"
	"github.com/BaSui01/ragchat/internal/telemetry"
	"github.com/BaSui01/ragchat/llm"
	"github.com/BaSui01/ragchat/llm/embedding"
	"github.com/BaSui01/ragchat/llm/tokenizer"
	"github.com/BaSui01/ragchat/rag"
	"github.com/BaSui01/ragchat/store"
	"github.com/BaSui01/ragchat/stream"
)

// Server owns the whole pipeline: cache, store, retrieval, orchestration
// and the HTTP surface in front of them.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager

	healthHandler  *handlers.HealthHandler
	chatHandler    *handlers.ChatHandler
	sessionHandler *handlers.SessionHandler

	metricsCollector *metrics.Collector
	cacheManager     *cache.Manager
	sessionStore     *store.Store
	otelProviders    *telemetry.Providers

	rateLimiterCancel context.CancelFunc
}

// NewServer creates a new server instance. otelProviders may be nil when
// telemetry is disabled or failed to initialize.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// Start wires the pipeline and brings the HTTP server up.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("ragchat", s.logger)

	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("Server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Strings("languages", s.cfg.Retrieval.Languages),
	)

	return nil
}

// initHandlers builds the retrieval and orchestration pipeline and the
// handlers that expose it.
func (s *Server) initHandlers() error {
	s.cacheManager = cache.NewManager(s.cfg.Redis, s.logger)

	sessionStore, err := store.New(s.cfg.Database, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	s.sessionStore = sessionStore

	provider := llm.NewOpenAIProvider(s.cfg.LLM, s.logger)
	embedder := embedding.NewOpenAIProvider(s.cfg.Embedding)

	rewriter := rag.NewQueryRewriter(provider, s.cfg.LLM.ChatModel, s.cfg.Retrieval.Languages, s.logger)
	retrievalCache := rag.NewRetrievalCache(
		s.cacheManager,
		time.Duration(s.cfg.Retrieval.CacheTTLSeconds)*time.Second,
		s.logger,
	)
	vectorStore := rag.NewMilvusStore(s.cfg.Milvus, s.logger)
	retriever := rag.NewRetriever(
		rewriter, retrievalCache, vectorStore, embedder,
		s.cfg.Retrieval.TopK, s.metricsCollector, s.logger,
	)

	registry := agent.NewRegistry(s.logger)
	if err := agent.RegisterRetrieveDocumentTool(registry, retriever); err != nil {
		return fmt.Errorf("failed to register retrieval tool: %w", err)
	}
	if err := agent.RegisterTransferToSupportTool(registry); err != nil {
		return fmt.Errorf("failed to register escalation tool: %w", err)
	}

	runner := agent.NewProviderRunner(provider, registry, agent.RunnerConfig{
		Model:         s.cfg.LLM.ChatModel,
		Temperature:   float32(s.cfg.Agent.Temperature),
		MaxTokens:     s.cfg.Agent.MaxTokens,
		MaxIterations: s.cfg.Agent.MaxIterations,
	}, s.logger)

	counter := tokenizer.NewTiktokenTokenizer(s.cfg.LLM.ChatModel)
	history := agent.NewHistoryBuilder(counter, s.cfg.Agent.HistoryTokenBudget, s.logger)

	orchestrator := agent.NewOrchestrator(
		runner, history,
		s.cfg.Agent.MaxValidationRetries,
		s.metricsCollector, s.logger,
	)

	s.chatHandler = handlers.NewChatHandler(sessionStore, orchestrator, stream.Config{
		FragmentSize:  s.cfg.Agent.FragmentSize,
		FragmentYield: s.cfg.Agent.FragmentYield,
	}, s.logger)
	s.sessionHandler = handlers.NewSessionHandler(sessionStore, s.logger)
	s.healthHandler = handlers.NewHealthHandler(s.logger,
		dependencyCheck{name: "redis", fn: s.cacheManager.Ping},
		dependencyCheck{name: "llm", fn: func(ctx context.Context) error {
			_, err := provider.HealthCheck(ctx)
			return err
		}},
	)

	s.logger.Info("Handlers initialized",
		zap.String("chat_model", s.cfg.LLM.ChatModel),
		zap.String("embedding_model", s.cfg.Embedding.Model),
	)
	return nil
}

// startHTTPServer registers routes, wraps them in the middleware chain
// and starts the listener.
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/chat/stream", s.chatHandler.HandleStream)

	mux.HandleFunc("GET /api/sessions", s.sessionHandler.HandleList)
	mux.HandleFunc("POST /api/sessions", s.sessionHandler.HandleCreate)
	mux.HandleFunc("POST /api/sessions/{session_id}/rename", s.sessionHandler.HandleRename)
	mux.HandleFunc("DELETE /api/sessions/{session_id}", s.sessionHandler.HandleDelete)
	mux.HandleFunc("GET /api/sessions/{session_id}/messages", s.sessionHandler.HandleMessages)

	skipAuthPaths := []string{"/health", "/ready", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares,
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
	if s.cfg.Server.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWTSecret, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:        fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout: s.cfg.Server.ReadTimeout,
		// WriteTimeout stays as configured; zero keeps SSE turns open.
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// WaitForShutdown blocks until a termination signal, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown closes the HTTP server and backing connections.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Redis shutdown error", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

// dependencyCheck adapts a probe function to the handlers.HealthCheck
// interface.
type dependencyCheck struct {
	name string
	fn   func(context.Context) error
}

func (c dependencyCheck) Name() string                    { return c.name }
func (c dependencyCheck) Check(ctx context.Context) error { return c.fn(ctx) }
