// Package api provides the HTTP API server for the mailsift dashboard.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mailsift/mailsift/internal/analytics"
	"github.com/mailsift/mailsift/internal/categorize"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/embedding"
	"github.com/mailsift/mailsift/internal/enrich"
	"github.com/mailsift/mailsift/internal/gmail"
	"github.com/mailsift/mailsift/internal/orchestrator"
	"github.com/mailsift/mailsift/internal/search"
	"github.com/mailsift/mailsift/internal/store"
)

// Mailbox defines the Gmail write operations the API needs.
type Mailbox interface {
	ModifyMessage(ctx context.Context, messageID string, addLabels, removeLabels []string) (*gmail.Message, error)
	TrashMessage(ctx context.Context, messageID string) error
	ListLabels(ctx context.Context) ([]*gmail.Label, error)
	CreateLabel(ctx context.Context, name string) (*gmail.Label, error)
}

// Deps bundles everything the API handlers touch.
type Deps struct {
	Store       *store.Store
	Runner      *orchestrator.Runner
	Searcher    *search.Searcher
	Analyzer    *analytics.Analyzer
	Categorizer *categorize.Categorizer
	Mailbox     Mailbox
	Encoder     embedding.Encoder
	LLM         enrich.Caller
	Logs        *LogBuffer
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	deps        Deps
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter

	sessionSecret []byte

	// verifyIDToken validates a Google ID token and extracts claims.
	// Tests swap it for a stub.
	verifyIDToken func(ctx context.Context, clientID, rawIDToken string) (*idClaims, error)

	oidcMu       sync.Mutex
	oidcProvider *oidc.Provider
}

// NewServer creates a new API server. It resolves (and if needed
// generates) the session cookie secret.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	secret, err := ensureSessionSecret(cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:           cfg,
		deps:          deps,
		logger:        logger,
		sessionSecret: secret,
	}
	s.verifyIDToken = s.verifyGoogleIDToken
	s.router = s.setupRouter()
	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS middleware (config-driven; disabled when no origins configured)
	corsConfig := CORSConfig{
		AllowedOrigins:   s.cfg.CORSOriginList(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}
	if len(corsConfig.AllowedOrigins) > 0 {
		corsConfig.MaxAge = 86400
	}
	r.Use(CORSMiddleware(corsConfig))

	// Rate limiting (10 req/sec with burst of 20)
	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/api/health", s.handleHealth)

	// Login endpoints stay outside the session guard
	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/login", s.handleLogin)
		r.Get("/callback", s.handleCallback)
		r.Get("/me", s.handleMe)
		r.Post("/logout", s.handleLogout)
	})

	// Dashboard API (session required when auth is enabled)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/api/sync", func(r chi.Router) {
			r.Get("/status", s.handleSyncStatus)
			r.Post("/start", s.handleSyncStart)
			r.Post("/incremental", s.handleSyncIncremental)
			r.Get("/progress", s.handleSyncProgress)
			r.Get("/events", s.handleSyncEvents)
			r.Get("/live-count", s.handleLiveCount)
			r.Get("/llm-process", s.handleLLMStatus)
			r.Post("/llm-process", s.handleLLMStart)
			r.Post("/categorize", s.handleCategorizeAll)
			r.Get("/logs", s.handleSyncLogs)
			r.Get("/auto", s.handleAutoSyncStatus)
			r.Post("/auto", s.handleAutoSyncSet)
		})

		r.Route("/api/emails", func(r chi.Router) {
			r.Get("/", s.handleListEmails)
			r.Get("/{gmailID}", s.handleGetEmail)
		})

		r.Route("/api/analytics", func(r chi.Router) {
			r.Get("/overview", s.handleOverview)
			r.Get("/senders", s.handleSenders)
			r.Get("/subscriptions", s.handleSubscriptions)
			r.Get("/labels", s.handleLabels)
			r.Get("/categories", s.handleCategoryCounts)
			r.Get("/alerts", s.handleAlerts)
			r.Get("/triage", s.handleTriage)
			r.Get("/eda", s.handleEDA)
		})

		r.Route("/api/categories", func(r chi.Router) {
			r.Get("/", s.handleCategoryGroups)
			r.Get("/custom", s.handleCustomCategories)
			r.Post("/assign", s.handleAssignCategory)
			r.Post("/remove-override", s.handleRemoveOverride)
			r.Post("/create", s.handleCreateCategory)
			r.Put("/rename", s.handleRenameCategory)
			r.Delete("/{name}", s.handleDeleteCategory)
		})

		r.Route("/api/expenses", func(r chi.Router) {
			r.Get("/rules", s.handleExpenseRulesGet)
			r.Post("/rules", s.handleExpenseRulesSet)
			r.Post("/override", s.handleExpenseOverride)
			r.Post("/reprocess", s.handleExpenseReprocess)
			r.Get("/transactions", s.handleTransactions)
			r.Get("/overview", s.handleExpensesOverview)
		})

		r.Route("/api/actions", func(r chi.Router) {
			r.Post("/trash", s.handleTrash)
			r.Post("/mark-read", s.handleMarkRead)
			r.Post("/label", s.handleLabel)
			r.Post("/trash-sender", s.handleTrashSender)
		})

		r.Route("/api/action-items", func(r chi.Router) {
			r.Get("/", s.handleActionItems)
			r.Post("/dismiss", s.handleDismissAction)
		})

		r.Route("/api/alerts", func(r chi.Router) {
			r.Get("/rules", s.handleAlertRulesGet)
			r.Put("/rules", s.handleAlertRulesPut)
		})

		r.Route("/api/rules", func(r chi.Router) {
			r.Get("/", s.handleInboxRulesGet)
			r.Post("/", s.handleInboxRulesSet)
			r.Post("/run", s.handleInboxRulesRun)
		})

		r.Route("/api/digest", func(r chi.Router) {
			r.Post("/summarize", s.handleDigestSummarize)
		})
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.cfg.ListenAddr()

	if !s.cfg.Dashboard.AuthEnabled {
		s.logger.Warn("dashboard API running without authentication — set [dashboard] auth_enabled in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
