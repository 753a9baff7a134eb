// crmchat - chat history backend for the CRM assistant.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/crmchat/internal/agent"
	"github.com/ashureev/crmchat/internal/api"
	"github.com/ashureev/crmchat/internal/config"
	"github.com/ashureev/crmchat/internal/crm"
	"github.com/ashureev/crmchat/internal/history"
	"github.com/ashureev/crmchat/internal/identity"
	"github.com/ashureev/crmchat/internal/metrics"
	"github.com/ashureev/crmchat/internal/middleware"
	"github.com/ashureev/crmchat/internal/realtime"
	"github.com/ashureev/crmchat/internal/session"
	"github.com/ashureev/crmchat/internal/store"
	"github.com/ashureev/crmchat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	// Initialize dependencies.
	st, err := store.Open(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = st.Ping(pingCtx)
	cancelPing()
	if err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected", "driver", cfg.Store.Driver)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}
	hub := realtime.NewHub(realtime.DefaultBuffer)
	defer hub.Close()

	observers := history.Observers{hub}
	if m != nil {
		observers = append(observers, m)
	}
	registries := history.NewRegistries(st,
		history.WithObserver(observers),
		history.WithWelcome(cfg.WelcomeMessage),
	)

	sessionOpts := []session.Option{session.WithLogger(logger)}
	if m != nil {
		sessionOpts = append(sessionOpts, session.WithRemoteRecorder(m))
	}

	// CRM lookup (optional).
	lookup, conversations, err := openCRM(cfg)
	if err != nil {
		slog.Error("Failed to initialize CRM client", "error", err)
		os.Exit(1)
	}
	if lookup != nil {
		sessionOpts = append(sessionOpts, session.WithUserLookup(lookup))
	} else {
		slog.Info("CRM lookup disabled (CRM_BASE_URL and SUPABASE_URL not set)")
	}

	// Chat service client (optional).
	chatClient := openChat(cfg, logger)
	var chatPing api.Pinger
	if chatClient != nil {
		defer chatClient.Close()
		sessionOpts = append(sessionOpts, session.WithChatClient(chatClient))
		chatPing = api.PingerFunc(chatClient.Health)
	} else {
		slog.Info("Chat features disabled (CHAT_GRPC_ADDR/CHAT_BASE_URL not set or connection failed)")
	}

	pool := session.NewPool(registries, sessionOpts...)

	// Initialize handlers.
	baseHandler := api.NewHandler(pool)
	sessionHandler := api.NewSessionHandler(baseHandler)
	chatHandler := api.NewChatHandler(baseHandler, api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	userHandler := api.NewUserHandler(baseHandler, conversations)
	systemHandler := api.NewSystemHandler(st, chatPing, api.ClientConfig{
		WelcomeMessage:  welcomeMessage(cfg),
		ChatEnabled:     chatClient != nil,
		CRMEnabled:      lookup != nil,
		RealtimeEnabled: true,
	})
	var counter realtime.ConnectionCounter
	if m != nil {
		counter = m
	}
	wsHandler := realtime.NewWebSocketHandler(hub, cfg.AllowedOrigins(), cfg.IsDevelopment(), counter)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	if m != nil {
		r.Use(m.Middleware)
	}
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	systemHandler.RegisterHealth(r)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// Everything else is scoped to the caller's anonymous client id.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Route("/api", func(r chi.Router) {
			sessionHandler.RegisterRoutes(r)
			chatHandler.RegisterRoutes(r)
			userHandler.RegisterRoutes(r)
			systemHandler.RegisterRoutes(r)
		})
		r.Get("/ws/sessions", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WriteTimeout stays 0: websocket streams are long-lived and chat replies
	// are bounded by CHAT_TIMEOUT instead.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	// Let background profile loads finish before the store closes.
	pool.Wait()

	slog.Info("Server stopped successfully")
}

// openCRM returns the configured lookup, wrapped in a cache, and the
// conversation lister when the REST CRM is used.
func openCRM(cfg *config.Config) (crm.Lookup, api.ConversationLister, error) {
	switch {
	case cfg.CRM.SupabaseURL != "":
		sb, err := crm.NewSupabaseLookup(cfg.CRM.SupabaseURL, cfg.CRM.SupabaseKey)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("CRM lookup via Supabase", "url", cfg.CRM.SupabaseURL)
		return crm.NewCached(sb, cfg.CRM.CacheTTL), nil, nil
	case cfg.CRM.BaseURL != "":
		client, err := crm.NewHTTPClient(cfg.CRM.BaseURL, cfg.CRM.Timeout)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("CRM lookup via REST", "url", cfg.CRM.BaseURL)
		return crm.NewCached(client, cfg.CRM.CacheTTL), client, nil
	}
	return nil, nil, nil
}

// openChat connects to the chat service. A failed gRPC connection disables
// chat rather than aborting startup.
func openChat(cfg *config.Config, logger *slog.Logger) agent.Client {
	switch {
	case cfg.Chat.GRPCAddr != "":
		slog.Info("Attempting to connect to chat service via gRPC", "address", cfg.Chat.GRPCAddr)
		grpcCfg := agent.DefaultGrpcClientConfig()
		grpcCfg.Address = cfg.Chat.GRPCAddr
		grpcCfg.RequestTimeout = cfg.Chat.Timeout
		client, err := agent.NewGrpcClient(grpcCfg, logger)
		if err != nil {
			slog.Warn("Failed to connect to chat service, chat will be disabled", "error", err)
			return nil
		}
		return client
	case cfg.Chat.BaseURL != "":
		client, err := agent.NewHTTPClient(cfg.Chat.BaseURL, cfg.Chat.Timeout, logger)
		if err != nil {
			slog.Warn("Invalid chat service URL, chat will be disabled", "error", err)
			return nil
		}
		return client
	}
	return nil
}

func welcomeMessage(cfg *config.Config) string {
	if cfg.WelcomeMessage != "" {
		return cfg.WelcomeMessage
	}
	return history.DefaultWelcome
}
