package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"meander/internal/config"
	"meander/internal/handler"
	"meander/internal/handler/sse"
	"meander/internal/middleware"
	"meander/internal/repository/postgres"
	postgresChat "meander/internal/repository/postgres/chat"
	serviceChat "meander/internal/service/chat"
	"meander/internal/service/generator/lorem"
	"meander/internal/service/generator/profiles"
	"meander/internal/service/streaming"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, 10)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	// Create repositories
	tables := postgres.NewTableNames(cfg.TablePrefix)
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	threadRepo := postgresChat.NewThreadRepository(repoConfig)
	messageRepo := postgresChat.NewMessageRepository(repoConfig)
	feedbackRepo := postgresChat.NewFeedbackRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool, logger)

	// Generation cadence profiles
	profileRegistry, err := profiles.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize profile registry: %v", err)
	}
	if _, err := profileRegistry.Get(cfg.GeneratorProfile); err != nil {
		log.Fatalf("Unknown generator profile %q", cfg.GeneratorProfile)
	}
	logger.Info("profile registry initialized", "profile", cfg.GeneratorProfile)

	generator := lorem.NewGenerator(profileRegistry)

	// Services
	chatService := serviceChat.NewService(threadRepo, messageRepo, feedbackRepo, logger)
	jobRegistry := streaming.NewRegistry()
	streamManager := streaming.NewManager(
		threadRepo,
		messageRepo,
		txManager,
		jobRegistry,
		generator,
		cfg.GeneratorProfile,
		logger,
	)

	logger.Info("services initialized", "generator", generator.Name())

	// Handlers
	threadHandler := handler.NewThreadHandler(chatService, logger)
	feedbackHandler := handler.NewFeedbackHandler(chatService, logger)
	streamHandler := handler.NewStreamHandler(chatService, streamManager, sse.DefaultConfig(), logger)

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Thread routes
	mux.HandleFunc("POST /api/threads", threadHandler.CreateThread)
	mux.HandleFunc("GET /api/threads", threadHandler.ListThreads)
	mux.HandleFunc("GET /api/threads/{id}", threadHandler.GetThread)
	mux.HandleFunc("PATCH /api/threads/{id}", threadHandler.UpdateThread)
	mux.HandleFunc("DELETE /api/threads/{id}", threadHandler.DeleteThread)

	// Message routes
	mux.HandleFunc("GET /api/threads/{id}/messages", threadHandler.ListMessages)
	mux.HandleFunc("GET /api/threads/{id}/messages/{mid}", threadHandler.GetMessage)

	// Feedback routes
	mux.HandleFunc("PUT /api/threads/{id}/messages/{mid}/feedback", feedbackHandler.PutFeedback)
	mux.HandleFunc("DELETE /api/threads/{id}/messages/{mid}/feedback", feedbackHandler.DeleteFeedback)

	// Streaming routes
	mux.HandleFunc("POST /api/threads/{id}/stream", streamHandler.StartStream)             // SSE streaming endpoint
	mux.HandleFunc("POST /api/threads/{id}/messages/{mid}/stop", streamHandler.StopStream) // Cancel streaming turn

	// Build middleware chain (applied in reverse order, they wrap each other)
	var root http.Handler = mux
	root = middleware.Recovery(logger)(root)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Last-Event-ID"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
