package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danieldreier/langdrill/internal/generator"
	"github.com/danieldreier/langdrill/internal/speech"
	"github.com/danieldreier/langdrill/internal/storage"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is fine; the environment may already be set
	_ = godotenv.Load()

	// parseConfig has already described the problem on stderr
	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg Config, logger *zap.Logger) error {
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := NewDrillService(ServiceConfig{
		Store:     store,
		Generator: generator.New(cfg.Generator, logger.Named("generator")),
		Engine:    speech.NewCommandEngine(cfg.SpeechCmd, logger),
		Logger:    logger,
	})
	defer svc.Close()

	s := newMCPServer(svc)

	switch cfg.Transport {
	case "sse":
		return serveSSE(s, cfg, logger)
	default:
		logger.Info("Serving MCP over stdio", zap.String("file", cfg.FilePath))
		return server.ServeStdio(s)
	}
}

func openStore(cfg Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Store {
	case "sqlite":
		return storage.OpenSQLStore(cfg.FilePath, logger.Named("storage"))
	default:
		fileStore := storage.NewFileStore(cfg.FilePath, logger.Named("storage"))
		if err := fileStore.Load(); err != nil {
			return nil, fmt.Errorf("loading store: %w", err)
		}
		return fileStore, nil
	}
}

// serveSSE serves MCP over server-sent events until SIGINT or SIGTERM
func serveSSE(s *server.MCPServer, cfg Config, logger *zap.Logger) error {
	sse := server.NewSSEServer(s, server.WithBaseURL(cfg.BaseURL))
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           corsHandler(sse),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving MCP over SSE", zap.String("addr", cfg.Addr), zap.String("base_url", cfg.BaseURL))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sse.Shutdown(shutdownCtx); err != nil {
		logger.Warn("SSE shutdown failed", zap.Error(err))
	}
	return httpServer.Shutdown(shutdownCtx)
}

// corsHandler lets browser clients on other origins reach the SSE endpoints
func corsHandler(h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Accept", "Origin"},
		MaxAge:         86400,
	}).Handler(h)
}
