// Package main provides a standalone HTTP server for end-to-end testing.
// It runs the real routes and handlers against a test database, with the
// model providers mocked out and session auth driven by a request header,
// so API flows can be exercised without external credentials.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tmai-server/auth"
	"tmai-server/config"
	"tmai-server/internal/api"
	"tmai-server/internal/app"
	"tmai-server/models"
	"tmai-server/observability"
	"tmai-server/rag"
	"tmai-server/repository"
)

func main() {
	observability.InitLogger(false)
	observability.InitMetrics()

	port := os.Getenv("E2E_SERVER_PORT")
	if port == "" {
		port = "9090"
	}

	databaseURL := os.Getenv("E2E_DATABASE_URL")
	if databaseURL == "" {
		observability.Fatal("E2E_DATABASE_URL environment variable is required")
	}

	cfg := config.NewTestConfig()
	ctx := context.Background()

	repo, err := repository.NewRepository(ctx, databaseURL)
	if err != nil {
		observability.Fatal("failed to connect to database", "error", err)
	}
	defer repo.Close()
	observability.Info("connected to test database")

	if err := applySchema(ctx, repo); err != nil {
		observability.Fatal("failed to apply schema", "error", err)
	}

	mockModels := NewMockModelProvider(cfg.OpenAI.EmbeddingDims)

	issuer := auth.NewIssuer(repo, cfg.Keys)
	authenticator := auth.NewAuthenticator(repo)
	enforcer := auth.NewEnforcer(repo)
	ingestor := rag.NewIngestor(repo, mockModels, cfg.RAG, cfg.OpenAI.EmbeddingDims)
	retriever := rag.NewRetriever(repo, mockModels, cfg.RAG)
	assembler := rag.NewAssembler(models.PromptConfig{
		Role: models.FlexString{"You are a test assistant."},
	}, cfg.RAG.HistoryTurns)

	application := app.New(cfg, repo, issuer, enforcer, retriever, ingestor, assembler, mockModels)

	handler := api.NewHandler(application, cfg, authenticator, HeaderSession{})
	router := api.NewRouter(handler, cfg)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		observability.Info("starting e2e test server", "port", port, "url", fmt.Sprintf("http://localhost:%s", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down e2e test server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Fatal("server forced to shutdown", "error", err)
	}
	observability.Info("e2e test server stopped")
}

// applySchema runs the migration files against the test database so the
// server can start from an empty database. Override the directory with
// E2E_MIGRATIONS_DIR when running from outside the repo root.
func applySchema(ctx context.Context, repo *repository.Repository) error {
	dir := os.Getenv("E2E_MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading migrations dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		sql, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if _, err := repo.Pool().Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("applying migration %s: %w", entry.Name(), err)
		}
		observability.Info("applied migration", "file", entry.Name())
	}
	return nil
}
