package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
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
	"tmai-server/services"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// usageSweepInterval is how often expired usage-window rows are reclaimed.
const usageSweepInterval = 5 * time.Minute

// platformPromptDefault is the prompt used for services that configured
// neither a structured prompt nor a legacy system prompt. It is passed into
// the assembler explicitly rather than read from a global.
var platformPromptDefault = models.PromptConfig{
	Role: models.FlexString{"You are a helpful assistant for this service."},
	Instructions: models.FlexString{
		"Answer using the provided sources when they are relevant.",
		"If the sources do not cover the question, say so instead of guessing.",
	},
}

func main() {
	if err := godotenv.Load(); err != nil {
		observability.InitLogger(true)
		observability.Info("no .env file found, using environment variables")
	} else {
		observability.InitLogger(true)
	}
	observability.InitMetrics()

	cfg, err := config.Load()
	if err != nil {
		observability.Fatal("invalid configuration", "error", err)
	}

	ctx := context.Background()

	if !cfg.HasDatabase() {
		observability.Fatal("DATABASE_URL is required")
	}
	repo, err := repository.NewRepository(ctx, cfg.Database.URL)
	if err != nil {
		observability.Fatal("failed to connect to database", "error", err)
	}
	defer repo.Close()
	observability.Info("connected to database")

	openaiService, err := services.NewOpenAIService(cfg)
	if err != nil {
		observability.Fatal("failed to initialize OpenAI service", "error", err)
	}

	var invoker services.Invoker = openaiService
	if cfg.LLMProvider == "bedrock" {
		bedrockService, err := services.NewBedrockService(ctx, cfg)
		if err != nil {
			observability.Fatal("failed to initialize Bedrock service", "error", err)
		}
		invoker = bedrockService
		observability.Info("generation backend: bedrock", "model", cfg.Bedrock.ModelID)
	} else {
		observability.Info("generation backend: openai", "model", cfg.OpenAI.Model)
	}

	issuer := auth.NewIssuer(repo, cfg.Keys)
	authenticator := auth.NewAuthenticator(repo)
	enforcer := auth.NewEnforcer(repo)

	ingestor := rag.NewIngestor(repo, openaiService, cfg.RAG, cfg.OpenAI.EmbeddingDims)
	retriever := rag.NewRetriever(repo, openaiService, cfg.RAG)
	assembler := rag.NewAssembler(platformPromptDefault, cfg.RAG.HistoryTurns)

	application := app.New(cfg, repo, issuer, enforcer, retriever, ingestor, assembler, invoker)

	handler := api.NewHandler(application, cfg, authenticator, noSessions{})
	router := api.NewRouter(handler, cfg)

	// Reclaim expired usage-window rows in the background.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepUsageWindows(sweepCtx, repo)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.RAG.UpstreamTimeoutSec+30) * time.Second,
	}

	go func() {
		observability.Info("starting server", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Fatal("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		observability.Fatal("server forced to shutdown", "error", err)
	}
	observability.Info("server stopped")
}

// sweepUsageWindows periodically deletes expired usage-window counters.
func sweepUsageWindows(ctx context.Context, repo *repository.Repository) {
	ticker := time.NewTicker(usageSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.DeleteExpiredUsageWindows(ctx, time.Now().UTC())
			if err != nil {
				observability.Warn("usage window sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				observability.Debug("reclaimed expired usage windows", "rows", deleted)
			}
		}
	}
}

// noSessions is the deployment default: first-party session auth is provided
// by the surrounding platform, not this service, so a bare deployment only
// accepts API keys.
type noSessions struct{}

func (noSessions) OwnerID(r *http.Request) (uuid.UUID, bool) {
	return uuid.Nil, false
}
