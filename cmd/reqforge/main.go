// reqforge server — mines requirements from uploaded documents, scores
// them against a rubric, rewrites failures, and serves the results over
// HTTP with per-session progress streams.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/reqforge/reqforge/pkg/agent"
	"github.com/reqforge/reqforge/pkg/api"
	"github.com/reqforge/reqforge/pkg/bus"
	"github.com/reqforge/reqforge/pkg/cache"
	"github.com/reqforge/reqforge/pkg/chunk"
	"github.com/reqforge/reqforge/pkg/config"
	"github.com/reqforge/reqforge/pkg/dedup"
	"github.com/reqforge/reqforge/pkg/embed"
	"github.com/reqforge/reqforge/pkg/kg"
	"github.com/reqforge/reqforge/pkg/llm"
	"github.com/reqforge/reqforge/pkg/mining"
	"github.com/reqforge/reqforge/pkg/models"
	"github.com/reqforge/reqforge/pkg/parser"
	"github.com/reqforge/reqforge/pkg/pipeline"
	"github.com/reqforge/reqforge/pkg/rewrite"
	"github.com/reqforge/reqforge/pkg/services"
	"github.com/reqforge/reqforge/pkg/store"
	"github.com/reqforge/reqforge/pkg/validation"
	"github.com/reqforge/reqforge/pkg/vector"
	"github.com/reqforge/reqforge/pkg/version"
	"github.com/reqforge/reqforge/pkg/webhook"
	"github.com/reqforge/reqforge/pkg/workbench"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// staticRubric serves the built-in criteria when no database is
// configured, so scoring keeps working in degraded mode.
type staticRubric struct{}

func (staticRubric) List(context.Context) ([]models.Criterion, error) {
	return store.DefaultCriteria(), nil
}

func (staticRubric) Weights(context.Context) (map[string]float64, error) {
	weights := make(map[string]float64)
	for _, c := range store.DefaultCriteria() {
		weights[c.Key] = c.Weight
	}
	return weights, nil
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	logger := slog.Default()
	slog.Info("Starting reqforge", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	warnings := services.NewSystemWarningsService()

	// 2. Database (optional; absence degrades persistence, not scoring)
	var db *store.Store
	if storeCfg, err := store.LoadConfigFromEnv(); err != nil {
		warnings.AddWarning("database", "database not configured, persistence disabled",
			err.Error(), "startup")
		slog.Warn("Database not configured, running without persistence", "error", err)
	} else if db, err = store.Open(ctx, storeCfg, logger); err != nil {
		warnings.AddWarning("database", "database unreachable, persistence disabled",
			err.Error(), "startup")
		slog.Warn("Database unreachable, running without persistence", "error", err)
		db = nil
	} else {
		seeded, err := db.SeedDefaultCriteria(ctx)
		if err != nil {
			slog.Error("Failed to seed default criteria", "error", err)
			os.Exit(1)
		}
		slog.Info("Database ready", "criteria_seeded", seeded)
	}

	// 3. Vector store (connection pool sized to the worker permits)
	cfg.Qdrant.MaxIdleConns = cfg.Validation.MaxConcurrent + cfg.Rewrite.MaxConcurrent + 2
	qdrant := vector.NewQdrantClient(cfg.Qdrant, logger)
	for _, collection := range []string{
		config.CollectionChunks,
		config.CollectionKGNodes,
		config.CollectionKGEdges,
		config.CollectionTraces,
	} {
		if err := qdrant.EnsureCollection(ctx, collection, cfg.LLM.EmbeddingDim); err != nil {
			warnings.AddWarning("vector_store", "vector store unreachable at startup",
				err.Error(), "startup")
			slog.Warn("Vector store unreachable, continuing degraded",
				"collection", collection, "error", err)
			break
		}
	}
	var vec vector.Store = qdrant

	// 4. LLM client + embedder
	if cfg.LLM.APIKey == "" {
		warnings.AddWarning("llm", "no API key configured", "OPENAI_API_KEY is empty", "startup")
	}
	chat, err := llm.NewOpenAIClient(cfg.LLM, logger)
	if err != nil {
		slog.Error("Failed to construct LLM client", "error", err)
		os.Exit(1)
	}
	embedder, err := embed.NewOpenAIEmbedder(chat, cfg.LLM.EmbeddingDim)
	if err != nil {
		slog.Error("Failed to construct embedder", "error", err)
		os.Exit(1)
	}

	// 5. Services and artifact cache
	var artifacts *cache.ArtifactCache
	var evaluations *services.EvaluationService
	var suggestions *services.SuggestionService
	var criteria *services.CriteriaService
	var rubric validation.CriteriaLister = staticRubric{}
	var rubricWeights validation.Weights = staticRubric{}
	if db != nil {
		artifacts = cache.NewArtifactCache(db, 15*time.Minute, logger)
		evaluations = services.NewEvaluationService(db, artifacts)
		suggestions = services.NewSuggestionService(db)
		criteria = services.NewCriteriaService(db)
		rubric = criteria
		rubricWeights = criteria
	}
	traces := services.NewTraceService(vec, embedder, config.CollectionTraces, logger)

	// 6. Domain components
	scorer := validation.NewScorer(chat, rubric, rubricWeights, artifacts, logger)
	validator := validation.NewDelegator(scorer, cfg.Validation, logger)
	suggester := validation.NewSuggester(chat)
	rewriter := rewrite.NewDelegator(chat, scorer, artifacts, cfg.Rewrite, logger)
	builder := kg.NewBuilder(chat, embedder, vec, logger)
	kgQuery := kg.NewQuery(embedder, vec)
	detector := dedup.NewDetector(embedder, logger)

	// 7. Message bus + DTO webhook
	b := bus.New(logger)
	forwarder := webhook.NewForwarder(cfg.Webhook, logger)
	forwarder.Subscribe(b)

	miner := mining.NewAgent(chat, parser.NewBuiltin(logger),
		chunk.NewEngine(cfg.LLM.Model, logger), cfg.Chunking, b, logger)

	// 8. Workbench + reflection agents
	bench := workbench.New(0, logger)
	if err := workbench.RegisterQdrantSearch(bench, embedder, vec); err != nil {
		slog.Error("Failed to register qdrant_search tool", "error", err)
		os.Exit(1)
	}
	if err := workbench.RegisterRequirementEval(bench, scorer, cfg.Validation.Threshold); err != nil {
		slog.Error("Failed to register requirement_eval tool", "error", err)
		os.Exit(1)
	}
	planner := agent.NewPlanner(chat, traces, b, logger)
	solver := agent.NewSolver(chat, bench, embedder, vec, traces, b, cfg.Pipeline.TopK, logger)
	verifier := agent.NewVerifier(chat, traces, logger)
	refiner := agent.NewSequencer(planner, solver, verifier,
		cfg.Pipeline.MaxRounds, cfg.Pipeline.RoundTimeout, logger)

	// 9. Pipeline orchestrator
	sessions := pipeline.NewManager(cfg.Pipeline.EventQueueSize, logger)
	var events pipeline.EventStore
	if db != nil {
		events = db
	}
	orch := pipeline.NewOrchestrator(miner, validator, rewriter, builder, detector,
		embedder, vec, events, sessions, cfg.Pipeline, logger)

	// 10. Retention sweeper (persisted events + finished sessions)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweeper := store.NewSweeper(cfg.Retention, db, logger)
	sweeper.AddTask(func(ctx context.Context, cutoff time.Time) {
		sessions.PruneFinished(cutoff)
	})
	sweeper.Start(runCtx)

	// 11. HTTP server
	server := api.NewServer(api.Deps{
		Scorer:       scorer,
		Validator:    validator,
		Suggester:    suggester,
		KGBuilder:    builder,
		KGQuery:      kgQuery,
		Orchestrator: orch,
		Refiner:      refiner,
		Evaluations:  evaluations,
		Suggestions:  suggestions,
		Criteria:     criteria,
		Traces:       traces,
		Warnings:     warnings,
		DB:           db,
		Vec:          vec,
	}, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(runCtx)
	}()

	// 12. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig.String())
		cancel()
		if err := <-errCh; err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
		cancel()
	}

	// 13. Graceful shutdown of background work
	sweeper.Stop()
	forwarder.Close()
	if db != nil {
		if err := db.Close(); err != nil {
			slog.Error("Database close failed", "error", err)
		}
	}
	slog.Info("Shutdown complete")
}
