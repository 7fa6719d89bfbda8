// Evermind is a memory-augmented personal assistant backend: conversations
// over an OpenAI-compatible model, long-term memories with semantic recall,
// and strict token budgeting for arbitrarily large tool outputs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	evhttp "github.com/evermind-ai/evermind/internal/adapter/http"
	evnats "github.com/evermind-ai/evermind/internal/adapter/nats"
	"github.com/evermind-ai/evermind/internal/adapter/openai"
	evotel "github.com/evermind-ai/evermind/internal/adapter/otel"
	"github.com/evermind-ai/evermind/internal/adapter/postgres"
	"github.com/evermind-ai/evermind/internal/adapter/ristretto"
	"github.com/evermind-ai/evermind/internal/adapter/tools"
	"github.com/evermind-ai/evermind/internal/adapter/ws"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/domain/model"
	"github.com/evermind-ai/evermind/internal/logger"
	"github.com/evermind-ai/evermind/internal/port/tool"
	"github.com/evermind-ai/evermind/internal/resilience"
	"github.com/evermind-ai/evermind/internal/service"
	"github.com/evermind-ai/evermind/internal/token"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)
	log.Info("config loaded",
		"port", cfg.Server.Port,
		"chat_model", cfg.LLM.ChatModel,
		"llm_base_url", cfg.LLM.BaseURL,
	)

	ctx := context.Background()

	// --- Observability ---
	otelShutdown, err := evotel.Init(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()
	metrics, err := evotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	// NATS
	queue, err := evnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()
	log.Info("nats connected")

	// In-process cache
	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Model provider ---
	llmClient := openai.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout)
	llmClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	embedder := openai.NewEmbedder(llmClient, cfg.LLM.EmbedModel, cfg.LLM.EmbedDims)

	profiles := model.NewTable()
	if cfg.LLM.ProfilesFile != "" {
		profiles, err = model.NewTableFromFile(cfg.LLM.ProfilesFile)
		if err != nil {
			return fmt.Errorf("model profiles: %w", err)
		}
	}

	// --- Token accounting ---
	counter := token.NewCounter(cfg.LLM.ChatModel, profiles, log)
	budget := token.NewBudget(cfg.LLM.ChatModel, profiles, counter, cfg.Budget)
	log.Info("token budget",
		"context_limit", budget.ContextLimit,
		"safe_limit", budget.SafeContextLimit,
		"max_chunk", budget.MaxChunkTokens,
	)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	recallSvc := service.NewRecallService(store, embedder, cache, cfg.Recall, cfg.Cache.RecallTTL, log)
	promptSvc := service.NewPromptService(counter, cfg.Prompt, log)
	memorySvc := service.NewMemoryService(store, embedder, cache, cfg.Cache.StatsTTL, log)

	summaryModel := cfg.LLM.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.LLM.ChatModel
	}
	overflowSvc := service.NewOverflowService(budget, llmClient, summaryModel, cfg.LLM.SummaryTemp, cfg.Agent, promptSvc, log)
	overflowSvc.SetMetrics(metrics)
	agentSvc := service.NewAgentService(llmClient, overflowSvc, counter, cfg.LLM.ChatModel, cfg.LLM.ChatTemp, cfg.Agent, log)

	runners := service.RunnerFactory(func(userID string) tool.Runner {
		return tools.NewRunner(recallSvc, memorySvc, userID)
	})
	chatSvc := service.NewChatService(store, llmClient, recallSvc, promptSvc, agentSvc,
		counter, queue, hub, runners, metrics, *cfg, log)

	// --- Background consumers ---
	extractionSvc := service.NewExtractionService(store, llmClient, embedder, cfg.LLM, log)
	cancelExtract, err := extractionSvc.Start(ctx, queue)
	if err != nil {
		return fmt.Errorf("extraction subscriber: %w", err)
	}
	defer cancelExtract()

	titleSvc := service.NewTitleService(store, llmClient, hub, *cfg, log)
	cancelTitle, err := titleSvc.Start(ctx, queue)
	if err != nil {
		return fmt.Errorf("title subscriber: %w", err)
	}
	defer cancelTitle()

	// --- HTTP ---
	handlers := evhttp.NewHandlers(chatSvc, memorySvc, queue)

	r := chi.NewRouter()
	r.Use(evhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(evhttp.SecurityHeaders)
	r.Use(evhttp.RequestID)
	r.Use(evhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(evotel.HTTPMiddleware("evermind"))
	r.Use(chimw.Timeout(120 * time.Second))

	evhttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	// SIGHUP re-reads the config file; tunables picked up through the
	// holder apply without a restart.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if err := holder.Reload(); err != nil {
				log.Error("config reload failed, keeping previous", "error", err)
				continue
			}
			logger.SetLevel(holder.Get().Logging.Level)
			log.Info("config reloaded", "path", cfgPath)
		}
	}()

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
