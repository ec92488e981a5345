package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucaferrato/amie/internal/agents"
	"github.com/lucaferrato/amie/internal/chat"
	"github.com/lucaferrato/amie/internal/config"
	"github.com/lucaferrato/amie/internal/genai"
	"github.com/lucaferrato/amie/internal/httpapi"
	"github.com/lucaferrato/amie/internal/observability"
	"github.com/lucaferrato/amie/internal/semantic"
	"github.com/lucaferrato/amie/internal/session"
	"github.com/lucaferrato/amie/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	client, err := genai.NewClient(genai.Config{
		Mode:           cfg.GenProvider,
		OpenAIModel:    cfg.OpenAIModel,
		AnthropicModel: cfg.AnthropicModel,
		Temperature:    cfg.GenTemperature,
		MaxTokens:      cfg.GenMaxTokens,
	})
	if err != nil {
		log.Fatalf("generation client init failed: %v", err)
	}
	log.Printf("generation provider: %s", client.Name())

	embedder, err := genai.NewEmbedder(genai.EmbedderConfig{
		Model: cfg.EmbeddingModel,
		Dim:   cfg.EmbeddingDim,
	})
	if err != nil {
		log.Fatalf("embedder init failed: %v", err)
	}

	index, err := semantic.NewIndex(ctx, cfg.SemanticDatabaseURL, embedder)
	if err != nil {
		log.Fatalf("semantic index init failed: %v", err)
	}
	defer index.Close()

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	orchestrator := chat.NewOrchestrator(st, index, sessions, client, metrics, chat.Options{
		DialogueTimeout: cfg.DialogueTimeout,
		WorkerTimeout:   cfg.WorkerTimeout,
		HistoryLimit:    cfg.HistoryContextLimit,
	})
	creator := agents.NewCharacterCreator(client)

	api := httpapi.New(cfg, st, index, sessions, orchestrator, creator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 30*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
