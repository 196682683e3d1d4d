package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-rollup-orchestrator/config"
	"github.com/tnqbao/gau-rollup-orchestrator/consumer/worker"
	"github.com/tnqbao/gau-rollup-orchestrator/handler"
	infraPkg "github.com/tnqbao/gau-rollup-orchestrator/infra"
	"github.com/tnqbao/gau-rollup-orchestrator/orchestrator"
	"github.com/tnqbao/gau-rollup-orchestrator/repository"
)

func main() {
	err := godotenv.Load("../staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra)

	maxAttempts := cfg.EnvConfig.Orchestrator.MaxAttempts
	registry := handler.NewRegistry()
	registry.Register(handler.NewProofGenerationHandler(infra.Prover, maxAttempts))
	registry.Register(handler.NewDataSubmissionHandler(infra.DA, maxAttempts))
	registry.Register(handler.NewStateUpdateHandler(infra.Settlement, maxAttempts))
	registry.Register(handler.NewInclusionVerificationHandler(infra.DA, maxAttempts))

	// Initialize context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := orchestrator.New(infra, repo.JobRepo, registry, cfg.EnvConfig)
	if err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to build orchestrator: %v", err)
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	// Start Batch Consumer
	batchConsumer := worker.NewBatchConsumer(infra.RabbitMQ.Channel, infra, orch)
	if err := batchConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start Batch consumer: %v", err)
		log.Fatalf("Failed to start Batch consumer: %v", err)
	}

	// Start Job Consumer
	jobConsumer := worker.NewJobConsumer(infra.RabbitMQ.Channel, infra, repo.JobRepo, registry, cfg.EnvConfig)
	if err := jobConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start Job consumer: %v", err)
		log.Fatalf("Failed to start Job consumer: %v", err)
	}

	// Start the orchestration control loops (pipeline advance, verification
	// polling, lease reaping)
	go orch.Run(ctx)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down consumer...")
	cancel() // Cancel context to stop consumers and control loops

	infra.Logger.Shutdown(context.Background())
	if infra.Telemetry != nil {
		infra.Telemetry.Shutdown(context.Background())
	}

	log.Println("Consumer exited properly")
}
