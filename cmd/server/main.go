package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/leagueops/be-expense-approvals/internal/client"
	"github.com/leagueops/be-expense-approvals/internal/config"
	"github.com/leagueops/be-expense-approvals/internal/database"
	"github.com/leagueops/be-expense-approvals/internal/logger"
	"github.com/leagueops/be-expense-approvals/internal/repository"
	"github.com/leagueops/be-expense-approvals/internal/service"
)

func main() {
	// Load .env when present (local development)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Expense Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(ctx, database.Config{
		ConnString:  cfg.ConnString(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLife,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS (optional; notifications degrade to no-ops without it)
	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = nats.Connect(cfg.NATS.URL, nats.Name(cfg.Service.Name))
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).
				Msg("NATS connection failed; notifications disabled")
		} else {
			defer natsConn.Drain()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Repositories
	expenseRepo := repository.NewExpenseRepository(db)
	userRepo := repository.NewUserRepository(db)
	stageRepo := repository.NewApprovalStageRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	templateRepo := repository.NewWorkflowTemplateRepository(db)
	approvalRepo := repository.NewExpenseApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	paymentQueueRepo := repository.NewPaymentQueueRepository(db)

	// Services
	notifier := client.NewNotificationPublisher(natsConn, log)
	resolver := service.NewApproverResolver(userRepo, log)
	builder := service.NewWorkflowBuilder(templateRepo, resolver, log)
	workflowService := service.NewWorkflowService(
		expenseRepo, workflowRepo, stageRepo, auditRepo, userRepo, notifier, log)
	escalationService := service.NewEscalationService(
		stageRepo, resolver, auditRepo, notifier, log)
	expenseApprovalService := service.NewExpenseApprovalService(
		expenseRepo, approvalRepo, userRepo, paymentQueueRepo, auditRepo, notifier, log)

	// Event consumer: the service's invocation surface
	consumer := client.NewEventConsumer(
		natsConn, expenseRepo, userRepo, builder, workflowService, expenseApprovalService, log)
	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event consumer")
	}
	defer consumer.Stop()

	// Health endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Escalation sweep loop
	if cfg.Escalation.SweepEnabled {
		sweeper := service.NewEscalationSweeper(escalationService, cfg.Escalation.SweepInterval, log)
		go sweeper.Run(ctx)
		log.Info().
			Dur("interval", cfg.Escalation.SweepInterval).
			Msg("Escalation sweeper started")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
