package cli

import (
	"context"

	"pipecrm/internal/config"
	"pipecrm/internal/mail"
	"pipecrm/internal/observability"
	"pipecrm/internal/queue"
	"pipecrm/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Run the automation workers",
	Run:   workers,
}

func init() {
	rootCmd.AddCommand(workersCmd)
}

func workers(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	logger := logrus.StandardLogger()

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		logger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	q := queue.New(cfg, logger)
	defer func() { _ = q.Close() }()
	mailer := mail.NewRelayMailer(cfg, logger)
	automationService := services.NewAutomationService(db, logger, q, mailer)

	srv := queue.NewWorkerServer(cfg)
	mux := queue.NewMux(automationService, logger)

	logger.Infof("Starting automation workers (queue %q, concurrency %d)",
		cfg.Queue.AutomationQueue, cfg.Queue.Concurrency)
	if err := srv.Run(mux); err != nil {
		logger.Fatalf("Failed to run workers: %v", err)
	}
}
