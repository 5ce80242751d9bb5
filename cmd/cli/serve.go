package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pipecrm/internal/config"
	"pipecrm/internal/handlers"
	"pipecrm/internal/mail"
	"pipecrm/internal/observability"
	"pipecrm/internal/queue"
	"pipecrm/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Run:   serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) {
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
	if err := migrate(db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Dispatch only enqueues; execution happens in the worker process.
	q := queue.New(cfg, logger)
	defer func() { _ = q.Close() }()
	mailer := mail.NewRelayMailer(cfg, logger)

	automationService := services.NewAutomationService(db, logger, q, mailer)
	dealService := services.NewDealService(db, logger, automationService)
	pipelineService := services.NewPipelineService(db, logger)
	contactService := services.NewContactService(db, logger)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	api := r.Group("/api/v1")
	handlers.RegisterPipelineRoutes(api, handlers.NewPipelineHandler(pipelineService))
	handlers.RegisterDealRoutes(api, handlers.NewDealHandler(dealService, logger))
	handlers.RegisterContactRoutes(api, handlers.NewContactHandler(contactService))
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(automationService))

	listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: listenAddr, Handler: r}
	go func() {
		logger.Infof("Starting server on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("Server exited")
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
