package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cvpipeline/internal/config"
	"cvpipeline/internal/database"
	"cvpipeline/internal/database/migration"
	"cvpipeline/internal/engine"
	"cvpipeline/internal/extract"
	handlers "cvpipeline/internal/http/handler"
	"cvpipeline/internal/http/middleware"
	"cvpipeline/internal/otel"
	"cvpipeline/internal/pipeline"
	"cvpipeline/internal/repository/postgres"
	"cvpipeline/internal/service"
	"cvpipeline/internal/stats"
	"cvpipeline/internal/storage"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	loc, err := time.LoadLocation(cfg.Stats.Timezone)
	if err != nil {
		log.Fatalf("invalid STATS_TIMEZONE %q: %v", cfg.Stats.Timezone, err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op when OTEL_SDK_DISABLED=true)
	shutdownTracing, err := otel.Init(rootCtx, loc)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	// PostgreSQL connection (pooling via database/sql, traced via otelsql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(rootCtx, db, loc, cfg.Database.Host); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// S3-compatible object storage (MinIO)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	// Repositories
	cvRepo := postgres.NewCVPostgres(db)
	statsRepo := postgres.NewStatsPostgres(db)

	// Background analysis pipeline
	metrics, err := pipeline.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("failed to register pipeline metrics: %v", err)
	}
	orch := pipeline.NewOrchestrator(
		cvRepo,
		objStore,
		extract.New(),
		engine.NewOpenAI(cfg.Engine),
		cfg.Pipeline,
		metrics,
	)
	pool := pipeline.NewPool(orch)
	pool.Start(rootCtx)

	// Services and read models
	cvSvc := service.NewCVService(objStore, cvRepo, orch, cfg.Stats.DownloadTTL)
	reader, err := stats.NewReader(statsRepo, objStore, cfg.Stats)
	if err != nil {
		log.Fatalf("failed to initialize stats reader: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("failed to register http metrics: %v", err)
	}
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handlers.RegisterRoutes(app, db, cvSvc, reader)

	// Serve until interrupted, then drain workers before closing the listener
	// so in-flight runs are rolled back to retry instead of dying mid-claim.
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	case <-rootCtx.Done():
	}

	pool.Wait()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
