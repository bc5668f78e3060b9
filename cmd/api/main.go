package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bryanwahyu/blackforge/internal/application"
	appanalysis "github.com/bryanwahyu/blackforge/internal/application/analysis"
	appdatasets "github.com/bryanwahyu/blackforge/internal/application/datasets"
	apppurify "github.com/bryanwahyu/blackforge/internal/application/purify"
	"github.com/bryanwahyu/blackforge/internal/config"
	domanalysis "github.com/bryanwahyu/blackforge/internal/domain/analysis"
	domaudit "github.com/bryanwahyu/blackforge/internal/domain/audit"
	domdatasets "github.com/bryanwahyu/blackforge/internal/domain/datasets"
	dompurify "github.com/bryanwahyu/blackforge/internal/domain/purify"
	"github.com/bryanwahyu/blackforge/internal/engine"
	"github.com/bryanwahyu/blackforge/internal/engine/cluster"
	"github.com/bryanwahyu/blackforge/internal/engine/embedding"
	"github.com/bryanwahyu/blackforge/internal/engine/ensemble"
	"github.com/bryanwahyu/blackforge/internal/engine/influence"
	"github.com/bryanwahyu/blackforge/internal/engine/purifier"
	"github.com/bryanwahyu/blackforge/internal/engine/spectral"
	mysqlp "github.com/bryanwahyu/blackforge/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/blackforge/internal/infra/db/postgres"
	"github.com/bryanwahyu/blackforge/internal/infra/httpserver"
	"github.com/bryanwahyu/blackforge/internal/infra/jobs"
	minioStore "github.com/bryanwahyu/blackforge/internal/infra/storage"
	"github.com/bryanwahyu/blackforge/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	if err := os.MkdirAll(cfg.Uploads.Dir, 0o755); err != nil {
		logger.Fatal("uploads dir error", zap.Error(err))
	}

	// connect database (driver dipilih dari config)
	var (
		db           *sql.DB
		datasetRepo  domdatasets.Repository
		analysisRepo domanalysis.Repository
		purifyRepo   dompurify.Repository
		auditRepo    domaudit.Repository
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			logger.Fatal("postgres connect error", zap.Error(err))
		}
		datasetRepo = postgresp.NewDatasetRepository(db)
		analysisRepo = postgresp.NewAnalysisRepository(db)
		purifyRepo = postgresp.NewPurificationRepository(db)
		auditRepo = postgresp.NewAuditRepository(db)
	default:
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			logger.Fatal("mysql connect error", zap.Error(err))
		}
		datasetRepo = mysqlp.NewDatasetRepository(db)
		analysisRepo = mysqlp.NewAnalysisRepository(db)
		purifyRepo = mysqlp.NewPurificationRepository(db)
		auditRepo = mysqlp.NewAuditRepository(db)
	}
	defer db.Close()

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		logger.Fatal("minio init error", zap.Error(err))
	}

	// init detection engine
	eng := cfg.Engine
	extractor := &embedding.Extractor{
		Backbone:  embedding.NewBackbone(eng.Image.Size*eng.Image.Size, eng.Image.EmbedDims, eng.Seed),
		BatchSize: eng.BatchSize,
		ImageSize: eng.Image.Size,
		Log:       logger,
	}
	pipeline := engine.NewPipeline(
		extractor,
		ensemble.New(logger),
		logger,
		spectral.New(eng.Spectral.Components, eng.Spectral.K, eng.Spectral.MinClassSize, logger),
		cluster.New(eng.Clustering.MinorityFraction, eng.Clustering.Eps, eng.Clustering.MinSamples, eng.Seed, logger),
		influence.New(eng.Influence.Damping, eng.Influence.MaxIterations, eng.Influence.Tolerance,
			eng.Influence.BatchSize, eng.Influence.TailZ, eng.Seed, logger),
	)
	cleaner := purifier.New(extractor, pipeline, logger)

	// init job manager + services
	manager := jobs.NewManager(logger)
	clock := application.SystemClock{}

	datasetsSvc := &appdatasets.Service{
		Repo:       datasetRepo,
		Blobs:      store,
		UploadsDir: cfg.Uploads.Dir,
		Clock:      clock,
		Log:        logger,
	}
	analysisSvc := &appanalysis.Service{
		Datasets: datasetRepo,
		Repo:     analysisRepo,
		Audit:    auditRepo,
		Pipeline: pipeline,
		Jobs:     manager,
		Clock:    clock,
		Log:      logger,
	}
	purifySvc := &apppurify.Service{
		Datasets:   datasetRepo,
		Analyses:   analysisRepo,
		Repo:       purifyRepo,
		Audit:      auditRepo,
		Purifier:   cleaner,
		Blobs:      store,
		Jobs:       manager,
		UploadsDir: cfg.Uploads.Dir,
		Clock:      clock,
		Log:        logger,
	}

	// init router
	checkers := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}
	mux := chi.NewRouter()
	mux.Use(middleware.LoggingMiddleware(logger))
	mux.Use(middleware.RateLimitMiddleware(100, 10))
	mux.Mount("/", httpserver.NewRouter(datasetsSvc, analysisSvc, purifySvc, auditRepo, cfg.Uploads.Dir, checkers))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
