package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fileflow/internal/api"
	"fileflow/internal/archive"
	"fileflow/internal/config"
	fileutil "fileflow/internal/file"
	"fileflow/internal/ingest"
	"fileflow/internal/retention"
	"fileflow/internal/storage"
	"fileflow/internal/task"
	"fileflow/internal/worker"
)

const readHeaderTimeout = 5 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	if err := fileutil.EnsureDir(cfg.UploadsDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadsDir).Msg("ensure uploads dir")
	}

	registry := task.NewRegistry()
	store := storage.NewDiskStore(cfg.UploadsDir)

	processor, err := worker.New(registry, worker.Options{
		PoolSize: cfg.WorkerPoolSize,
		MinDelay: cfg.MinDelay,
		MaxDelay: cfg.MaxDelay,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	processor.SetBaseContext(baseCtx)

	sweeper := retention.NewSweeper(registry, store, retention.PolicyFor(cfg.Retention.TTL))
	if err := sweeper.Start(cfg.Retention.Schedule); err != nil {
		log.Fatal().Err(err).Msg("failed to start retention sweeper")
	}

	uploader := ingest.NewService(registry, store, processor, ingest.Options{
		MaxFileSize:  cfg.MaxFileSize,
		MaxFiles:     cfg.MaxFiles,
		AllowedTypes: cfg.AllowedTypes,
	})

	router := setupRouter()
	wireAPI(router, api.NewAPI(uploader, registry, archive.NewBuilder(registry, store)))

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Str("uploads_dir", cfg.UploadsDir).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	sweeper.Stop()
	gracefulShutdown(srv, baseCancel, processor, cfg.ShutdownTimeout)
}

func configPath() string {
	if p := os.Getenv("FILEFLOW_CONFIG"); p != "" {
		return p
	}
	return "config.yml"
}

func setLogLevel(level string) {
	if level == "" {
		return
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, keeping info")
		return
	}
	zerolog.SetGlobalLevel(parsed)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(api.ZerologRecovery())
	r.Use(api.ZerologLogger())
	return r
}

func wireAPI(router *gin.Engine, apiHandler *api.API) {
	apiHandler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, w *worker.Worker, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	done := w.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	w.Close()
	log.Info().Msg("server exited cleanly")
}
