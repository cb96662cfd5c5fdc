package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/podushkina/taskenvelope/internal/api"
	"github.com/podushkina/taskenvelope/internal/config"
	"github.com/podushkina/taskenvelope/internal/handlers"
	"github.com/podushkina/taskenvelope/internal/logging"
	"github.com/podushkina/taskenvelope/internal/queue"
	"github.com/podushkina/taskenvelope/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	defer logging.Install(logger)()

	q, err := queue.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.QueueName)
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer q.Close()
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr), zap.String("queue", q.Name()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(q, cfg.WorkerCount, logger.Named("worker"))
	pool.Register("worker.add", handlers.Add)
	pool.Register("worker.echo", handlers.Echo)
	pool.Start(ctx)

	handler := api.NewHandler(q, cfg.EnvelopeOptions(), logger.Named("api"))
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	pool.Stop()
	logger.Info("server stopped")
}
