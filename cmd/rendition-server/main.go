package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-rendition/pkg/rendition/api"
	"github.com/tendant/simple-rendition/pkg/rendition/config"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), "\nEnvironment:")
		fmt.Fprintln(flag.CommandLine.Output(), config.EnvUsage())
	}
	flag.Parse()

	_ = godotenv.Load(*envFile)

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Server failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if serverConfig.DatabaseType == "postgres" {
		if err := config.PingPostgres(serverConfig.DatabaseURL, serverConfig.DBSchema); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := serverConfig.BuildPipeline(ctx, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer runtime.Close()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runtime.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           api.NewRouter(runtime.Assets, runtime.Pipeline, runtime.Registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Rendition server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"queue", serverConfig.QueueType,
			"local_storage", serverConfig.Local.Enabled,
			"remote_storage", serverConfig.Remote.Type,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	stop()
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Server exiting")
	return nil
}
