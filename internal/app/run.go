package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"wearable-connector/internal/common/logging"
	"wearable-connector/internal/config"
	"wearable-connector/internal/server"
)

// Run is the main entry point for the application
func Run() error {
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting wearable connector",
		logging.Field{Key: "cpus", Value: runtime.NumCPU()},
		logging.Field{Key: "version", Value: "1.0.0"},
	)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx := context.Background()
	application, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}

	if err := application.Start(ctx); err != nil {
		logging.Error("Failed to start background work", err)
		return err
	}

	router := mux.NewRouter()
	SetupRoutes(router, application.Handlers)

	srv := server.New(router, cfg.Port, cfg.TLSCert, cfg.TLSKey)
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	logging.Info("Server listening",
		logging.Field{Key: "port", Value: cfg.Port},
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logging.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Error during app shutdown",
			logging.Field{Key: "error", Value: err.Error()})
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Shutdown complete")
	return nil
}
