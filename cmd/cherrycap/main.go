// main.go - HTTP server application
package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/karloscodes/cartridge"
	"gopkg.in/natefinch/lumberjack.v2"

	"cherrycap/internal"
	"cherrycap/internal/config"
	"cherrycap/internal/settings"
	"cherrycap/internal/users"
)

const defaultShutdownTimeout = 30 * time.Second

// setupLogRotation mirrors boot log output into a size-capped rotating file.
func setupLogRotation(cfg *config.Config) {
	if !cfg.IsProduction() || cfg.LogsDirectory == "" {
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogsDirectory, "cherrycap.log"),
		MaxSize:    cfg.LogsMaxSizeInMb,
		MaxBackups: cfg.LogsMaxBackups,
		MaxAge:     cfg.LogsMaxAgeInDays,
		Compress:   true,
	}))
}

func main() {
	setupLogRotation(config.GetConfig())

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed")

	cfg := config.GetConfig()
	logger := cartridge.NewLogger(cfg, nil)
	if err := settings.SetupDefaults(logger, app.DBManager.GetConnection()); err != nil {
		log.Fatalf("Failed to seed settings: %v", err)
	}
	if cfg.AdminEmail != "" {
		users.SetupAdminUserIfNotExists(logger, app.DBManager.GetConnection(), cfg.AdminEmail)
	}

	log.Println("Starting application...")
	if err := app.StartAsync(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	log.Println("Application started successfully")

	waitForShutdownSignal(app)
}

// waitForShutdownSignal sets up signal handling and performs graceful shutdown.
func waitForShutdownSignal(app *internal.Application) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigChan
	log.Printf("Received signal: %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	log.Println("Initiating graceful shutdown...")
	if err := app.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}
	log.Println("Server shutdown complete")
}
