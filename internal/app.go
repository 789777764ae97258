// Package internal wires the application together: database, background
// jobs, routes and the cartridge server.
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"cherrycap/internal/config"
	"cherrycap/internal/database"
	"cherrycap/internal/jobs"
)

// Application wraps cartridge.Application with the analytics-specific
// database manager.
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
}

// NewApp creates an application instance with the default config.
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates an application with the provided config.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return newApp(cfg, MountAppRoutes)
}

// NewAppWithRoutes creates an application with a custom route mount
// function. Used by tests that only need a subset of the surface.
func NewAppWithRoutes(cfg *config.Config, routeMount func(*cartridge.Server)) (*Application, error) {
	return newApp(cfg, routeMount)
}

func newApp(cfg *config.Config, routeMount func(*cartridge.Server)) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	scheduler, err := jobs.NewScheduler(dbManager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    routeMount,
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
	}, nil
}
