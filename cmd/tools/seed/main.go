// main.go - Demo data seeding tool.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/karloscodes/cartridge"

	"cherrycap/internal/config"
	"cherrycap/internal/database"
	"cherrycap/internal/seeder"
)

func main() {
	sessions := flag.Int("sessions", 500, "Sessions to generate per demo site")
	flag.Parse()

	cfg := config.GetConfig()
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := seeder.NewSeeder(dbManager, logger, *sessions)
	if err := s.Run(ctx); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
