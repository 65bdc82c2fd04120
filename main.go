// Package main provides the HTTP entry point for the pallet identifier allocator
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/amirphl/pallet-allocator/app/bootstrap"
	"github.com/amirphl/pallet-allocator/app/handlers"
	"github.com/amirphl/pallet-allocator/app/router"
	"github.com/amirphl/pallet-allocator/app/scheduler"
	"github.com/amirphl/pallet-allocator/config"
	"github.com/gofiber/fiber/v3"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting pallet allocator...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCloser := bootstrap.ConfigureLogging(cfg.Logging)
	defer func() { _ = logCloser.Close() }()

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s (env=%s version=%s)", address, cfg.Deployment.Environment, cfg.Deployment.Version)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	db, err := bootstrap.OpenDatabase(cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		stopFuncs = append(stopFuncs, func() { _ = sqlDB.Close() })
	}

	rc, err := bootstrap.OpenCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		stopFuncs = append(stopFuncs, bootstrap.StartCacheHealthMonitor(context.Background(), rc, cfg.Cache.CleanupInterval))
		stopFuncs = append(stopFuncs, func() { _ = rc.Close() })
	}

	flows := bootstrap.BuildFlows(cfg, db, rc)

	if cfg.Allocator.MonitorInterval > 0 {
		monitor := scheduler.NewAllocatorMonitor(flows.Reservation, log.Default(), cfg.Allocator.MonitorInterval)
		stopFuncs = append(stopFuncs, monitor.Start(context.Background()))
	}

	palletHandler := handlers.NewPalletHandler(flows.Reservation, cfg.Server.RequestTimeout)
	allocatorAdminHandler := handlers.NewAllocatorAdminHandler(
		flows.Harness,
		cfg.Allocator.StressReportFormat,
		cfg.Server.RequestTimeout*10,
	)

	appRouter := router.NewFiberRouter(cfg, palletHandler, allocatorAdminHandler)

	return &Application{
		router:    appRouter,
		config:    cfg,
		server:    appRouter.GetApp(),
		stopFuncs: stopFuncs,
	}, nil
}
