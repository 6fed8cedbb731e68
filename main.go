package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GroundLink/config"
	"GroundLink/internal/broadcast"
	"GroundLink/internal/logger"
	"GroundLink/internal/mav"
	"GroundLink/web"
)

func main() {
	configFile := flag.String("config", "config/config.yaml", "Path to configuration file")
	logLevel := flag.String("log", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	logger.Info("Loading configuration from %s", *configFile)
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		logger.SetLevelFromString(*logLevel)
	} else {
		logger.SetLevelFromString(cfg.Log.Level)
	}
	if cfg.Log.TimestampFormat != "" {
		logger.SetTimestampFormat(cfg.Log.TimestampFormat)
	}
	logger.Info("Configuration loaded (log level: %s)", logger.GetLevelString())

	registry := mav.NewRegistry()

	// Auto-connect configured endpoints. A failed endpoint is logged and
	// skipped; connections can still be added through the API.
	for _, endpoint := range cfg.Connections {
		connID, vehicleIDs, err := registry.AddConnection(endpoint)
		if err != nil {
			logger.Warn("Auto-connect %s failed: %v", endpoint, err)
			continue
		}
		logger.Info("Auto-connected %s as %s (vehicles: %v)", endpoint, connID, vehicleIDs)
	}

	engine := broadcast.NewEngine(registry,
		time.Duration(cfg.Broadcast.TickMs)*time.Millisecond,
		time.Duration(cfg.Broadcast.FullSyncSec)*time.Second)
	go engine.Run()

	server := web.NewServer(cfg.GetAddress(), cfg.Web.CORSOrigins, registry, engine)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal %v, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("API server failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("API server shutdown: %v", err)
	}
	engine.Stop()
	registry.DisconnectAll()
	logger.Info("Shutdown complete")
}
