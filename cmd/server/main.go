// Package main is the entry point for the genotiles server.
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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/genotiles/server/internal/api"
	"github.com/genotiles/server/internal/cache"
	"github.com/genotiles/server/internal/config"
	"github.com/genotiles/server/internal/service"
)

var (
	configPath string
	logLevel   string
)

// rootCmd starts the tile server.
var rootCmd = &cobra.Command{
	Use:   "genotiles",
	Short: "Serve genomic tilesets over a HiGlass-compatible tile API",
	Long: `Serve genomic tilesets over a HiGlass-compatible tile API.
Tilesets are proxied from remote tile servers, loaded from JSON tile
documents or built from GFF3 annotations, as declared in the config file.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config/server.yaml", "Path to configuration file")
	rootCmd.Flags().StringVar(&logLevel, "loglevel", "", "Log level, overrides the config file (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func setupLogging(cfg config.LogConfig) error {
	level := cfg.Level
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func run() error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}

	log.Infof("Starting genotiles server on port %d", cfg.Server.Port)

	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSize:       cfg.Cache.TileEntries,
		InfoCacheSize:       cfg.Cache.InfoEntries,
		ResponseCacheSizeMB: cfg.Cache.ResponseSizeMB,
		ResponseTTL:         cfg.Cache.ResponseTTL(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	scheduler := service.NewScheduler(service.SchedulerConfig{
		Cache:    cacheManager,
		Window:   cfg.Fetch.Window(),
		MaxBatch: cfg.Fetch.MaxBatch,
	})

	genomes, err := service.Build(cfg, scheduler)
	if err != nil {
		return err
	}

	registry := api.NewRegistry(scheduler, genomes)
	for _, ts := range cfg.Tilesets {
		registry.Describe(ts.UID, ts.Name, ts.Type)
	}
	log.Infof("Serving %d tileset(s), %d chromosome table(s)", len(scheduler.Sources()), len(genomes))

	router := api.NewRouter(api.RouterConfig{
		Registry:    registry,
		Cache:       cacheManager,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2*cfg.Fetch.Timeout() + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
	return nil
}
