package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clefregistry/clef/internal/api"
	"github.com/clefregistry/clef/internal/config"
	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/logger"
	"github.com/clefregistry/clef/internal/tarballcache"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clef",
		Short: "clef is a private npm-compatible package registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCacheCmd())

	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the registry HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	sqlDB, err := database.Open(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer sqlDB.Close()

	store := database.New(sqlDB)
	app, err := api.NewAppContext(cfg, log, store)
	if err != nil {
		return fmt.Errorf("building app context: %w", err)
	}

	server := api.NewServer(app)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-sigCh:
		log.Info("shutdown signal received, draining in-flight requests")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat)

			sqlDB, err := database.Open(cfg.DatabaseURL, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer sqlDB.Close()

			log.Info("migrations applied")
			return nil
		},
	}
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "inspect or clear the on-disk tarball and metadata caches",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "print cache hit/miss and storage statistics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat)

			sqlDB, err := database.Open(cfg.DatabaseURL, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer sqlDB.Close()
			store := database.New(sqlDB)

			dbStats, err := store.GetCacheStats()
			if err != nil {
				return fmt.Errorf("reading cache stats: %w", err)
			}
			tarballStats, err := tarballcache.New(cfg.CacheDir).Stats()
			if err != nil {
				return fmt.Errorf("reading tarball cache stats: %w", err)
			}

			out := json.NewEncoder(os.Stdout)
			out.SetIndent("", "  ")
			return out.Encode(struct {
				Entries   int64 `json:"entries"`
				SizeBytes int64 `json:"size_bytes"`
				HitCount  int64 `json:"hit_count"`
				MissCount int64 `json:"miss_count"`
			}{
				Entries:   tarballStats.Entries,
				SizeBytes: tarballStats.SizeBytes,
				HitCount:  dbStats.HitCount,
				MissCount: dbStats.MissCount,
			})
		},
	})

	var confirmClear bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "delete all cached tarballs and metadata documents from disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmClear {
				return fmt.Errorf("cache clear is destructive: pass --yes to confirm")
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			if err := tarballcache.New(cfg.CacheDir).Clear(); err != nil {
				return fmt.Errorf("clearing tarball cache: %w", err)
			}
			fmt.Println("cache cleared")
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&confirmClear, "yes", false, "confirm the destructive cache clear")
	cacheCmd.AddCommand(clearCmd)

	return cacheCmd
}
