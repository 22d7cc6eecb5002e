// Package main provides the dashboard server entry point: the HTTP API plus
// the job and watcher engines in a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/glebarez/sqlite"
	"github.com/golang/glog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yoniyamin/cnio-prot-ui/pkg/audit"
	"github.com/yoniyamin/cnio-prot-ui/pkg/cache"
	"github.com/yoniyamin/cnio-prot-ui/pkg/jobs"
	"github.com/yoniyamin/cnio-prot-ui/pkg/server"
	"github.com/yoniyamin/cnio-prot-ui/pkg/tools"
	"github.com/yoniyamin/cnio-prot-ui/pkg/watchers"
)

func main() {
	var (
		listenAddr   string
		databaseType string
		databaseDSN  string
		toolsPath    string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "sqlite", "Database type (sqlite, postgres, or mysql)")
	flag.StringVar(&databaseDSN, "db-dsn", "config/jobs.db", "Database connection string (file path for sqlite)")
	flag.StringVar(&toolsPath, "tools", "", "Path to tools config YAML (empty uses simulated defaults)")
	flag.Parse()

	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting dashboard server",
		"listen", listenAddr,
		"dbType", databaseType,
		"tools", toolsPath,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	toolsCfg, err := loadToolsConfig(toolsPath)
	if err != nil {
		glog.Fatalf("Failed to load tools config: %v", err)
	}
	registry := tools.NewRegistry(toolsCfg, logger)
	logger.Info("tool registry loaded", "types", registry.Types())

	gormDB, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	srv, err := server.New(gormDB, registry, server.Options{
		Jobs:     jobs.ConfigFromEnv(),
		Watchers: watchers.ConfigFromEnv(),
		Audit:    audit.ConfigFromEnv(),
		Cache:    cache.ConfigFromEnv(),
	}, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}

	enginesDone := make(chan struct{})
	go func() {
		defer close(enginesDone)
		srv.RunEngines(ctx)
	}()

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Router(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("dashboard server ready", "listen", listenAddr)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case <-enginesDone:
	case <-shutdownCtx.Done():
		logger.Error("engine shutdown timed out")
	}

	logger.Info("dashboard server stopped")
}

func loadToolsConfig(path string) (*tools.Config, error) {
	if path == "" {
		return tools.DefaultConfig(), nil
	}
	return tools.LoadConfig(path)
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
	}

	if dbType == "" {
		dbType = os.Getenv("DATABASE_TYPE")
		if dbType == "" {
			dbType = "sqlite"
		}
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	switch dbType {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), gormCfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), gormCfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected sqlite, postgres, or mysql)", dbType)
	}
}
