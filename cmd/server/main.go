// Package main is the entry point for the environmental reports server.
//
// main stays small. It reads configuration, builds the logger, opens and
// migrates the database, wires the services and starts the server. All
// actual logic lives in internal/.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/sakif/envir-social/internal/config"
	"github.com/sakif/envir-social/internal/logger"
	"github.com/sakif/envir-social/internal/media"
	"github.com/sakif/envir-social/internal/repository/sqlite"
	"github.com/sakif/envir-social/internal/server"
	"github.com/sakif/envir-social/internal/service"
)

func main() {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load("")
	if err != nil {
		// no logger yet
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// === 2. LOGGING ===
	opts := logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON}
	if cfg.Log.File != "" {
		opts.Rotate = logger.FileRotate{
			Filename:   cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}
	log, flush := logger.New(opts)
	defer flush()

	policy, err := service.ParseNicknamePolicy(cfg.Identity.NicknamePolicy)
	if err != nil {
		log.Fatal("invalid identity.nickname_policy", zap.Error(err))
	}

	// SIGINT/SIGTERM cancel ctx; Start then shuts the server down.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === 3. DATABASE ===
	// New applies the schema and the users.email migration. If either
	// fails we exit here, before anything is served.
	dbDir := filepath.Dir(cfg.DB.Path)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		log.Fatal("failed to create database directory", zap.String("dir", dbDir), zap.Error(err))
	}

	db, err := sqlite.New(ctx, sqlite.Options{
		Path:         cfg.DB.Path,
		BusyTimeout:  cfg.DB.BusyTimeout,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		Logger:       log,
	})
	if err != nil {
		log.Fatal("failed to open database", zap.String("path", cfg.DB.Path), zap.Error(err))
	}
	defer db.Close()

	// === 4. SERVICES ===
	images := media.NewStore(cfg.Media.Dir, log)
	identity := service.NewIdentityService(db.Users(), images, policy, log)
	reports := service.NewReportService(db.Users(), db.Reports(), images, cfg.Reports.ValidateBounds, log)

	log.Info("configuration loaded",
		zap.String("db", cfg.DB.Path),
		zap.String("media", cfg.Media.Dir),
		zap.String("nicknamePolicy", string(policy)),
		zap.Bool("validateBounds", cfg.Reports.ValidateBounds),
	)

	// === 5. SERVE ===
	srv := server.New(cfg, server.Deps{
		DB:       db,
		Identity: identity,
		Reports:  reports,
	}, log)

	if err := srv.Start(ctx); err != nil {
		log.Error("server error", zap.Error(err))
		// deferred Close/sync must still run
		stop()
		db.Close()
		flush()
		os.Exit(1)
	}
}
