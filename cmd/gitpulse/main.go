// Package main is the entry point for the gitpulse server.
//
// @title        GitPulse API
// @version      1.0
// @description  Cached, rate-aware GitHub repository insights.
// @BasePath     /
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitpulse/config"
	"gitpulse/internal/app"
	"gitpulse/internal/logging"
	"gitpulse/internal/version"

	_ "gitpulse/cmd/gitpulse/docs"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// JSON logging until the configured handler is known
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	result, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := result.Config

	if err := logging.Setup(os.Stdout, cfg.Logging.Format, cfg.Logging.Level); err != nil {
		slog.Error("invalid logging configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting gitpulse",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
		"config_file", result.ConfigFile,
	)

	application, err := app.New(context.Background(), app.Config{AppConfig: result})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server error", "error", err)
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
}
