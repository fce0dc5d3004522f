package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/mg-assistant/internal/config"
	"github.com/loqalabs/mg-assistant/internal/runtime"
	"github.com/spf13/pflag"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		envFile     string
		showVersion bool
	)

	pflag.StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	pflag.StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before MG_* overrides")
	pflag.BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := config.LoadDotEnv(envFile); err != nil {
		bootLogger.Error("failed to load env file", slog.String("path", envFile), slog.String("error", err.Error()))
		os.Exit(1)
	}

	// An absent default config.yaml means built-in defaults; an explicit
	// --config must exist.
	if !pflag.CommandLine.Changed("config") {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			bootLogger.Info("no config file, using defaults", slog.String("path", configPath))
			configPath = ""
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLogger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Telemetry.LogLevel)}))
	slog.SetDefault(logger)

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
