package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"form-coach/internal/cache"
	"form-coach/internal/config"
	"form-coach/internal/envelope"

	"github.com/lmittmann/tint"
)

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
}

func main() {
	logger := newLogger(slog.LevelInfo)

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	logger = newLogger(level)

	registry := envelope.Default()
	if cfg.EnvelopesFile != "" {
		n, err := registry.LoadFile(cfg.EnvelopesFile)
		if err != nil {
			logger.Error("failed to load envelopes", "path", cfg.EnvelopesFile, "err", err)
			os.Exit(1)
		}
		logger.Info("loaded envelopes", "path", cfg.EnvelopesFile, "count", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr)
	cancel()
	if err != nil {
		logger.Error("failed to connect to Redis", "addr", cfg.Redis.Addr, "err", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	server := NewServer(cfg, registry, redisClient, logger)
	if err := server.Run(":" + cfg.Server.Port); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}
