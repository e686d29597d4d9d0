package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dhoini/numgate/internal/app"
	"github.com/Dhoini/numgate/internal/config"
	"github.com/Dhoini/numgate/pkg/logger"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file read outside production")
	flag.Parse()

	// Загрузка конфигурации
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		logger.New(logger.INFO).Fatal("Failed to load configuration: %v", err)
	}

	// Инициализация логгера
	log := logger.New(logger.ParseLevel(cfg.App.LogLevel))
	defer func() { _ = log.Sync() }()

	// Контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Errorw("Application stopped with error", "error", err)
		os.Exit(1)
	}
}
