package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"partbank/internal/config"
	"partbank/internal/daemon"
	"partbank/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolved, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", resolved, err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("partbankd shutting down")
	d.Stop()
}
