package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bloodbank-sync/common/logger"
	"bloodbank-sync/internal/config"
	"bloodbank-sync/internal/service"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// 与看板服务共用 broker 时需要不同的 client id
	if v := os.Getenv("RELAY_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	} else {
		cfg.MQTT.ClientID += "-relay"
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "bloodbank-push-relay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay, err := service.NewRelayService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create push relay service", zap.Error(err))
	}
	defer relay.Stop()

	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- relay.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		<-serviceErrChan
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Push relay error", zap.Error(err))
		}
	}

	log.Info("Push relay service stopped")
}
