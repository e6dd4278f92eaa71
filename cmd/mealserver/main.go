// Command mealserver runs one station-facing meal service process against the
// shared store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/comedor-digital/meal_service/internal/app"
	"github.com/comedor-digital/meal_service/internal/config"
	"github.com/comedor-digital/meal_service/pkg/logger"
)

func main() {
	log := logger.NewDefault("mealserver")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration invalid")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(ctx, cfg)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}

	if err := application.Start(context.Background()); err != nil {
		log.WithError(err).Fatal("start failed")
	}
	log.Info("meal service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
	}
}
