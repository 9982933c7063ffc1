package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/pipeline-doctor/internal/app"
	"github.com/NikhilSetiya/pipeline-doctor/internal/ingest"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, app.Options{ServiceName: "pipeline-doctor-consumer", NeedNATS: true})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	// Probes and scrapes only; events arrive over NATS
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", a.Health.Handler())
	router.GET("/health/live", a.Health.LivenessHandler())
	router.GET("/health/ready", a.Health.ReadinessHandler())
	router.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	server := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Probe server failed", "error", err.Error())
		}
	}()

	consumer := ingest.NewConsumer(a.NATS, cfg.NATS, a.Controller, a.Logger, a.Metrics)
	runErr := consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("Probe server forced to shutdown", "error", err.Error())
	}
	a.Close(context.Background())

	if runErr != nil {
		log.Fatalf("Consumer stopped: %v", runErr)
	}
	log.Println("Consumer exited")
}
