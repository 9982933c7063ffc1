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

	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/pipeline-doctor/internal/api"
	"github.com/NikhilSetiya/pipeline-doctor/internal/app"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
)

func main() {
	// .env is optional outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	a, err := app.Build(context.Background(), cfg, app.Options{ServiceName: "pipeline-doctor"})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close(context.Background())

	deps := api.RouterDeps{
		Config:    cfg,
		Processor: a.Controller,
		Store:     a.Store,
		Health:    a.Health,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
		Tracing:   a.Tracing,
	}
	if a.Backend.Redis != nil {
		deps.Redis = a.Backend.Redis.Client()
	}
	router := api.NewRouter(deps)

	server := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		a.Logger.Info("Starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	a.Logger.Info("Shutting down server...")

	// Remediations in flight get the backoff delay plus a margin to finish
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Doctor.BackoffDelay+30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		a.Logger.Error("Server forced to shutdown", "error", err.Error())
	}

	a.Logger.Info("Server exited")
}
