package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raally/internal/platform/config"
	"raally/internal/platform/httpserver"
	"raally/internal/platform/logger"
	"raally/internal/services"
	httptransport "raally/internal/transport/http"
)

const version = "1.0.0"

// forceExitAfter bounds graceful shutdown; the service layer itself does
// not limit disconnect duration.
const forceExitAfter = 30 * time.Second

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	manager := services.NewManager(cfg, log)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := manager.Initialize(initCtx); err != nil {
		cancelInit()
		log.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	cancelInit()

	handler := httptransport.NewHandler(manager, log, version)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	log.Info("server listening", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	log.Info("starting graceful shutdown", "signal", sig.String())

	// Force exit if connections cannot be drained in time.
	forceExit := time.AfterFunc(forceExitAfter, func() {
		log.Error("could not shut down in time, forcing exit")
		os.Exit(1)
	})
	defer forceExit.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	manager.Shutdown(shutdownCtx)
}
