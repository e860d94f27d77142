// Command coreserver is the composition root: it wires the topology
// cache, prediction engine, conflict detector, detection scheduler,
// and fan-out hub together, starts the scheduler loop and a minimal
// websocket listener, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/railtms/core/internal/cache"
	"github.com/railtms/core/internal/conflict"
	"github.com/railtms/core/internal/config"
	"github.com/railtms/core/internal/hub"
	"github.com/railtms/core/internal/prediction"
	"github.com/railtms/core/internal/pubsub"
	"github.com/railtms/core/internal/scheduler"
	"github.com/railtms/core/internal/solver"
	"github.com/railtms/core/internal/storage"
	"github.com/railtms/core/pkg/messaging"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("coreserver: invalid config: %v", err)
	}

	storageFactory, err := storage.NewPostgresFactory(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("coreserver: connect storage: %v", err)
	}
	defer storageFactory.Close()

	bus := pubsub.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer bus.Close()

	fleetCache := cache.New(storageFactory, cfg.CacheTTL)
	predictor := prediction.New(fleetCache, storageFactory,
		prediction.WithHorizon(cfg.PredictionHorizon),
		prediction.WithMaxParallel(cfg.MaxParallelOperations))
	detector := conflict.New(fleetCache, conflict.Config{SafetyBuffer: cfg.SafetyBuffer})

	fanout := hub.New(bus)

	sched := scheduler.New(fleetCache, predictor, detector, storageFactory, fanout, bus)
	if err := sched.SetInterval(int(cfg.DetectionInterval.Seconds())); err != nil {
		log.Fatalf("coreserver: set interval: %v", err)
	}
	sched.WithAlertThresholds(cfg.AlertSeverityThreshold, cfg.AlertTimeThreshold)
	sched.WithMaxConsecutiveFailures(cfg.MaxConsecutiveFailures)

	if natsClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSUrl,
		Name:           "coreserver",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	}); err != nil {
		log.Printf("coreserver: solver NATS client unavailable, running without solver enrichment: %v", err)
	} else {
		defer natsClient.Close()
		sched.WithSolver(solver.NewNATS(natsClient))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fanout.StartBridge(ctx); err != nil {
		log.Printf("coreserver: cross-instance bridge unavailable: %v", err)
	}

	sched.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		transport, err := hub.Upgrade(w, r)
		if err != nil {
			log.Printf("coreserver: websocket upgrade: %v", err)
			return
		}
		sess := fanout.Connect(transport)
		fanout.ReadLoop(sess)
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("coreserver: listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("coreserver: listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("coreserver: shutting down")
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("coreserver: http shutdown error: %v", err)
	}

	log.Println("coreserver: stopped")
}
