// Command relayd is Relay's entry point: it loads configuration, opens
// the embedded store, wires every kernel package together, and serves
// the HTTP/SSE edge until an interrupt or terminate signal arrives.
// Structured the way the teacher's orchestrator main() is: a
// config-source priority chain, a cancellable context for coordinated
// shutdown, and a waitgroup-with-timeout drain on exit.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaybus/relay/internal/adapter"
	"github.com/relaybus/relay/internal/config"
	"github.com/relaybus/relay/internal/deadletter"
	"github.com/relaybus/relay/internal/delivery"
	"github.com/relaybus/relay/internal/edge"
	"github.com/relaybus/relay/internal/endpoint"
	"github.com/relaybus/relay/internal/msgstore"
	"github.com/relaybus/relay/internal/store"
	"github.com/relaybus/relay/internal/subs"
	"github.com/relaybus/relay/internal/trace"
)

func main() {
	var cfg *config.Config
	var configSource string

	if len(os.Args) >= 2 {
		configFile := os.Args[1]
		loadedCfg, err := config.Load(configFile)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", configFile, err)
		}
		cfg = loadedCfg
		configSource = fmt.Sprintf("config file: %s", configFile)
	} else if _, err := os.Stat("config/relay.yaml"); err == nil {
		loadedCfg, err := config.Load("config/relay.yaml")
		if err != nil {
			log.Printf("Warning: config/relay.yaml exists but failed to load: %v", err)
			log.Printf("Using hardcoded defaults instead")
			cfg = config.Default()
			configSource = "hardcoded defaults (config/relay.yaml failed to parse)"
		} else {
			cfg = loadedCfg
			configSource = "config/relay.yaml (default)"
		}
	} else {
		log.Printf("No config file specified and config/relay.yaml not found")
		cfg = config.Default()
		configSource = "hardcoded defaults"
	}

	log.Printf("Starting relayd using %s", configSource)
	if cfg.Debug {
		log.Printf("Debug enabled")
	}

	db, err := store.Open(store.DefaultConfig(cfg.Storage.Path))
	if err != nil {
		log.Fatalf("Failed to open store at %s: %v", cfg.Storage.Path, err)
	}
	defer db.Close()

	if err := db.CheckSchemaVersion(); err != nil {
		log.Fatalf("Schema version check failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages := msgstore.New(db)
	endpoints := endpoint.New(db)
	deadLetts := deadletter.New(db)
	traces := trace.New(db, cfg.Trace.RetentionDays)
	bus := subs.New(cfg.Delivery.HandlerBudgetMs)

	engine := delivery.New(messages, endpoints, deadLetts, traces, bus, delivery.Config{
		Workers:   cfg.Delivery.Workers,
		QueueSize: cfg.Delivery.QueueSize,
		Debug:     cfg.Debug,
	})

	adapters := adapter.New(db, engine, bus)
	bindings := adapter.NewBindingStore(db)

	if err := adapters.Reload(ctx); err != nil {
		log.Printf("Warning: adapter reload on startup failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		traces.Run(ctx)
	}()

	server := edge.New(edge.Deps{
		Engine:      engine,
		Messages:    messages,
		Endpoints:   endpoints,
		DeadLetters: deadLetts,
		Traces:      traces,
		Adapters:    adapters,
		Bindings:    bindings,
		Bus:         bus,
		Enabled:     cfg.Relay.Enabled,
	})

	router := chi.NewRouter()
	server.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("relayd listening on %s (relay.enabled=%v)", cfg.HTTP.Addr, cfg.Relay.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %s, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Printf("Delivery engine shutdown error: %v", err)
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All services shut down successfully")
	case <-time.After(10 * time.Second):
		log.Println("Shutdown timeout exceeded")
	}
}
