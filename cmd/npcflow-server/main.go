package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scrypster/npcflow/internal/budget"
	"github.com/scrypster/npcflow/internal/cache"
	"github.com/scrypster/npcflow/internal/config"
	"github.com/scrypster/npcflow/internal/engine"
	"github.com/scrypster/npcflow/internal/llm"
	"github.com/scrypster/npcflow/internal/server"
	"github.com/scrypster/npcflow/internal/storage/sqlite"
)

func main() {
	envPath := flag.String("env", "", "Path to a .env file (default: .env if present)")
	flag.Parse()

	// Load .env before reading configuration; a missing default file is fine.
	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			log.Fatalf("Failed to load env file %s: %v", *envPath, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("Warning: failed to load .env: %v", err)
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := sqlite.NewStore(cfg.Storage.DataPath + "/npcflow.db")
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ledgerOpts := []budget.Option{}
	if cfg.Budget.AlertThreshold > 0 {
		ledgerOpts = append(ledgerOpts, budget.WithAlertThreshold(cfg.Budget.AlertThreshold))
	}
	ledger := budget.NewLedger(store, cfg.Budget.DailyCapUSD, cfg.Budget.RetentionDays, ledgerOpts...)

	var responseCache cache.ResponseCache
	if cfg.Cache.Durable {
		responseCache = cache.NewStoreCache(store, cfg.Cache.TTL)
	} else {
		responseCache = cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL)
	}

	cloud := llm.NewCloudBackend(llm.CloudConfig{
		APIKey:      cfg.Cloud.APIKey,
		Model:       cfg.Cloud.Model,
		MaxTokens:   cfg.Cloud.MaxTokens,
		Temperature: cfg.Cloud.Temperature,
		Timeout:     cfg.Cloud.Timeout,
	})
	local := llm.NewLocalBackend(llm.LocalConfig{
		BaseURL:        cfg.Local.BaseURL,
		Model:          cfg.Local.Model,
		MaxTokens:      cfg.Local.MaxTokens,
		Temperature:    cfg.Local.Temperature,
		Timeout:        cfg.Local.Timeout,
		HealthInterval: cfg.Local.HealthInterval,
	})

	validator, err := engine.NewValidator()
	if err != nil {
		log.Fatalf("Failed to load validation rules: %v", err)
	}
	fallback, err := engine.NewFallback(nil)
	if err != nil {
		log.Fatalf("Failed to load fallback lines: %v", err)
	}

	router := engine.NewRouter(ledger, cfg.Routing.LocalAffinity, nil)

	var orchOpts []engine.OrchestratorOption
	if cfg.Budget.CountCacheHits {
		orchOpts = append(orchOpts, engine.WithCacheHitCounting())
	}
	orchestrator := engine.NewOrchestrator(
		ledger,
		responseCache,
		router,
		cloud, local,
		validator,
		fallback,
		engine.Costs{Cloud: cfg.Budget.CloudCostUSD, Local: cfg.Budget.LocalCostUSD},
		orchOpts...,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := server.Start(ctx, cfg, orchestrator, ledger)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("npcflow running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}
