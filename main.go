package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"tradepilot/config"
	"tradepilot/internal/api"
	"tradepilot/internal/database"
	"tradepilot/internal/engine"
	"tradepilot/internal/events"
	"tradepilot/internal/logging"
	"tradepilot/internal/pricing"
	"tradepilot/internal/signals"
	"tradepilot/internal/vault"
	"tradepilot/internal/venue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Failed to load configuration", "error", err)
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		Component:  "tradepilot",
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	}))
	log := logging.Default()
	log.Info("Starting tradepilot")

	// Database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatal("Failed to run migrations", "error", err)
	}
	cancelMigrate()

	repo := database.NewRepository(db)

	// Redis price cache (optional)
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
	}
	priceCache := database.NewRedisPriceCache(redisClient, cfg.PricingConfig.CacheTTL)

	// Vault for per-user venue credentials
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		log.Fatal("Failed to create vault client", "error", err)
	}
	if err := vaultClient.Health(context.Background()); err != nil {
		log.Warn("Vault health check failed", "error", err)
	}

	// Venues
	resolver := venue.NewResolver(cfg.VenueConfigs, vaultClient)
	defer resolver.Close()

	// Prices and signals: external services when configured, simulators
	// otherwise.
	var feed pricing.Feed
	if cfg.PricingConfig.ServiceURL != "" {
		feed = pricing.WithRetry(pricing.NewHTTPFeed(cfg.PricingConfig), 0)
	} else {
		log.Info("No pricing service configured, using simulated feed")
		feed = pricing.NewSimFeed(time.Now().UnixNano(), map[string]float64{
			"BTCUSDT": 60000,
			"ETHUSDT": 3000,
			"SOLUSDT": 150,
		})
	}
	feed = pricing.WithCache(feed, priceCache)

	var signalProvider signals.Provider
	if cfg.SignalsConfig.ServiceURL != "" {
		signalProvider = signals.NewHTTPProvider(cfg.SignalsConfig)
	} else {
		log.Info("No signal service configured, using simulated provider")
		signalProvider = signals.NewSimProvider(time.Now().UnixNano())
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(registry)

	// Execution ledger audit stream
	ledgerOut := os.Stdout
	if cfg.EngineConfig.LedgerPath != "" {
		f, err := os.OpenFile(cfg.EngineConfig.LedgerPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal("Failed to open ledger file", "path", cfg.EngineConfig.LedgerPath, "error", err)
		}
		defer f.Close()
		ledgerOut = f
	}

	eventBus := events.NewEventBus()

	eng := engine.New(cfg, engine.Deps{
		Store:   repo,
		Ledger:  engine.NewLedger(repo, ledgerOut),
		Router:  engine.NewRouter(resolver, metrics),
		Risk:    engine.NewRiskManager(cfg.RiskConfig, cfg.EngineConfig.MaxDailyTrades),
		Feed:    feed,
		Signals: signalProvider,
		Bus:     eventBus,
		Metrics: metrics,
	})

	// Resume sessions that were running when the process last exited.
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.RestoreOnStartup(restoreCtx); err != nil {
		cancelRestore()
		log.Fatal("Failed to restore sessions", "error", err)
	}
	cancelRestore()

	server := api.NewServer(cfg.ServerConfig, cfg.AuthConfig, eng, eventBus, vaultClient, resolver, registry)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	eng.Shutdown(shutdownCtx)

	log.Info("Shutdown complete")
}
