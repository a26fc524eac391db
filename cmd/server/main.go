package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/events"
	"creditledger/internal/events/kafka"
	"creditledger/internal/handlers"
	"creditledger/internal/lock"
	"creditledger/internal/services"
	"creditledger/internal/store"
	"creditledger/internal/websocket"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}
	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	var locks lock.Manager
	if cfg.RedisURL == "" {
		locks = lock.NewLocalManager(cfg.LockTTL)
	} else {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		locks = lock.NewRedisManager(client, cfg.LockTTL)
	}

	ledgers := store.NewLedgerStore(database)
	transactions := store.NewTransactionStore(database)
	reversals := store.NewReversalStore(database)
	adjustments := store.NewAdjustmentStore(database)
	deposits := store.NewDepositStore(database)
	operators := store.NewOperatorStore(database)
	providers := store.NewProviderStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()

	notifier := events.NewNotifier()
	if len(cfg.KafkaBrokers) > 0 {
		relay := kafka.NewRelay(cfg.KafkaBrokers)
		defer relay.Close()
		notifier.Subscribe(relay.Notify)
		log.Println("relaying reversal events to kafka")
	}

	service := services.NewLedgerService(txRunner, locks, ledgers, transactions, reversals, adjustments, deposits, notifier, hub)

	handler := handlers.New(txRunner, cfg, operators, providers, service, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("ledger API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
