package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/medisched/booking-engine/internal/config"
	"github.com/medisched/booking-engine/internal/db"
	"github.com/medisched/booking-engine/internal/notify"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("notify-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running notify worker in env=%s interval=%s batch=%d",
		cfg.Env, cfg.NotifyInterval, cfg.NotifyBatchSize)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	store := notify.NewOutboxStore(pgPool)
	worker := notify.NewWorker(store, notify.LogDeliverer{}, cfg.NotifyBatchSize)

	worker.Run(rootCtx, cfg.NotifyInterval)

	log.Println("shutdown signal received, notify worker stopped")
}
