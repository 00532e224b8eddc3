package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	natsgo "github.com/nats-io/nats.go"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/conflict"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/pkg/messaging"
	"github.com/portops/berthplan/shared/events"
)

// Config mirrors cmd/matching/main.go's loadConfig/getEnv pair.
type Config struct {
	NATSUrl     string
	DatabaseURL string
}

func loadConfig() *Config {
	return &Config{
		NATSUrl:     getEnv("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	cfg := loadConfig()

	var db *sql.DB
	var err error
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Printf("[conflictdetector] database open error: %v", err)
			os.Exit(2)
		}
		if err := db.Ping(); err != nil {
			log.Printf("[conflictdetector] database unreachable: %v", err)
			os.Exit(2)
		}
		defer db.Close()
	}

	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSUrl,
		Name:           "conflict-detector",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("[conflictdetector] failed to connect to NATS: %v", err)
	}
	defer msgClient.Close()

	clk := clock.Real{}
	st := store.New(db, store.NopPersister{}, clk)
	notify := messaging.NewEventPublisher(msgClient)

	detector := conflict.New(st, clk, notify)

	// Reactive scans fire off schedule changes produced elsewhere (gateway's
	// allocate/reschedule/recordEta handlers, ingestor's ETA recompute) —
	// this process only ever sees them over NATS, never in-process.
	if err := msgClient.Subscribe(messaging.EventSubject, func(msg *natsgo.Msg) {
		var evt events.BaseEvent
		if jsonErr := json.Unmarshal(msg.Data, &evt); jsonErr != nil {
			return
		}
		if evt.Type != events.TypeScheduleChanged {
			return
		}
		var data events.ScheduleChangedData
		if jsonErr := json.Unmarshal(evt.Data, &data); jsonErr != nil {
			return
		}
		detector.Notify(conflict.Trigger{BerthID: data.BerthID, VesselID: data.VesselID})
	}); err != nil {
		log.Printf("[conflictdetector] failed to subscribe to %s: %v", messaging.EventSubject, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- detector.Run(ctx)
	}()

	log.Println("[conflictdetector] running periodic and reactive scans")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("[conflictdetector] shutting down")
		cancel()
	case err := <-runErrCh:
		log.Printf("[conflictdetector] run loop exited: %v", err)
	}
}
