package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/ingestor"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/pkg/messaging"
)

// Config mirrors cmd/matching/main.go's loadConfig/getEnv pair, extended to
// the AIS feed coordinates ingestor.Config needs (SPEC_FULL.md §10.3).
type Config struct {
	NATSUrl     string
	DatabaseURL string
	AISUrl      string
	AISAPIKey   string
	MMSIList    []string
	PortLat     float64
	PortLon     float64
}

func loadConfig() (*Config, error) {
	portLat, err := parseFloat(getEnv("PORT_LAT", "0"))
	if err != nil {
		return nil, err
	}
	portLon, err := parseFloat(getEnv("PORT_LON", "0"))
	if err != nil {
		return nil, err
	}
	return &Config{
		NATSUrl:     getEnv("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		AISUrl:      getEnv("AIS_FEED_URL", ""),
		AISAPIKey:   getEnv("AIS_FEED_API_KEY", ""),
		MMSIList:    splitNonEmpty(getEnv("AIS_MMSI_LIST", "")),
		PortLat:     portLat,
		PortLon:     portLon,
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	requireAIS := flag.Bool("require-ais", false, "exit with code 3 if the AIS feed cannot be reached at startup")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Printf("[ingestor] config error: %v", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Printf("[ingestor] database open error: %v", err)
			os.Exit(2)
		}
		if err := db.Ping(); err != nil {
			log.Printf("[ingestor] database unreachable: %v", err)
			os.Exit(2)
		}
		defer db.Close()
	}

	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSUrl,
		Name:           "ingestor",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("[ingestor] failed to connect to NATS: %v", err)
	}
	defer msgClient.Close()

	clk := clock.Real{}
	st := store.New(db, store.NopPersister{}, clk)
	notify := messaging.NewEventPublisher(msgClient)

	ig := ingestor.New(ingestor.Config{
		URL:      cfg.AISUrl,
		APIKey:   cfg.AISAPIKey,
		MMSIList: cfg.MMSIList,
		PortLat:  cfg.PortLat,
		PortLon:  cfg.PortLon,
	}, st, clk, notify)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- ig.Run(ctx)
	}()

	if *requireAIS {
		// Give the first connection attempt a short window to establish
		// before deciding the feed is genuinely unreachable (spec.md's
		// exit code 3 applies to startup only, not later disconnects that
		// internal/ingestor's own backoff already recovers from).
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()
		tick := time.NewTicker(200 * time.Millisecond)
		defer tick.Stop()
	waitLoop:
		for {
			select {
			case <-tick.C:
				switch ig.State() {
				case ingestor.StateRunning, ingestor.StateSubscribed, ingestor.StateDegraded:
					break waitLoop
				}
			case <-deadline.C:
				log.Printf("[ingestor] AIS feed unreachable within startup deadline, state=%s", ig.State())
				cancel()
				os.Exit(3)
			case err := <-runErrCh:
				log.Printf("[ingestor] run loop exited during startup: %v", err)
				os.Exit(3)
			}
		}
	}

	log.Printf("[ingestor] running, subscribed to %d vessel(s)", len(cfg.MMSIList))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("[ingestor] shutting down")
		cancel()
	case err := <-runErrCh:
		log.Printf("[ingestor] run loop exited: %v", err)
	}
}
