package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	natsgo "github.com/nats-io/nats.go"

	"github.com/portops/berthplan/internal/allocation"
	"github.com/portops/berthplan/internal/auth"
	"github.com/portops/berthplan/internal/cache"
	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/eventbus"
	"github.com/portops/berthplan/internal/gateway"
	"github.com/portops/berthplan/internal/lock"
	"github.com/portops/berthplan/internal/scoring"
	"github.com/portops/berthplan/internal/slotfinder"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/internal/tidal"
	"github.com/portops/berthplan/pkg/messaging"
	"github.com/portops/berthplan/shared/events"
)

// Config mirrors cmd/gateway/main.go's original loadConfig/getEnv pair,
// extended to spec.md §6's full key set (SPEC_FULL.md §10.3).
type Config struct {
	Port            string
	DatabaseURL     string
	NATSUrl         string
	RedisPrimaryURL string
	RedisTidalURL   string
	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	EtcdEndpoints   []string
	APIKeys         []string
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

func loadConfig() (*Config, error) {
	rateLimitMax, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_IP_PER_MINUTE", "120"))
	if err != nil {
		return nil, err
	}
	return &Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		NATSUrl:         getEnv("NATS_URL", "nats://localhost:4222"),
		RedisPrimaryURL: getEnv("REDIS_URL", ""),
		RedisTidalURL:   getEnv("REDIS_TIDAL_URL", getEnv("REDIS_URL", "")),
		InfluxURL:       getEnv("INFLUXDB_URL", ""),
		InfluxToken:     getEnv("INFLUXDB_TOKEN", ""),
		InfluxOrg:       getEnv("INFLUXDB_ORG", ""),
		InfluxBucket:    getEnv("INFLUXDB_BUCKET", ""),
		EtcdEndpoints:   splitNonEmpty(getEnv("ETCD_ENDPOINTS", "")),
		APIKeys:         splitNonEmpty(getEnv("OPERATOR_API_KEYS", "")),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret-change-me"),
		RateLimitMax:    rateLimitMax,
		RateLimitWindow: time.Minute,
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Printf("[gateway] config error: %v", err)
		os.Exit(1)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Printf("[gateway] database open error: %v", err)
			os.Exit(2)
		}
		if err := db.Ping(); err != nil {
			log.Printf("[gateway] database unreachable: %v", err)
			os.Exit(2)
		}
		defer db.Close()
	}

	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSUrl,
		Name:           "gateway",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("[gateway] failed to connect to NATS: %v", err)
	}
	defer msgClient.Close()

	clk := clock.Real{}
	st := store.New(db, store.NopPersister{}, clk)

	tidalStore := tidal.NewStore(tidal.Config{URL: cfg.InfluxURL, Token: cfg.InfluxToken, Org: cfg.InfluxOrg, Bucket: cfg.InfluxBucket})

	bus := eventbus.New()
	adapter := eventbus.NewAdapter(bus, 0)
	outbound := messaging.NewEventPublisher(msgClient)

	allocOpts := []allocation.Option{
		allocation.WithWeights(scoring.DefaultWeights()),
		allocation.WithBuffers(slotfinder.DefaultBuffers()),
		allocation.WithTidalLookup(tidalStore),
		allocation.WithNotifier(eventbus.NewMultiNotifier(adapter, outbound)),
	}
	if len(cfg.EtcdEndpoints) > 0 {
		lockMgr, lockErr := lock.New(lock.Config{Endpoints: cfg.EtcdEndpoints})
		if lockErr != nil {
			log.Printf("[gateway] etcd lock manager unavailable, falling back to in-process locking only: %v", lockErr)
		} else {
			defer lockMgr.Close()
			allocOpts = append(allocOpts, allocation.WithLock(lockMgr))
		}
	}
	alloc := allocation.New(st, clk, allocOpts...)

	authSvc := auth.New(auth.Config{APIKeys: cfg.APIKeys, JWTSecret: cfg.JWTSecret})

	// Bridge inbound cross-process domain events (produced by cmd/allocator,
	// cmd/ingestor, cmd/conflictdetector) onto this process's local bus, so
	// websocket clients attached to this gateway instance see them.
	if err := msgClient.Subscribe(messaging.EventSubject, func(msg *natsgo.Msg) {
		var evt events.BaseEvent
		if jsonErr := json.Unmarshal(msg.Data, &evt); jsonErr != nil {
			return
		}
		_ = adapter.Publish(context.Background(), &evt)
	}); err != nil {
		log.Printf("[gateway] failed to subscribe to %s: %v", messaging.EventSubject, err)
	}

	c := cache.New(cache.Config{PrimaryAddr: cfg.RedisPrimaryURL, TidalAddr: cfg.RedisTidalURL})
	defer c.Close()

	gwCfg := gateway.DefaultConfig()
	gwCfg.Port = cfg.Port
	gwCfg.RateLimitMax = cfg.RateLimitMax
	gwCfg.RateLimitWindow = cfg.RateLimitWindow

	gw := gateway.New(gwCfg, st, alloc, authSvc, bus, c)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: gw.Handler(),
	}

	go func() {
		log.Printf("[gateway] starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[gateway] failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[gateway] shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[gateway] forced shutdown: %v", err)
	}
}
