// Command allocator runs the suggest/allocate workload as a standalone
// worker pool, separate from cmd/gateway's HTTP surface, so the
// compute-heavy per-berth scoring fan-out (internal/allocation.Suggest) can
// scale independently of request ingress (spec.md's "the allocator,
// ingestor, conflict and gateway daemons" share one Postgres-backed Store).
// Several instances joining the same NATS queue group split the request
// load between them; internal/lock's etcd guard keeps their commits to the
// shared Store race-free.
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

	"github.com/portops/berthplan/internal/allocation"
	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/eventbus"
	"github.com/portops/berthplan/internal/lock"
	"github.com/portops/berthplan/internal/scoring"
	"github.com/portops/berthplan/internal/slotfinder"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/internal/tidal"
	"github.com/portops/berthplan/pkg/messaging"
)

const (
	subjectAllocate = "allocation.allocate"
	subjectSuggest  = "allocation.suggest"
	queueGroup      = "allocators"
)

// Config mirrors cmd/gateway/main.go's loadConfig/getEnv pair, trimmed to
// what this worker needs.
type Config struct {
	NATSUrl       string
	DatabaseURL   string
	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string
	EtcdEndpoints []string
}

func loadConfig() *Config {
	return &Config{
		NATSUrl:       getEnv("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		InfluxURL:     getEnv("INFLUXDB_URL", ""),
		InfluxToken:   getEnv("INFLUXDB_TOKEN", ""),
		InfluxOrg:     getEnv("INFLUXDB_ORG", ""),
		InfluxBucket:  getEnv("INFLUXDB_BUCKET", ""),
		EtcdEndpoints: splitNonEmpty(getEnv("ETCD_ENDPOINTS", "")),
	}
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

// allocateRPCRequest/allocateRPCResponse are the wire shapes for
// subjectAllocate, mirroring internal/gateway's allocateRequestDTO so a
// gateway deployed without an in-process allocation.Service can delegate
// here instead.
type allocateRPCRequest struct {
	VesselID           int64   `json:"vesselId"`
	BerthID            int64   `json:"berthId"`
	Eta                string  `json:"eta"`
	Etd                string  `json:"etd"`
	Priority           *string `json:"priority,omitempty"`
	GovernmentOverride bool    `json:"governmentOverride,omitempty"`
}

type rpcResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type suggestRPCRequest struct {
	VesselID     int64   `json:"vesselId"`
	PreferredEta *string `json:"preferredEta,omitempty"`
	TopN         int     `json:"topN,omitempty"`
}

func main() {
	cfg := loadConfig()

	var db *sql.DB
	var err error
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Printf("[allocator] database open error: %v", err)
			os.Exit(2)
		}
		if err := db.Ping(); err != nil {
			log.Printf("[allocator] database unreachable: %v", err)
			os.Exit(2)
		}
		defer db.Close()
	} else {
		log.Printf("[allocator] no DATABASE_URL set, running against an in-memory store only")
	}

	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSUrl,
		Name:           "allocator",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("[allocator] failed to connect to NATS: %v", err)
	}
	defer msgClient.Close()

	clk := clock.Real{}
	st := store.New(db, store.NopPersister{}, clk)

	tidalStore := tidal.NewStore(tidal.Config{URL: cfg.InfluxURL, Token: cfg.InfluxToken, Org: cfg.InfluxOrg, Bucket: cfg.InfluxBucket})

	adapter := eventbus.NewAdapter(eventbus.New(), 0)
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
			log.Printf("[allocator] etcd lock manager unavailable, falling back to in-process locking only: %v", lockErr)
		} else {
			defer lockMgr.Close()
			allocOpts = append(allocOpts, allocation.WithLock(lockMgr))
		}
	}
	alloc := allocation.New(st, clk, allocOpts...)

	if err := msgClient.QueueSubscribe(subjectAllocate, queueGroup, func(msg *natsgo.Msg) {
		handleAllocate(alloc, msg)
	}); err != nil {
		log.Fatalf("[allocator] failed to subscribe to %s: %v", subjectAllocate, err)
	}
	if err := msgClient.QueueSubscribe(subjectSuggest, queueGroup, func(msg *natsgo.Msg) {
		handleSuggest(alloc, msg)
	}); err != nil {
		log.Fatalf("[allocator] failed to subscribe to %s: %v", subjectSuggest, err)
	}

	log.Printf("[allocator] worker joined queue group %q, listening on %s and %s", queueGroup, subjectAllocate, subjectSuggest)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[allocator] shutting down")
}

func handleAllocate(alloc *allocation.Service, msg *natsgo.Msg) {
	var req allocateRPCRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		respond(msg, rpcResponse{Error: "invalid request: " + err.Error()})
		return
	}
	eta, err := time.Parse(time.RFC3339, req.Eta)
	if err != nil {
		respond(msg, rpcResponse{Error: "invalid eta: " + err.Error()})
		return
	}
	etd, err := time.Parse(time.RFC3339, req.Etd)
	if err != nil {
		respond(msg, rpcResponse{Error: "invalid etd: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sch, err := alloc.Allocate(ctx, allocation.AllocateRequest{
		VesselID:           req.VesselID,
		BerthID:            req.BerthID,
		Eta:                eta,
		Etd:                etd,
		PriorityOverride:   req.Priority,
		GovernmentOverride: req.GovernmentOverride,
	})
	if err != nil {
		respond(msg, rpcResponse{Error: err.Error()})
		return
	}
	respond(msg, rpcResponse{Result: sch})
}

func handleSuggest(alloc *allocation.Service, msg *natsgo.Msg) {
	var req suggestRPCRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		respond(msg, rpcResponse{Error: "invalid request: " + err.Error()})
		return
	}

	var preferredEta *time.Time
	if req.PreferredEta != nil {
		t, err := time.Parse(time.RFC3339, *req.PreferredEta)
		if err != nil {
			respond(msg, rpcResponse{Error: "invalid preferredEta: " + err.Error()})
			return
		}
		preferredEta = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	suggestions, err := alloc.Suggest(ctx, req.VesselID, preferredEta, req.TopN)
	if err != nil {
		respond(msg, rpcResponse{Error: err.Error()})
		return
	}
	respond(msg, rpcResponse{Result: suggestions})
}

func respond(msg *natsgo.Msg, resp rpcResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := msg.Respond(payload); err != nil {
		log.Printf("[allocator] failed to respond: %v", err)
	}
}
