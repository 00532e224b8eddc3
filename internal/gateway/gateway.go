// Package gateway is the HTTP ingress and push transport (spec.md §6),
// grounded on internal/gateway/gateway.go's Gin router, websocket client
// registry, sliding-window rate limiter and circuit-breaker-wrapped
// downstream calls — turned from the teacher's orders/positions/market
// surface onto the berth-planner's vessels/berths/schedules/suggestions/
// conflicts/dashboard surface, with the admin gate (internal/auth) applied
// only to the one route spec.md §3/§12 actually calls admin-only.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/portops/berthplan/internal/allocation"
	"github.com/portops/berthplan/internal/auth"
	"github.com/portops/berthplan/internal/cache"
	"github.com/portops/berthplan/internal/eventbus"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/pkg/circuit"
)

// Config holds gateway configuration (spec.md §6's rateLimitPerIpPerMinute
// plus the teacher's own server-tuning knobs).
type Config struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxHeaderBytes  int
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// DefaultConfig matches spec.md §6's rateLimitPerIpPerMinute default of 120.
func DefaultConfig() Config {
	return Config{
		Port:            "8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxHeaderBytes:  1 << 20,
		RateLimitWindow: time.Minute,
		RateLimitMax:    120,
	}
}

// Gateway is the API gateway: HTTP ingress plus the room-based websocket
// push transport, both fronting the same Store/allocation/conflict
// services every daemon shares.
type Gateway struct {
	router   *gin.Engine
	store    *store.Store
	alloc    *allocation.Service
	authSvc  *auth.Service
	bus      *eventbus.Bus
	cache    *cache.Cache
	breakers *circuit.BreakerGroup

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*WSClient

	rateLimiter *RateLimiter
}

// WSClient is one subscriber connection on the push transport.
type WSClient struct {
	ID   uuid.UUID
	Conn *websocket.Conn

	mu   sync.Mutex
	subs map[string]*eventbus.Subscription

	Send chan []byte
	Done chan struct{}
}

// RateLimiter implements a per-key sliding-window limiter, identical in
// shape to the teacher's (same field names, same Allow semantics).
type RateLimiter struct {
	requests map[string][]time.Time

	mu     sync.Mutex
	limit  int
	window time.Duration
}

// New builds a Gateway wired to the shared services every cmd/gateway
// daemon instance constructs at startup.
func New(cfg Config, st *store.Store, alloc *allocation.Service, authSvc *auth.Service, bus *eventbus.Bus, c *cache.Cache) *Gateway {
	breakers := circuit.NewBreakerGroup(circuit.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 3,
	})

	g := &Gateway{
		router:    gin.Default(),
		store:     st,
		alloc:     alloc,
		authSvc:   authSvc,
		bus:       bus,
		cache:     c,
		breakers:  breakers,
		wsClients: make(map[uuid.UUID]*WSClient),
		rateLimiter: &RateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}

	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.GET("/vessels", g.listVessels)
		v1.POST("/vessels", g.createVessel)
		v1.GET("/vessels/:id", g.getVessel)

		v1.GET("/berths", g.listBerths)
		v1.POST("/berths", g.createBerth)
		v1.GET("/berths/:id", g.getBerth)

		v1.GET("/terminals", g.listTerminals)
		v1.POST("/terminals", g.createTerminal)
		v1.GET("/ports", g.listPorts)
		v1.POST("/ports", g.createPort)

		v1.GET("/schedules/active", g.listActiveSchedules)
		v1.POST("/schedules/allocate", g.allocateSchedule)
		v1.PUT("/schedules/:id/eta", g.updateScheduleEta)
		v1.PUT("/schedules/:id/arrival", g.recordArrival)
		v1.PUT("/schedules/:id/berthing", g.recordBerthing)
		v1.PUT("/schedules/:id/departure", g.recordDeparture)
		v1.DELETE("/schedules/:id", g.cancelSchedule)
		v1.DELETE("/schedules/clear-all", g.authSvc.RequireAdmin(), g.clearAll)

		v1.GET("/suggestions/berth/:vesselId", g.suggestBerths)
		v1.GET("/predictions/eta/active", g.activeETAPredictions)

		v1.GET("/dashboard/metrics", g.dashboardMetrics)
		v1.GET("/dashboard/berth-status", g.dashboardBerthStatus)
		v1.GET("/dashboard/alerts", g.dashboardAlerts)

		v1.GET("/conflicts", g.listConflicts)
		v1.POST("/conflicts/:id/resolve", g.resolveConflict)

		v1.GET("/ws", g.handleWebSocket)
	}
}

// Start runs the gateway's HTTP server; it blocks until the server stops.
func (g *Gateway) Start(addr string) error {
	return g.router.Run(addr)
}

// Handler exposes the underlying gin.Engine as an http.Handler so a caller
// can run it behind its own http.Server and get graceful shutdown via
// srv.Shutdown(ctx) instead of the blocking, non-cancellable router.Run.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Allow reports whether key (typically a client IP) is still under the
// configured rate limit, evicting requests older than the window first.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	requests := rl.requests[key]
	valid := make([]time.Time, 0, len(requests))
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}
