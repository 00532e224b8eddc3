package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portops/berthplan/internal/allocation"
	"github.com/portops/berthplan/internal/auth"
	"github.com/portops/berthplan/internal/cache"
	"github.com/portops/berthplan/internal/clock"
	"github.com/portops/berthplan/internal/eventbus"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/shared/events"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := store.New(nil, nil, clk)
	alloc := allocation.New(st, clk)
	authSvc := auth.New(auth.Config{APIKeys: []string{"op-key"}, JWTSecret: "test-secret"})
	bus := eventbus.New()
	c := cache.New(cache.Config{})

	cfg := DefaultConfig()
	cfg.RateLimitMax = 1000
	return New(cfg, st, alloc, authSvc, bus, c)
}

func doJSON(g *Gateway, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterAllowSlidingWindow(t *testing.T) {
	t.Run("rejects once the window's request budget is exhausted, then recovers after it elapses", func(t *testing.T) {
		rl := &RateLimiter{requests: make(map[string][]time.Time), limit: 2, window: 20 * time.Millisecond}
		assert.True(t, rl.Allow("1.2.3.4"))
		assert.True(t, rl.Allow("1.2.3.4"))
		assert.False(t, rl.Allow("1.2.3.4"), "third request within the window must be rejected")

		time.Sleep(25 * time.Millisecond)
		assert.True(t, rl.Allow("1.2.3.4"), "requests age out of the window")
	})

	t.Run("tracks each key independently", func(t *testing.T) {
		rl := &RateLimiter{requests: make(map[string][]time.Time), limit: 1, window: time.Second}
		assert.True(t, rl.Allow("a"))
		assert.True(t, rl.Allow("b"))
		assert.False(t, rl.Allow("a"))
	})
}

func TestRateLimitMiddlewareRejectsOverBudget(t *testing.T) {
	t.Run("the gin middleware returns 429 once the configured budget is spent", func(t *testing.T) {
		g := newTestGateway(t)
		g.rateLimiter = &RateLimiter{requests: make(map[string][]time.Time), limit: 1, window: time.Minute}

		first := doJSON(g, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, first.Code)

		second := doJSON(g, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
	})
}

func TestVesselCreateThenGetRoundTrip(t *testing.T) {
	t.Run("a posted vessel is readable back by id", func(t *testing.T) {
		g := newTestGateway(t)
		createResp := doJSON(g, http.MethodPost, "/api/v1/vessels", vesselRequest{
			VesselID: 101, Name: "MV Example", Type: "Container", LOA: 300, Draft: 12, CargoType: "dry",
		})
		require.Equal(t, http.StatusCreated, createResp.Code)

		getResp := doJSON(g, http.MethodGet, "/api/v1/vessels/101", nil)
		require.Equal(t, http.StatusOK, getResp.Code)

		var v store.Vessel
		require.NoError(t, json.Unmarshal(getResp.Body.Bytes(), &v))
		assert.Equal(t, "MV Example", v.Name)
		assert.Equal(t, store.PriorityFCFS, v.PriorityClass, "priority defaults to FCFS when unset")
	})

	t.Run("an unknown vessel id returns 404", func(t *testing.T) {
		g := newTestGateway(t)
		resp := doJSON(g, http.MethodGet, "/api/v1/vessels/999", nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestBerthCreateThenList(t *testing.T) {
	t.Run("a posted berth appears in the terminal-filtered listing", func(t *testing.T) {
		g := newTestGateway(t)
		resp := doJSON(g, http.MethodPost, "/api/v1/berths", berthRequest{
			BerthID: 1, TerminalID: 5, Name: "Berth 1", Code: "B1",
			Length: 350, MaxDraft: 15, MaxLOA: 320, BerthType: "container",
		})
		require.Equal(t, http.StatusCreated, resp.Code)

		listResp := doJSON(g, http.MethodGet, "/api/v1/berths?terminalId=5", nil)
		require.Equal(t, http.StatusOK, listResp.Code)
		var body struct {
			Berths []store.Berth `json:"berths"`
		}
		require.NoError(t, json.Unmarshal(listResp.Body.Bytes(), &body))
		require.Len(t, body.Berths, 1)
		assert.Equal(t, "B1", body.Berths[0].Code)
	})
}

func TestAllocateScheduleSuccessAndConflict(t *testing.T) {
	t.Run("a valid allocation request against a compatible berth succeeds", func(t *testing.T) {
		g := newTestGateway(t)
		seedVesselAndBerth(g)

		resp := doJSON(g, http.MethodPost, "/api/v1/schedules/allocate", allocateRequestDTO{
			VesselID: 1, BerthID: 1, Eta: "2026-01-02T00:00:00Z", Etd: "2026-01-03T00:00:00Z",
		})
		assert.Equal(t, http.StatusCreated, resp.Code)
	})

	t.Run("an overlapping allocation on the same berth surfaces a 409 TimeConflict", func(t *testing.T) {
		g := newTestGateway(t)
		seedVesselAndBerth(g)

		first := doJSON(g, http.MethodPost, "/api/v1/schedules/allocate", allocateRequestDTO{
			VesselID: 1, BerthID: 1, Eta: "2026-01-02T00:00:00Z", Etd: "2026-01-03T00:00:00Z",
		})
		require.Equal(t, http.StatusCreated, first.Code)

		second := doJSON(g, http.MethodPost, "/api/v1/schedules/allocate", allocateRequestDTO{
			VesselID: 1, BerthID: 1, Eta: "2026-01-02T12:00:00Z", Etd: "2026-01-03T12:00:00Z",
		})
		assert.Equal(t, http.StatusConflict, second.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
		assert.Equal(t, "TimeConflict", body["error"])
	})

	t.Run("a malformed eta is rejected before reaching the allocator", func(t *testing.T) {
		g := newTestGateway(t)
		resp := doJSON(g, http.MethodPost, "/api/v1/schedules/allocate", allocateRequestDTO{
			VesselID: 1, BerthID: 1, Eta: "not-a-time", Etd: "2026-01-03T00:00:00Z",
		})
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})
}

func TestClearAllRequiresAdminToken(t *testing.T) {
	t.Run("without a bearer token the admin-only route is rejected", func(t *testing.T) {
		g := newTestGateway(t)
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/schedules/clear-all", nil)
		rec := httptest.NewRecorder()
		g.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("a valid admin token is accepted", func(t *testing.T) {
		g := newTestGateway(t)
		token, err := g.authSvc.IssueToken("op-key")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/schedules/clear-all", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		g.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestConflictListEmptyStoreReportsNone(t *testing.T) {
	t.Run("an empty store reports no conflicts", func(t *testing.T) {
		g := newTestGateway(t)
		resp := doJSON(g, http.MethodGet, "/api/v1/conflicts", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		var body struct {
			Conflicts []conflictDTO `json:"conflicts"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Empty(t, body.Conflicts)
	})
}

func TestSuggestBerthsValidatesTopN(t *testing.T) {
	t.Run("a non-positive topN is rejected", func(t *testing.T) {
		g := newTestGateway(t)
		seedVesselAndBerth(g)
		resp := doJSON(g, http.MethodGet, "/api/v1/suggestions/berth/1?topN=0", nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("an unknown vessel is rejected through the allocator's NotFound", func(t *testing.T) {
		g := newTestGateway(t)
		resp := doJSON(g, http.MethodGet, "/api/v1/suggestions/berth/999", nil)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestWebSocketSubscribeDeliversRoomEvent(t *testing.T) {
	t.Run("a client subscribed to a room receives an event published to it", func(t *testing.T) {
		g := newTestGateway(t)
		sub := g.bus.Subscribe("vessel:1")
		defer g.bus.Unsubscribe("vessel:1", sub.ID)

		client := &WSClient{
			ID:   sub.ID,
			subs: map[string]*eventbus.Subscription{"vessel:1": sub},
			Send: make(chan []byte, 4),
			Done: make(chan struct{}),
		}
		go g.pumpSubscription(client, sub)

		evt, err := events.NewEvent(events.TypeScheduleChanged, 1, "Schedule", events.ScheduleChangedData{
			ScheduleID: 1, VesselID: 1, BerthID: 1, Action: "created",
		}, events.Metadata{Source: "test"})
		require.NoError(t, err)
		g.bus.PublishToRooms([]string{"vessel:1"}, evt)

		select {
		case msg := <-client.Send:
			var decoded wsServerMessage
			require.NoError(t, json.Unmarshal(msg, &decoded))
			assert.Equal(t, evt.Type, decoded.Type)
		case <-time.After(time.Second):
			t.Fatal("expected an event to be forwarded onto the client's Send channel")
		}
		close(client.Done)
	})
}

func seedVesselAndBerth(g *Gateway) {
	g.store.PutVessel(store.Vessel{VesselID: 1, Name: "MV Test", Type: store.VesselContainer, LOA: 200, Draft: 10, CargoType: "dry", PriorityClass: store.PriorityFCFS})
	g.store.PutBerth(store.Berth{BerthID: 1, TerminalID: 1, Name: "Berth 1", Code: "B1", Length: 300, MaxDraft: 15, MaxLOA: 250, BerthType: "container", CargoTypesAllowed: map[string]bool{"dry": true}, Active: true})
}
