package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portops/berthplan/internal/allocation"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/pkg/apperr"
	"github.com/portops/berthplan/shared/events"
)

type allocateRequestDTO struct {
	VesselID           int64   `json:"vesselId" binding:"required"`
	BerthID            int64   `json:"berthId" binding:"required"`
	Eta                string  `json:"eta" binding:"required"`
	Etd                string  `json:"etd" binding:"required"`
	Priority           *string `json:"priority"`
	Notes              *string `json:"notes"`
	GovernmentOverride bool    `json:"governmentOverride"`
}

func (g *Gateway) listActiveSchedules(c *gin.Context) {
	var terminalID *int64
	if raw := c.Query("terminalId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid terminalId"})
			return
		}
		terminalID = &id
	}
	c.JSON(http.StatusOK, gin.H{"schedules": g.store.GetActiveSchedules(terminalID)})
}

// allocateSchedule implements spec.md §4.E's allocate operation. An
// optional Idempotency-Key header (SPEC_FULL.md §12, grounded on
// gateway.createOrder's correlation-ID middleware) makes a retried request
// return the first attempt's scheduleId instead of racing a second
// allocation onto the same vessel/berth/window.
func (g *Gateway) allocateSchedule(c *gin.Context) {
	var req allocateRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	eta, err := time.Parse(time.RFC3339, req.Eta)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "eta must be RFC-3339"})
		return
	}
	etd, err := time.Parse(time.RFC3339, req.Etd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "etd must be RFC-3339"})
		return
	}

	if idemKey := c.GetHeader("Idempotency-Key"); idemKey != "" {
		var scheduleID int64
		cacheErr := g.cache.Get(c.Request.Context(), "idem:allocate:"+idemKey, &scheduleID, func(ctx context.Context) (interface{}, error) {
			sch, allocErr := g.runAllocate(ctx, req, eta, etd)
			if allocErr != nil {
				return nil, allocErr
			}
			return sch.ScheduleID, nil
		})
		if cacheErr != nil {
			g.writeAllocationError(c, cacheErr)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"scheduleId": scheduleID})
		return
	}

	sch, execErr := g.runAllocate(c.Request.Context(), req, eta, etd)
	if execErr != nil {
		g.writeAllocationError(c, execErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"scheduleId": sch.ScheduleID})
}

func (g *Gateway) runAllocate(ctx context.Context, req allocateRequestDTO, eta, etd time.Time) (*store.Schedule, error) {
	var sch *store.Schedule
	execErr := g.breakers.Execute(ctx, "allocation", func() error {
		var allocErr error
		sch, allocErr = g.alloc.Allocate(ctx, allocation.AllocateRequest{
			VesselID:           req.VesselID,
			BerthID:            req.BerthID,
			Eta:                eta,
			Etd:                etd,
			PriorityOverride:   req.Priority,
			GovernmentOverride: req.GovernmentOverride,
		})
		return allocErr
	})
	if execErr != nil {
		return nil, execErr
	}
	return sch, nil
}

// writeAllocationError maps an allocate failure onto spec.md §6's documented
// shape: a 409 TimeConflict response carries the conflicting schedule ids
// straight out of the apperr.Error's Details; any other tagged error maps
// through apperr.HTTPStatus.
func (g *Gateway) writeAllocationError(c *gin.Context, err error) {
	if apperr.Is(err, apperr.CodeTimeConflict) {
		var details map[string]interface{}
		var tagged *apperr.Error
		if ok := asApperr(err, &tagged); ok {
			details = tagged.Details
		}
		c.JSON(http.StatusConflict, gin.H{"error": "TimeConflict", "details": details})
		return
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}

func asApperr(err error, target **apperr.Error) bool {
	for {
		if e, ok := err.(*apperr.Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
		if err == nil {
			return false
		}
	}
}

type etaUpdateDTO struct {
	Eta          string  `json:"eta" binding:"required"`
	PredictedEta *string `json:"predictedEta"`
}

func (g *Gateway) updateScheduleEta(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}
	var req etaUpdateDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	newEta, err := time.Parse(time.RFC3339, req.Eta)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "eta must be RFC-3339"})
		return
	}
	var newPredicted *time.Time
	if req.PredictedEta != nil {
		p, err := time.Parse(time.RFC3339, *req.PredictedEta)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "predictedEta must be RFC-3339"})
			return
		}
		newPredicted = &p
	}

	sch, alert, conflict, err := g.store.UpdateETA(c.Request.Context(), id, newEta, newPredicted)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	g.publishScheduleChanged(sch, "statusChanged")
	if alert != nil {
		g.publishAlertRaised(alert, sch)
	}
	if conflict != nil {
		g.publishConflictDetected(conflict, sch)
	}
	c.JSON(http.StatusOK, sch)
}

func (g *Gateway) recordArrival(c *gin.Context) {
	g.recordTransition(c, func(id int64, at time.Time) (*store.Schedule, error) {
		return g.store.RecordArrival(c.Request.Context(), id, at)
	})
}

func (g *Gateway) recordBerthing(c *gin.Context) {
	g.recordTransition(c, func(id int64, at time.Time) (*store.Schedule, error) {
		return g.store.RecordBerthing(c.Request.Context(), id, at)
	})
}

func (g *Gateway) recordDeparture(c *gin.Context) {
	g.recordTransition(c, func(id int64, at time.Time) (*store.Schedule, error) {
		return g.store.RecordDeparture(c.Request.Context(), id, at)
	})
}

type transitionDTO struct {
	At *string `json:"at"`
}

func (g *Gateway) recordTransition(c *gin.Context, apply func(id int64, at time.Time) (*store.Schedule, error)) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}
	var req transitionDTO
	_ = c.ShouldBindJSON(&req)
	at := time.Now()
	if req.At != nil {
		parsed, err := time.Parse(time.RFC3339, *req.At)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at must be RFC-3339"})
			return
		}
		at = parsed
	}
	sch, err := apply(id, at)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	g.publishScheduleChanged(sch, "statusChanged")
	c.JSON(http.StatusOK, sch)
}

func (g *Gateway) cancelSchedule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}
	sch, ok := g.store.GetSchedule(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}
	if err := g.store.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	sch.Status = store.StatusCancelled
	g.publishScheduleChanged(&sch, "cancelled")
	c.Status(http.StatusNoContent)
}

// clearAll truncates schedules, conflicts and alerts (spec.md §3's
// admin-only ClearAll). Reachable only behind auth.Service.RequireAdmin.
func (g *Gateway) clearAll(c *gin.Context) {
	g.store.ClearAll()
	c.Status(http.StatusNoContent)
}

func (g *Gateway) publishScheduleChanged(sch *store.Schedule, action string) {
	berth, _ := g.store.GetBerth(sch.BerthID)
	evt, err := events.NewEvent(events.TypeScheduleChanged, sch.ScheduleID, "Schedule", events.ScheduleChangedData{
		ScheduleID: sch.ScheduleID, VesselID: sch.VesselID, BerthID: sch.BerthID,
		Action: action, Eta: sch.Eta.Format(time.RFC3339), Etd: sch.Etd.Format(time.RFC3339),
		Status: string(sch.Status),
	}, events.Metadata{Source: "internal/gateway"})
	if err != nil {
		return
	}
	g.bus.PublishToRooms(roomsFor(sch.VesselID, berth.TerminalID), evt)
}

func (g *Gateway) publishAlertRaised(a *store.Alert, sch *store.Schedule) {
	berth, _ := g.store.GetBerth(sch.BerthID)
	evt, err := events.NewEvent(events.TypeAlertRaised, a.AlertID, "Alert", events.AlertRaisedData{
		AlertID: a.AlertID, Type: a.Type, Severity: string(a.Severity), Message: a.Message, RelatedEntities: a.RelatedEntities,
	}, events.Metadata{Source: "internal/gateway"})
	if err != nil {
		return
	}
	g.bus.PublishToRooms(roomsFor(sch.VesselID, berth.TerminalID), evt)
}

func (g *Gateway) publishConflictDetected(conflict *store.Conflict, sch *store.Schedule) {
	berth, _ := g.store.GetBerth(sch.BerthID)
	var schedule2 int64
	if conflict.ScheduleID2 != nil {
		schedule2 = *conflict.ScheduleID2
	}
	evt, err := events.NewEvent(events.TypeConflictDetected, conflict.ConflictID, "Conflict", events.ConflictDetectedData{
		ConflictID: conflict.ConflictID, Kind: string(conflict.Kind), ScheduleID1: conflict.ScheduleID1,
		ScheduleID2: schedule2, Severity: string(conflict.Severity), Description: conflict.Description,
	}, events.Metadata{Source: "internal/gateway"})
	if err != nil {
		return
	}
	g.bus.PublishToRooms(roomsFor(sch.VesselID, berth.TerminalID), evt)
}

func roomsFor(vesselID, terminalID int64) []string {
	rooms := make([]string, 0, 2)
	if vesselID != 0 {
		rooms = append(rooms, fmt.Sprintf("vessel:%d", vesselID))
	}
	if terminalID != 0 {
		rooms = append(rooms, fmt.Sprintf("terminal:%d", terminalID))
	}
	return rooms
}
