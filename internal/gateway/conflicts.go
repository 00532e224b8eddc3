package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/portops/berthplan/internal/conflict"
	"github.com/portops/berthplan/internal/store"
	"github.com/portops/berthplan/pkg/apperr"
	"github.com/portops/berthplan/shared/events"
)

type conflictDTO struct {
	store.Conflict
	Resolutions []conflict.ResolutionOption `json:"resolutions,omitempty"`
}

// listConflicts attaches SuggestResolutions' structural options to every
// still-open BerthOverlap so an operator sees candidate fixes without a
// second round trip; every other kind has no such options (there is no
// "shift the tide" or "shift the overstay" move) so Resolutions stays nil.
func (g *Gateway) listConflicts(c *gin.Context) {
	active := g.store.GetActiveConflicts()
	out := make([]conflictDTO, 0, len(active))
	for _, cf := range active {
		dto := conflictDTO{Conflict: cf}
		if cf.Kind == store.ConflictBerthOverlap && cf.ScheduleID2 != nil {
			first, ok1 := g.store.GetSchedule(cf.ScheduleID1)
			second, ok2 := g.store.GetSchedule(*cf.ScheduleID2)
			if ok1 && ok2 {
				if options, err := conflict.SuggestResolutions(c.Request.Context(), g.store, first, second); err == nil {
					dto.Resolutions = options
				}
			}
		}
		out = append(out, dto)
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": out})
}

type resolveConflictDTO struct {
	Resolution string `json:"resolution" binding:"required"`
}

func (g *Gateway) resolveConflict(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
		return
	}
	var req resolveConflictDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolved, err := g.store.ResolveConflict(c.Request.Context(), id, req.Resolution)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	evt, err := events.NewEvent(events.TypeConflictResolved, resolved.ConflictID, "Conflict", events.ConflictResolvedData{
		ConflictID: resolved.ConflictID, Resolution: req.Resolution,
	}, events.Metadata{Source: "internal/gateway"})
	if err == nil {
		g.bus.PublishToRooms([]string{roomForSchedule(g, resolved.ScheduleID1)}, evt)
	}

	c.JSON(http.StatusOK, resolved)
}

func roomForSchedule(g *Gateway, scheduleID int64) string {
	sch, ok := g.store.GetSchedule(scheduleID)
	if !ok {
		return "terminal:0"
	}
	berth, _ := g.store.GetBerth(sch.BerthID)
	return "terminal:" + strconv.FormatInt(berth.TerminalID, 10)
}
