package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portops/berthplan/internal/store"
)

type etaPredictionDTO struct {
	ScheduleID   int64  `json:"scheduleId"`
	VesselID     int64  `json:"vesselId"`
	Eta          string `json:"eta"`
	PredictedEta string `json:"predictedEta"`
}

func (g *Gateway) activeETAPredictions(c *gin.Context) {
	active := g.store.GetActiveSchedules(nil)
	out := make([]etaPredictionDTO, 0, len(active))
	for _, sch := range active {
		out = append(out, etaPredictionDTO{
			ScheduleID: sch.ScheduleID, VesselID: sch.VesselID,
			Eta: sch.Eta.Format(time.RFC3339), PredictedEta: sch.PredictedEta.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"predictions": out})
}

type dashboardMetricsDTO struct {
	ActiveSchedules int `json:"activeSchedules"`
	ActiveConflicts int `json:"activeConflicts"`
	ActiveAlerts    int `json:"activeAlerts"`
	BerthsTotal     int `json:"berthsTotal"`
	BerthsOccupied  int `json:"berthsOccupied"`
}

func (g *Gateway) dashboardMetrics(c *gin.Context) {
	var terminalID *int64
	if raw := c.Query("terminalId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid terminalId"})
			return
		}
		terminalID = &id
	}

	active := g.store.GetActiveSchedules(terminalID)
	occupied := make(map[int64]bool, len(active))
	for _, sch := range active {
		if sch.Status == store.StatusBerthed {
			occupied[sch.BerthID] = true
		}
	}

	c.JSON(http.StatusOK, dashboardMetricsDTO{
		ActiveSchedules: len(active),
		ActiveConflicts: len(g.store.GetActiveConflicts()),
		ActiveAlerts:    len(g.store.GetActiveAlerts()),
		BerthsTotal:     len(g.store.ListBerths(terminalID)),
		BerthsOccupied:  len(occupied),
	})
}

type berthStatusDTO struct {
	BerthID  int64  `json:"berthId"`
	Code     string `json:"code"`
	Occupied bool   `json:"occupied"`
}

func (g *Gateway) dashboardBerthStatus(c *gin.Context) {
	var terminalID *int64
	if raw := c.Query("terminalId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid terminalId"})
			return
		}
		terminalID = &id
	}

	occupied := make(map[int64]bool)
	for _, sch := range g.store.GetActiveSchedules(terminalID) {
		if sch.Status == store.StatusBerthed {
			occupied[sch.BerthID] = true
		}
	}

	berths := g.store.ListBerths(terminalID)
	out := make([]berthStatusDTO, 0, len(berths))
	for _, b := range berths {
		out = append(out, berthStatusDTO{BerthID: b.BerthID, Code: b.Code, Occupied: occupied[b.BerthID]})
	}
	c.JSON(http.StatusOK, gin.H{"berths": out})
}

func (g *Gateway) dashboardAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": g.store.GetActiveAlerts()})
}
