package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/portops/berthplan/internal/store"
)

// vesselRequest mirrors store.Vessel for POST /vessels; the caller assigns
// vesselId itself (the Store has no identity sequence of its own for
// reference entities, only for Schedule/Conflict/Alert).
type vesselRequest struct {
	VesselID      int64    `json:"vesselId" binding:"required"`
	Name          string   `json:"name" binding:"required"`
	IMO           *string  `json:"imo"`
	MMSI          *string  `json:"mmsi"`
	Type          string   `json:"type" binding:"required"`
	LOA           float64  `json:"loa" binding:"required"`
	Beam          float64  `json:"beam"`
	Draft         float64  `json:"draft" binding:"required"`
	AirDraft      *float64 `json:"airDraft"`
	GrossTonnage  *float64 `json:"grossTonnage"`
	CargoType     string   `json:"cargoType" binding:"required"`
	CargoVolume   *float64 `json:"cargoVolume"`
	PriorityClass string   `json:"priorityClass"`
	HazmatClass   *string  `json:"hazmatClass"`
	ReeferDemand  *int     `json:"reeferDemand"`
}

func (g *Gateway) listVessels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"vessels": g.store.ListVessels()})
}

func (g *Gateway) getVessel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vessel id"})
		return
	}
	v, ok := g.store.GetVessel(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "vessel not found"})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (g *Gateway) createVessel(c *gin.Context) {
	var req vesselRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	priority := store.PriorityClass(req.PriorityClass)
	if priority == "" {
		priority = store.PriorityFCFS
	}
	g.store.PutVessel(store.Vessel{
		VesselID:      req.VesselID,
		Name:          req.Name,
		IMO:           req.IMO,
		MMSI:          req.MMSI,
		Type:          store.VesselType(req.Type),
		LOA:           req.LOA,
		Beam:          req.Beam,
		Draft:         req.Draft,
		AirDraft:      req.AirDraft,
		GrossTonnage:  req.GrossTonnage,
		CargoType:     req.CargoType,
		CargoVolume:   req.CargoVolume,
		PriorityClass: priority,
		HazmatClass:   req.HazmatClass,
		ReeferDemand:  req.ReeferDemand,
	})
	g.cache.Invalidate(c.Request.Context(), "vessel:"+strconv.FormatInt(req.VesselID, 10))
	c.JSON(http.StatusCreated, gin.H{"vesselId": req.VesselID})
}
