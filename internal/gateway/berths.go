package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/portops/berthplan/internal/store"
)

// berthRequest mirrors store.Berth for POST /berths.
type berthRequest struct {
	BerthID           int64           `json:"berthId" binding:"required"`
	TerminalID        int64           `json:"terminalId" binding:"required"`
	Name              string          `json:"name" binding:"required"`
	Code              string          `json:"code" binding:"required"`
	Length            float64         `json:"length" binding:"required"`
	MaxDraft          float64         `json:"maxDraft" binding:"required"`
	MaxLOA            float64         `json:"maxLoa" binding:"required"`
	MaxBeam           *float64        `json:"maxBeam"`
	MaxAirDraft       *float64        `json:"maxAirDraft"`
	MaxGT             *float64        `json:"maxGt"`
	BerthType         string          `json:"berthType" binding:"required"`
	CargoTypesAllowed map[string]bool `json:"cargoTypesAllowed"`
	NumberOfCranes    int             `json:"numberOfCranes"`
	CraneMaxOutreach  *float64        `json:"craneMaxOutreach"`
	FenderCapacity    *float64        `json:"fenderCapacity"`
	BollardSWL        *float64        `json:"bollardSwl"`
	ReeferPlugs       *int            `json:"reeferPlugs"`
	DGCertified       bool            `json:"dgCertified"`
	Active            bool            `json:"active"`
}

func (g *Gateway) listBerths(c *gin.Context) {
	var terminalID *int64
	if raw := c.Query("terminalId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid terminalId"})
			return
		}
		terminalID = &id
	}
	c.JSON(http.StatusOK, gin.H{"berths": g.store.ListBerths(terminalID)})
}

func (g *Gateway) getBerth(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid berth id"})
		return
	}
	b, ok := g.store.GetBerth(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "berth not found"})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (g *Gateway) createBerth(c *gin.Context) {
	var req berthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.store.PutBerth(store.Berth{
		BerthID:           req.BerthID,
		TerminalID:        req.TerminalID,
		Name:              req.Name,
		Code:              req.Code,
		Length:            req.Length,
		MaxDraft:          req.MaxDraft,
		MaxLOA:            req.MaxLOA,
		MaxBeam:           req.MaxBeam,
		MaxAirDraft:       req.MaxAirDraft,
		MaxGT:             req.MaxGT,
		BerthType:         req.BerthType,
		CargoTypesAllowed: req.CargoTypesAllowed,
		NumberOfCranes:    req.NumberOfCranes,
		CraneMaxOutreach:  req.CraneMaxOutreach,
		FenderCapacity:    req.FenderCapacity,
		BollardSWL:        req.BollardSWL,
		ReeferPlugs:       req.ReeferPlugs,
		DGCertified:       req.DGCertified,
		Active:            req.Active,
	})
	g.cache.Invalidate(c.Request.Context(), "berth:"+strconv.FormatInt(req.BerthID, 10))
	c.JSON(http.StatusCreated, gin.H{"berthId": req.BerthID})
}
