package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/portops/berthplan/internal/store"
)

type terminalRequest struct {
	TerminalID int64  `json:"terminalId" binding:"required"`
	PortID     int64  `json:"portId" binding:"required"`
	Name       string `json:"name" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

func (g *Gateway) listTerminals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"terminals": g.store.ListTerminals()})
}

func (g *Gateway) createTerminal(c *gin.Context) {
	var req terminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.store.PutTerminal(store.Terminal{TerminalID: req.TerminalID, PortID: req.PortID, Name: req.Name, Code: req.Code})
	c.JSON(http.StatusCreated, gin.H{"terminalId": req.TerminalID})
}

type portRequest struct {
	PortID int64  `json:"portId" binding:"required"`
	Code   string `json:"code" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

func (g *Gateway) listPorts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ports": g.store.ListPorts()})
}

func (g *Gateway) createPort(c *gin.Context) {
	var req portRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	g.store.PutPort(store.Port{PortID: req.PortID, Code: req.Code, Name: req.Name})
	c.JSON(http.StatusCreated, gin.H{"portId": req.PortID})
}
