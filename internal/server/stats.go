package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerStatsRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/stats/gateways", s.listGatewayStats)
	api.GET("/stats/gateways/:provider", s.getGatewayStats)
}

func (s *Server) listGatewayStats(c *gin.Context) {
	snapshots, err := s.statsSvc.Snapshots(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snapshots})
}

func (s *Server) getGatewayStats(c *gin.Context) {
	snapshot, err := s.statsSvc.Snapshot(c.Request.Context(), c.Param("provider"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
