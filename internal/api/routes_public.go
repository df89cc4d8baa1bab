package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "gatecrash",
		"version": Version,
	})
}

// handleInfo reports the host and the proxy process usage.
func (s *Server) handleInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()
	usage, err := util.GetProcessUsage()
	if err != nil {
		log.Debug().Err(err).Msg("API: process usage unavailable")
	}

	c.JSON(http.StatusOK, gin.H{
		"version":         Version,
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"arch":            sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
		"process":         usage,
		"relay_state":     s.relay.State(),
	})
}
