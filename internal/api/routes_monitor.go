package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/filter"
	"github.com/gatecrash-project/gatecrash/internal/headers"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
)

// headerRef pairs a numeric header with its learned name, if any.
type headerRef struct {
	Header uint16 `json:"header"`
	Name   string `json:"name,omitempty"`
}

func refs(table *headers.Table, ids []uint16) []headerRef {
	out := make([]headerRef, 0, len(ids))
	for _, id := range ids {
		name, _ := table.Name(id)
		out = append(out, headerRef{Header: id, Name: name})
	}
	return out
}

// handleStatus returns a snapshot of the relay.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Status())
}

// handleGetHeaders returns the learned header names of both directions.
func (s *Server) handleGetHeaders(c *gin.Context) {
	c.JSON(http.StatusOK, s.headers)
}

func (s *Server) filterRules(dest protocol.Destination, table *filter.Table) gin.H {
	names := s.headers.Table(dest)
	return gin.H{
		"blocked":  refs(names, table.Blocked()),
		"replaced": refs(names, table.Replaced()),
	}
}

// handleGetFilters lists the headers with a block or replace rule.
func (s *Server) handleGetFilters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"incoming": s.filterRules(protocol.DestinationClient, s.filters.Incoming),
		"outgoing": s.filterRules(protocol.DestinationServer, s.filters.Outgoing),
	})
}

// handleGetDetection reports the detection switches.
func (s *Server) handleGetDetection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"capture": s.triggers.CaptureEvents(),
		"learn":   s.triggers.UpdateHeaders(),
	})
}

// handleGetLocks lists the headers each direction is locked onto.
func (s *Server) handleGetLocks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"incoming": s.triggers.Locks(protocol.DestinationClient),
		"outgoing": s.triggers.Locks(protocol.DestinationServer),
	})
}

// handleGetDetections returns the most recent recorded detections.
func (s *Server) handleGetDetections(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	detections, err := s.store.RecentDetections(limit)
	if err != nil {
		log.Error().Err(err).Msg("API: failed to read detections")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"detections": detections,
		"count":      len(detections),
	})
}

// handleListSchedules returns every packet schedule.
func (s *Server) handleListSchedules(c *gin.Context) {
	list := s.scheduler.List()
	c.JSON(http.StatusOK, gin.H{
		"schedules": list,
		"count":     len(list),
	})
}

// handleEavesdropperStatus reports whether the HTTP interceptor runs.
func (s *Server) handleEavesdropperStatus(c *gin.Context) {
	if s.proxy == nil {
		c.JSON(http.StatusOK, gin.H{"available": false, "running": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"available": true,
		"running":   s.proxy.IsRunning(),
		"port":      s.proxy.Port(),
	})
}
