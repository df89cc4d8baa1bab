package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/config"
	"github.com/gatecrash-project/gatecrash/internal/eavesdropper"
	"github.com/gatecrash-project/gatecrash/internal/network"
	"github.com/gatecrash-project/gatecrash/internal/protocol"
	"github.com/gatecrash-project/gatecrash/internal/scheduler"
)

// parseDirection reads the :direction parameter. It writes the error
// response itself and reports whether the caller may continue.
func parseDirection(c *gin.Context) (protocol.Destination, bool) {
	dest, err := protocol.ParseDestination(c.Param("direction"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return protocol.DestinationUnknown, false
	}
	return dest, true
}

func parseHeader(c *gin.Context) (uint16, bool) {
	header, err := strconv.ParseUint(c.Param("header"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid header"})
		return 0, false
	}
	return uint16(header), true
}

// ---- Relay ----

// handleConnect starts listening for the game client.
func (s *Server) handleConnect(c *gin.Context) {
	// The relay must outlive the HTTP request.
	if err := s.relay.Connect(s.relayCtx); err != nil {
		if errors.Is(err, network.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("API: failed to start relay")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Msg("API: relay started")
	c.JSON(http.StatusOK, s.relay.Status())
}

// handleDisconnect tears the current session down.
func (s *Server) handleDisconnect(c *gin.Context) {
	s.relay.Disconnect()
	log.Info().Msg("API: relay stopped")
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

type sendRequest struct {
	Destination string `json:"destination" binding:"required"`
	Packet      string `json:"packet" binding:"required"`
}

// handleSend injects a packet given in text form.
func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, ok := parsePacket(c, req.Destination, req.Packet)
	if !ok {
		return
	}

	if !s.relay.IsConnected() {
		c.JSON(http.StatusConflict, gin.H{"error": "no session is relaying"})
		return
	}

	n, err := s.relay.Send(msg)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bytes":       n,
		"header":      msg.Header(),
		"destination": msg.Destination(),
	})
}

func parsePacket(c *gin.Context, destination, text string) (*protocol.Message, bool) {
	dest, err := protocol.ParseDestination(destination)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	msg, err := protocol.ParseMessage(text, dest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if msg.IsCorrupted() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "packet is corrupted, did you forget {l}?"})
		return nil, false
	}
	return msg, true
}

// ---- Filters ----

func (s *Server) handleBlock(c *gin.Context) {
	dest, ok := parseDirection(c)
	if !ok {
		return
	}
	header, ok := parseHeader(c)
	if !ok {
		return
	}

	s.filters.For(dest).Block(header)
	c.JSON(http.StatusOK, gin.H{"blocked": header, "direction": dest})
}

func (s *Server) handleUnblock(c *gin.Context) {
	dest, ok := parseDirection(c)
	if !ok {
		return
	}
	header, ok := parseHeader(c)
	if !ok {
		return
	}

	s.filters.For(dest).Unblock(header)
	c.JSON(http.StatusOK, gin.H{"unblocked": header, "direction": dest})
}

type replaceRequest struct {
	Packet string `json:"packet" binding:"required"`
}

// handleReplace swaps every message with the header for a fixed packet.
func (s *Server) handleReplace(c *gin.Context) {
	dest, ok := parseDirection(c)
	if !ok {
		return
	}
	header, ok := parseHeader(c)
	if !ok {
		return
	}

	var req replaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, ok := parsePacket(c, dest.String(), req.Packet)
	if !ok {
		return
	}

	s.filters.For(dest).Replace(header, msg)
	c.JSON(http.StatusOK, gin.H{"replaced": header, "direction": dest, "with": msg.String()})
}

func (s *Server) handleUnreplace(c *gin.Context) {
	dest, ok := parseDirection(c)
	if !ok {
		return
	}
	header, ok := parseHeader(c)
	if !ok {
		return
	}

	s.filters.For(dest).Unreplace(header)
	c.JSON(http.StatusOK, gin.H{"unreplaced": header, "direction": dest})
}

// ---- Detection ----

// handleResetLocks forgets every confirmed detection header.
func (s *Server) handleResetLocks(c *gin.Context) {
	s.triggers.ResetLocks()
	log.Info().Msg("API: detection locks reset")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// ---- Scheduler ----

func scheduleStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleAddSchedule creates a schedule from the same shape as the config
// file entries.
func (s *Server) handleAddSchedule(c *gin.Context) {
	var req config.ScheduleConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, ok := parsePacket(c, req.Destination, req.Packet)
	if !ok {
		return
	}

	id, err := s.scheduler.Add(msg, time.Duration(req.IntervalMs)*time.Millisecond, req.Burst)
	if err != nil {
		c.JSON(scheduleStatus(err), gin.H{"error": err.Error()})
		return
	}

	if req.AutoStart {
		if err := s.scheduler.Start(id); err != nil {
			c.JSON(scheduleStatus(err), gin.H{"error": err.Error()})
			return
		}
	}

	log.Info().Str("id", id).Str("packet", msg.String()).Msg("API: schedule added")
	c.JSON(http.StatusCreated, gin.H{"id": id, "running": req.AutoStart})
}

func (s *Server) handleRemoveSchedule(c *gin.Context) {
	id := c.Param("id")
	if err := s.scheduler.Remove(id); err != nil {
		c.JSON(scheduleStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": id})
}

func (s *Server) handleStartSchedule(c *gin.Context) {
	id := c.Param("id")
	if err := s.scheduler.Start(id); err != nil {
		c.JSON(scheduleStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "running": true})
}

func (s *Server) handleStopSchedule(c *gin.Context) {
	id := c.Param("id")
	if err := s.scheduler.Stop(id); err != nil {
		c.JSON(scheduleStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "running": false})
}

func (s *Server) handleToggleSchedule(c *gin.Context) {
	id := c.Param("id")
	running, err := s.scheduler.Toggle(id)
	if err != nil {
		c.JSON(scheduleStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "running": running})
}

// ---- HTTP interceptor ----

func (s *Server) handleEavesdropperStart(c *gin.Context) {
	if s.proxy == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "eavesdropper is disabled"})
		return
	}

	if err := s.proxy.Start(); err != nil {
		if errors.Is(err, eavesdropper.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("API: failed to start eavesdropper")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"running": true, "port": s.proxy.Port()})
}

func (s *Server) handleEavesdropperStop(c *gin.Context) {
	if s.proxy == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "eavesdropper is disabled"})
		return
	}

	if err := s.proxy.Stop(); err != nil {
		log.Error().Err(err).Msg("API: failed to stop eavesdropper")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"running": false})
}
