package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gatecrash-project/gatecrash/internal/config"
)

// ---- Header map ----

type setHeaderRequest struct {
	Header *uint16 `json:"header" binding:"required"`
}

// handleSetHeader records a header name in the protocol map and, when the
// database is enabled, persists it.
func (s *Server) handleSetHeader(c *gin.Context) {
	dest, ok := parseDirection(c)
	if !ok {
		return
	}
	name := strings.TrimSpace(c.Param("name"))

	var req setHeaderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.headers.Table(dest).Set(name, *req.Header)
	if s.store != nil {
		if err := s.store.Put(dest, name, *req.Header); err != nil {
			log.Error().Err(err).Str("name", name).Msg("API: failed to persist header")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	log.Info().
		Stringer("direction", dest).
		Str("name", name).
		Uint16("header", *req.Header).
		Msg("API: header set")
	c.JSON(http.StatusOK, gin.H{"direction": dest, "name": name, "header": *req.Header})
}

func (s *Server) handleDeleteHeader(c *gin.Context) {
	dest, ok := parseDirection(c)
	if !ok {
		return
	}
	name := c.Param("name")

	table := s.headers.Table(dest)
	if _, exists := table.Get(name); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "header not found", "name": name})
		return
	}

	table.Delete(name)
	if s.store != nil {
		if err := s.store.Delete(dest, name); err != nil {
			log.Error().Err(err).Str("name", name).Msg("API: failed to delete header")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"deleted": name, "direction": dest})
}

// handleSaveHeaders writes the whole protocol map to the database.
func (s *Server) handleSaveHeaders(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database is disabled"})
		return
	}

	if err := s.store.Save(s.headers); err != nil {
		log.Error().Err(err).Msg("API: failed to save headers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "saved",
		"incoming": s.headers.Incoming.Len(),
		"outgoing": s.headers.Outgoing.Len(),
	})
}

// ---- Detection switches ----

type detectionRequest struct {
	Capture *bool `json:"capture"`
	Learn   *bool `json:"learn"`
}

// handleSetDetection flips event capture and header learning. Omitted
// fields keep their value.
func (s *Server) handleSetDetection(c *gin.Context) {
	var req detectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Capture != nil {
		s.triggers.SetCaptureEvents(*req.Capture)
	}
	if req.Learn != nil {
		s.triggers.SetUpdateHeaders(*req.Learn)
	}

	log.Info().
		Bool("capture", s.triggers.CaptureEvents()).
		Bool("learn", s.triggers.UpdateHeaders()).
		Msg("API: detection updated")
	s.handleGetDetection(c)
}

// ---- Configuration ----

// handleGetConfig returns the configuration with the API token redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	apiCfg := s.cfg.GetAPI()
	if apiCfg.Token != "" {
		apiCfg.Token = "********"
	}

	c.JSON(http.StatusOK, gin.H{
		"proxy":        s.cfg.GetProxy(),
		"heuristics":   s.cfg.GetHeuristics(),
		"api":          apiCfg,
		"mqtt":         s.cfg.GetMQTT(),
		"database":     s.cfg.GetDatabase(),
		"eavesdropper": s.cfg.GetEavesdropper(),
		"schedules":    s.cfg.GetSchedules(),
		"logging":      s.cfg.GetLogging(),
	})
}

type proxyFieldRequest struct {
	Key   string      `json:"key" binding:"required"`
	Value interface{} `json:"value"`
}

// handleSetProxyField updates one proxy setting and saves the file. The
// relay picks the change up on the next restart.
func (s *Server) handleSetProxyField(c *gin.Context) {
	var req proxyFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetProxy()
	if err := s.cfg.UpdateProxyField(req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := config.Validate(s.cfg)
	if !result.IsValid() {
		s.cfg.SetProxy(previous)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "details": result.Errors})
		return
	}

	if err := s.cfg.Save(); err != nil {
		log.Error().Err(err).Msg("API: failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("key", req.Key).Interface("value", req.Value).Msg("API: proxy setting updated")
	c.JSON(http.StatusOK, gin.H{
		"proxy":            s.cfg.GetProxy(),
		"restart_required": true,
	})
}
