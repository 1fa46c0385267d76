package web

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/capture"
	"github.com/vzahanych/view-guard-meta/edge/sentinel/internal/health"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// handleHealth is the liveness probe
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "sentinel",
	})
}

// handleReadiness runs the registered health checks
func (s *Server) handleReadiness(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy, "ready": true})
		return
	}

	report := s.health.Check(c.Request.Context())
	code := http.StatusOK
	if !report.Ready() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// handleStatus returns the monitoring loop snapshot
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)
	response := gin.H{
		"version":        s.version,
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"timestamp":      time.Now().Format(time.RFC3339),
	}

	if s.monitor != nil {
		response["monitor"] = s.monitor.Status()
	}

	if s.alerts != nil {
		if count, err := s.alerts.Count(c.Request.Context()); err == nil {
			response["stored_alerts"] = count
		}
	}

	c.JSON(http.StatusOK, response)
}

// handleFrame returns the latest processed frame as JPEG
func (s *Server) handleFrame(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Monitor not available",
		})
		return
	}

	frame, ok := s.monitor.LatestFrame()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No frame processed yet",
		})
		return
	}

	data, err := capture.EncodeJPEG(frame, s.jpegQuality)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fmt.Sprintf("Failed to encode frame: %v", err),
		})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleListAlerts returns the alert history, newest first
func (s *Server) handleListAlerts(c *gin.Context) {
	if s.alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Alert history not available",
		})
		return
	}

	limit := defaultAlertLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxAlertLimit)
	}

	entries, err := s.alerts.List(c.Request.Context(), limit)
	if err != nil {
		s.LogError("Failed to list alerts", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list alerts",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": entries,
		"count":  len(entries),
	})
}

// handleEvidence serves one evidence image by file name
func (s *Server) handleEvidence(c *gin.Context) {
	if s.evidenceDir == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Evidence storage not available",
		})
		return
	}

	name := c.Param("name")
	if !validEvidenceName(name) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid evidence name",
		})
		return
	}

	path := filepath.Join(s.evidenceDir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Evidence file not found",
		})
		return
	}

	c.File(path)
}

// validEvidenceName accepts bare .jpg file names only
func validEvidenceName(name string) bool {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".jpg")
}

// handleEvents streams bus events as server-sent events
func (s *Server) handleEvents(c *gin.Context) {
	bus := s.GetEventBus()
	if bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Event bus not available",
		})
		return
	}

	events := bus.SubscribeAll()
	defer bus.Unsubscribe(events)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), gin.H{
				"source":    event.Source,
				"timestamp": event.Timestamp.Format(time.RFC3339Nano),
				"data":      event.Data,
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
