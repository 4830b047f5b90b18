package http

import (
	"net/http"
	"strconv"
	"time"

	"gridtune/internal/core/domain"
	"gridtune/internal/core/ports"
	"gridtune/internal/core/services"
	"gridtune/internal/infrastructure/monitoring"
	apperrors "gridtune/pkg/errors"
	"gridtune/pkg/tracing"
	"gridtune/pkg/validation"

	"github.com/gin-gonic/gin"
)

type ControllerHandler struct {
	controller *services.Controller
	repo       ports.RecommendationRepository
	health     *monitoring.HealthChecker
}

func NewControllerHandler(
	controller *services.Controller,
	repo ports.RecommendationRepository,
	health *monitoring.HealthChecker,
) *ControllerHandler {
	return &ControllerHandler{
		controller: controller,
		repo:       repo,
		health:     health,
	}
}

func (h *ControllerHandler) SetupRoutes(router *gin.Engine, mw ...gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(mw...)
	{
		api.POST("/streams", h.RegisterStream)
		api.DELETE("/streams/:id", h.UnregisterStream)
		api.GET("/streams", h.ListStreams)
		api.POST("/streams/:id/telemetry", h.IngestTelemetry)
		api.POST("/streams/:id/outcome", h.ReportOutcome)
		api.GET("/streams/:id/recommendations", h.StreamRecommendations)

		api.POST("/layout", h.SetLayout)
		api.POST("/primary", h.SetPrimary)

		api.GET("/batch/latest", h.LatestBatch)
		api.POST("/evaluate", h.EvaluateNow)
	}

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

func (h *ControllerHandler) RegisterStream(c *gin.Context) {
	var req struct {
		StreamID string `json:"stream_id" binding:"required"`
		Role     string `json:"role"`
		Priority int    `json:"priority"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateStreamID(req.StreamID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := domain.RoleSecondary
	if req.Role != "" {
		if err := validation.ValidateRole(req.Role); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role = domain.StreamRole(req.Role)
	}

	meta := domain.StreamMeta{Role: role, Priority: req.Priority}
	if err := h.controller.RegisterStream(domain.StreamID(req.StreamID), meta); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"stream_id": req.StreamID,
		"status":    "registered",
	})
}

func (h *ControllerHandler) UnregisterStream(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	h.controller.UnregisterStream(c.Request.Context(), streamID)

	c.JSON(http.StatusOK, gin.H{
		"stream_id": string(streamID),
		"status":    "unregistered",
	})
}

func (h *ControllerHandler) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"streams": h.controller.Streams(),
	})
}

func (h *ControllerHandler) IngestTelemetry(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	_, span := tracing.TraceTelemetryFrame(c.Request.Context(), string(streamID))
	defer span.End()

	var req struct {
		BitrateKbps    int     `json:"bitrate_kbps"`
		FPS            float64 `json:"fps"`
		Width          int     `json:"width"`
		Height         int     `json:"height"`
		PacketLossPct  float64 `json:"packet_loss_pct"`
		JitterMs       float64 `json:"jitter_ms"`
		FramesReceived int64   `json:"frames_received"`
		FramesDropped  int64   `json:"frames_dropped"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateTelemetryFrame(req.BitrateKbps, req.FPS, req.PacketLossPct, req.JitterMs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sample := domain.StreamTelemetry{
		StreamID:       streamID,
		Timestamp:      time.Now(),
		BitrateKbps:    req.BitrateKbps,
		FPS:            req.FPS,
		Resolution:     domain.Resolution{Width: req.Width, Height: req.Height},
		PacketLossPct:  req.PacketLossPct,
		JitterMs:       req.JitterMs,
		FramesReceived: req.FramesReceived,
		FramesDropped:  req.FramesDropped,
	}

	if err := h.controller.Ingest(streamID, sample); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "ingested"})
}

func (h *ControllerHandler) ReportOutcome(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	var req struct {
		Success bool   `json:"success"`
		Details string `json:"details"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.controller.ReportOutcome(streamID, req.Success, req.Details); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (h *ControllerHandler) StreamRecommendations(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	recs, err := h.repo.ListByStream(c.Request.Context(), streamID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stream_id":       string(streamID),
		"recommendations": recs,
	})
}

func (h *ControllerHandler) SetLayout(c *gin.Context) {
	var req struct {
		Layout string `json:"layout" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.controller.SetLayout(domain.Layout(req.Layout)); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"layout": req.Layout})
}

func (h *ControllerHandler) SetPrimary(c *gin.Context) {
	var req struct {
		Index int `json:"index"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.controller.SetPrimary(req.Index); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"primary_index": req.Index})
}

func (h *ControllerHandler) LatestBatch(c *gin.Context) {
	batch := h.controller.LastBatch()
	if batch == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no batch synthesized yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

// EvaluateNow forces an immediate evaluation cycle outside the ticker.
func (h *ControllerHandler) EvaluateNow(c *gin.Context) {
	batch, err := h.controller.EvaluateOnce(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": batch})
}

func (h *ControllerHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *ControllerHandler) Ready(c *gin.Context) {
	if !h.health.IsReady(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *ControllerHandler) respondError(c *gin.Context, err error) {
	appErr := apperrors.FromDomain(err)
	c.JSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
