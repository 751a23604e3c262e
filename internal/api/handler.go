package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"buy-process-service/internal/models"
	"buy-process-service/internal/service"
	"buy-process-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Request headers read at intake.
const (
	HeaderChannel        = "X-Channel-Id"
	HeaderDevice         = "X-Device-Info"
	HeaderActor          = "X-User"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// BuyProcessService is what the handlers need from the service layer.
type BuyProcessService interface {
	Submit(ctx context.Context, req *service.SubmitRequest, rc service.RequestContext) (*service.SubmitResult, error)
	GetBuyProcess(ctx context.Context, id int64) (*models.BuyProcess, error)
	Provision(ctx context.Context, id int64) (*models.BuyProcess, error)
}

// MessageCache is the resolver's invalidation hook.
type MessageCache interface {
	Invalidate()
	InvalidateChannel(channelID int64)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	buyProcesses BuyProcessService
	messages     MessageCache
	checks       map[string]Pinger
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(buyProcesses BuyProcessService, messages MessageCache, checks map[string]Pinger) *Handler {
	return &Handler{
		buyProcesses: buyProcesses,
		messages:     messages,
		checks:       checks,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/buy-processes", h.submitBuyProcess)
		v1.GET("/buy-processes/:id", h.getBuyProcess)
		v1.POST("/buy-processes/:id/provision", h.provisionBuyProcess)
		v1.POST("/channel-messages/invalidate", h.invalidateMessages)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// submitBuyProcess handles buy process submission
func (h *Handler) submitBuyProcess(c *gin.Context) {
	var req service.SubmitRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)
	}

	rc := service.RequestContext{
		ChannelHeader: c.GetHeader(HeaderChannel),
		ClientIP:      c.ClientIP(),
		DeviceInfo:    c.GetHeader(HeaderDevice),
		Actor:         c.GetHeader(HeaderActor),
	}
	if rc.DeviceInfo == "" {
		rc.DeviceInfo = c.Request.UserAgent()
	}

	res, err := h.buyProcesses.Submit(c.Request.Context(), &req, rc)
	if err != nil {
		var bp *models.BuyProcess
		if res != nil {
			bp = res.BuyProcess
		}
		h.renderError(c, err, bp)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res.BuyProcess)
}

// getBuyProcess handles get buy process by ID
func (h *Handler) getBuyProcess(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	bp, err := h.buyProcesses.GetBuyProcess(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, bp)
}

// provisionBuyProcess re-runs provisioning for a stored buy process
func (h *Handler) provisionBuyProcess(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	bp, err := h.buyProcesses.Provision(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, err, bp)
		return
	}

	c.JSON(http.StatusOK, bp)
}

// invalidateMessages drops cached channel messages on this instance
func (h *Handler) invalidateMessages(c *gin.Context) {
	raw := c.Query("channel_id")
	if raw == "" {
		h.messages.Invalidate()
		c.JSON(http.StatusOK, gin.H{"invalidated": "all"})
		return
	}

	channelID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || channelID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid channel ID"})
		return
	}
	h.messages.InvalidateChannel(channelID)
	c.JSON(http.StatusOK, gin.H{"invalidated": channelID})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid buy process ID",
		})
		return 0, false
	}
	return id, true
}

// renderError maps service errors to HTTP answers. bp, when known, is
// returned alongside the error so the caller sees the recorded state.
func (h *Handler) renderError(c *gin.Context, err error, bp *models.BuyProcess) {
	var (
		stageFailure *service.StageFailure
		already      *service.AlreadyProvisionedError
	)

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Buy process not found", "details": err.Error()})
	case errors.As(err, &already):
		c.JSON(http.StatusConflict, gin.H{"error": "Buy process already provisioned", "loan_id": already.LoanID})
	case errors.Is(err, service.ErrProvisioningInProgress), errors.Is(err, service.ErrSubmissionInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotValidated):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &stageFailure):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":        stageFailure.Message,
			"failed_stage": stageFailure.Stage,
			"follow_up":    stageFailure.FollowUp,
			"buy_process":  bp,
		})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
