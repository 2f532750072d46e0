package handler

import (
	"net/http"
	"strconv"
	"time"

	"maro/internal/model"
	"maro/internal/service"
	"maro/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// streamPollInterval is how often the live stream polls the metric ring.
const streamPollInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the API key middleware already gated the request
	},
}

// RunHandler serves training-run state
type RunHandler struct {
	runService *service.RunService
}

// NewRunHandler creates run handler
func NewRunHandler(runService *service.RunService) *RunHandler {
	return &RunHandler{runService: runService}
}

// List lists training runs
// @Summary List training runs
// @Description List recent training runs, optionally filtered by status
// @Tags runs
// @Produce json
// @Param status query string false "Run status (PENDING, RUNNING, EARLY_STOPPED, DONE, FAILED)"
// @Param limit query int false "Return count limit (default 50)"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/runs [get]
func (h *RunHandler) List(c *gin.Context) {
	status := c.Query("status")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := h.runService.ListRuns(c.Request.Context(), status, limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// Get gets one run with its registered actors
// @Summary Get run detail
// @Description Get one training run and the rendezvous registry's view of its actors
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/runs/{id} [get]
func (h *RunHandler) Get(c *gin.Context) {
	runID := c.Param("id")

	run, err := h.runService.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	actors, err := h.runService.ActorPeers(c.Request.Context(), run.Group)
	if err != nil {
		logger.WarnCtx(c.Request.Context(), "failed to inspect group %s: %v", run.Group, err)
		actors = []*model.ActorPeer{}
	}

	c.JSON(http.StatusOK, gin.H{
		"run":    run,
		"actors": actors,
	})
}

// Metrics gets a run's episode metrics
// @Summary Get run metrics
// @Description Get a run's episode metrics, oldest first
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Param limit query int false "Return count limit (default all buffered episodes)"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/runs/{id}/metrics [get]
func (h *RunHandler) Metrics(c *gin.Context) {
	runID := c.Param("id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	metrics, err := h.runService.RunMetrics(c.Request.Context(), runID, limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to get metrics of run %s: %v", runID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":  runID,
		"metrics": metrics,
		"total":   len(metrics),
	})
}

// Stream streams live episode metrics over a websocket
// @Summary Stream run metrics
// @Description WebSocket stream of live episode metrics and status transitions
// @Tags runs
// @Param id path string true "Run ID"
// @Param from query int false "Episode to replay from (default: only new episodes)"
// @Router /api/v1/runs/{id}/stream [get]
func (h *RunHandler) Stream(c *gin.Context) {
	runID := c.Param("id")
	ctx := c.Request.Context()

	run, err := h.runService.GetRun(ctx, runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	// By default only episodes finishing after the subscription are
	// pushed; ?from=0 replays everything still on the ring.
	afterEpisode := run.CurrentEpisode - 1
	if raw := c.Query("from"); raw != "" {
		if from, err := strconv.Atoi(raw); err == nil {
			afterEpisode = from - 1
		}
	}

	lastStatus := run.Status
	if err := ws.WriteJSON(&model.StreamEvent{Type: "status", RunID: runID, Status: string(run.Status)}); err != nil {
		return
	}

	// Drain reads so client close frames surface as an error here.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			fresh, err := h.runService.MetricsSince(ctx, runID, afterEpisode)
			if err != nil {
				logger.WarnCtx(ctx, "metric stream of run %s failed: %v", runID, err)
				return
			}
			for _, metric := range fresh {
				if err := ws.WriteJSON(&model.StreamEvent{Type: "metric", RunID: runID, Metric: metric}); err != nil {
					return
				}
				afterEpisode = metric.Episode
			}

			run, err := h.runService.GetRun(ctx, runID)
			if err != nil {
				// run state expired out of Redis
				return
			}
			if run.Status != lastStatus {
				lastStatus = run.Status
				if err := ws.WriteJSON(&model.StreamEvent{Type: "status", RunID: runID, Status: string(run.Status)}); err != nil {
					return
				}
				if run.Status.Terminal() {
					return
				}
			}
		}
	}
}
