package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"maro/pkg/constants"
	"maro/pkg/jobqueue"
	"maro/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// JobHandler serves job-mode launches: components submitted to the
// queue instead of started by hand.
type JobHandler struct {
	queue *jobqueue.Manager
}

// NewJobHandler creates job handler
func NewJobHandler(queue *jobqueue.Manager) *JobHandler {
	return &JobHandler{queue: queue}
}

// launchRequest is the submit body shared by the learner and actor routes.
type launchRequest struct {
	RunID      string `json:"run_id"`
	Group      string `json:"group"`
	Scenario   string `json:"scenario"`
	ActorIndex int    `json:"actor_index"`
}

// SubmitLearner enqueues a learner launch
// @Summary Submit learner launch
// @Description Enqueue a learner component launch for the job worker
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body launchRequest true "Launch request"
// @Success 200 {object} map[string]string
// @Router /api/v1/jobs/learner [post]
func (h *JobHandler) SubmitLearner(c *gin.Context) {
	h.submit(c, constants.ComponentLearner)
}

// SubmitActor enqueues an actor launch
// @Summary Submit actor launch
// @Description Enqueue an actor component launch for the job worker
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body launchRequest true "Launch request"
// @Success 200 {object} map[string]string
// @Router /api/v1/jobs/actor [post]
func (h *JobHandler) SubmitActor(c *gin.Context) {
	h.submit(c, constants.ComponentActor)
}

func (h *JobHandler) submit(c *gin.Context, component string) {
	var req launchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	spec := &jobqueue.LaunchSpec{
		RunID:      req.RunID,
		Group:      req.Group,
		Component:  component,
		Scenario:   req.Scenario,
		ActorIndex: req.ActorIndex,
	}
	if err := spec.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.queue.EnqueueLaunch(c.Request.Context(), spec)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "a launch with this job_id is already queued"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to enqueue %s launch: %v", component, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":    jobID,
		"component": component,
	})
}

// Status gets one queued launch
// @Summary Get launch status
// @Description Get the queue's view of one launch job
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/jobs/{id} [get]
func (h *JobHandler) Status(c *gin.Context) {
	jobID := c.Param("id")

	info, err := h.queue.JobInfo(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	resp := gin.H{
		"id":        info.ID,
		"type":      info.Type,
		"queue":     info.Queue,
		"state":     info.State.String(),
		"retried":   info.Retried,
		"max_retry": info.MaxRetry,
	}
	if info.LastErr != "" {
		resp["last_error"] = info.LastErr
	}
	var spec jobqueue.LaunchSpec
	if err := json.Unmarshal(info.Payload, &spec); err == nil {
		resp["spec"] = spec
	}

	c.JSON(http.StatusOK, resp)
}

// Cancel removes a queued launch
// @Summary Cancel launch
// @Description Delete a launch job from the queue
// @Tags jobs
// @Param id path string true "Job ID"
// @Success 200 {object} map[string]string
// @Router /api/v1/jobs/{id} [delete]
func (h *JobHandler) Cancel(c *gin.Context) {
	jobID := c.Param("id")

	if err := h.queue.CancelJob(jobID); err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to cancel job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}

// QueueStats lists the launch queue's state
// @Summary Launch queue stats
// @Description Aggregate counts of the launch queue
// @Tags jobs
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/jobs [get]
func (h *JobHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.QueueStats()
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to read queue stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue":     stats.Queue,
		"size":      stats.Size,
		"pending":   stats.Pending,
		"active":    stats.Active,
		"scheduled": stats.Scheduled,
		"retry":     stats.Retry,
		"archived":  stats.Archived,
		"completed": stats.Completed,
		"processed": stats.Processed,
		"failed":    stats.Failed,
	})
}
