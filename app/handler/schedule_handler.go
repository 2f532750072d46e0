package handler

import (
	"net/http"
	"strconv"

	"maro/internal/rl"
	"maro/pkg/config"

	"github.com/gin-gonic/gin"
)

// maxPreviewEpisodes bounds the rendered schedule size.
const maxPreviewEpisodes = 50000

// SchedulePoint is one episode of a previewed exploration schedule.
type SchedulePoint struct {
	Episode int     `json:"episode"`
	Epsilon float64 `json:"epsilon"`
}

// ScheduleHandler previews exploration schedules
type ScheduleHandler struct{}

// NewScheduleHandler creates schedule handler
func NewScheduleHandler() *ScheduleHandler {
	return &ScheduleHandler{}
}

// Preview renders the full epsilon decay for a parameter set
// @Summary Preview exploration schedule
// @Description Render the per-episode epsilon decay; unset parameters fall back to the configured schedule
// @Tags schedules
// @Produce json
// @Param start query number false "Initial epsilon"
// @Param mid query number false "Epsilon at the split episode"
// @Param end query number false "Final epsilon"
// @Param warmup query int false "Warmup episodes held at start"
// @Param split query int false "Phase boundary episode (default max/2)"
// @Param max query int false "Episode horizon"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/schedules/preview [get]
func (h *ScheduleHandler) Preview(c *gin.Context) {
	sched := config.GlobalConfig.Scheduler

	start := floatQuery(c, "start", sched.Exploration.Start)
	mid := floatQuery(c, "mid", sched.Exploration.Mid)
	end := floatQuery(c, "end", sched.Exploration.End)
	warmup := intQuery(c, "warmup", sched.WarmupEpisode)
	maxEpisode := intQuery(c, "max", sched.MaxEpisode)
	split := intQuery(c, "split", sched.Exploration.SplitEpisode)
	if split <= 0 {
		split = maxEpisode / 2
	}

	if maxEpisode > maxPreviewEpisodes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "schedule preview caps at " + strconv.Itoa(maxPreviewEpisodes) + " episodes",
		})
		return
	}

	schedule, err := rl.NewExplorationSchedule(start, mid, end, warmup, split, maxEpisode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	points := make([]SchedulePoint, 0, maxEpisode)
	for episode := 0; episode < maxEpisode; episode++ {
		points = append(points, SchedulePoint{Episode: episode, Epsilon: schedule.Epsilon(episode)})
	}

	c.JSON(http.StatusOK, gin.H{
		"schedule": points,
		"total":    len(points),
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func floatQuery(c *gin.Context, name string, fallback float64) float64 {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
