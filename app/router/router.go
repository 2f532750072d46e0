package router

import (
	"net/http"

	"maro/app/handler"
	"maro/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router wires the inspection API
type Router struct {
	runHandler      *handler.RunHandler
	scheduleHandler *handler.ScheduleHandler
	jobHandler      *handler.JobHandler
	fleetHandler    *handler.FleetHandler
}

// NewRouter creates a new Router. jobHandler and fleetHandler may be
// nil when their subsystems are disabled; their routes are then not
// mounted.
func NewRouter(runHandler *handler.RunHandler, scheduleHandler *handler.ScheduleHandler, jobHandler *handler.JobHandler, fleetHandler *handler.FleetHandler) *Router {
	return &Router{
		runHandler:      runHandler,
		scheduleHandler: scheduleHandler,
		jobHandler:      jobHandler,
		fleetHandler:    fleetHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())

	api := engine.Group("/api/v1")
	api.Use(middleware.Auth())
	{
		// Run inspection
		runs := api.Group("/runs")
		{
			runs.GET("", r.runHandler.List)
			runs.GET("/:id", r.runHandler.Get)
			runs.GET("/:id/metrics", r.runHandler.Metrics)
			runs.GET("/:id/stream", r.runHandler.Stream) // websocket
		}

		// Exploration schedule preview
		api.GET("/schedules/preview", r.scheduleHandler.Preview)

		// Job-mode launches
		if r.jobHandler != nil {
			jobs := api.Group("/jobs")
			{
				jobs.GET("", r.jobHandler.QueueStats)
				jobs.POST("/learner", r.jobHandler.SubmitLearner)
				jobs.POST("/actor", r.jobHandler.SubmitActor)
				jobs.GET("/:id", r.jobHandler.Status)
				jobs.DELETE("/:id", r.jobHandler.Cancel)
			}
		}

		// Actor fleet provisioning
		if r.fleetHandler != nil {
			fleets := api.Group("/fleets")
			{
				fleets.POST("", r.fleetHandler.Deploy)
				fleets.POST("/preview", r.fleetHandler.Preview)
				fleets.GET("/:group/pods", r.fleetHandler.Pods)
				fleets.PUT("/:group/scale", r.fleetHandler.Scale)
				fleets.DELETE("/:group", r.fleetHandler.Delete)
			}
		}
	}

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
