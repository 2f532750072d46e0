package main

import (
	"context"
	"fmt"
	"net/http"

	"maro/app/handler"
	"maro/app/router"
	"maro/internal/service"
	"maro/pkg/config"
	"maro/pkg/jobqueue"
	"maro/pkg/logger"
	"maro/pkg/provision/k8s"
	mysqlstore "maro/pkg/store/mysql"
	redisstore "maro/pkg/store/redis"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
		logger.InfoCtx(app.ctx, "Logging system has been closed")
	})
	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initMySQL initializes the durable run history store. Without it the
// process still works, runs just vanish when their Redis state expires.
func (app *Application) initMySQL() error {
	if !app.config.MySQL.Enabled {
		logger.InfoCtx(app.ctx, "MySQL is disabled, run history will only live in Redis")
		return nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	repo, err := mysqlstore.NewRepository(dsn)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.runService = service.NewRunService(
		redisstore.NewRunRepository(app.redisClient),
		app.mysqlRepo,
		app.redisClient,
	)
	app.trainingService = service.NewTrainingService(app.config, app.runService)
	return nil
}

// initLaunchQueue initializes the queued launch worker and wires the
// task handlers that turn queue payloads into training components.
func (app *Application) initLaunchQueue() error {
	manager, err := jobqueue.NewManager(app.config)
	if err != nil {
		return err
	}

	manager.RegisterHandler(jobqueue.TypeLearnerLaunch, asynq.HandlerFunc(app.handleLearnerLaunch))
	manager.RegisterHandler(jobqueue.TypeActorLaunch, asynq.HandlerFunc(app.handleActorLaunch))

	app.queueManager = manager
	app.registerCleanup(func() {
		if err := manager.Close(); err != nil {
			logger.WarnCtx(app.ctx, "Launch queue close failed: %v", err)
			return
		}
		logger.InfoCtx(app.ctx, "Launch queue has been closed")
	})

	return nil
}

// handleLearnerLaunch runs a queued learner launch. It blocks until
// the run reaches a terminal status, so the queue's timeout and retry
// budget govern the whole run.
func (app *Application) handleLearnerLaunch(ctx context.Context, task *asynq.Task) error {
	spec, err := jobqueue.DecodeLaunch(task)
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Queued learner launch %s starting (run: %s, group: %s)", spec.JobID, spec.RunID, spec.Group)
	return app.trainingService.RunLearner(ctx, spec.RunID, spec.Group, spec.Scenario)
}

// handleActorLaunch runs a queued actor launch, blocking until the
// learner dismisses the group.
func (app *Application) handleActorLaunch(ctx context.Context, task *asynq.Task) error {
	spec, err := jobqueue.DecodeLaunch(task)
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "Queued actor launch %s starting (group: %s, index: %d)", spec.JobID, spec.Group, spec.ActorIndex)
	return app.trainingService.RunActor(ctx, spec.Group, spec.ActorIndex)
}

// initProvisioner initializes the actor fleet provisioner
func (app *Application) initProvisioner() error {
	if !app.config.Provision.Enabled {
		logger.InfoCtx(app.ctx, "Fleet provisioning is disabled, actor processes must be started externally")
		return nil
	}

	prov, err := k8s.NewProvisioner(&app.config.Provision)
	if err != nil {
		return err
	}

	app.provisioner = prov
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.runHandler = handler.NewRunHandler(app.runService)
	app.scheduleHandler = handler.NewScheduleHandler()
	app.jobHandler = handler.NewJobHandler(app.queueManager)

	if app.provisioner != nil {
		app.fleetHandler = handler.NewFleetHandler(app.provisioner)
		logger.InfoCtx(app.ctx, "Fleet handler initialized")
	}

	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.runHandler, app.scheduleHandler, app.jobHandler, app.fleetHandler)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine; recovery and request logging are installed by
	// the router setup
	app.ginEngine = gin.New()
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}
