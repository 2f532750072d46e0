package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"maro/internal/jobs"
	"maro/internal/service"
	"maro/pkg/logger"
	redisstore "maro/pkg/store/redis"
)

func (app *Application) initJobs() error {
	if app.runService == nil {
		logger.WarnCtx(app.ctx, "Service layer not fully initialized yet, skipping background task registration")
		return nil
	}

	manager := jobs.NewManager(app.ctx)

	// Distributed locks keep the maintenance jobs single-flight when
	// several learner replicas share one Redis. Without Redis the locks
	// downgrade to single-instance mode.
	var redisClient *redis.Client
	if app.redisClient != nil {
		redisClient = app.redisClient.GetClient()
	}

	actorSweepLock := redisstore.NewRedisDistributedLock(redisClient, "jobs:actor-sweep-lock")
	manager.Register(newActorSweepJob(30*time.Second, app.runService, actorSweepLock))

	// The flush and retention jobs only make sense with a durable store
	if app.mysqlRepo != nil {
		metricFlushLock := redisstore.NewRedisDistributedLock(redisClient, "jobs:metric-flush-lock")
		retentionLock := redisstore.NewRedisDistributedLock(redisClient, "jobs:run-retention-lock")

		manager.Register(newMetricFlushJob(10*time.Second, app.runService, metricFlushLock))
		manager.Register(newRunRetentionJob(24*time.Hour, app.runService, retentionLock))
	}

	app.jobsManager = manager
	return nil
}

// actorSweepJob prunes expired actor registrations from the rendezvous
// groups of active runs.
type actorSweepJob struct {
	interval        time.Duration
	runService      *service.RunService
	distributedLock redisstore.DistributedLock
}

func newActorSweepJob(interval time.Duration, svc *service.RunService, lock redisstore.DistributedLock) jobs.Job {
	return &actorSweepJob{
		interval:        interval,
		runService:      svc,
		distributedLock: lock,
	}
}

func (j *actorSweepJob) Name() string {
	return "actor-sweep"
}

func (j *actorSweepJob) Interval() time.Duration {
	return j.interval
}

func (j *actorSweepJob) Run(ctx context.Context) error {
	if j.runService == nil {
		return fmt.Errorf("run service not configured")
	}

	// Try to acquire distributed lock
	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running the actor sweep, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	logger.DebugCtx(ctx, "running actor sweep job")
	return j.runService.SweepDeadActors(ctx)
}

// metricFlushJob mirrors live run state and metrics into the durable
// store while runs are hot.
type metricFlushJob struct {
	interval        time.Duration
	runService      *service.RunService
	distributedLock redisstore.DistributedLock
}

func newMetricFlushJob(interval time.Duration, svc *service.RunService, lock redisstore.DistributedLock) jobs.Job {
	return &metricFlushJob{
		interval:        interval,
		runService:      svc,
		distributedLock: lock,
	}
}

func (j *metricFlushJob) Name() string {
	return "metric-flush"
}

func (j *metricFlushJob) Interval() time.Duration {
	return j.interval
}

func (j *metricFlushJob) Run(ctx context.Context) error {
	if j.runService == nil {
		return fmt.Errorf("run service not configured")
	}

	// Try to acquire distributed lock
	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running the metric flush, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	return j.runService.FlushMetrics(ctx)
}

// runRetentionJob deletes finished runs past the retention window,
// durable rows and Redis leftovers both.
type runRetentionJob struct {
	interval        time.Duration
	runService      *service.RunService
	distributedLock redisstore.DistributedLock
}

func newRunRetentionJob(interval time.Duration, svc *service.RunService, lock redisstore.DistributedLock) jobs.Job {
	return &runRetentionJob{
		interval:        interval,
		runService:      svc,
		distributedLock: lock,
	}
}

func (j *runRetentionJob) Name() string { return "run-retention" }

func (j *runRetentionJob) Interval() time.Duration { return j.interval }

func (j *runRetentionJob) AlignToInterval() bool { return true }

func (j *runRetentionJob) Run(ctx context.Context) error {
	if j.runService == nil {
		return fmt.Errorf("run service not configured")
	}

	if j.distributedLock != nil {
		acquired, err := j.distributedLock.TryLock(ctx)
		if err != nil || !acquired {
			logger.DebugCtx(ctx, "another instance is running the retention sweep, skipping this cycle")
			return nil
		}
		defer j.distributedLock.Unlock(ctx)
	}

	retentionDays := 10
	_, err := j.runService.CleanupFinishedRuns(ctx, time.Duration(retentionDays)*24*time.Hour)
	return err
}
