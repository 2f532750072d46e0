package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"maro/pkg/config"
	"maro/pkg/logger"
)

const queueName = "default"

// Manager owns the queue client, the worker server and the handler mux.
type Manager struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	redisOpt asynq.RedisClientOpt

	jobTimeout time.Duration
	maxRetry   int
}

// NewManager wires the queue against the shared Redis instance.
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues: map[string]int{
			queueName: 10,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(n) * time.Second
		},
	})

	return &Manager{
		client:     asynq.NewClient(redisOpt),
		server:     server,
		mux:        asynq.NewServeMux(),
		redisOpt:   redisOpt,
		jobTimeout: time.Duration(cfg.Queue.JobTimeout) * time.Second,
		maxRetry:   cfg.Queue.MaxRetry,
	}, nil
}

// EnqueueLaunch submits one component launch. The spec's job ID doubles
// as the task ID, so resubmitting the same spec is a conflict rather
// than a duplicate launch.
func (m *Manager) EnqueueLaunch(ctx context.Context, spec *LaunchSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	taskType, err := spec.TaskType()
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("failed to encode launch payload: %w", err)
	}

	task := asynq.NewTask(taskType, payload)
	info, err := m.client.EnqueueContext(ctx, task,
		asynq.TaskID(spec.JobID),
		asynq.Timeout(m.jobTimeout),
		asynq.MaxRetry(m.maxRetry),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue launch %s: %w", spec.JobID, err)
	}

	logger.InfoCtx(ctx, "launch %s enqueued: type=%s queue=%s", info.ID, taskType, info.Queue)
	return info.ID, nil
}

// JobInfo reports the queue state of one launch.
func (m *Manager) JobInfo(jobID string) (*asynq.TaskInfo, error) {
	inspector := asynq.NewInspector(m.redisOpt)
	defer inspector.Close()

	info, err := inspector.GetTaskInfo(queueName, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up launch %s: %w", jobID, err)
	}
	return info, nil
}

// CancelJob drops a queued launch. Running launches are not interrupted.
func (m *Manager) CancelJob(jobID string) error {
	inspector := asynq.NewInspector(m.redisOpt)
	defer inspector.Close()

	if err := inspector.DeleteTask(queueName, jobID); err != nil {
		return fmt.Errorf("failed to cancel launch %s: %w", jobID, err)
	}
	return nil
}

// QueueStats reports the launch queue depth.
func (m *Manager) QueueStats() (*asynq.QueueInfo, error) {
	inspector := asynq.NewInspector(m.redisOpt)
	defer inspector.Close()

	info, err := inspector.GetQueueInfo(queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return info, nil
}

// RegisterHandler binds a handler to a task type on the worker mux.
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// Start runs the worker loop. It returns once the server is started.
func (m *Manager) Start() error {
	if err := m.server.Start(m.mux); err != nil {
		return fmt.Errorf("failed to start launch worker: %w", err)
	}
	return nil
}

// Stop drains in-flight launches and shuts the worker down.
func (m *Manager) Stop() {
	m.server.Stop()
	m.server.Shutdown()
}

// Close releases the queue client.
func (m *Manager) Close() error {
	return m.client.Close()
}
