package service

import (
	"context"
	"sync"

	"maro/internal/model"
	"maro/pkg/constants"
	"maro/pkg/logger"
)

// RunRecorder tracks one training run's progress in the live store.
// The learner feeds it through the rl.ProgressSink interface; recording
// failures are logged and swallowed so persistence trouble never aborts
// training.
type RunRecorder struct {
	svc *RunService

	mu      sync.Mutex
	run     *model.TrainingRun
	hasBest bool
}

// NewRunRecorder wraps a run for recording. The caller keeps ownership
// of run until Start; after that the recorder is the only writer.
func NewRunRecorder(svc *RunService, run *model.TrainingRun) *RunRecorder {
	return &RunRecorder{
		svc:     svc,
		run:     run,
		hasBest: run.CurrentEpisode > 0,
	}
}

// Start marks the run RUNNING and saves the initial state.
func (r *RunRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.run.Status = constants.RunStatusRunning
	return r.svc.runRepo.Save(ctx, r.run)
}

// Run returns a copy of the current run state.
func (r *RunRecorder) Run() model.TrainingRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.run
}

// EpisodeDone records one finished episode: the metric goes onto the
// live ring and the run row advances its episode and best-performance
// counters.
func (r *RunRecorder) EpisodeDone(ctx context.Context, metric *model.EpisodeMetric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.run.CurrentEpisode = metric.Episode + 1
	if !r.hasBest || metric.TotalReward > r.run.BestPerf {
		r.run.BestPerf = metric.TotalReward
		r.run.BestEpisode = metric.Episode
		r.hasBest = true
	}

	if err := r.svc.runRepo.AppendMetric(ctx, metric); err != nil {
		logger.WarnCtx(ctx, "failed to record metric of episode %d: %v", metric.Episode, err)
	}
	if err := r.svc.runRepo.Save(ctx, r.run); err != nil {
		logger.WarnCtx(ctx, "failed to save run %s: %v", r.run.RunID, err)
	}
}

// StatusChanged records a status transition. Terminal statuses also
// trigger the final flush to the durable store, because Save drops the
// run out of the active set the periodic flusher walks.
func (r *RunRecorder) StatusChanged(ctx context.Context, status constants.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transition(ctx, status, "")
}

// Fail marks the run FAILED with the abort reason.
func (r *RunRecorder) Fail(ctx context.Context, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	r.transition(ctx, constants.RunStatusFailed, reason)
}

// transition applies the status change and persists it. Callers hold
// the mutex.
func (r *RunRecorder) transition(ctx context.Context, status constants.RunStatus, reason string) {
	if r.run.Status.Terminal() {
		// first terminal transition wins
		return
	}

	if status.Terminal() {
		r.run.Finished(status)
		r.run.Error = reason
	} else {
		r.run.Status = status
	}

	if err := r.svc.runRepo.Save(ctx, r.run); err != nil {
		logger.WarnCtx(ctx, "failed to save run %s: %v", r.run.RunID, err)
	}
	if status.Terminal() {
		if err := r.svc.FlushRun(ctx, r.run); err != nil {
			logger.WarnCtx(ctx, "final flush of run %s failed: %v", r.run.RunID, err)
		}
	}
	logger.InfoCtx(ctx, "run %s is now %s", r.run.RunID, status)
}
