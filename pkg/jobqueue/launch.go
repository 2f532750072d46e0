// Package jobqueue submits and executes training component launches
// as queued jobs: a submit call enqueues a launch, a resident worker
// picks it up and runs the component in-process.
package jobqueue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"maro/pkg/constants"
)

// Task types served by the launch worker.
const (
	TypeLearnerLaunch = "maro:run:learner"
	TypeActorLaunch   = "maro:run:actor"
)

// LaunchSpec is the payload of a launch job.
type LaunchSpec struct {
	JobID     string `json:"job_id"`
	RunID     string `json:"run_id"`
	Group     string `json:"group"`
	Component string `json:"component"`
	Scenario  string `json:"scenario,omitempty"`
	// ActorIndex distinguishes parallel actor launches of one run.
	ActorIndex int `json:"actor_index,omitempty"`
}

// Validate fills the job ID and checks the component routing.
func (s *LaunchSpec) Validate() error {
	if s.JobID == "" {
		s.JobID = uuid.NewString()
	}
	if s.Group == "" {
		return fmt.Errorf("launch spec needs a group")
	}
	if _, err := s.TaskType(); err != nil {
		return err
	}
	return nil
}

// TaskType maps the component to its queue task type.
func (s *LaunchSpec) TaskType() (string, error) {
	switch s.Component {
	case constants.ComponentLearner:
		return TypeLearnerLaunch, nil
	case constants.ComponentActor:
		return TypeActorLaunch, nil
	default:
		return "", fmt.Errorf("unknown launch component %q", s.Component)
	}
}

// DecodeLaunch unpacks a queued task back into its spec.
func DecodeLaunch(task *asynq.Task) (*LaunchSpec, error) {
	var spec LaunchSpec
	if err := json.Unmarshal(task.Payload(), &spec); err != nil {
		return nil, fmt.Errorf("failed to decode launch payload: %w", err)
	}
	return &spec, nil
}
