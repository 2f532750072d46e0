package rl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"maro/pkg/logger"
)

// Policy is one agent's trainable decision policy.
type Policy interface {
	// Choose selects an action for the observation, exploring with
	// rate epsilon. It returns the action and its log-probability
	// under the current policy.
	Choose(observation []float64, epsilon float64) (Action, float64, error)

	// Learn runs one training update on the agent's transitions.
	Learn(transitions []Transition) error

	// Snapshot serializes the policy parameters.
	Snapshot() ([]byte, error)

	// Restore loads parameters produced by Snapshot.
	Restore(data []byte) error
}

// AgentManager owns the per-agent policies and exposes the batched
// operations the learner and actors drive: choose actions for every
// agent, apply one learning step, and snapshot or restore all
// parameters at once.
type AgentManager struct {
	agents map[string]Policy
}

// NewAgentManager wraps the given policies keyed by agent ID.
func NewAgentManager(agents map[string]Policy) (*AgentManager, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	for id, policy := range agents {
		if policy == nil {
			return nil, fmt.Errorf("agent %s has no policy", id)
		}
	}
	return &AgentManager{agents: agents}, nil
}

// AgentIDs returns the managed agent IDs, sorted.
func (m *AgentManager) AgentIDs() []string {
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ChooseActions selects one action per observed agent. Exploration
// coefficients missing from params default to zero, which means act
// greedily.
func (m *AgentManager) ChooseActions(observations map[string][]float64, params ExplorationParams) (map[string]Action, map[string]float64, error) {
	actions := make(map[string]Action, len(observations))
	logProbs := make(map[string]float64, len(observations))
	for id, obs := range observations {
		policy, ok := m.agents[id]
		if !ok {
			return nil, nil, fmt.Errorf("no policy for agent %s", id)
		}
		action, logProb, err := policy.Choose(obs, params[id])
		if err != nil {
			return nil, nil, fmt.Errorf("agent %s failed to choose an action: %w", id, err)
		}
		actions[id] = action
		logProbs[id] = logProb
	}
	return actions, logProbs, nil
}

// Update applies one learning step per agent present in the batch.
// A batch naming an unknown agent is corrupt and aborts the update;
// learning errors propagate because training on after a failed
// gradient step would silently corrupt the policies.
func (m *AgentManager) Update(batch ExperienceBatch) error {
	for _, id := range batch.Agents() {
		policy, ok := m.agents[id]
		if !ok {
			return fmt.Errorf("experience batch references unknown agent %s", id)
		}
		if err := policy.Learn(batch[id]); err != nil {
			return fmt.Errorf("learning step failed for agent %s: %w", id, err)
		}
	}
	return nil
}

// SnapshotAll serializes every agent's parameters, keyed by agent ID.
func (m *AgentManager) SnapshotAll() (map[string]json.RawMessage, error) {
	snapshots := make(map[string]json.RawMessage, len(m.agents))
	for id, policy := range m.agents {
		data, err := policy.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot agent %s: %w", id, err)
		}
		snapshots[id] = data
	}
	return snapshots, nil
}

// RestoreAll loads parameters for every agent present in the
// snapshot map. Snapshots for unknown agents are ignored with a
// warning so a learner can drive a scenario subset.
func (m *AgentManager) RestoreAll(snapshots map[string]json.RawMessage) error {
	for id, data := range snapshots {
		policy, ok := m.agents[id]
		if !ok {
			logger.Warnf("ignoring snapshot for unknown agent %s", id)
			continue
		}
		if err := policy.Restore(data); err != nil {
			return fmt.Errorf("failed to restore agent %s: %w", id, err)
		}
	}
	return nil
}

// DumpModels writes one file per agent under dir, overwriting any
// previous checkpoint. There is no versioning; the latest state wins.
func (m *AgentManager) DumpModels(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models dir: %w", err)
	}
	for _, id := range m.AgentIDs() {
		data, err := m.agents[id].Snapshot()
		if err != nil {
			return fmt.Errorf("failed to snapshot agent %s: %w", id, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s.model", id))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write model for agent %s: %w", id, err)
		}
	}
	return nil
}

// LoadModels restores agents from a models directory written by
// DumpModels. Agents without a checkpoint file keep their current
// parameters.
func (m *AgentManager) LoadModels(dir string) error {
	for _, id := range m.AgentIDs() {
		path := filepath.Join(dir, fmt.Sprintf("%s.model", id))
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			logger.Warnf("no checkpoint for agent %s under %s, keeping fresh parameters", id, dir)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read model for agent %s: %w", id, err)
		}
		if err := m.agents[id].Restore(data); err != nil {
			return fmt.Errorf("failed to restore agent %s: %w", id, err)
		}
	}
	return nil
}
