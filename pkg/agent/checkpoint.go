package agent

import (
	"context"
	"encoding/json"
	"fmt"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/infrastructure/state"
)

// Checkpoint is the opaque blob spec.md §6 requires: one per (agent-id,
// step-index), recording enough to reconstruct state and resume from the
// next pending step.
type Checkpoint struct {
	AgentID   string         `json:"agent_id"`
	StepIndex int            `json:"step_index"`
	Status    StepStatus     `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Err       string         `json:"err,omitempty"`
}

// CheckpointStore persists one Checkpoint per (agent-id, step-index),
// keyed the way infrastructure/state.PersistentState keys its entries —
// here generalized to an arbitrary state.PersistenceBackend so a resumed
// agent can reconstruct its StepRecords without a live planner or LLM.
type CheckpointStore struct {
	backend state.PersistenceBackend
}

// NewCheckpointStore wraps an already-constructed backend (in-memory for
// tests, durable for production) as a CheckpointStore.
func NewCheckpointStore(backend state.PersistenceBackend) *CheckpointStore {
	return &CheckpointStore{backend: backend}
}

func checkpointKey(agentID string, stepIndex int) string {
	return fmt.Sprintf("agent-checkpoint:%s:%04d", agentID, stepIndex)
}

// Save persists cp, overwriting any prior checkpoint for the same step.
func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return coreerrors.Wrap(coreerrors.KindIO, "agent", "CheckpointStore.Save", err)
	}
	if err := s.backend.Save(ctx, checkpointKey(cp.AgentID, cp.StepIndex), data); err != nil {
		return coreerrors.Wrap(coreerrors.KindIO, "agent", "CheckpointStore.Save", err)
	}
	return nil
}

// Load reconstructs every checkpoint recorded for agentID, ordered by
// step index, sufficient to resume from the next pending step per
// spec.md §4.H's Recovery paragraph.
func (s *CheckpointStore) Load(ctx context.Context, agentID string) ([]Checkpoint, error) {
	prefix := fmt.Sprintf("agent-checkpoint:%s:", agentID)
	keys, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindIO, "agent", "CheckpointStore.Load", err)
	}

	checkpoints := make([]Checkpoint, 0, len(keys))
	for _, key := range keys {
		data, err := s.backend.Load(ctx, key)
		if err != nil {
			return nil, coreerrors.Wrap(coreerrors.KindIO, "agent", "CheckpointStore.Load", err)
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			return nil, coreerrors.Wrap(coreerrors.KindIO, "agent", "CheckpointStore.Load", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	for i := 0; i < len(checkpoints); i++ {
		for j := i + 1; j < len(checkpoints); j++ {
			if checkpoints[j].StepIndex < checkpoints[i].StepIndex {
				checkpoints[i], checkpoints[j] = checkpoints[j], checkpoints[i]
			}
		}
	}
	return checkpoints, nil
}
