package agent

import (
	"context"
	"fmt"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/tools"
)

// Planner turns a task and the tool summaries it may use into an ordered
// Plan. Production implementations call out to an LLM; ScriptedPlanner is
// the deterministic test double.
type Planner interface {
	Plan(ctx context.Context, task TaskContext, available []tools.Summary) (Plan, error)
}

// ScriptedPlanner returns a fixed Plan (or error) regardless of task or
// available tools, the way fakeDriver and fakeFactory stand in for real
// backends in pkg/mcp's pool tests.
type ScriptedPlanner struct {
	Result Plan
	Err    error
}

func (p ScriptedPlanner) Plan(ctx context.Context, task TaskContext, available []tools.Summary) (Plan, error) {
	return p.Result, p.Err
}

// validatePlan checks every step names a registered tool the caller's
// capabilities cover, that its parameters satisfy the tool's schema, and
// computes the projected risk (the maximum RiskTag over all steps) per
// spec.md §4.H's Planning paragraph.
func validatePlan(registry *tools.Registry, task TaskContext, plan Plan) (projectedRisk string, err error) {
	grantedSet := make(map[string]bool, len(task.Capabilities))
	for _, c := range task.Capabilities {
		grantedSet[c] = true
	}

	maxRank := -1
	rank := map[string]int{"SAFE": 0, "LOW": 1, "MEDIUM": 2, "HIGH": 3, "CRITICAL": 4}

	for i, step := range plan.Steps {
		descriptor, ok := registry.Descriptor(step.Tool)
		if !ok {
			return "", coreerrors.New(coreerrors.KindInvalidOperation, "agent", "validatePlan", "step %d names unregistered tool %q", i, step.Tool)
		}
		for _, cap := range descriptor.Capabilities {
			if !grantedSet[cap] {
				return "", coreerrors.New(coreerrors.KindCapabilityDenied, "agent", "validatePlan", "step %d's tool %q requires capability %q which the task was not granted", i, step.Tool, cap)
			}
		}
		if verr := descriptor.Parameters.Validate(step.Params); verr != nil {
			return "", coreerrors.Wrap(coreerrors.KindInvalidParams, "agent", "validatePlan", fmt.Errorf("step %d: %w", i, verr))
		}
		if r := rank[string(descriptor.RiskTag)]; r > maxRank {
			maxRank = r
			projectedRisk = string(descriptor.RiskTag)
		}
	}
	if projectedRisk == "" {
		projectedRisk = "SAFE"
	}
	return projectedRisk, nil
}
