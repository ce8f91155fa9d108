package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbcore/agentcore/infrastructure/state"
	"github.com/dbcore/agentcore/pkg/agent"
	"github.com/dbcore/agentcore/pkg/safety/guard"
	"github.com/dbcore/agentcore/pkg/tools"
)

func TestAgent_RunCompletesAllStepsInOrder(t *testing.T) {
	registry := tools.New(nil, nil)
	require.NoError(t, registry.Register(tools.Descriptor{Name: "step.one", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"n": 1}, nil
	}))
	require.NoError(t, registry.Register(tools.Descriptor{Name: "step.two", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"n": 2}, nil
	}))

	planner := agent.ScriptedPlanner{Result: agent.Plan{Steps: []agent.PlanStep{
		{Tool: "step.one"},
		{Tool: "step.two"},
	}}}

	a := agent.New("agent-1", agent.TaskContext{Goal: "demo"}, planner, registry, nil, nil, nil, nil)
	err := a.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, agent.StateCompleted, a.State())

	steps := a.Steps()
	require.Len(t, steps, 2)
	require.Equal(t, agent.StepSucceeded, steps[0].Status)
	require.Equal(t, agent.StepSucceeded, steps[1].Status)
}

func TestAgent_UnregisteredToolFailsValidation(t *testing.T) {
	registry := tools.New(nil, nil)
	planner := agent.ScriptedPlanner{Result: agent.Plan{Steps: []agent.PlanStep{{Tool: "nonexistent"}}}}

	a := agent.New("agent-2", agent.TaskContext{Goal: "demo"}, planner, registry, nil, nil, nil, nil)
	err := a.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, agent.StateFailed, a.State())
}

func TestAgent_FailedStepWithRollbackPolicyInvokesCompensatingAction(t *testing.T) {
	registry := tools.New(nil, nil)
	compensated := false

	require.NoError(t, registry.Register(tools.Descriptor{Name: "create", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}))
	require.NoError(t, registry.Register(tools.Descriptor{Name: "undo-create", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		compensated = true
		return map[string]any{}, nil
	}))
	require.NoError(t, registry.Register(tools.Descriptor{Name: "explode", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, context.DeadlineExceeded
	}))

	planner := agent.ScriptedPlanner{Result: agent.Plan{Steps: []agent.PlanStep{
		{Tool: "create", CompensatingTool: "undo-create"},
		{Tool: "explode", OnFailure: agent.PolicyRollback},
	}}}

	a := agent.New("agent-3", agent.TaskContext{Goal: "demo"}, planner, registry, nil, nil, nil, nil)
	err := a.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, agent.StateRolledBack, a.State())
	require.True(t, compensated)

	steps := a.Steps()
	require.Equal(t, agent.StepRolledBack, steps[0].Status)
	require.Equal(t, agent.StepFailed, steps[1].Status)
}

func TestAgent_FailedStepWithSkipPolicyContinues(t *testing.T) {
	registry := tools.New(nil, nil)
	require.NoError(t, registry.Register(tools.Descriptor{Name: "flaky", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return nil, context.DeadlineExceeded
	}))
	require.NoError(t, registry.Register(tools.Descriptor{Name: "after", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}))

	planner := agent.ScriptedPlanner{Result: agent.Plan{Steps: []agent.PlanStep{
		{Tool: "flaky", OnFailure: agent.PolicySkip},
		{Tool: "after"},
	}}}

	a := agent.New("agent-4", agent.TaskContext{Goal: "demo"}, planner, registry, nil, nil, nil, nil)
	err := a.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, agent.StateCompleted, a.State())

	steps := a.Steps()
	require.Equal(t, agent.StepSkipped, steps[0].Status)
	require.Equal(t, agent.StepSucceeded, steps[1].Status)
}

func TestAgent_CheckpointsArePersistedAndResumable(t *testing.T) {
	registry := tools.New(nil, nil)
	require.NoError(t, registry.Register(tools.Descriptor{Name: "step.one", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	}))

	planner := agent.ScriptedPlanner{Result: agent.Plan{Steps: []agent.PlanStep{{Tool: "step.one"}}}}
	store := agent.NewCheckpointStore(state.NewMemoryBackend(0))

	a := agent.New("agent-5", agent.TaskContext{Goal: "demo"}, planner, registry, nil, store, nil, nil)
	require.NoError(t, a.Run(context.Background()))

	resumed := agent.New("agent-5", agent.TaskContext{Goal: "demo"}, planner, registry, nil, store, nil, nil)
	next, err := resumed.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, next)

	steps := resumed.Steps()
	require.Len(t, steps, 1)
	require.Equal(t, agent.StepSucceeded, steps[0].Status)
}

func TestAgent_IndependentStepsRunConcurrently(t *testing.T) {
	registry := tools.New(nil, nil)
	start := make(chan struct{})
	done := make(chan struct{}, 2)

	slow := func(ctx context.Context, params map[string]any) (map[string]any, error) {
		close(start)
		<-time.After(10 * time.Millisecond)
		done <- struct{}{}
		return map[string]any{}, nil
	}
	require.NoError(t, registry.Register(tools.Descriptor{Name: "a", RiskTag: guard.RiskSafe}, slow))
	require.NoError(t, registry.Register(tools.Descriptor{Name: "b", RiskTag: guard.RiskSafe}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		<-start
		done <- struct{}{}
		return map[string]any{}, nil
	}))

	planner := agent.ScriptedPlanner{Result: agent.Plan{Steps: []agent.PlanStep{
		{Tool: "a", Independent: true},
		{Tool: "b", Independent: true},
	}}}

	a := agent.New("agent-6", agent.TaskContext{Goal: "demo"}, planner, registry, nil, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))
	require.Len(t, done, 2)
}
