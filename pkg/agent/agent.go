package agent

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/async/bus"
	"github.com/dbcore/agentcore/pkg/safety"
	"github.com/dbcore/agentcore/pkg/safety/guard"
	"github.com/dbcore/agentcore/pkg/tools"
)

// stepFailure carries the policy that governed a failed step alongside
// its error, so Run can decide whether the failure warrants a rollback
// without re-inspecting the plan.
type stepFailure struct {
	err    error
	policy FailurePolicy
}

func (f *stepFailure) Error() string { return f.err.Error() }
func (f *stepFailure) Unwrap() error { return f.err }

// Agent drives one TaskContext through the lifecycle from spec.md §4.H:
// IDLE -> PLANNING -> AWAITING_APPROVAL? -> EXECUTING -> (CHECKPOINTED)* ->
// (COMPLETED | FAILED | ROLLED_BACK). It is safe for concurrent read of
// its Steps/State accessors; Run must only be called once per Agent.
type Agent struct {
	mu    sync.Mutex
	id    string
	task  TaskContext
	state State
	steps []StepRecord
	plan  Plan

	planner          Planner
	registry         *tools.Registry
	safetyController *safety.Controller
	checkpoints      *CheckpointStore
	eventBus         *bus.Bus
	logger           *zap.Logger
}

// New builds an Agent for task. checkpoints and eventBus may be nil for
// tests that don't exercise resumability or event publication.
func New(id string, task TaskContext, planner Planner, registry *tools.Registry, safetyController *safety.Controller, checkpoints *CheckpointStore, eventBus *bus.Bus, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		id:               id,
		task:             task,
		state:            StateIdle,
		planner:          planner,
		registry:         registry,
		safetyController: safetyController,
		checkpoints:      checkpoints,
		eventBus:         eventBus,
		logger:           logger,
	}
}

// ID returns the agent's identifier, used as the first half of a
// checkpoint key and as the event bus "source" for every published event.
func (a *Agent) ID() string { return a.id }

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Steps returns a snapshot of the execution record. Once the agent
// reaches COMPLETED or ROLLED_BACK the returned records never change
// again, matching spec.md §4.H's immutability invariant.
func (a *Agent) Steps() []StepRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StepRecord, len(a.steps))
	copy(out, a.steps)
	return out
}

func (a *Agent) transition(to State) error {
	a.mu.Lock()
	from := a.state
	ok := transitionAllowed(from, to)
	if ok {
		a.state = to
	}
	a.mu.Unlock()

	if a.eventBus != nil {
		a.eventBus.Publish("agent.state", map[string]any{"agent_id": a.id, "from": from, "to": to, "accepted": ok}, a.id)
	}
	if !ok {
		return coreerrors.New(coreerrors.KindInvariantViolated, "agent", "transition", "illegal agent state transition %s -> %s", from, to)
	}
	return nil
}

// Run executes the full Plan -> Validate -> Execute -> Checkpoint ->
// Validate loop described in spec.md §4.H, terminating in COMPLETED,
// FAILED, or ROLLED_BACK.
func (a *Agent) Run(ctx context.Context) error {
	if !a.task.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, a.task.Deadline)
		defer cancel()
	}

	if err := a.transition(StatePlanning); err != nil {
		return err
	}

	available := a.registry.Summaries(a.task.Capabilities)
	plan, err := a.planner.Plan(ctx, a.task, available)
	if err != nil {
		_ = a.transition(StateFailed)
		return coreerrors.Wrap(coreerrors.KindInvalidOperation, "agent", "Run", err)
	}

	projectedRisk, err := validatePlan(a.registry, a.task, plan)
	if err != nil {
		_ = a.transition(StateFailed)
		return err
	}

	a.mu.Lock()
	a.plan = plan
	a.steps = make([]StepRecord, len(plan.Steps))
	for i, s := range plan.Steps {
		a.steps[i] = StepRecord{Step: s, Status: StepPending}
	}
	a.mu.Unlock()

	if err := a.safetyGate(ctx, guard.RiskLevel(projectedRisk)); err != nil {
		_ = a.transition(StateFailed)
		return err
	}

	if err := a.transition(StateExecuting); err != nil {
		return err
	}

	if err := a.execute(ctx); err != nil {
		var sf *stepFailure
		if errors.As(err, &sf) && sf.policy == PolicyRollback {
			if rbErr := a.rollback(ctx); rbErr != nil {
				_ = a.transition(StateFailed)
				return coreerrors.Wrap(coreerrors.KindInvariantViolated, "agent", "Run", rbErr)
			}
			_ = a.transition(StateRolledBack)
			return err
		}
		_ = a.transition(StateFailed)
		return err
	}

	return a.transition(StateCompleted)
}

// safetyGate presents every registered plan step to the Safety Controller
// before execution begins when the plan's projected risk is LOW or above,
// per spec.md §4.H's Safety gate paragraph. Each step is evaluated with
// its own descriptor risk under the controller's configured safety level;
// Evaluate blocks on the approval callback internally, so by the time
// this returns the decision is already final.
func (a *Agent) safetyGate(ctx context.Context, projectedRisk guard.RiskLevel) error {
	if a.safetyController == nil {
		return nil
	}
	if !projectedRisk.AtLeast(guard.RiskLow) {
		return nil
	}

	_ = a.transition(StateAwaitingApproval)

	for i, step := range a.plan.Steps {
		descriptor, ok := a.registry.Descriptor(step.Tool)
		if !ok {
			continue
		}
		risk := descriptor.RiskTag
		decision, err := a.safetyController.Evaluate(ctx, safety.Operation{
			Principal:       "agent:" + a.id,
			Tool:            step.Tool,
			Resource:        step.Tool,
			PrecomputedRisk: &risk,
		})
		if err != nil {
			return coreerrors.Wrap(coreerrors.KindSafetyDenied, "agent", "safetyGate", err)
		}
		if decision.Verdict == safety.VerdictDeny {
			return coreerrors.New(coreerrors.KindSafetyDenied, "agent", "safetyGate", "step %d (%s) denied: %s", i, step.Tool, decision.Rationale)
		}
	}
	return nil
}

// execute runs plan steps in declared order, batching consecutive runs of
// Independent steps into one parallel group, per spec.md §5's ordering
// guarantee that only independent-marked steps may run out of order.
func (a *Agent) execute(ctx context.Context) error {
	steps := a.plan.Steps
	for i := 0; i < len(steps); {
		if !steps[i].Independent {
			if err := a.runStep(ctx, i); err != nil {
				return err
			}
			i++
			continue
		}

		j := i
		for j < len(steps) && steps[j].Independent {
			j++
		}

		group, gctx := errgroup.WithContext(ctx)
		for k := i; k < j; k++ {
			k := k
			group.Go(func() error { return a.runStep(gctx, k) })
		}
		if err := group.Wait(); err != nil {
			return err
		}
		i = j
	}
	return nil
}

// runStep invokes one step via the Tool Registry, applying its
// FailurePolicy on error, and writes a checkpoint on success.
func (a *Agent) runStep(ctx context.Context, index int) error {
	a.mu.Lock()
	step := a.steps[index].Step
	a.steps[index].Status = StepRunning
	a.mu.Unlock()

	if a.eventBus != nil {
		a.eventBus.Publish("agent.step", map[string]any{"agent_id": a.id, "index": index, "tool": step.Tool, "status": StepRunning}, a.id)
	}

	attempts := step.MaxRetries + 1
	var output map[string]any
	var invokeErr error
	for attempt := 0; attempt < attempts; attempt++ {
		output, invokeErr = a.registry.Invoke(ctx, step.Tool, step.Params, tools.CallContext{
			Principal:    "agent:" + a.id,
			Capabilities: a.task.Capabilities,
		})
		if invokeErr == nil || step.OnFailure != PolicyRetry {
			break
		}
	}

	a.mu.Lock()
	if invokeErr != nil {
		switch step.OnFailure {
		case PolicySkip:
			a.steps[index].Status = StepSkipped
		default:
			a.steps[index].Status = StepFailed
			a.steps[index].Err = invokeErr.Error()
		}
	} else {
		a.steps[index].Status = StepSucceeded
		a.steps[index].Output = output
	}
	record := a.steps[index]
	a.mu.Unlock()

	if record.Status == StepFailed {
		return &stepFailure{err: invokeErr, policy: step.OnFailure}
	}

	if a.checkpoints != nil {
		if err := a.checkpoints.Save(ctx, Checkpoint{AgentID: a.id, StepIndex: index, Status: record.Status, Output: record.Output, Err: record.Err}); err != nil {
			a.logger.Warn("failed to persist agent checkpoint", zap.String("agent_id", a.id), zap.Int("step", index), zap.Error(err))
		} else {
			_ = a.transition(StateCheckpointed)
			_ = a.transition(StateExecuting)
		}
	}
	if a.eventBus != nil {
		a.eventBus.Publish("agent.step", map[string]any{"agent_id": a.id, "index": index, "tool": step.Tool, "status": record.Status}, a.id)
	}
	return nil
}

// rollback replays checkpoints in reverse, invoking each SUCCEEDED step's
// declared compensating tool. A step with no compensating action is
// non-reversible: rollback fails fast per spec.md §4.H's Rollback
// paragraph.
func (a *Agent) rollback(ctx context.Context) error {
	a.mu.Lock()
	steps := make([]StepRecord, len(a.steps))
	copy(steps, a.steps)
	a.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		record := steps[i]
		if record.Status != StepSucceeded {
			continue
		}
		if record.Step.CompensatingTool == "" {
			return coreerrors.New(coreerrors.KindInvariantViolated, "agent", "rollback", "step %d (%s) succeeded but declares no compensating action", i, record.Step.Tool)
		}
		_, err := a.registry.Invoke(ctx, record.Step.CompensatingTool, record.Step.CompensatingParams, tools.CallContext{
			Principal:    "agent:" + a.id,
			Capabilities: a.task.Capabilities,
		})
		if err != nil {
			return coreerrors.Wrap(coreerrors.KindInvariantViolated, "agent", "rollback", err)
		}
		a.mu.Lock()
		a.steps[i].Status = StepRolledBack
		a.mu.Unlock()
	}
	return nil
}

// Resume reconstructs an Agent's StepRecords from its persisted
// checkpoints and returns the index of the next pending step, per
// spec.md §4.H's Recovery paragraph: "a persisted checkpoint set is
// sufficient to reconstruct state and resume from the next pending
// step." Resume does not itself continue execution; the caller re-plans
// (or supplies the original Plan) and then calls Run, whose execute loop
// will re-invoke every step — callers that want to skip already-SUCCEEDED
// steps should filter them out of the rebuilt Plan before calling Run.
func (a *Agent) Resume(ctx context.Context) (nextPendingIndex int, err error) {
	if a.checkpoints == nil {
		return 0, coreerrors.New(coreerrors.KindInvalidOperation, "agent", "Resume", "no checkpoint store configured")
	}
	checkpoints, err := a.checkpoints.Load(ctx, a.id)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cp := range checkpoints {
		for cp.StepIndex >= len(a.steps) {
			a.steps = append(a.steps, StepRecord{Status: StepPending})
		}
		a.steps[cp.StepIndex].Status = cp.Status
		a.steps[cp.StepIndex].Output = cp.Output
		a.steps[cp.StepIndex].Err = cp.Err
	}

	next := len(a.steps)
	for i, s := range a.steps {
		if s.Status == StepPending {
			next = i
			break
		}
	}
	return next, nil
}
