// Package agent implements the Agent Framework from spec.md §4.H: an
// LLM-directed planner/executor that composes registered tools into
// multi-step workflows with state checkpointing, rollback, and safety
// validation. It generalizes the Pool Manager's and Connection FSM's
// explicit allowed-transition style (pkg/mcp/fsm.go) to the agent
// lifecycle, and the Tool Registry's validate-then-invoke pipeline to
// whole plans.
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/dbcore/agentcore/pkg/safety"
)

// NewTaskID mints a fresh agent/task identifier, used as both the Agent's
// ID and the first half of its checkpoint keys.
func NewTaskID() string { return uuid.NewString() }

// State is one node of the Agent State machine from spec.md §4.H.
type State string

const (
	StateIdle             State = "IDLE"
	StatePlanning         State = "PLANNING"
	StateAwaitingApproval State = "AWAITING_APPROVAL"
	StateExecuting        State = "EXECUTING"
	StateCheckpointed     State = "CHECKPOINTED"
	StateCompleted        State = "COMPLETED"
	StateFailed           State = "FAILED"
	StateRolledBack       State = "ROLLED_BACK"
)

// allowed enumerates legal Agent state transitions; anything absent is
// rejected by Agent.transition.
var allowed = map[State][]State{
	StateIdle:             {StatePlanning, StateFailed},
	StatePlanning:         {StateAwaitingApproval, StateExecuting, StateFailed},
	StateAwaitingApproval: {StateExecuting, StateFailed},
	StateExecuting:        {StateCheckpointed, StateCompleted, StateFailed, StateRolledBack},
	StateCheckpointed:     {StateExecuting, StateCompleted, StateFailed, StateRolledBack},
	StateFailed:           {StateRolledBack},
	StateCompleted:        {},
	StateRolledBack:       {},
}

func transitionAllowed(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StepStatus is one node of a step's own lifecycle within a plan.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepRunning    StepStatus = "RUNNING"
	StepSucceeded  StepStatus = "SUCCEEDED"
	StepFailed     StepStatus = "FAILED"
	StepSkipped    StepStatus = "SKIPPED"
	StepRolledBack StepStatus = "ROLLED_BACK"
)

// FailurePolicy tells the executor what to do when a step fails.
type FailurePolicy string

const (
	PolicyAbort    FailurePolicy = "abort"
	PolicySkip     FailurePolicy = "skip"
	PolicyRetry    FailurePolicy = "retry"
	PolicyRollback FailurePolicy = "rollback"
)

// TaskContext is the Agent Task Context from spec.md §4.H's Glossary
// entry: goal text, input parameters, target resources, granted
// capabilities, a deadline, a safety level, and an optional parent task.
type TaskContext struct {
	ID           string
	Goal         string
	Input        map[string]any
	Resources    []string
	Capabilities []string
	Deadline     time.Time
	SafetyLevel  safety.Level
	ParentTaskID *string
}

// PlanStep is one LLM-proposed action: a tool name, its parameters, a
// rationale the LLM supplied, whether it can run independently of its
// plan-order neighbors, the policy to apply on failure, and an optional
// compensating action for rollback.
type PlanStep struct {
	Tool                string
	Params              map[string]any
	Rationale           string
	Independent         bool
	OnFailure           FailurePolicy
	CompensatingTool    string
	CompensatingParams  map[string]any
	MaxRetries          int
}

// Plan is the LLM's ordered response to one planning request.
type Plan struct {
	Steps []PlanStep
}

// StepRecord is the mutable execution record for one plan step. Per
// spec.md §4.H's invariant, once the owning Agent is COMPLETED or
// ROLLED_BACK, StepRecords are immutable.
type StepRecord struct {
	Step          PlanStep
	Status        StepStatus
	Output        map[string]any
	Err           string
	CheckpointSeq int
}
