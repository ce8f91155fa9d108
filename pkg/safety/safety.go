// Package safety implements the Safety Controller from spec.md §4.F: it
// sanitizes inputs, consults the SQL Guard/risk classifier, applies the
// configured safety-level policy, enforces per-principal/per-tool rate
// limits, drives approval callbacks, and always emits an audit record.
package safety

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/audit"
	"github.com/dbcore/agentcore/pkg/safety/guard"
)

// Level is the configured safety policy knob from spec.md's Glossary.
type Level string

const (
	LevelStrict     Level = "strict"
	LevelModerate   Level = "moderate"
	LevelPermissive Level = "permissive"
)

// Verdict is the Safety Controller's decision.
type Verdict string

const (
	VerdictAllow             Verdict = "ALLOW"
	VerdictAllowWithWarning  Verdict = "ALLOW_WITH_WARNING"
	VerdictRequireApproval   Verdict = "REQUIRE_APPROVAL"
	VerdictDeny              Verdict = "DENY"
)

// Decision is the Safety Controller's full answer to one operation.
type Decision struct {
	Verdict            Verdict
	Risk               guard.RiskLevel
	Reasons            []guard.ReasonTag
	Rationale          string
	RequiredApprovals  int
}

// Operation is one request presented to the Safety Controller.
type Operation struct {
	Principal        string
	Tool             string
	Resource         string
	SQL              string                     // non-empty for SQL-backend operations
	Structured       *guard.StructuredOperation // non-nil for structured-backend operations
	ProductionTagged bool
	PreApproved      bool // caller asserts this was already through an approval flow

	// PrecomputedRisk lets a caller that already knows the operation's risk
	// tag (e.g. the Tool Registry, consulting a Descriptor's fixed RiskTag
	// per spec.md §4.F step 5) skip SQL Guard classification entirely.
	PrecomputedRisk *guard.RiskLevel
}

// ApprovalRequest is what's handed to an ApprovalCallback for a
// REQUIRE_APPROVAL decision.
type ApprovalRequest struct {
	Operation Operation
	Risk      guard.RiskLevel
	Reasons   []guard.ReasonTag
}

// ApprovalResult is one approver's answer.
type ApprovalResult struct {
	Approved bool
	Approver string
	Reason   string
}

// ApprovalCallback is the abstraction the UI/CLI implements; its contract
// is opaque to the core per spec.md §4.F. A timeout must be enforced by
// the callback's own context and counts as a rejection.
type ApprovalCallback func(ctx context.Context, req ApprovalRequest) (ApprovalResult, error)

var identifierPattern = regexpMustCompileIdentifier()

// Controller is the Safety Controller. It is safe for concurrent use.
type Controller struct {
	level    Level
	log      *audit.Log
	approve  ApprovalCallback

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rateRPS  float64
	rateBurst int
}

// Config configures a Controller.
type Config struct {
	Level            Level
	Audit            *audit.Log
	Approve          ApprovalCallback
	RateLimitPerMin  int // calls per principal+tool per minute, 0 disables limiting
}

// New builds a Controller.
func New(cfg Config) *Controller {
	rps := float64(cfg.RateLimitPerMin) / 60.0
	burst := cfg.RateLimitPerMin
	if burst < 1 {
		burst = 1
	}
	return &Controller{
		level:     cfg.Level,
		log:       cfg.Audit,
		approve:   cfg.Approve,
		limiters:  make(map[string]*rate.Limiter),
		rateRPS:   rps,
		rateBurst: burst,
	}
}

// Evaluate runs the full algorithm from spec.md §4.F. Every path that
// doesn't enter the approval flow appends one audit record. A
// REQUIRE_APPROVAL verdict appends a REQUEST record before the callback is
// consulted and a second APPROVE/REJECT record once it resolves, so the
// chain preserves both halves of the negotiation (spec.md §7 scenario #1:
// "audit contains two records, REQUEST and REJECT").
func (c *Controller) Evaluate(ctx context.Context, op Operation) (Decision, error) {
	decision, evalErr := c.evaluate(ctx, op)
	return decision, evalErr
}

func (c *Controller) evaluate(ctx context.Context, op Operation) (Decision, error) {
	if err := sanitize(op); err != nil {
		decision := Decision{Verdict: VerdictDeny, Rationale: err.Error()}
		c.audit(op, "DENY", decision)
		return decision, err
	}

	if c.rateRPS > 0 {
		if !c.allow(op.Principal, op.Tool) {
			decision := Decision{Verdict: VerdictDeny, Rationale: "rate limit exceeded"}
			c.audit(op, "DENY", decision)
			return decision, coreerrors.New(coreerrors.KindRateLimited, "safety", "Evaluate", "rate limit exceeded for %s/%s", op.Principal, op.Tool)
		}
	}

	risk, reasons, rationale := c.classify(op)

	verdict, requiredApprovals := c.policyFor(risk)

	if op.PreApproved && verdict != VerdictDeny {
		verdict = VerdictAllow
	}

	decision := Decision{Verdict: verdict, Risk: risk, Reasons: reasons, Rationale: rationale, RequiredApprovals: requiredApprovals}

	if verdict == VerdictDeny {
		c.audit(op, "DENY", decision)
		return decision, coreerrors.New(coreerrors.KindSafetyDenied, "safety", "Evaluate", "denied under %s policy: risk %s — %s", c.level, risk, rationale)
	}
	if verdict != VerdictRequireApproval {
		c.audit(op, string(verdict), decision)
		return decision, nil
	}

	c.audit(op, "REQUEST", decision)

	if c.approve == nil {
		decision.Verdict = VerdictDeny
		decision.Rationale = "approval required but no approval callback is registered"
		c.audit(op, "REJECT", decision)
		return decision, coreerrors.New(coreerrors.KindApprovalRequired, "safety", "Evaluate", "approval required for %s", op.Tool)
	}

	approvers := make(map[string]bool)
	for len(approvers) < requiredApprovals {
		result, err := c.approve(ctx, ApprovalRequest{Operation: op, Risk: risk, Reasons: reasons})
		if err != nil || !result.Approved {
			decision.Verdict = VerdictDeny
			reason := "approval rejected"
			if err != nil {
				reason = "approval timed out or errored: " + err.Error()
			} else if result.Reason != "" {
				reason = result.Reason
			}
			decision.Rationale = reason
			c.audit(op, "REJECT", decision)
			return decision, coreerrors.New(coreerrors.KindApprovalRejected, "safety", "Evaluate", reason)
		}
		approvers[result.Approver] = true
	}

	decision.Verdict = VerdictAllow
	decision.Rationale = "approved by " + fmt.Sprint(len(approvers)) + " approver(s)"
	c.audit(op, "APPROVE", decision)
	return decision, nil
}

// audit appends one record to the log, if one is configured. Append
// errors are logged-and-swallowed: a broken audit sink must never change
// a Safety Controller verdict that's already been decided.
func (c *Controller) audit(op Operation, outcome string, decision Decision) {
	if c.log == nil {
		return
	}
	details := map[string]any{
		"tool":      op.Tool,
		"resource":  op.Resource,
		"risk":      string(decision.Risk),
		"verdict":   string(decision.Verdict),
		"rationale": decision.Rationale,
	}
	_, _ = c.log.Append(op.Principal, "safety.evaluate", op.Resource, outcome, details)
}

func (c *Controller) classify(op Operation) (guard.RiskLevel, []guard.ReasonTag, string) {
	if op.PrecomputedRisk != nil {
		return *op.PrecomputedRisk, nil, "risk tag provided by the caller's tool descriptor"
	}
	if op.Structured != nil {
		return guard.AssignStructuredRisk(*op.Structured)
	}
	if op.SQL != "" {
		return guard.AssignRisk(op.SQL, op.ProductionTagged)
	}
	return guard.RiskSafe, nil, "no query or structured operation to classify"
}

// policyFor applies the configured safety level's threshold table from
// spec.md §4.F step 3.
func (c *Controller) policyFor(risk guard.RiskLevel) (Verdict, int) {
	switch c.level {
	case LevelStrict:
		// LOW+ requires approval; HIGH/CRITICAL still go through the
		// approval callback, but default to DENY whenever no callback is
		// registered, the callback rejects, or it times out — "deny by
		// default unless explicitly approved", never a silent hard-deny
		// that skips the callback entirely.
		if risk.AtLeast(guard.RiskLow) {
			return VerdictRequireApproval, 1
		}
		return VerdictAllow, 0

	case LevelPermissive:
		if risk.AtLeast(guard.RiskHigh) {
			return VerdictRequireApproval, 1
		}
		if risk == guard.RiskMedium {
			return VerdictAllowWithWarning, 0
		}
		return VerdictAllow, 0

	default: // moderate
		if risk == guard.RiskCritical {
			return VerdictRequireApproval, 2
		}
		if risk.AtLeast(guard.RiskMedium) {
			return VerdictRequireApproval, 1
		}
		if risk == guard.RiskLow {
			return VerdictAllowWithWarning, 0
		}
		return VerdictAllow, 0
	}
}

func (c *Controller) allow(principal, tool string) bool {
	key := principal + "|" + tool
	c.mu.Lock()
	limiter, ok := c.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.rateRPS), c.rateBurst)
		c.limiters[key] = limiter
	}
	c.mu.Unlock()
	return limiter.Allow()
}

// sanitize implements spec.md §4.F step 1: path-traversal check, length
// limits, character-class validation for identifiers.
func sanitize(op Operation) error {
	if op.Principal == "" {
		return coreerrors.New(coreerrors.KindInvalidParams, "safety", "sanitize", "principal must not be empty")
	}
	if len(op.Resource) > 512 {
		return coreerrors.New(coreerrors.KindInvalidParams, "safety", "sanitize", "resource identifier exceeds maximum length")
	}
	if strings.Contains(op.Resource, "..") || strings.Contains(op.Resource, "\x00") {
		return coreerrors.New(coreerrors.KindInvalidParams, "safety", "sanitize", "resource identifier contains a path-traversal sequence")
	}
	if op.Tool != "" && !identifierPattern(op.Tool) {
		return coreerrors.New(coreerrors.KindInvalidParams, "safety", "sanitize", "tool name contains disallowed characters")
	}
	return nil
}

func regexpMustCompileIdentifier() func(string) bool {
	allowed := func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '.' || r == '-'
	}
	return func(s string) bool {
		if s == "" {
			return false
		}
		for _, r := range s {
			if !allowed(r) {
				return false
			}
		}
		return true
	}
}
