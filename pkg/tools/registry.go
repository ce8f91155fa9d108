// Package tools implements the Tool Registry from spec.md §4.G: register
// and invoke named, schema-validated, capability-gated, safety-consulted
// operations the Agent Framework composes into plans.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
	"github.com/dbcore/agentcore/pkg/audit"
	"github.com/dbcore/agentcore/pkg/safety"
	"github.com/dbcore/agentcore/pkg/safety/guard"
	"github.com/dbcore/agentcore/pkg/tools/schema"
)

// Category groups descriptors for LLM-facing presentation.
type Category string

const (
	CategoryDatabase    Category = "database"
	CategoryFilesystem  Category = "filesystem"
	CategoryNetwork     Category = "network"
	CategoryAnalysis    Category = "analysis"
	CategoryBackup      Category = "backup"
	CategoryMigration   Category = "migration"
	CategoryOptimization Category = "optimization"
	CategorySafety      Category = "safety"
)

// Descriptor is the immutable-after-registration description of one tool,
// matching spec.md §3's Glossary entry exactly.
type Descriptor struct {
	Name         string
	Description  string
	Category     Category
	RiskTag      guard.RiskLevel
	Parameters   schema.Schema
	Returns      schema.Schema
	Capabilities []string
	RateLimitPerMin int
}

// Impl is the registered implementation backing a Descriptor.
type Impl func(ctx context.Context, params map[string]any) (map[string]any, error)

// CallContext carries the caller's identity and grants for one Invoke.
type CallContext struct {
	Principal    string
	Capabilities []string
	Timeout      time.Duration
}

type registration struct {
	descriptor Descriptor
	impl       Impl
	limiter    *rate.Limiter
}

// Registry holds every registered tool. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registration

	safetyController *safety.Controller
	auditLog         *audit.Log
}

// New builds an empty Registry. safetyController and auditLog may be nil
// for tests that don't exercise those steps.
func New(safetyController *safety.Controller, auditLog *audit.Log) *Registry {
	return &Registry{
		tools:            make(map[string]*registration),
		safetyController: safetyController,
		auditLog:         auditLog,
	}
}

// Register checks that descriptor.Name is non-empty and not yet registered
// and that impl is non-nil, then stores impl under descriptor.Name. The
// descriptor's schemas are stored as given; Register does not check them.
func (r *Registry) Register(descriptor Descriptor, impl Impl) error {
	if descriptor.Name == "" {
		return coreerrors.New(coreerrors.KindInvalidParams, "tools", "Register", "descriptor name must not be empty")
	}
	if impl == nil {
		return coreerrors.New(coreerrors.KindInvalidParams, "tools", "Register", "implementation must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[descriptor.Name]; exists {
		return coreerrors.New(coreerrors.KindAlreadyExists, "tools", "Register", "tool %q is already registered", descriptor.Name)
	}

	var limiter *rate.Limiter
	if descriptor.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(descriptor.RateLimitPerMin)/60.0), descriptor.RateLimitPerMin)
	}

	r.tools[descriptor.Name] = &registration{descriptor: descriptor, impl: impl, limiter: limiter}
	return nil
}

// Unregister removes name. Idempotent: unregistering an unknown name is
// not an error.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Descriptor returns the registered Descriptor for name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Descriptor{}, false
	}
	return reg.descriptor, true
}

// Summary is the LLM-friendly descriptor view the Agent planner consumes.
type Summary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Risk        string   `json:"risk"`
	Capabilities []string `json:"capabilities_required"`
}

// Summaries returns one Summary per registered tool whose capability set
// is fully covered by granted, filtered the way the Agent planner needs
// per spec.md §4.H's "tool summaries (filtered by granted capabilities)".
func (r *Registry) Summaries(granted []string) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grantedSet := make(map[string]bool, len(granted))
	for _, g := range granted {
		grantedSet[g] = true
	}

	out := make([]Summary, 0, len(r.tools))
	for _, reg := range r.tools {
		if !coveredBy(reg.descriptor.Capabilities, grantedSet) {
			continue
		}
		out = append(out, Summary{
			Name:         reg.descriptor.Name,
			Description:  reg.descriptor.Description,
			Category:     string(reg.descriptor.Category),
			Risk:         string(reg.descriptor.RiskTag),
			Capabilities: reg.descriptor.Capabilities,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func coveredBy(required []string, granted map[string]bool) bool {
	for _, cap := range required {
		if !granted[cap] {
			return false
		}
	}
	return true
}

// Invoke runs the 8-step pipeline from spec.md §4.G.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any, callCtx CallContext) (map[string]any, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, coreerrors.New(coreerrors.KindNotFound, "tools", "Invoke", "tool %q is not registered", name)
	}

	if err := reg.descriptor.Parameters.Validate(params); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindInvalidParams, "tools", "Invoke", err)
	}

	if !coveredBy(reg.descriptor.Capabilities, toSet(callCtx.Capabilities)) {
		return nil, coreerrors.New(coreerrors.KindCapabilityDenied, "tools", "Invoke", "caller lacks a capability required by %q", name)
	}

	if reg.limiter != nil && !reg.limiter.Allow() {
		return nil, coreerrors.New(coreerrors.KindRateLimited, "tools", "Invoke", "rate limit exceeded for %q", name)
	}

	if r.safetyController != nil {
		risk := reg.descriptor.RiskTag
		decision, err := r.safetyController.Evaluate(ctx, safety.Operation{
			Principal:       callCtx.Principal,
			Tool:            name,
			Resource:        name,
			PrecomputedRisk: &risk,
		})
		if err != nil {
			return nil, err
		}
		if decision.Verdict == safety.VerdictDeny {
			return nil, coreerrors.New(coreerrors.KindSafetyDenied, "tools", "Invoke", "safety controller denied %q: %s", name, decision.Rationale)
		}
	}

	result, invokeErr := r.invokeWithTimeout(ctx, reg.impl, params, callCtx.Timeout)

	if invokeErr == nil {
		if verr := reg.descriptor.Returns.Validate(result); verr != nil {
			invokeErr = coreerrors.Wrap(coreerrors.KindInvalidReturn, "tools", "Invoke", verr)
		}
	}

	if r.auditLog != nil {
		outcome := "SUCCESS"
		if invokeErr != nil {
			outcome = "FAILURE"
		}
		_, _ = r.auditLog.Append(callCtx.Principal, "tool.invoke", name, outcome, map[string]any{
			"params_hash": hashParams(params),
		})
	}

	return result, invokeErr
}

func (r *Registry) invokeWithTimeout(ctx context.Context, impl Impl, params map[string]any, timeout time.Duration) (result map[string]any, err error) {
	if timeout <= 0 {
		return r.runCapturingPanic(ctx, impl, params)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, e := r.runCapturingPanic(timeoutCtx, impl, params)
		done <- outcome{res, e}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-timeoutCtx.Done():
		return nil, coreerrors.New(coreerrors.KindTimeout, "tools", "Invoke", "tool invocation exceeded its timeout")
	}
}

func (r *Registry) runCapturingPanic(ctx context.Context, impl Impl, params map[string]any) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = coreerrors.New(coreerrors.KindInvariantViolated, "tools", "Invoke", "tool implementation panicked: %v", rec)
		}
	}()
	return impl(ctx, params)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// hashParams computes a stable digest of params for audit records, so the
// Audit Log never stores raw parameter values (which may contain secrets)
// per spec.md §4.G step 8. encoding/json sorts map keys when marshaling,
// so the digest is stable across calls regardless of map iteration order.
func hashParams(params map[string]any) string {
	b, _ := json.Marshal(params)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
