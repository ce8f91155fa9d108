package safety_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbcore/agentcore/pkg/audit"
	"github.com/dbcore/agentcore/pkg/safety"
)

func alwaysApprove(approver string) safety.ApprovalCallback {
	return func(ctx context.Context, req safety.ApprovalRequest) (safety.ApprovalResult, error) {
		return safety.ApprovalResult{Approved: true, Approver: approver}, nil
	}
}

func alwaysReject(reason string) safety.ApprovalCallback {
	return func(ctx context.Context, req safety.ApprovalRequest) (safety.ApprovalResult, error) {
		return safety.ApprovalResult{Approved: false, Reason: reason}, nil
	}
}

func TestEvaluate_SafeReadUnderStrictIsAllowed(t *testing.T) {
	c := safety.New(safety.Config{Level: safety.LevelStrict, Audit: audit.NewMemoryLog()})
	d, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_query", Resource: "pg:reporting",
		SQL: "SELECT * FROM orders WHERE id = $1 LIMIT 10",
	})
	require.NoError(t, err)
	require.Equal(t, safety.VerdictAllow, d.Verdict)
}

func TestEvaluate_LowRiskUnderStrictRequiresApproval(t *testing.T) {
	c := safety.New(safety.Config{Level: safety.LevelStrict, Audit: audit.NewMemoryLog(), Approve: alwaysApprove("bob")})
	d, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_query", Resource: "pg:reporting",
		SQL: "SELECT * FROM orders",
	})
	require.NoError(t, err)
	require.Equal(t, safety.VerdictAllow, d.Verdict) // approved, so resolves to ALLOW
}

func TestEvaluate_HighRiskUnderStrictDeniesByDefault(t *testing.T) {
	c := safety.New(safety.Config{Level: safety.LevelStrict, Audit: audit.NewMemoryLog()})
	d, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_query", Resource: "pg:prod",
		SQL: "DELETE FROM orders",
	})
	require.Error(t, err)
	require.Equal(t, safety.VerdictDeny, d.Verdict)
}

func TestEvaluate_DropTableUnderStrictRejectedApprovalDenies(t *testing.T) {
	c := safety.New(safety.Config{Level: safety.LevelStrict, Audit: audit.NewMemoryLog(), Approve: alwaysReject("not today")})
	d, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_ddl", Resource: "pg:prod",
		SQL: "DROP TABLE users",
	})
	require.Error(t, err)
	require.Equal(t, safety.VerdictDeny, d.Verdict)
}

func TestEvaluate_CriticalUnderModerateRequiresTwoApprovers(t *testing.T) {
	approvers := []string{"bob", "carol"}
	i := 0
	cb := func(ctx context.Context, req safety.ApprovalRequest) (safety.ApprovalResult, error) {
		a := approvers[i]
		i++
		return safety.ApprovalResult{Approved: true, Approver: a}, nil
	}
	c := safety.New(safety.Config{Level: safety.LevelModerate, Audit: audit.NewMemoryLog(), Approve: cb})
	d, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_ddl", Resource: "pg:prod",
		SQL: "DROP TABLE users",
	})
	require.NoError(t, err)
	require.Equal(t, safety.VerdictAllow, d.Verdict)
	require.Equal(t, 2, i)
}

func TestEvaluate_PermissiveAllowsMediumRiskWithWarning(t *testing.T) {
	c := safety.New(safety.Config{Level: safety.LevelPermissive, Audit: audit.NewMemoryLog()})
	d, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_query", Resource: "pg:reporting",
		SQL: "UPDATE orders SET status = 'shipped' WHERE id = $1",
	})
	require.NoError(t, err)
	require.Equal(t, safety.VerdictAllowWithWarning, d.Verdict)
}

func TestEvaluate_SanitizeRejectsPathTraversalInResource(t *testing.T) {
	c := safety.New(safety.Config{Level: safety.LevelModerate, Audit: audit.NewMemoryLog()})
	d, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "read_file", Resource: "../../etc/passwd",
	})
	require.Error(t, err)
	require.Equal(t, safety.VerdictDeny, d.Verdict)
}

func TestEvaluate_RateLimitDeniesOverQuota(t *testing.T) {
	c := safety.New(safety.Config{Level: safety.LevelModerate, Audit: audit.NewMemoryLog(), RateLimitPerMin: 1})
	op := safety.Operation{Principal: "alice", Tool: "run_query", Resource: "pg:reporting", SQL: "SELECT 1 LIMIT 1"}

	_, err := c.Evaluate(context.Background(), op)
	require.NoError(t, err)

	_, err = c.Evaluate(context.Background(), op)
	require.Error(t, err)
}

func TestEvaluate_AlwaysAppendsAuditRecordRegardlessOfOutcome(t *testing.T) {
	log := audit.NewMemoryLog()
	c := safety.New(safety.Config{Level: safety.LevelStrict, Audit: log})

	_, _ = c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_query", Resource: "pg:reporting", SQL: "SELECT 1 LIMIT 1",
	})
	require.Equal(t, 1, log.Len())

	_, _ = c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_ddl", Resource: "pg:prod", SQL: "DROP TABLE users",
	})
	require.Equal(t, 3, log.Len()) // the approval round-trip adds a REQUEST and a REJECT record
}

// TestEvaluate_DropTableRejectionLeavesRequestAndRejectAuditPair covers
// spec.md §7 scenario #1: a DROP TABLE under a strict policy with a
// rejecting approver must leave a REQUEST record followed by a REJECT
// record, chained and verifiable, never a single collapsed record.
func TestEvaluate_DropTableRejectionLeavesRequestAndRejectAuditPair(t *testing.T) {
	log := audit.NewMemoryLog()
	c := safety.New(safety.Config{Level: safety.LevelStrict, Audit: log, Approve: alwaysReject("not today")})

	_, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_ddl", Resource: "pg:prod", SQL: "DROP TABLE users",
	})
	require.Error(t, err)

	records := log.Search(audit.Filter{})
	require.Len(t, records, 2)
	require.Equal(t, "REQUEST", records[0].Outcome)
	require.Equal(t, "REJECT", records[1].Outcome)

	verify := log.Verify()
	require.True(t, verify.OK)
}

func TestEvaluate_PreApprovedSkipsApprovalCallback(t *testing.T) {
	c := safety.New(safety.Config{Level: safety.LevelStrict, Audit: audit.NewMemoryLog()})
	d, err := c.Evaluate(context.Background(), safety.Operation{
		Principal: "alice", Tool: "run_query", Resource: "pg:reporting",
		SQL: "SELECT * FROM orders", PreApproved: true,
	})
	require.NoError(t, err)
	require.Equal(t, safety.VerdictAllow, d.Verdict)
}
