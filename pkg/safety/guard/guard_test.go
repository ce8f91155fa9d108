package guard_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbcore/agentcore/pkg/safety/guard"
)

func TestClassify_StatementTypes(t *testing.T) {
	cases := map[string]guard.StatementType{
		"SELECT * FROM users WHERE id = $1 LIMIT 10": guard.StatementSelect,
		"INSERT INTO users (name) VALUES ($1)":        guard.StatementInsert,
		"UPDATE users SET name = $1 WHERE id = $2":    guard.StatementUpdate,
		"DELETE FROM users WHERE id = $1":              guard.StatementDelete,
		"DROP TABLE users":                             guard.StatementDDL,
		"TRUNCATE users":                                guard.StatementDDL,
		"GRANT SELECT ON users TO app":                  guard.StatementDCL,
		"BEGIN":                                         guard.StatementTCL,
		"WAT NOT A STATEMENT":                           guard.StatementUnknown,
	}
	for sql, want := range cases {
		got := guard.Classify(sql)
		require.Equal(t, want, got.Statement, "sql=%q", sql)
	}
}

func TestAssignRisk_SafeReadWithLimitAndNoInjection(t *testing.T) {
	level, _, _ := guard.AssignRisk("SELECT * FROM users WHERE id = $1 LIMIT 10", false)
	require.Equal(t, guard.RiskSafe, level)
}

func TestAssignRisk_LowReadWithoutLimit(t *testing.T) {
	level, reasons, _ := guard.AssignRisk("SELECT * FROM users WHERE active = true", false)
	require.Equal(t, guard.RiskLow, level)
	require.Contains(t, reasons, guard.ReasonNoLimit)
}

func TestAssignRisk_MediumGuardedUpdate(t *testing.T) {
	level, _, _ := guard.AssignRisk("UPDATE users SET name = $1 WHERE id = $2", false)
	require.Equal(t, guard.RiskMedium, level)
}

func TestAssignRisk_HighUnguardedDelete(t *testing.T) {
	level, reasons, _ := guard.AssignRisk("DELETE FROM users", false)
	require.Equal(t, guard.RiskHigh, level)
	require.Contains(t, reasons, guard.ReasonUnguardedDelete)
}

func TestAssignRisk_CriticalDropTable(t *testing.T) {
	level, reasons, _ := guard.AssignRisk("DROP TABLE users", false)
	require.Equal(t, guard.RiskCritical, level)
	require.Contains(t, reasons, guard.ReasonDDLDrop)
}

func TestAssignRisk_CriticalDDLAgainstProduction(t *testing.T) {
	level, reasons, _ := guard.AssignRisk("ALTER TABLE accounts ADD COLUMN balance_cents BIGINT", true)
	require.Equal(t, guard.RiskCritical, level)
	require.Contains(t, reasons, guard.ReasonDDLProduction)
}

func TestAssignRisk_CriticalInjectionIndicatorOverridesStatementType(t *testing.T) {
	level, reasons, _ := guard.AssignRisk("SELECT * FROM users WHERE id = 1 OR 1=1 LIMIT 10", false)
	require.Equal(t, guard.RiskCritical, level)
	require.Contains(t, reasons, guard.ReasonInjectionSuspect)
}

func TestAssignRisk_CriticalStackedStatement(t *testing.T) {
	level, _, _ := guard.AssignRisk("SELECT 1; DROP TABLE users;", false)
	require.Equal(t, guard.RiskCritical, level)
}

func TestAssignRisk_CriticalUnionSelectAgainstSensitiveTable(t *testing.T) {
	level, _, _ := guard.AssignRisk("SELECT name FROM products WHERE id = 1 UNION SELECT password FROM users", false)
	require.Equal(t, guard.RiskCritical, level)
}

func TestAssignStructuredRisk_MongoDeleteManyEmptyFilterIsHigh(t *testing.T) {
	level, reasons, _ := guard.AssignStructuredRisk(guard.StructuredOperation{
		Backend: "mongo", Operation: "deleteMany",
	})
	require.Equal(t, guard.RiskHigh, level)
	require.Contains(t, reasons, guard.ReasonWideDelete)
}

func TestAssignStructuredRisk_MongoDropCollectionIsCritical(t *testing.T) {
	level, _, _ := guard.AssignStructuredRisk(guard.StructuredOperation{
		Backend: "mongo", Operation: "dropCollection",
	})
	require.Equal(t, guard.RiskCritical, level)
}

func TestAssignStructuredRisk_MongoDeleteManyWithFilterIsMedium(t *testing.T) {
	level, _, _ := guard.AssignStructuredRisk(guard.StructuredOperation{
		Backend: "mongo", Operation: "deleteMany", Filter: map[string]any{"status": "archived"},
	})
	require.Equal(t, guard.RiskMedium, level)
}

func TestAssignStructuredRisk_CassandraTruncateIsCritical(t *testing.T) {
	level, _, _ := guard.AssignStructuredRisk(guard.StructuredOperation{
		Backend: "cassandra", Operation: "truncate",
	})
	require.Equal(t, guard.RiskCritical, level)
}

func TestRiskLevel_AtLeast(t *testing.T) {
	require.True(t, guard.RiskHigh.AtLeast(guard.RiskLow))
	require.False(t, guard.RiskLow.AtLeast(guard.RiskHigh))
	require.True(t, guard.RiskMedium.AtLeast(guard.RiskMedium))
}
