// Package guard implements the SQL Guard and Risk Classifier from spec.md
// §4.D: structural statement-type detection, injection-indicator flags,
// and the risk-assignment policy table, generalizing the teacher's
// infrastructure/security pattern-detector style (sensitivePatterns,
// ordered regex scan) from secret-redaction to SQL-shape detection.
package guard

import (
	"regexp"
	"strings"
)

// StatementType is the structural classification of a query's leading verb.
type StatementType string

const (
	StatementSelect  StatementType = "SELECT"
	StatementInsert  StatementType = "INSERT"
	StatementUpdate  StatementType = "UPDATE"
	StatementDelete  StatementType = "DELETE"
	StatementDDL     StatementType = "DDL"
	StatementDCL     StatementType = "DCL"
	StatementTCL     StatementType = "TCL"
	StatementUnknown StatementType = "UNKNOWN"
)

// RiskLevel is the five-level risk scale from spec.md §3's Glossary.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// rank orders RiskLevel for comparisons (e.g. "LOW+").
var rank = map[RiskLevel]int{
	RiskSafe: 0, RiskLow: 1, RiskMedium: 2, RiskHigh: 3, RiskCritical: 4,
}

// AtLeast reports whether r is at least as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool { return rank[r] >= rank[other] }

// ReasonTag names one contributing factor in a Classification's rationale.
type ReasonTag string

const (
	ReasonUnguardedDelete  ReasonTag = "unguarded-delete"
	ReasonUnguardedUpdate  ReasonTag = "unguarded-update"
	ReasonDDLDrop          ReasonTag = "ddl-drop"
	ReasonDDLProduction    ReasonTag = "ddl-production"
	ReasonInjectionSuspect ReasonTag = "injection-suspect"
	ReasonSecretInLiteral  ReasonTag = "secret-in-literal"
	ReasonNoLimit          ReasonTag = "no-limit-broad-scan"
	ReasonWideDelete       ReasonTag = "wide-delete"
	ReasonBulkMutation     ReasonTag = "bulk-mutation"
)

// Classification is the SQL Guard's structural read of one query, before
// risk assignment.
type Classification struct {
	Statement        StatementType
	HasWhereClause   bool
	HasLimit         bool
	InjectionFlags   []ReasonTag
	InjectionSuspect bool
}

var verbPattern = regexp.MustCompile(`(?i)^\s*(\(|--.*\n|\s)*([a-zA-Z]+)`)

var ddlVerbs = map[string]bool{
	"create": true, "alter": true, "drop": true, "truncate": true, "rename": true,
}
var dclVerbs = map[string]bool{"grant": true, "revoke": true}
var tclVerbs = map[string]bool{"begin": true, "commit": true, "rollback": true, "savepoint": true}

// injectionPatterns flag structural shapes associated with SQL injection,
// ordered the way the teacher's sensitivePatterns table orders secret
// detectors: most specific first. These are indicators, never a verdict.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`),
	regexp.MustCompile(`(?i)\bor\s+true\b`),
	regexp.MustCompile(`(?i)\bor\s+'[^']*'\s*=\s*'[^']*'`),
	regexp.MustCompile(`(?i);\s*(drop|delete|update|insert|alter|truncate)\b`), // stacked statements
	regexp.MustCompile(`(--|#)\s*$`),                                      // comment-based truncation
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i)0x[0-9a-f]{6,}`),                              // hex evasion
	regexp.MustCompile(`(?i)\bchar\(\s*\d+(\s*,\s*\d+)*\s*\)`),            // char-code evasion
}

// Classify parses sql at a structural level only: a tokenizer and
// statement-type detector, never a full parser, per spec.md §4.D.
func Classify(sql string) Classification {
	trimmed := strings.TrimSpace(sql)
	verb := leadingVerb(trimmed)

	c := Classification{Statement: statementFor(verb)}
	c.HasWhereClause = containsWord(trimmed, "where")
	c.HasLimit = containsWord(trimmed, "limit")

	for _, pattern := range injectionPatterns {
		if pattern.MatchString(trimmed) {
			c.InjectionFlags = append(c.InjectionFlags, ReasonInjectionSuspect)
			c.InjectionSuspect = true
			break
		}
	}
	return c
}

func leadingVerb(sql string) string {
	m := verbPattern.FindStringSubmatch(sql)
	if len(m) < 3 {
		return ""
	}
	return strings.ToLower(m[2])
}

func statementFor(verb string) StatementType {
	switch verb {
	case "select":
		return StatementSelect
	case "insert":
		return StatementInsert
	case "update":
		return StatementUpdate
	case "delete":
		return StatementDelete
	}
	if ddlVerbs[verb] {
		return StatementDDL
	}
	if dclVerbs[verb] {
		return StatementDCL
	}
	if tclVerbs[verb] {
		return StatementTCL
	}
	return StatementUnknown
}

func containsWord(sql, word string) bool {
	re := regexp.MustCompile(`(?i)\b` + word + `\b`)
	return re.MatchString(sql)
}

func isDropOrTruncate(verb string) bool {
	return verb == "drop" || verb == "truncate"
}

// AssignRisk applies spec.md §4.D's policy table to a Classification. The
// productionTagged flag lets callers fold in backend-level
// context (whether the target resource is tagged production) without the
// guard needing resource metadata of its own.
func AssignRisk(sql string, productionTagged bool) (RiskLevel, []ReasonTag, string) {
	c := Classify(sql)
	verb := leadingVerb(strings.TrimSpace(sql))
	var reasons []ReasonTag

	if c.InjectionSuspect {
		reasons = append(reasons, ReasonInjectionSuspect)
		return RiskCritical, reasons, "query matches a known SQL-injection indicator pattern"
	}

	if c.Statement == StatementDDL {
		if isDropOrTruncate(verb) {
			reasons = append(reasons, ReasonDDLDrop)
			return RiskCritical, reasons, "DDL statement drops or truncates a schema object"
		}
		if productionTagged {
			reasons = append(reasons, ReasonDDLProduction)
			return RiskCritical, reasons, "DDL statement targets a production-tagged resource"
		}
		return RiskHigh, []ReasonTag{ReasonBulkMutation}, "DDL statement against a non-production resource"
	}

	switch c.Statement {
	case StatementDelete:
		if !c.HasWhereClause {
			reasons = append(reasons, ReasonUnguardedDelete, ReasonWideDelete)
			return RiskHigh, reasons, "DELETE without a WHERE clause affects an unbounded row set"
		}
		return RiskMedium, reasons, "DELETE with a guard condition present"

	case StatementUpdate:
		if !c.HasWhereClause {
			reasons = append(reasons, ReasonUnguardedUpdate)
			return RiskHigh, reasons, "UPDATE without a WHERE clause affects an unbounded row set"
		}
		return RiskMedium, reasons, "UPDATE with a guard condition present"

	case StatementInsert:
		return RiskLow, reasons, "well-formed INSERT"

	case StatementSelect:
		if !c.HasLimit {
			reasons = append(reasons, ReasonNoLimit)
			return RiskLow, reasons, "read-only query without a LIMIT on a potentially large scan"
		}
		return RiskSafe, reasons, "read-only query with guard conditions present"

	case StatementDCL, StatementTCL:
		return RiskMedium, reasons, "transaction/permission control statement"

	default:
		return RiskMedium, reasons, "statement type could not be structurally classified"
	}
}

// StructuredOperation describes one call against a non-SQL backend (e.g. a
// document-store deleteMany or dropCollection), for the structured-backend
// rules spec.md §4.D requires be documented explicitly per backend.
type StructuredOperation struct {
	Backend   string // "mongo", "redis", "cassandra", "neo4j"
	Operation string
	Filter    map[string]any // nil/empty filter signals an unbounded operation
}

// AssignStructuredRisk implements the structured-backend risk table: the
// switch below lists, per backend, which operations it rates and with
// what reason.
func AssignStructuredRisk(op StructuredOperation) (RiskLevel, []ReasonTag, string) {
	unbounded := len(op.Filter) == 0

	switch strings.ToLower(op.Backend) {
	case "mongo":
		switch op.Operation {
		case "dropCollection", "dropDatabase":
			return RiskCritical, []ReasonTag{ReasonDDLDrop}, "drops a collection or database"
		case "deleteMany":
			if unbounded {
				return RiskHigh, []ReasonTag{ReasonUnguardedDelete, ReasonWideDelete}, "deleteMany with an empty filter matches every document"
			}
			return RiskMedium, nil, "deleteMany with a filter present"
		case "updateMany":
			if unbounded {
				return RiskHigh, []ReasonTag{ReasonUnguardedUpdate}, "updateMany with an empty filter matches every document"
			}
			return RiskMedium, nil, "updateMany with a filter present"
		}
	case "redis":
		switch op.Operation {
		case "flushall", "flushdb":
			return RiskCritical, []ReasonTag{ReasonDDLDrop}, "flushes an entire keyspace"
		case "del":
			return RiskLow, nil, "single-key delete"
		}
	case "cassandra":
		switch op.Operation {
		case "dropTable", "dropKeyspace":
			return RiskCritical, []ReasonTag{ReasonDDLDrop}, "drops a table or keyspace"
		case "truncate":
			return RiskCritical, []ReasonTag{ReasonDDLDrop}, "truncates a table"
		}
	case "neo4j":
		switch op.Operation {
		case "detachDeleteAll":
			return RiskCritical, []ReasonTag{ReasonWideDelete}, "detach-deletes every node and relationship"
		case "dropIndex", "dropConstraint":
			return RiskHigh, []ReasonTag{ReasonBulkMutation}, "drops a schema index or constraint"
		}
	}
	return RiskMedium, nil, "structured operation not in the documented per-backend rule table"
}
