package neo4j

import (
	"context"
	"errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

func wrapNeo4jError(err error) *coreerrors.Error {
	if err == nil {
		return nil
	}
	return coreerrors.Wrap(coreerrors.KindQueryFailed, "neo4j", "ExecuteStructured", err).WithRetryable(IsRetryable(err))
}

// IsRetryable delegates to the driver's own transient-classification where
// available (leader switches, deadlocks, service-unavailable) and treats
// context deadlines as retryable; cypher syntax and constraint-violation
// errors are fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var neoErr *db.Neo4jError
	if errors.As(err, &neoErr) {
		return neo4j.IsRetryable(neoErr)
	}
	return neo4j.IsServiceUnavailable(err)
}
