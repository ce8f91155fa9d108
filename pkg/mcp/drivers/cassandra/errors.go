package cassandra

import (
	"context"
	"errors"

	"github.com/gocql/gocql"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

func wrapCassandraError(err error) *coreerrors.Error {
	if err == nil {
		return nil
	}
	return coreerrors.Wrap(coreerrors.KindQueryFailed, "cassandra", "ExecuteStructured", err).WithRetryable(IsRetryable(err))
}

// IsRetryable classifies gocql errors: coordinator-side unavailability,
// timeouts, and request-execution timeouts are transient and worth a
// retry with backoff; syntax, authentication, and configuration errors
// are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.Is(err, gocql.ErrConnectionClosed) || errors.Is(err, gocql.ErrNoConnections) {
		return true
	}

	var unavailable *gocql.RequestErrUnavailable
	if errors.As(err, &unavailable) {
		return true
	}
	var readTimeout *gocql.RequestErrReadTimeout
	if errors.As(err, &readTimeout) {
		return true
	}
	var writeTimeout *gocql.RequestErrWriteTimeout
	if errors.As(err, &writeTimeout) {
		return true
	}

	// Syntax errors, unauthorized, and invalid-keyspace errors are fatal:
	// retrying resends the same broken request.
	return false
}
