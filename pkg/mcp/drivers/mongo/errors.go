package mongo

import (
	"errors"

	mongodriver "go.mongodb.org/mongo-driver/mongo"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

func wrapMongoError(err error) error {
	return coreerrors.Wrap(coreerrors.KindQueryFailed, "mongo", "ExecuteStructured", err)
}

// IsRetryable classifies err using the driver's own transient-error
// signal where available, falling back to network timeouts/EOF.
func (d *Driver) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var cmdErr mongodriver.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.HasErrorLabel("RetryableWriteError") || cmdErr.HasErrorLabel("TransientTransactionError")
	}

	return mongodriver.IsNetworkError(err) || mongodriver.IsTimeout(err)
}
