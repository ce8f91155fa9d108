package postgres

import (
	"errors"
	"net"
	"strings"

	"github.com/lib/pq"
)

// retryablePQCodes are lib/pq SQLSTATE codes this driver treats as
// transient: connection-level failures and serialization/deadlock
// conflicts a retry can plausibly resolve. Constraint violations, syntax
// errors, and auth failures are deliberately excluded — retrying those
// can never succeed.
var retryablePQCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
	"57P03": true, // cannot_connect_now
}

// IsRetryable classifies err per the mapping documented in
// retryablePQCodes, plus generic network-level timeouts/resets that
// surface without a *pq.Error wrapper.
func (d *Driver) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryablePQCodes[string(pqErr.Code)]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "EOF")
}
