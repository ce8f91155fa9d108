package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "github.com/dbcore/agentcore/internal/errors"
)

func TestIsRetryable_NilIsFalse(t *testing.T) {
	d := &Driver{}
	require.False(t, d.IsRetryable(nil))
}

func TestExecuteStructured_NotConnectedFailsWithConnectionFailed(t *testing.T) {
	d := &Driver{} // not connected; should fail before operation dispatch is reached
	_, err := d.ExecuteStructured(context.Background(), "users", "find", nil)
	kind, ok := coreerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, coreerrors.KindConnectionFailed, kind)
}
