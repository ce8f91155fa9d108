package cassandra

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryable_NilIsFalse(t *testing.T) {
	require.False(t, IsRetryable(nil))
}

func TestIsRetryable_DeadlineExceededIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(context.DeadlineExceeded))
}

func TestIsRetryable_GenericSyntaxErrorIsNotRetryable(t *testing.T) {
	require.False(t, IsRetryable(errors.New("line 1:8 no viable alternative at input 'SELCT'")))
}

func TestExecuteStructured_NotConnectedFailsWithConnectionFailed(t *testing.T) {
	d := &Driver{}
	_, err := d.ExecuteStructured(context.Background(), "users", "select", nil)
	require.Error(t, err)
}
