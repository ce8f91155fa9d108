package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// These tests live in package audit (not audit_test) because exercising
// true tamper detection requires mutating an already-hashed record in
// place, the way an attacker editing the backing store would, which the
// public API deliberately has no method for.

func TestVerify_DetectsTamperedFieldAfterHashing(t *testing.T) {
	l := NewMemoryLog()
	for i := 0; i < 3; i++ {
		_, err := l.Append("alice", "execute", "pg:prod", "ALLOW", nil)
		require.NoError(t, err)
	}

	l.records[1].Outcome = "DENY" // flip a byte in a record whose Hash was already committed

	result := l.Verify()
	require.False(t, result.OK)
	require.Equal(t, 1, result.MismatchIndex)
	require.Contains(t, result.MismatchReason, "content hash")
}

func TestVerify_DetectsBrokenPrevHashLink(t *testing.T) {
	l := NewMemoryLog()
	for i := 0; i < 3; i++ {
		_, err := l.Append("alice", "execute", "pg:prod", "ALLOW", nil)
		require.NoError(t, err)
	}

	l.records[2].PrevHash = "0000000000000000000000000000000000000000000000000000000000000000000000000001"
	l.records[2].Hash = computeHash(l.records[2]) // attacker re-signs after editing, but can't fix the link to [1]

	result := l.Verify()
	require.False(t, result.OK)
	require.Equal(t, 2, result.MismatchIndex)
	require.Contains(t, result.MismatchReason, "prev_hash")
}

func TestVerify_DetectsNonMonotonicSequence(t *testing.T) {
	l := NewMemoryLog()
	for i := 0; i < 3; i++ {
		_, err := l.Append("alice", "execute", "pg:prod", "ALLOW", nil)
		require.NoError(t, err)
	}

	l.records[2].Seq = 99
	l.records[2].PrevHash = l.records[1].Hash
	l.records[2].Hash = computeHash(l.records[2])

	result := l.Verify()
	require.False(t, result.OK)
	require.Equal(t, 2, result.MismatchIndex)
}
