package playlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRejectsSecondHolder(t *testing.T) {
	l := NewLocker(0)
	require.NoError(t, l.Acquire("party", "conn1"))
	err := l.Acquire("party", "conn2")
	assert.ErrorIs(t, err, ErrAlreadyLocked)
}

func TestAcquireIsIdempotentForSameHolder(t *testing.T) {
	l := NewLocker(0)
	require.NoError(t, l.Acquire("party", "conn1"))
	require.NoError(t, l.Acquire("party", "conn1"))
}

func TestAcquireRejectsSecondLockFromSameHolder(t *testing.T) {
	l := NewLocker(0)
	require.NoError(t, l.Acquire("party", "conn1"))
	err := l.Acquire("other", "conn1")
	assert.ErrorIs(t, err, ErrAlreadyHolding)
}

func TestReleaseFreesTheLock(t *testing.T) {
	l := NewLocker(0)
	require.NoError(t, l.Acquire("party", "conn1"))
	l.Release("party", "conn1")
	require.NoError(t, l.Acquire("party", "conn2"))
}

func TestReleaseAllFreesWhicheverLockIsHeld(t *testing.T) {
	l := NewLocker(0)
	require.NoError(t, l.Acquire("party", "conn1"))
	l.ReleaseAll("conn1")
	require.NoError(t, l.Acquire("party", "conn2"))
}

func TestStaleLockIsReclaimedAfterTimeout(t *testing.T) {
	l := NewLocker(10 * time.Millisecond)
	require.NoError(t, l.Acquire("party", "conn1"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Acquire("party", "conn2"))
	holder, ok := l.HolderOf("party")
	require.True(t, ok)
	assert.Equal(t, "conn2", holder)
}
