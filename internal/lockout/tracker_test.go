package lockout

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(max int, duration time.Duration) *Tracker {
	return NewTracker(Config{MaxFailedAttempts: max, LockoutDuration: duration})
}

func TestTracker_RecordFailure_IncrementsBelowThreshold(t *testing.T) {
	tracker := newTestTracker(5, 15*time.Minute)

	for i := 1; i <= 4; i++ {
		count, lockedUntil := tracker.RecordFailure("user1")
		assert.Equal(t, i, count)
		assert.Nil(t, lockedUntil)
	}
	assert.False(t, tracker.IsLocked("user1"))
}

func TestTracker_RecordFailure_ThresholdTriggersLockout(t *testing.T) {
	tracker := newTestTracker(3, 15*time.Minute)

	tracker.RecordFailure("user1")
	tracker.RecordFailure("user1")
	count, lockedUntil := tracker.RecordFailure("user1")

	assert.Equal(t, 3, count)
	require.NotNil(t, lockedUntil)
	assert.True(t, lockedUntil.After(time.Now()))
	assert.True(t, tracker.IsLocked("user1"))
}

func TestTracker_FailureDuringLockoutDoesNotExtend(t *testing.T) {
	tracker := newTestTracker(1, 15*time.Minute)

	_, first := tracker.RecordFailure("user1")
	require.NotNil(t, first)

	_, second := tracker.RecordFailure("user1")
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
}

func TestTracker_RecordSuccess_ResetsCountAndLock(t *testing.T) {
	tracker := newTestTracker(2, 15*time.Minute)

	tracker.RecordFailure("user1")
	tracker.RecordFailure("user1")
	require.True(t, tracker.IsLocked("user1"))

	tracker.RecordSuccess("user1")

	assert.False(t, tracker.IsLocked("user1"))
	assert.Equal(t, 0, tracker.FailureCount("user1"))
	assert.Nil(t, tracker.RetryAfter("user1"))
}

func TestTracker_LockoutExpires(t *testing.T) {
	tracker := newTestTracker(1, 15*time.Minute)
	current := time.Now()
	tracker.now = func() time.Time { return current }

	_, lockedUntil := tracker.RecordFailure("user1")
	require.NotNil(t, lockedUntil)
	assert.True(t, tracker.IsLocked("user1"))

	current = current.Add(16 * time.Minute)
	assert.False(t, tracker.IsLocked("user1"))
	assert.Nil(t, tracker.RetryAfter("user1"))
}

func TestTracker_UsersAreIndependent(t *testing.T) {
	tracker := newTestTracker(2, 15*time.Minute)

	tracker.RecordFailure("user1")
	tracker.RecordFailure("user1")

	assert.True(t, tracker.IsLocked("user1"))
	assert.False(t, tracker.IsLocked("user2"))
}

// N simultaneous failures must accumulate to exactly N.
func TestTracker_ConcurrentFailures_NoLostUpdates(t *testing.T) {
	const n = 100
	tracker := newTestTracker(n+1, 15*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordFailure("user1")
		}()
	}
	wg.Wait()

	assert.Equal(t, n, tracker.FailureCount("user1"))
}

func TestTracker_ConcurrentFailures_ExactlyOneLockout(t *testing.T) {
	const n = 50
	tracker := newTestTracker(n, 15*time.Minute)

	var wg sync.WaitGroup
	lockouts := make(chan time.Time, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, until := tracker.RecordFailure("user1"); until != nil {
				lockouts <- *until
			}
		}()
	}
	wg.Wait()
	close(lockouts)

	var ends []time.Time
	for end := range lockouts {
		ends = append(ends, end)
	}
	// The threshold-crossing attempt starts the lockout; later concurrent
	// attempts observe it. All reported ends must agree.
	require.NotEmpty(t, ends)
	for _, end := range ends {
		assert.Equal(t, ends[0], end)
	}
	assert.True(t, tracker.IsLocked("user1"))
}

func TestTracker_Sweep(t *testing.T) {
	tracker := newTestTracker(5, 15*time.Minute)

	for i := 0; i < 10; i++ {
		tracker.RecordFailure(fmt.Sprintf("user%d", i))
		tracker.RecordSuccess(fmt.Sprintf("user%d", i))
	}
	tracker.RecordFailure("sticky")

	removed := tracker.Sweep()
	assert.Equal(t, 10, removed)
	assert.Equal(t, 1, tracker.FailureCount("sticky"))
}
