package cursors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 10, 31, 22, 0, 0, 0, time.UTC)

func TestPublishAndSnapshot(t *testing.T) {
	sync := NewSynchronizer()

	require.True(t, sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 10, 20, testStart))
	require.True(t, sync.Publish("session-1", "user-b", "Bram", "#2f4f4f", 30, 40, testStart))

	// user-a never sees their own cursor
	visible := sync.Snapshot("session-1", "user-a", testStart)
	require.Len(t, visible, 1)
	assert.Equal(t, "user-b", visible[0].UserID)
	assert.Equal(t, 30.0, visible[0].X)

	// an observer outside the session sees both
	visible = sync.Snapshot("session-1", "", testStart)
	assert.Len(t, visible, 2)
}

func TestPublishThrottleDropsInsideWindow(t *testing.T) {
	sync := NewSynchronizer()

	require.True(t, sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 1, 1, testStart))

	// 20ms later: inside the 50ms window, dropped not queued
	assert.False(t, sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 2, 2, testStart.Add(20*time.Millisecond)))

	visible := sync.Snapshot("session-1", "", testStart.Add(20*time.Millisecond))
	require.Len(t, visible, 1)
	assert.Equal(t, 1.0, visible[0].X, "dropped update left no trace")

	// past the window the next publish lands
	assert.True(t, sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 3, 3, testStart.Add(60*time.Millisecond)))
}

func TestThrottleIsPerUser(t *testing.T) {
	sync := NewSynchronizer()

	require.True(t, sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 1, 1, testStart))

	// a different user in the same instant is not throttled
	assert.True(t, sync.Publish("session-1", "user-b", "Bram", "#2f4f4f", 2, 2, testStart))
}

func TestSnapshotEvictsStaleCursors(t *testing.T) {
	sync := NewSynchronizer()

	sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 1, 1, testStart)
	sync.Publish("session-1", "user-b", "Bram", "#2f4f4f", 2, 2, testStart.Add(5*time.Second))

	// 29 seconds after user-a's update: still valid
	visible := sync.Snapshot("session-1", "", testStart.Add(29*time.Second))
	assert.Len(t, visible, 2)

	// 31 seconds after user-a's update: evicted at read time
	visible = sync.Snapshot("session-1", "", testStart.Add(31*time.Second))
	require.Len(t, visible, 1)
	assert.Equal(t, "user-b", visible[0].UserID)
}

func TestRemove(t *testing.T) {
	sync := NewSynchronizer()

	sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 1, 1, testStart)
	sync.Remove("session-1", "user-a")

	assert.Empty(t, sync.Snapshot("session-1", "", testStart))

	// removal clears the throttle window too
	assert.True(t, sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 1, 1, testStart.Add(time.Millisecond)))
}

func TestRemoveSession(t *testing.T) {
	sync := NewSynchronizer()

	sync.Publish("session-1", "user-a", "Annabel", "#8b0000", 1, 1, testStart)
	sync.Publish("session-1", "user-b", "Bram", "#2f4f4f", 2, 2, testStart)
	sync.Publish("session-2", "user-c", "Carmilla", "#4b0082", 3, 3, testStart)

	sync.RemoveSession("session-1")

	assert.Empty(t, sync.Snapshot("session-1", "", testStart))
	assert.Len(t, sync.Snapshot("session-2", "", testStart), 1)
}

func TestLerp(t *testing.T) {
	assert.InDelta(t, 25.0, Lerp(0, 100, 0.25), 0.001)
	assert.InDelta(t, 43.75, Lerp(25, 100, 0.25), 0.001)
	assert.InDelta(t, 100.0, Lerp(100, 100, 0.25), 0.001)

	// repeated application converges on the target
	x := 0.0
	for range 50 {
		x = Lerp(x, 100, SmoothingBlend)
	}
	assert.InDelta(t, 100.0, x, 0.01)
}
