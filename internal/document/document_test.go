package document

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *flushRecorder) record(update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *flushRecorder) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func TestRapidUpdatesCollapseToLastValue(t *testing.T) {
	recorder := &flushRecorder{}
	channel := NewChannelWithDelay(recorder.record, 30*time.Millisecond)

	// simulated keystrokes inside one debounce window
	channel.Update("session-1", "user-a", "Annabel", "T")
	channel.Update("session-1", "user-a", "Annabel", "Th")
	channel.Update("session-1", "user-a", "Annabel", "The raven")

	time.Sleep(80 * time.Millisecond)

	updates := recorder.all()
	require.Len(t, updates, 1, "keystrokes collapse into one write")
	assert.Equal(t, "The raven", updates[0].Content)
	assert.Equal(t, "user-a", updates[0].EditorID)
}

func TestUpdateRestartsWindow(t *testing.T) {
	recorder := &flushRecorder{}
	channel := NewChannelWithDelay(recorder.record, 50*time.Millisecond)

	channel.Update("session-1", "user-a", "Annabel", "one")
	time.Sleep(30 * time.Millisecond)
	channel.Update("session-1", "user-a", "Annabel", "two")
	time.Sleep(30 * time.Millisecond)

	// 60ms elapsed but the window restarted at 30ms: nothing yet
	assert.Empty(t, recorder.all())

	time.Sleep(40 * time.Millisecond)
	updates := recorder.all()
	require.Len(t, updates, 1)
	assert.Equal(t, "two", updates[0].Content)
}

func TestSessionsDebounceIndependently(t *testing.T) {
	recorder := &flushRecorder{}
	channel := NewChannelWithDelay(recorder.record, 30*time.Millisecond)

	channel.Update("session-1", "user-a", "Annabel", "first")
	channel.Update("session-2", "user-b", "Bram", "second")

	time.Sleep(80 * time.Millisecond)

	updates := recorder.all()
	require.Len(t, updates, 2)

	bySession := map[string]string{}
	for _, u := range updates {
		bySession[u.SessionID] = u.Content
	}

	assert.Equal(t, "first", bySession["session-1"])
	assert.Equal(t, "second", bySession["session-2"])
}

func TestFlushWritesImmediately(t *testing.T) {
	recorder := &flushRecorder{}
	channel := NewChannelWithDelay(recorder.record, time.Hour)

	channel.Update("session-1", "user-a", "Annabel", "unsaved")
	channel.Flush("session-1")

	updates := recorder.all()
	require.Len(t, updates, 1)
	assert.Equal(t, "unsaved", updates[0].Content)

	// nothing pending afterwards
	channel.Flush("session-1")
	assert.Len(t, recorder.all(), 1)
}

func TestCloseFlushesAllPending(t *testing.T) {
	recorder := &flushRecorder{}
	channel := NewChannelWithDelay(recorder.record, time.Hour)

	channel.Update("session-1", "user-a", "Annabel", "one")
	channel.Update("session-2", "user-b", "Bram", "two")

	channel.Close()
	assert.Len(t, recorder.all(), 2)

	// updates after close are ignored
	channel.Update("session-3", "user-c", "Carmilla", "three")
	channel.Flush("session-3")
	assert.Len(t, recorder.all(), 2)
}
