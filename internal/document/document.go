package document

import (
	"sync"
	"time"
)

// the debounced value finally written to the channel
type Update struct {
	SessionID  string
	EditorID   string
	EditorName string
	Content    string
}

// receives the collapsed update once the debounce window closes
type FlushFunc func(update Update)

const defaultDelay = 500 * time.Millisecond

// a debounced write channel onto one shared text blob per session, used
// for freeform co-writing. Rapid keystrokes collapse into the last value
// before the channel is actually written (trailing debounce); the final
// value wins. There is deliberately no merge logic: concurrent writers
// overwrite each other in receipt order.
type Channel struct {
	mu      sync.Mutex
	pending map[string]Update
	timers  map[string]*time.Timer
	delay   time.Duration
	flush   FlushFunc
	closed  bool
}

func NewChannel(flush FlushFunc) *Channel {
	return &Channel{
		pending: make(map[string]Update),
		timers:  make(map[string]*time.Timer),
		delay:   defaultDelay,
		flush:   flush,
	}
}

// test constructor with a custom debounce window
func NewChannelWithDelay(flush FlushFunc, delay time.Duration) *Channel {
	c := NewChannel(flush)
	c.delay = delay
	return c
}

// records a local edit. The write is deferred until the debounce window
// closes without another edit; each call replaces the pending value and
// restarts the window.
func (c *Channel) Update(sessionID, editorID, editorName, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.pending[sessionID] = Update{
		SessionID:  sessionID,
		EditorID:   editorID,
		EditorName: editorName,
		Content:    content,
	}

	if timer, ok := c.timers[sessionID]; ok {
		timer.Reset(c.delay)
		return
	}

	c.timers[sessionID] = time.AfterFunc(c.delay, func() {
		c.fire(sessionID)
	})
}

// writes any pending value for the session immediately (used on leave,
// disconnect, and session end so the last keystrokes are not lost)
func (c *Channel) Flush(sessionID string) {
	c.fire(sessionID)
}

// flushes every pending session and stops accepting updates
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true

	sessionIDs := make([]string, 0, len(c.pending))
	for sessionID := range c.pending {
		sessionIDs = append(sessionIDs, sessionID)
	}
	c.mu.Unlock()

	for _, sessionID := range sessionIDs {
		c.fire(sessionID)
	}
}

func (c *Channel) fire(sessionID string) {
	c.mu.Lock()

	update, ok := c.pending[sessionID]
	if ok {
		delete(c.pending, sessionID)
	}

	if timer, exists := c.timers[sessionID]; exists {
		timer.Stop()
		delete(c.timers, sessionID)
	}

	c.mu.Unlock()

	if ok && c.flush != nil {
		c.flush(update)
	}
}
