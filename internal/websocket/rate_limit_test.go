package websocket

import (
	"testing"
	"time"
)

// test document update rate limiting (10/second)
func TestDocumentUpdateRateLimit(t *testing.T) {
	client := &Client{
		documentUpdateTimestamps: make([]time.Time, 0, maxDocumentUpdatesPerSecond),
	}

	// first 10 updates should pass
	for i := 0; i < maxDocumentUpdatesPerSecond; i++ {
		if !client.checkDocumentUpdateRateLimit() {
			t.Errorf("Document update %d should have been allowed, but was rate limited", i+1)
		}
	}

	// 11th update should be rate limited
	if client.checkDocumentUpdateRateLimit() {
		t.Error("11th document update should have been rate limited, but was allowed")
	}

	if len(client.documentUpdateTimestamps) != maxDocumentUpdatesPerSecond {
		t.Errorf("Expected %d timestamps, got %d", maxDocumentUpdatesPerSecond, len(client.documentUpdateTimestamps))
	}
}

// test document update rate limit window expiration (1 second window)
func TestDocumentUpdateRateLimitWindowExpiration(t *testing.T) {
	client := &Client{
		documentUpdateTimestamps: make([]time.Time, 0, maxDocumentUpdatesPerSecond),
	}

	// simulate 10 updates from 2 seconds ago (should be expired)
	twoSecondsAgo := time.Now().Add(-2 * time.Second)
	for i := 0; i < maxDocumentUpdatesPerSecond; i++ {
		client.documentUpdateTimestamps = append(client.documentUpdateTimestamps, twoSecondsAgo)
	}

	// next update should pass because old timestamps are expired
	if !client.checkDocumentUpdateRateLimit() {
		t.Error("Document update should have been allowed after old timestamps expired")
	}

	// old timestamps should be cleaned up
	if len(client.documentUpdateTimestamps) != 1 {
		t.Errorf("Expected 1 timestamp after cleanup, got %d", len(client.documentUpdateTimestamps))
	}
}

// test chat message rate limiting (20/minute)
func TestChatRateLimit(t *testing.T) {
	client := &Client{
		chatMessageTimestamps: make([]time.Time, 0, maxChatMessagesPerMinute),
	}

	// first 20 messages should pass
	for i := 0; i < maxChatMessagesPerMinute; i++ {
		if !client.checkChatRateLimit() {
			t.Errorf("Chat message %d should have been allowed, but was rate limited", i+1)
		}
	}

	// 21st message should be rate limited
	if client.checkChatRateLimit() {
		t.Error("21st chat message should have been rate limited, but was allowed")
	}

	if len(client.chatMessageTimestamps) != maxChatMessagesPerMinute {
		t.Errorf("Expected %d timestamps, got %d", maxChatMessagesPerMinute, len(client.chatMessageTimestamps))
	}
}

// test chat rate limit window expiration
func TestChatRateLimitWindowExpiration(t *testing.T) {
	client := &Client{
		chatMessageTimestamps: make([]time.Time, 0, maxChatMessagesPerMinute),
	}

	// simulate 20 messages from 2 minutes ago (should be expired)
	twoMinutesAgo := time.Now().Add(-2 * time.Minute)
	for i := 0; i < maxChatMessagesPerMinute; i++ {
		client.chatMessageTimestamps = append(client.chatMessageTimestamps, twoMinutesAgo)
	}

	// next message should pass because old timestamps are expired
	if !client.checkChatRateLimit() {
		t.Error("Chat message should have been allowed after old timestamps expired")
	}

	// old timestamps should be cleaned up
	if len(client.chatMessageTimestamps) != 1 {
		t.Errorf("Expected 1 timestamp after cleanup, got %d", len(client.chatMessageTimestamps))
	}
}
