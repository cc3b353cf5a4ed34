package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientSendError(t *testing.T) {
	client := &Client{
		ID:          "test-client",
		SessionID:   "test-session",
		UserID:      "user-1",
		DisplayName: "Lenore",
		send:        make(chan []byte, 256),
	}

	// send error
	client.SendError("not_your_turn", "the speaking turn belongs to someone else", "")

	// verify error message was sent
	select {
	case msg := <-client.send:
		assert.Contains(t, string(msg), "not_your_turn")
		assert.Contains(t, string(msg), "the speaking turn belongs to someone else")
		assert.Contains(t, string(msg), "error")
	default:
		t.Error("expected error message to be sent")
	}
}

func TestClientSendMessage(t *testing.T) {
	client := &Client{
		ID:          "test-client",
		SessionID:   "test-session",
		UserID:      "user-1",
		DisplayName: "Lenore",
		send:        make(chan []byte, 256),
	}

	// create test message
	msg, err := NewMessage(TypeChatMessage, "test-session", "user-1", ChatMessagePayload{
		Message:     "did anyone else hear that",
		DisplayName: "Lenore",
	})
	assert.NoError(t, err)

	// send message
	err = client.Send(msg)
	assert.NoError(t, err)

	// verify message was sent
	select {
	case received := <-client.send:
		assert.Contains(t, string(received), "chat_message")
		assert.Contains(t, string(received), "did anyone else hear that")
	default:
		t.Error("expected message to be sent")
	}
}

func TestClientSendMessageToClosedChannel(t *testing.T) {
	client := &Client{
		ID:          "test-client",
		SessionID:   "test-session",
		UserID:      "user-1",
		DisplayName: "Lenore",
		send:        make(chan []byte, 256),
	}

	// close the send channel
	close(client.send)

	msg, err := NewMessage(TypeChatMessage, "test-session", "user-1", ChatMessagePayload{
		Message:     "hello?",
		DisplayName: "Lenore",
	})
	assert.NoError(t, err)

	// sending to closed channel should not panic
	err = client.Send(msg)

	// error is expected when sending to closed channel
	assert.Error(t, err)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := &Client{
		ID:   "test-client",
		send: make(chan []byte, 256),
	}

	client.Close()
	client.Close() // second close must not panic

	assert.True(t, client.IsClosed())
}

func TestMessageUnmarshalPayload(t *testing.T) {
	msg, err := NewMessage(TypeTurnSubmit, "session-1", "user-1", TurnSubmitPayload{
		Content: "The shadows lengthened across the page.",
	})
	assert.NoError(t, err)

	var payload TurnSubmitPayload
	assert.NoError(t, msg.UnmarshalPayload(&payload))
	assert.Equal(t, "The shadows lengthened across the page.", payload.Content)

	// empty payload is rejected
	empty := &Message{Type: TypeTurnSubmit}
	assert.ErrorIs(t, empty.UnmarshalPayload(&payload), ErrInvalidMessage)
}
