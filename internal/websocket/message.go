package websocket

import (
	"encoding/json"
	"time"
)

// builds an outbound message with a marshalled payload
func NewMessage(msgType, sessionID, userID string, payload any) (*Message, error) {
	var raw json.RawMessage

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	return &Message{
		Type:      msgType,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

// decodes the message payload into the given value
func (m *Message) UnmarshalPayload(v any) error {
	if len(m.Payload) == 0 {
		return ErrInvalidMessage
	}

	return json.Unmarshal(m.Payload, v)
}
