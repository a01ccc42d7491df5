package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage    MessageType = "chat_message"
	TypeClearHistory   MessageType = "clear_history"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeHistoryCleared MessageType = "history_cleared"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage asks for one exchange on the connection's session.
type ChatMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
}

type ClearHistory struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

// AssistantReply carries a whole model reply; replies are never streamed.
type AssistantReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id,omitempty"`
	Text      string      `json:"text"`
	Emergency bool        `json:"emergency"`
	Sourced   bool        `json:"sourced"`
}

type HistoryCleared struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, errors.New("invalid chat_message: message is required")
		}
		return msg, nil
	case TypeClearHistory:
		var msg ClearHistory
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the type tag of any protocol message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ChatMessage:
		return m.Type, true
	case ClearHistory:
		return m.Type, true
	case AssistantReply:
		return m.Type, true
	case HistoryCleared:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
