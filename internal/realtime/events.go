package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/millatvt/millat-backend/internal/domain"
)

const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMessageRead       = "message_read"

	EventUserTyping         = "user_typing"
	EventMessagesRead       = "messages_read"
	EventNewMessage         = "new_message"
	EventNewConversation    = "new_conversation"
	EventConversationJoined = "conversation_joined"
	EventError              = "error"
)

// Frame is the wire shape of every event in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newFrame(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Frame{Event: event, Data: raw}, nil
}

type conversationRef struct {
	ConversationID uint `json:"conversationId"`
}

type messageReadRequest struct {
	ConversationID uint   `json:"conversationId"`
	MessageIDs     []uint `json:"messageIds"`
}

type UserTypingPayload struct {
	ConversationID uint                 `json:"conversationId"`
	UserID         uint                 `json:"userId"`
	UserType       domain.PrincipalKind `json:"userType"`
	IsTyping       bool                 `json:"isTyping"`
}

type MessagesReadPayload struct {
	ConversationID uint                 `json:"conversationId"`
	MessageIDs     []uint               `json:"messageIds"`
	ReadBy         uint                 `json:"readBy"`
	ReadByType     domain.PrincipalKind `json:"readByType"`
	ReadAt         string               `json:"readAt"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func ConversationRoom(id uint) string { return fmt.Sprintf("conversation:%d", id) }

func PersonalRoom(p domain.Principal) string { return p.String() }
