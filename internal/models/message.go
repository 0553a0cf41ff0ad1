package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// localIDPrefix marks message ids generated on this client before the
// server has confirmed the message.
const localIDPrefix = "local-"

// Message represents one chat message. A message created by an optimistic
// send carries a client-generated id until the server-confirmed copy
// replaces it during reconciliation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
	Sender         *User     `json:"sender,omitempty"`
}

// Pending reports whether the message is an optimistic local record that
// the server has not confirmed yet.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, localIDPrefix)
}

// NewPendingMessage builds the optimistic record appended at send time.
func NewPendingMessage(conversationID, senderID, content string) Message {
	return Message{
		ID:             localIDPrefix + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		IsRead:         false,
		CreatedAt:      time.Now(),
	}
}

// SendMessageRequest is the body for posting a message to a conversation.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// Pagination mirrors the pagination block the API attaches to paged lists.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}
