package models

import "time"

// Conversation is a 1:1 messaging thread with one other user. The last-message
// fields are denormalized previews kept in sync by both the fetch and the
// optimistic-send paths; LastMessageSenderID drives the incoming-first
// ordering of the conversation list.
type Conversation struct {
	ID                  string    `json:"id"`
	OtherUser           User      `json:"otherUser"`
	LastMessage         string    `json:"lastMessage"`
	LastMessageSenderID string    `json:"lastMessageSenderId"`
	LastMessageAt       time.Time `json:"lastMessageTime"`
	UnreadCount         int       `json:"unreadCount"`
	CreatedAt           time.Time `json:"createdAt"`
}

// HasUnread reports whether the counterpart has sent messages the current
// user has not read yet.
func (c Conversation) HasUnread() bool {
	return c.UnreadCount > 0
}

// IncomingLast reports whether the most recent message in the conversation
// was sent by someone other than userID. Conversations with no messages
// report false.
func (c Conversation) IncomingLast(userID string) bool {
	return c.LastMessageSenderID != "" && c.LastMessageSenderID != userID
}

// CreateConversationRequest starts a conversation, optionally carrying the
// first message so the server call is atomic.
type CreateConversationRequest struct {
	ReceiverID     string `json:"receiverId"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

// MessageRequest is a first-contact message held until the recipient accepts
// or declines it. Accepting one yields a regular Conversation.
type MessageRequest struct {
	ID        string    `json:"id"`
	FromUser  User      `json:"fromUser"`
	ToUser    User      `json:"toUser"`
	Content   string    `json:"content"`
	PostID    string    `json:"postId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
