package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/campuskinect/kinect-go/internal/models"
)

// Conversations returns the authenticated user's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var data struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages/conversations", nil, true, &data); err != nil {
		return nil, err
	}
	return data.Conversations, nil
}

// Messages returns one page of a conversation's messages, oldest pages
// carrying the highest page numbers.
func (c *Client) Messages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, *models.Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	path := fmt.Sprintf("/messages/conversations/%s/messages?page=%d&limit=%d",
		url.PathEscape(conversationID), page, limit)

	var data struct {
		Messages   []models.Message   `json:"messages"`
		Pagination *models.Pagination `json:"pagination"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, true, &data); err != nil {
		return nil, nil, err
	}

	// The path parameter is authoritative; some responses omit the field.
	for i := range data.Messages {
		if data.Messages[i].ConversationID == "" {
			data.Messages[i].ConversationID = conversationID
		}
	}
	return data.Messages, data.Pagination, nil
}

// SendMessage posts a message to an existing conversation and returns the
// server-confirmed record.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*models.Message, error) {
	path := "/messages/conversations/" + url.PathEscape(conversationID) + "/messages"

	var data struct {
		Message models.Message `json:"message"`
	}
	req := models.SendMessageRequest{Content: content}
	if err := c.do(ctx, http.MethodPost, path, req, true, &data); err != nil {
		return nil, err
	}
	if data.Message.ConversationID == "" {
		data.Message.ConversationID = conversationID
	}
	return &data.Message, nil
}

// CreateConversation starts a conversation with another user, optionally
// with the first message included so the call is atomic.
func (c *Client) CreateConversation(ctx context.Context, receiverID, initialMessage string) (*models.Conversation, error) {
	var data struct {
		Conversation models.Conversation `json:"conversation"`
	}
	req := models.CreateConversationRequest{ReceiverID: receiverID, InitialMessage: initialMessage}
	if err := c.do(ctx, http.MethodPost, "/messages/conversations", req, true, &data); err != nil {
		return nil, err
	}
	return &data.Conversation, nil
}

// DeleteConversation removes a conversation for both participants.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/messages/conversations/" + url.PathEscape(conversationID)
	return c.do(ctx, http.MethodDelete, path, nil, true, nil)
}

// MarkMessagesRead marks the given messages read on the server.
func (c *Client) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) error {
	path := "/messages/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, map[string][]string{"messageIds": messageIDs}, true, nil)
}

// MessageRequests lists pending first-contact requests addressed to the
// current user.
func (c *Client) MessageRequests(ctx context.Context) ([]models.MessageRequest, error) {
	var data struct {
		Requests []models.MessageRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages/requests", nil, true, &data); err != nil {
		return nil, err
	}
	return data.Requests, nil
}

// CreateMessageRequest sends a first-contact message to a user the sender
// has no conversation with yet. postID ties the request to a listing when
// it started from one.
func (c *Client) CreateMessageRequest(ctx context.Context, toUserID, content, postID string) error {
	body := map[string]string{"toUserId": toUserID, "content": content}
	if postID != "" {
		body["postId"] = postID
	}
	return c.do(ctx, http.MethodPost, "/messages/requests", body, true, nil)
}

// RespondToMessageRequest accepts or rejects a pending request. Accepting
// returns the conversation created from it.
func (c *Client) RespondToMessageRequest(ctx context.Context, requestID string, accept bool) (*models.Conversation, error) {
	action := "rejected"
	if accept {
		action = "accepted"
	}
	path := "/messages/requests/" + url.PathEscape(requestID) + "/respond"

	var data struct {
		Conversation *models.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"action": action}, true, &data); err != nil {
		return nil, err
	}
	return data.Conversation, nil
}
