package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/campuskinect/kinect-go/internal/api"
	"github.com/campuskinect/kinect-go/internal/logger"
	"github.com/campuskinect/kinect-go/internal/models"
)

// API is the slice of the remote client the store depends on.
type API interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, *models.Pagination, error)
	SendMessage(ctx context.Context, conversationID, content string) (*models.Message, error)
	CreateConversation(ctx context.Context, receiverID, initialMessage string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) error
	MessageRequests(ctx context.Context) ([]models.MessageRequest, error)
	RespondToMessageRequest(ctx context.Context, requestID string, accept bool) (*models.Conversation, error)
}

// counterpartWindow bounds how far apart in time a pending message and its
// server-confirmed copy may be and still reconcile to one record.
const counterpartWindow = 10 * time.Second

const defaultPageSize = 50

// Store owns the client's copy of conversations and messages. The remote API
// is the source of truth; the store's job is to converge to it while keeping
// unconfirmed local writes alive. All state lives behind one mutex so readers
// never observe a half-applied mutation.
type Store struct {
	apiClient API
	userID    string
	pageSize  int
	log       *logger.Logger

	mu            sync.Mutex
	conversations []models.Conversation
	requests      []models.MessageRequest
	messages      map[string][]models.Message
	lastErr       error

	updates chan struct{}
}

// New creates a store for the given user. All UI reads go through it.
func New(apiClient API, currentUserID string) *Store {
	return &Store{
		apiClient: apiClient,
		userID:    currentUserID,
		pageSize:  defaultPageSize,
		log:       logger.New("store"),
		messages:  make(map[string][]models.Message),
		updates:   make(chan struct{}, 1),
	}
}

// Updates delivers a coalesced signal whenever store state changes. UIs
// re-render from the accessor snapshots on receipt.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notifyLocked() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Conversations returns a snapshot of the ordered conversation list.
func (s *Store) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// Messages returns a snapshot of a conversation's messages, ascending by
// creation time.
func (s *Store) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// MessageRequests returns a snapshot of the pending first-contact requests.
func (s *Store) MessageRequests() []models.MessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MessageRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// UnreadTotal sums unread counts across all conversations.
func (s *Store) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total
}

// LastError returns the most recent user-facing failure, if any.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ClearError drops the recorded failure once the UI has shown it.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}

// FetchConversations replaces the conversation list from the server. On
// failure the prior list is preserved; stale data beats no data.
func (s *Store) FetchConversations(ctx context.Context) error {
	convs, err := s.apiClient.Conversations(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.notifyLocked()
		return err
	}

	s.conversations = convs
	SortConversations(s.conversations, s.userID)
	s.lastErr = nil
	s.notifyLocked()
	return nil
}

// FetchMessages loads one page of a conversation. Page 1 reconciles the
// server list against local state (keeping unconfirmed sends); later pages
// merge older history in.
func (s *Store) FetchMessages(ctx context.Context, conversationID string, page int) error {
	serverMsgs, _, err := s.apiClient.Messages(ctx, conversationID, page, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.notifyLocked()
		return err
	}

	s.messages[conversationID] = reconcile(s.messages[conversationID], serverMsgs)
	s.lastErr = nil
	s.notifyLocked()
	return nil
}

// SendMessage performs an optimistic send: the message appears in local
// state immediately and is replaced by the server's copy on success or
// removed again on failure.
func (s *Store) SendMessage(ctx context.Context, conversationID, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		// No mutation, no request.
		return models.Message{}, &api.Error{Kind: api.KindValidation, Message: "message is empty"}
	}

	s.mu.Lock()
	pending := models.NewPendingMessage(conversationID, s.userID, content)
	s.messages[conversationID] = append(s.messages[conversationID], pending)

	prior, hadConv := s.conversationByID(conversationID)
	if hadConv {
		s.updateConversationPreview(conversationID, content, s.userID, pending.CreatedAt)
	}
	s.notifyLocked()
	s.mu.Unlock()

	confirmed, err := s.apiClient.SendMessage(ctx, conversationID, content)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Roll back: the list must equal its pre-send state.
		s.removeMessage(conversationID, pending.ID)
		if hadConv {
			s.restoreConversationPreview(prior)
		}
		s.lastErr = err
		s.notifyLocked()
		return models.Message{}, err
	}

	s.removeMessage(conversationID, pending.ID)
	s.messages[conversationID] = reconcile(s.messages[conversationID], []models.Message{*confirmed})
	if hadConv {
		s.updateConversationPreview(conversationID, confirmed.Content, confirmed.SenderID, confirmed.CreatedAt)
	}
	s.lastErr = nil
	s.notifyLocked()
	return *confirmed, nil
}

// CreateConversation starts a conversation and puts it at the head of the
// list. An initial message is already persisted by the server, so no
// optimistic step is needed.
func (s *Store) CreateConversation(ctx context.Context, receiverID, initialMessage string) (models.Conversation, error) {
	conv, err := s.apiClient.CreateConversation(ctx, receiverID, strings.TrimSpace(initialMessage))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.notifyLocked()
		return models.Conversation{}, err
	}

	s.conversations = append([]models.Conversation{*conv}, s.conversations...)
	SortConversations(s.conversations, s.userID)
	s.lastErr = nil
	s.notifyLocked()
	return *conv, nil
}

// MarkAsRead marks the given messages read locally and decrements the
// conversation's unread count, floored at zero. The server call is best
// effort: if it fails, local-only state is an accepted degraded mode.
func (s *Store) MarkAsRead(ctx context.Context, conversationID string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}

	s.mu.Lock()
	ids := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = true
	}

	newlyRead := 0
	seen := make(map[string]bool, len(messageIDs))
	msgs := s.messages[conversationID]
	for i := range msgs {
		if !ids[msgs[i].ID] {
			continue
		}
		seen[msgs[i].ID] = true
		if !msgs[i].IsRead {
			msgs[i].IsRead = true
			newlyRead++
		}
	}
	// Ids we have no local copy of are assumed unread.
	for _, id := range messageIDs {
		if !seen[id] {
			newlyRead++
		}
	}

	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].UnreadCount -= newlyRead
			if s.conversations[i].UnreadCount < 0 {
				s.conversations[i].UnreadCount = 0
			}
			break
		}
	}
	s.notifyLocked()
	s.mu.Unlock()

	if err := s.apiClient.MarkMessagesRead(ctx, conversationID, messageIDs); err != nil {
		s.log.Warn("Mark-read not persisted for conversation %s: %v", conversationID, err)
	}
}

// DeleteConversation removes a conversation after the server confirms the
// deletion. Deletion is irreversible, so there is no optimistic path.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := s.apiClient.DeleteConversation(ctx, conversationID); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.notifyLocked()
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	delete(s.messages, conversationID)
	s.lastErr = nil
	s.notifyLocked()
	return nil
}

// FetchMessageRequests refreshes the pending first-contact requests.
func (s *Store) FetchMessageRequests(ctx context.Context) error {
	reqs, err := s.apiClient.MessageRequests(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.notifyLocked()
		return err
	}
	s.requests = reqs
	s.lastErr = nil
	s.notifyLocked()
	return nil
}

// RespondToRequest accepts or rejects a message request. Accepting moves it
// into the conversation list.
func (s *Store) RespondToRequest(ctx context.Context, requestID string, accept bool) error {
	conv, err := s.apiClient.RespondToMessageRequest(ctx, requestID, accept)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastErr = err
		s.notifyLocked()
		return err
	}

	for i := range s.requests {
		if s.requests[i].ID == requestID {
			s.requests = append(s.requests[:i], s.requests[i+1:]...)
			break
		}
	}
	if accept && conv != nil {
		s.conversations = append([]models.Conversation{*conv}, s.conversations...)
		SortConversations(s.conversations, s.userID)
	}
	s.lastErr = nil
	s.notifyLocked()
	return nil
}

// SyncConversations is the polling variant of FetchConversations: it never
// records a user-facing error and only swaps state when a cheap signal says
// something changed, so idle polls don't cause re-renders.
func (s *Store) SyncConversations(ctx context.Context) (bool, error) {
	convs, err := s.apiClient.Conversations(ctx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conversationsEquivalent(s.conversations, convs) {
		return false, nil
	}
	s.conversations = convs
	SortConversations(s.conversations, s.userID)
	s.notifyLocked()
	return true, nil
}

// SyncMessages is the polling variant of FetchMessages for the open
// conversation: silent on failure, no-op when nothing changed.
func (s *Store) SyncMessages(ctx context.Context, conversationID string) (bool, error) {
	serverMsgs, _, err := s.apiClient.Messages(ctx, conversationID, 1, s.pageSize)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	merged := reconcile(s.messages[conversationID], serverMsgs)
	if messagesEquivalent(s.messages[conversationID], merged) {
		return false, nil
	}
	s.messages[conversationID] = merged
	s.notifyLocked()
	return true, nil
}

// --- internals, caller must hold s.mu ---

// conversationPreview is the rollback snapshot for an optimistic send.
type conversationPreview struct {
	id       string
	last     string
	senderID string
	at       time.Time
}

func (s *Store) conversationByID(id string) (conversationPreview, bool) {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			c := s.conversations[i]
			return conversationPreview{id: c.ID, last: c.LastMessage, senderID: c.LastMessageSenderID, at: c.LastMessageAt}, true
		}
	}
	return conversationPreview{}, false
}

func (s *Store) updateConversationPreview(id, last, senderID string, at time.Time) {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			s.conversations[i].LastMessage = last
			s.conversations[i].LastMessageSenderID = senderID
			s.conversations[i].LastMessageAt = at
			break
		}
	}
	SortConversations(s.conversations, s.userID)
}

func (s *Store) restoreConversationPreview(prior conversationPreview) {
	for i := range s.conversations {
		if s.conversations[i].ID == prior.id {
			s.conversations[i].LastMessage = prior.last
			s.conversations[i].LastMessageSenderID = prior.senderID
			s.conversations[i].LastMessageAt = prior.at
			break
		}
	}
	SortConversations(s.conversations, s.userID)
}

func (s *Store) removeMessage(conversationID, messageID string) {
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			s.messages[conversationID] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
}

// reconcile merges a server-fetched message list into the local one without
// duplicating confirmed messages or losing unconfirmed local writes. A
// pending message is dropped once the server list carries its counterpart
// (same sender and content, created within counterpartWindow). Applying
// reconcile after an optimistic confirm, or the other way round, converges
// to the same list.
func reconcile(local, server []models.Message) []models.Message {
	out := make([]models.Message, 0, len(local)+len(server))
	for _, m := range local {
		if m.Pending() && hasCounterpart(server, m) {
			continue
		}
		out = append(out, m)
	}

	for _, sm := range server {
		if i := indexByID(out, sm.ID); i >= 0 {
			// The server copy is authoritative (read flags may have flipped).
			out[i] = sm
		} else {
			out = append(out, sm)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func hasCounterpart(server []models.Message, pending models.Message) bool {
	for _, sm := range server {
		if sm.SenderID != pending.SenderID || sm.Content != pending.Content {
			continue
		}
		d := sm.CreatedAt.Sub(pending.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d < counterpartWindow {
			return true
		}
	}
	return false
}

func indexByID(msgs []models.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func messagesEquivalent(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].IsRead != b[i].IsRead {
			return false
		}
	}
	return true
}

func conversationsEquivalent(current, fetched []models.Conversation) bool {
	if len(current) != len(fetched) {
		return false
	}
	byID := make(map[string]models.Conversation, len(current))
	for _, c := range current {
		byID[c.ID] = c
	}
	for _, f := range fetched {
		c, ok := byID[f.ID]
		if !ok {
			return false
		}
		if !c.LastMessageAt.Equal(f.LastMessageAt) || c.UnreadCount != f.UnreadCount || c.LastMessage != f.LastMessage {
			return false
		}
	}
	return true
}
