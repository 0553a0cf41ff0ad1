// Package apitest provides an in-memory stand-in for the remote CampusKinect
// REST API, used by tests that need a real HTTP round trip (token refresh,
// error mapping, end-to-end store behavior).
package apitest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/campuskinect/kinect-go/internal/models"
)

// Server is a fake backend with one registered account and an in-memory
// conversation state. Zero values behave; knobs like FailSends flip
// failure modes on.
type Server struct {
	httpSrv *httptest.Server

	mu           sync.Mutex
	user         models.User
	password     string
	jwtKey       []byte
	accessValid  map[string]bool
	refreshValid map[string]bool

	conversations []models.Conversation
	messages      map[string][]models.Message
	requests      []models.MessageRequest
	nextID        int

	// FailSends makes message posts fail with a 500.
	FailSends bool
	// SendCalls counts POSTs to the send-message endpoint.
	SendCalls int
	// ConversationCalls counts GETs of the conversation list.
	ConversationCalls int
}

// New starts the fake server for the given account.
func New(user models.User, password string) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		user:         user,
		password:     password,
		jwtKey:       []byte("apitest-secret"),
		accessValid:  map[string]bool{},
		refreshValid: map[string]bool{},
		messages:     map[string][]models.Message{},
		nextID:       100,
	}

	router := gin.New()
	router.POST("/auth/login", s.handleLogin)
	router.POST("/auth/refresh", s.handleRefresh)
	router.POST("/auth/register", s.handleRegister)
	router.POST("/auth/verify-code", s.handleVerifyCode)
	router.POST("/auth/resend-code", func(c *gin.Context) { ok(c, nil) })

	authed := router.Group("/", s.requireAuth)
	authed.GET("/messages/conversations", s.handleConversations)
	authed.POST("/messages/conversations", s.handleCreateConversation)
	authed.GET("/messages/conversations/:id/messages", s.handleMessages)
	authed.POST("/messages/conversations/:id/messages", s.handleSendMessage)
	authed.POST("/messages/conversations/:id/read", s.handleMarkRead)
	authed.DELETE("/messages/conversations/:id", s.handleDeleteConversation)
	authed.GET("/messages/requests", s.handleRequests)
	authed.POST("/messages/requests", s.handleCreateRequest)
	authed.POST("/messages/requests/:id/respond", s.handleRespondRequest)

	s.httpSrv = httptest.NewServer(router)
	return s
}

// URL is the base URL clients should use.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpSrv.Close()
}

// IssueSession mints a valid token pair, as if the user had just logged in.
func (s *Server) IssueSession() models.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueTokensLocked()
}

// RevokeAccessTokens invalidates every outstanding access token, forcing the
// next authenticated request into the 401-refresh-retry path.
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessValid = map[string]bool{}
}

// RevokeAllTokens ends the session entirely: refresh fails too.
func (s *Server) RevokeAllTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessValid = map[string]bool{}
	s.refreshValid = map[string]bool{}
}

// AddConversation seeds a conversation.
func (s *Server) AddConversation(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append(s.conversations, conv)
}

// AddMessage seeds a message and updates the owning conversation's preview.
func (s *Server) AddMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	s.touchConversationLocked(msg)
}

// AddRequest seeds a pending message request.
func (s *Server) AddRequest(req models.MessageRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
}

func (s *Server) issueTokensLocked() models.TokenPair {
	claims := jwt.MapClaims{
		"user_id":  s.user.ID,
		"username": s.user.Username,
		"exp":      time.Now().Add(time.Hour).Unix(),
		"iat":      time.Now().Unix(),
		// Unique per issuance: iat/exp have second granularity, so without
		// this a refresh in the same second as login would mint a
		// byte-identical token and corrupt the per-token validity maps.
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	access, err := token.SignedString(s.jwtKey)
	if err != nil {
		panic(err)
	}
	refresh := uuid.NewString()
	s.accessValid[access] = true
	s.refreshValid[refresh] = true
	return models.TokenPair{AccessToken: access, RefreshToken: refresh}
}

func (s *Server) nextIDLocked() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

func (s *Server) touchConversationLocked(msg models.Message) {
	for i := range s.conversations {
		if s.conversations[i].ID == msg.ConversationID {
			s.conversations[i].LastMessage = msg.Content
			s.conversations[i].LastMessageSenderID = msg.SenderID
			s.conversations[i].LastMessageAt = msg.CreatedAt
			if msg.SenderID != s.user.ID {
				s.conversations[i].UnreadCount++
			}
			return
		}
	}
}

// --- handlers ---

func ok(c *gin.Context, data gin.H) {
	body := gin.H{"success": true}
	if data != nil {
		body["data"] = data
	}
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func (s *Server) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		fail(c, http.StatusUnauthorized, "Authorization header required")
		c.Abort()
		return
	}
	token := strings.TrimPrefix(header, "Bearer ")

	s.mu.Lock()
	valid := s.accessValid[token]
	s.mu.Unlock()
	if !valid {
		fail(c, http.StatusUnauthorized, "Invalid or expired token")
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) handleLogin(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	matches := req.UsernameOrEmail == s.user.Username || req.UsernameOrEmail == s.user.Email
	if !matches || req.Password != s.password {
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	ok(c, gin.H{"user": s.user, "tokens": s.issueTokensLocked()})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.refreshValid[req.RefreshToken] {
		fail(c, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	delete(s.refreshValid, req.RefreshToken)
	ok(c, gin.H{"tokens": s.issueTokensLocked()})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, "Missing registration fields")
		return
	}
	ok(c, gin.H{"registrationId": uuid.NewString()})
}

func (s *Server) handleVerifyCode(c *gin.Context) {
	var req models.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Code != "123456" {
		fail(c, http.StatusBadRequest, "Invalid verification code")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ok(c, gin.H{"user": s.user, "tokens": s.issueTokensLocked()})
}

func (s *Server) handleConversations(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConversationCalls++
	convs := make([]models.Conversation, len(s.conversations))
	copy(convs, s.conversations)
	ok(c, gin.H{"conversations": convs})
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	var req models.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ReceiverID == "" {
		fail(c, http.StatusBadRequest, "receiverId is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv := models.Conversation{
		ID:        s.nextIDLocked(),
		OtherUser: models.User{ID: req.ReceiverID, Username: "user-" + req.ReceiverID},
		CreatedAt: time.Now(),
	}
	s.conversations = append(s.conversations, conv)
	if req.InitialMessage != "" {
		msg := models.Message{
			ID:             s.nextIDLocked(),
			ConversationID: conv.ID,
			SenderID:       s.user.ID,
			Content:        req.InitialMessage,
			CreatedAt:      time.Now(),
		}
		s.messages[conv.ID] = append(s.messages[conv.ID], msg)
		s.touchConversationLocked(msg)
		conv = s.conversations[len(s.conversations)-1]
	}
	ok(c, gin.H{"conversation": conv})
}

func (s *Server) handleMessages(c *gin.Context) {
	convID := c.Param("id")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[convID]

	// Page 1 is the newest slice of history.
	end := len(all) - (page-1)*limit
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	pageMsgs := make([]models.Message, end-start)
	copy(pageMsgs, all[start:end])

	ok(c, gin.H{
		"messages": pageMsgs,
		"pagination": models.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      len(all),
			TotalPages: (len(all) + limit - 1) / limit,
		},
	})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	s.mu.Lock()
	s.SendCalls++
	failNow := s.FailSends
	s.mu.Unlock()
	if failNow {
		fail(c, http.StatusInternalServerError, "Message delivery failed")
		return
	}

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		fail(c, http.StatusBadRequest, "content is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg := models.Message{
		ID:             s.nextIDLocked(),
		ConversationID: c.Param("id"),
		SenderID:       s.user.ID,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	s.touchConversationLocked(msg)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{"message": msg}})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	convID := c.Param("id")
	marked := 0
	for i := range s.messages[convID] {
		for _, id := range req.MessageIDs {
			if s.messages[convID][i].ID == id && !s.messages[convID][i].IsRead {
				s.messages[convID][i].IsRead = true
				marked++
			}
		}
	}
	for i := range s.conversations {
		if s.conversations[i].ID == convID {
			s.conversations[i].UnreadCount -= marked
			if s.conversations[i].UnreadCount < 0 {
				s.conversations[i].UnreadCount = 0
			}
		}
	}
	ok(c, nil)
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convID := c.Param("id")
	for i := range s.conversations {
		if s.conversations[i].ID == convID {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			delete(s.messages, convID)
			ok(c, nil)
			return
		}
	}
	fail(c, http.StatusNotFound, "Conversation not found")
}

func (s *Server) handleRequests(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := make([]models.MessageRequest, len(s.requests))
	copy(reqs, s.requests)
	ok(c, gin.H{"requests": reqs})
}

func (s *Server) handleCreateRequest(c *gin.Context) {
	var req struct {
		ToUserID string `json:"toUserId"`
		Content  string `json:"content"`
		PostID   string `json:"postId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ToUserID == "" || req.Content == "" {
		fail(c, http.StatusBadRequest, "toUserId and content are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, models.MessageRequest{
		ID:        s.nextIDLocked(),
		FromUser:  s.user,
		ToUser:    models.User{ID: req.ToUserID},
		Content:   req.Content,
		PostID:    req.PostID,
		CreatedAt: time.Now(),
	})
	ok(c, nil)
}

func (s *Server) handleRespondRequest(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	reqID := c.Param("id")
	for i := range s.requests {
		if s.requests[i].ID != reqID {
			continue
		}
		request := s.requests[i]
		s.requests = append(s.requests[:i], s.requests[i+1:]...)

		if req.Action != "accepted" {
			ok(c, nil)
			return
		}
		conv := models.Conversation{
			ID:                  s.nextIDLocked(),
			OtherUser:           request.FromUser,
			LastMessage:         request.Content,
			LastMessageSenderID: request.FromUser.ID,
			LastMessageAt:       request.CreatedAt,
			UnreadCount:         1,
			CreatedAt:           time.Now(),
		}
		s.conversations = append(s.conversations, conv)
		s.messages[conv.ID] = []models.Message{{
			ID:             s.nextIDLocked(),
			ConversationID: conv.ID,
			SenderID:       request.FromUser.ID,
			Content:        request.Content,
			CreatedAt:      request.CreatedAt,
		}}
		ok(c, gin.H{"conversation": conv})
		return
	}
	fail(c, http.StatusNotFound, "Request not found")
}
