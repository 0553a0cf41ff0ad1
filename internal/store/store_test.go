package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campuskinect/kinect-go/internal/api"
	"github.com/campuskinect/kinect-go/internal/models"
)

// MockAPI implements the API interface for testing
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) Conversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Conversation), args.Error(1)
}

func (m *MockAPI) Messages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, *models.Pagination, error) {
	args := m.Called(ctx, conversationID, page, limit)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]models.Message), nil, args.Error(2)
}

func (m *MockAPI) SendMessage(ctx context.Context, conversationID, content string) (*models.Message, error) {
	args := m.Called(ctx, conversationID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockAPI) CreateConversation(ctx context.Context, receiverID, initialMessage string) (*models.Conversation, error) {
	args := m.Called(ctx, receiverID, initialMessage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

func (m *MockAPI) DeleteConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *MockAPI) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) error {
	args := m.Called(ctx, conversationID, messageIDs)
	return args.Error(0)
}

func (m *MockAPI) MessageRequests(ctx context.Context) ([]models.MessageRequest, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MessageRequest), args.Error(1)
}

func (m *MockAPI) RespondToMessageRequest(ctx context.Context, requestID string, accept bool) (*models.Conversation, error) {
	args := m.Called(ctx, requestID, accept)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Conversation), args.Error(1)
}

const (
	testUserID  = "user-1"
	otherUserID = "user-2"
	testConvID  = "conv-1"
)

func newTestStore(t *testing.T) (*Store, *MockAPI) {
	t.Helper()
	mockAPI := new(MockAPI)
	return New(mockAPI, testUserID), mockAPI
}

func serverMessage(id, senderID, content string, at time.Time) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: testConvID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      at,
	}
}

func TestSendMessage(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("successful send replaces the pending message", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		confirmed := serverMessage("42", testUserID, "hello", time.Now())
		mockAPI.On("SendMessage", mock.Anything, testConvID, "hello").Return(&confirmed, nil)

		sent, err := st.SendMessage(context.Background(), testConvID, "hello")
		require.NoError(t, err)
		assert.Equal(t, "42", sent.ID)
		assert.False(t, sent.Pending())

		msgs := st.Messages(testConvID)
		require.Len(t, msgs, 1)
		assert.Equal(t, "42", msgs[0].ID)
		assert.Equal(t, "hello", msgs[0].Content)
		mockAPI.AssertExpectations(t)
	})

	t.Run("send trims surrounding whitespace", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		confirmed := serverMessage("42", testUserID, "hello", time.Now())
		mockAPI.On("SendMessage", mock.Anything, testConvID, "hello").Return(&confirmed, nil)

		_, err := st.SendMessage(context.Background(), testConvID, "  hello  ")
		require.NoError(t, err)
		mockAPI.AssertExpectations(t)
	})

	t.Run("empty content is rejected without a request", func(t *testing.T) {
		st, mockAPI := newTestStore(t)

		_, err := st.SendMessage(context.Background(), testConvID, "   ")
		require.Error(t, err)
		var apiErr *api.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, api.KindValidation, apiErr.Kind)

		assert.Empty(t, st.Messages(testConvID))
		mockAPI.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failed send rolls back to the pre-send state", func(t *testing.T) {
		st, mockAPI := newTestStore(t)

		existing := serverMessage("10", otherUserID, "hi there", base)
		mockAPI.On("Messages", mock.Anything, testConvID, 1, defaultPageSize).
			Return([]models.Message{existing}, nil, nil).Once()
		require.NoError(t, st.FetchMessages(context.Background(), testConvID, 1))
		before := st.Messages(testConvID)

		mockAPI.On("SendMessage", mock.Anything, testConvID, "oops").
			Return(nil, errors.New("network down"))

		_, err := st.SendMessage(context.Background(), testConvID, "oops")
		require.Error(t, err)
		assert.Equal(t, before, st.Messages(testConvID))
		assert.Error(t, st.LastError())
		mockAPI.AssertExpectations(t)
	})

	t.Run("failed send restores the conversation preview", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		mockAPI.On("Conversations", mock.Anything).Return([]models.Conversation{{
			ID:                  testConvID,
			LastMessage:         "earlier",
			LastMessageSenderID: otherUserID,
			LastMessageAt:       base,
		}}, nil).Once()
		require.NoError(t, st.FetchConversations(context.Background()))

		mockAPI.On("SendMessage", mock.Anything, testConvID, "oops").
			Return(nil, errors.New("network down"))
		_, err := st.SendMessage(context.Background(), testConvID, "oops")
		require.Error(t, err)

		convs := st.Conversations()
		require.Len(t, convs, 1)
		assert.Equal(t, "earlier", convs[0].LastMessage)
		assert.Equal(t, otherUserID, convs[0].LastMessageSenderID)
		assert.True(t, base.Equal(convs[0].LastMessageAt))
	})
}

func TestReconcile(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pending message is dropped when the server has its counterpart", func(t *testing.T) {
		pending := models.NewPendingMessage(testConvID, testUserID, "hello")
		confirmed := serverMessage("42", testUserID, "hello", pending.CreatedAt.Add(2*time.Second))

		merged := reconcile([]models.Message{pending}, []models.Message{confirmed})
		require.Len(t, merged, 1)
		assert.Equal(t, "42", merged[0].ID)
	})

	t.Run("pending message survives when no counterpart arrived", func(t *testing.T) {
		pending := models.NewPendingMessage(testConvID, testUserID, "hello")
		other := serverMessage("7", otherUserID, "hello", pending.CreatedAt)

		merged := reconcile([]models.Message{pending}, []models.Message{other})
		require.Len(t, merged, 2)
	})

	t.Run("counterpart outside the time window does not match", func(t *testing.T) {
		pending := models.NewPendingMessage(testConvID, testUserID, "hello")
		far := serverMessage("42", testUserID, "hello", pending.CreatedAt.Add(time.Minute))

		merged := reconcile([]models.Message{pending}, []models.Message{far})
		assert.Len(t, merged, 2)
	})

	t.Run("server copy overwrites the local one by id", func(t *testing.T) {
		local := serverMessage("10", otherUserID, "hi", base)
		server := local
		server.IsRead = true

		merged := reconcile([]models.Message{local}, []models.Message{server})
		require.Len(t, merged, 1)
		assert.True(t, merged[0].IsRead)
	})

	t.Run("result is ascending by creation time", func(t *testing.T) {
		a := serverMessage("1", otherUserID, "first", base)
		b := serverMessage("2", testUserID, "second", base.Add(time.Minute))
		c := serverMessage("3", otherUserID, "third", base.Add(2*time.Minute))

		merged := reconcile([]models.Message{b}, []models.Message{c, a})
		require.Len(t, merged, 3)
		assert.Equal(t, []string{"1", "2", "3"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
	})

	t.Run("reconciling twice with the same server list is a no-op", func(t *testing.T) {
		pending := models.NewPendingMessage(testConvID, testUserID, "hello")
		server := []models.Message{
			serverMessage("1", otherUserID, "hi", base),
			serverMessage("42", testUserID, "hello", pending.CreatedAt),
		}

		once := reconcile([]models.Message{pending}, server)
		twice := reconcile(once, server)
		assert.Equal(t, once, twice)
	})
}

func TestMarkAsRead(t *testing.T) {
	seedConversation := func(t *testing.T, st *Store, mockAPI *MockAPI, unread int, msgs []models.Message) {
		t.Helper()
		mockAPI.On("Conversations", mock.Anything).Return([]models.Conversation{{
			ID:          testConvID,
			UnreadCount: unread,
		}}, nil).Once()
		require.NoError(t, st.FetchConversations(context.Background()))
		if msgs != nil {
			mockAPI.On("Messages", mock.Anything, testConvID, 1, defaultPageSize).
				Return(msgs, nil, nil).Once()
			require.NoError(t, st.FetchMessages(context.Background(), testConvID, 1))
		}
	}

	t.Run("decrements unread count and flips flags", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		seedConversation(t, st, mockAPI, 3, []models.Message{
			serverMessage("1", otherUserID, "a", base),
			serverMessage("2", otherUserID, "b", base.Add(time.Second)),
			serverMessage("3", otherUserID, "c", base.Add(2*time.Second)),
		})
		mockAPI.On("MarkMessagesRead", mock.Anything, testConvID, []string{"1", "2"}).Return(nil)

		st.MarkAsRead(context.Background(), testConvID, []string{"1", "2"})

		assert.Equal(t, 1, st.Conversations()[0].UnreadCount)
		msgs := st.Messages(testConvID)
		assert.True(t, msgs[0].IsRead)
		assert.True(t, msgs[1].IsRead)
		assert.False(t, msgs[2].IsRead)
		mockAPI.AssertExpectations(t)
	})

	t.Run("count never drops below zero", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		seedConversation(t, st, mockAPI, 1, nil)
		mockAPI.On("MarkMessagesRead", mock.Anything, testConvID, mock.Anything).Return(nil)

		st.MarkAsRead(context.Background(), testConvID, []string{"1", "2", "3"})
		assert.Equal(t, 0, st.Conversations()[0].UnreadCount)
	})

	t.Run("already-read messages do not decrement again", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		base := time.Now()
		read := serverMessage("1", otherUserID, "a", base)
		read.IsRead = true
		seedConversation(t, st, mockAPI, 2, []models.Message{read})
		mockAPI.On("MarkMessagesRead", mock.Anything, testConvID, mock.Anything).Return(nil)

		st.MarkAsRead(context.Background(), testConvID, []string{"1"})
		assert.Equal(t, 2, st.Conversations()[0].UnreadCount)
	})

	t.Run("local state survives a failed server call", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		seedConversation(t, st, mockAPI, 2, nil)
		mockAPI.On("MarkMessagesRead", mock.Anything, testConvID, mock.Anything).
			Return(errors.New("server error"))

		st.MarkAsRead(context.Background(), testConvID, []string{"1"})
		assert.Equal(t, 1, st.Conversations()[0].UnreadCount)
		assert.NoError(t, st.LastError())
	})

	t.Run("empty id list is a no-op", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		st.MarkAsRead(context.Background(), testConvID, nil)
		mockAPI.AssertNotCalled(t, "MarkMessagesRead", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDeleteConversation(t *testing.T) {
	t.Run("removes the conversation after the server confirms", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		mockAPI.On("Conversations", mock.Anything).Return([]models.Conversation{
			{ID: testConvID}, {ID: "conv-2"},
		}, nil).Once()
		require.NoError(t, st.FetchConversations(context.Background()))
		mockAPI.On("DeleteConversation", mock.Anything, testConvID).Return(nil)

		require.NoError(t, st.DeleteConversation(context.Background(), testConvID))
		convs := st.Conversations()
		require.Len(t, convs, 1)
		assert.Equal(t, "conv-2", convs[0].ID)
	})

	t.Run("keeps the conversation when the server refuses", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		mockAPI.On("Conversations", mock.Anything).Return([]models.Conversation{{ID: testConvID}}, nil).Once()
		require.NoError(t, st.FetchConversations(context.Background()))
		mockAPI.On("DeleteConversation", mock.Anything, testConvID).Return(errors.New("not yours"))

		require.Error(t, st.DeleteConversation(context.Background(), testConvID))
		assert.Len(t, st.Conversations(), 1)
	})
}

func TestFetchConversations(t *testing.T) {
	t.Run("failure preserves the previous list", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		mockAPI.On("Conversations", mock.Anything).Return([]models.Conversation{{ID: testConvID}}, nil).Once()
		require.NoError(t, st.FetchConversations(context.Background()))

		mockAPI.On("Conversations", mock.Anything).Return(nil, errors.New("timeout")).Once()
		require.Error(t, st.FetchConversations(context.Background()))
		assert.Len(t, st.Conversations(), 1)
		assert.Error(t, st.LastError())
	})
}

func TestSyncConversations(t *testing.T) {
	t.Run("reports no change for an identical list", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		list := []models.Conversation{{ID: testConvID, LastMessage: "hi", UnreadCount: 1}}
		mockAPI.On("Conversations", mock.Anything).Return(list, nil)

		changed, err := st.SyncConversations(context.Background())
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = st.SyncConversations(context.Background())
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("failure is returned without touching state", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		mockAPI.On("Conversations", mock.Anything).Return(nil, errors.New("timeout"))

		changed, err := st.SyncConversations(context.Background())
		require.Error(t, err)
		assert.False(t, changed)
		assert.NoError(t, st.LastError())
	})
}

func TestSyncMessages(t *testing.T) {
	t.Run("keeps a pending send across a poll", func(t *testing.T) {
		st, mockAPI := newTestStore(t)
		sendStarted := make(chan struct{})
		finishSend := make(chan struct{})
		confirmed := serverMessage("42", testUserID, "hello", time.Now())
		mockAPI.On("SendMessage", mock.Anything, testConvID, "hello").
			Run(func(mock.Arguments) {
				close(sendStarted)
				<-finishSend
			}).
			Return(&confirmed, nil)
		mockAPI.On("Messages", mock.Anything, testConvID, 1, defaultPageSize).
			Return([]models.Message{}, nil, nil)

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := st.SendMessage(context.Background(), testConvID, "hello")
			assert.NoError(t, err)
		}()
		<-sendStarted

		// Poll while the send is still in flight: the server does not know
		// the message yet, but the pending copy must survive.
		_, err := st.SyncMessages(context.Background(), testConvID)
		require.NoError(t, err)
		msgs := st.Messages(testConvID)
		require.Len(t, msgs, 1)
		assert.True(t, msgs[0].Pending())

		close(finishSend)
		<-done
		msgs = st.Messages(testConvID)
		require.Len(t, msgs, 1)
		assert.Equal(t, "42", msgs[0].ID)
	})
}

func TestUpdatesChannel(t *testing.T) {
	st, mockAPI := newTestStore(t)
	mockAPI.On("Conversations", mock.Anything).Return([]models.Conversation{}, nil)

	require.NoError(t, st.FetchConversations(context.Background()))
	require.NoError(t, st.FetchConversations(context.Background()))

	// Signals coalesce: two mutations, at least one (and at most two) ticks.
	select {
	case <-st.Updates():
	default:
		t.Fatal("expected an update signal")
	}
}
