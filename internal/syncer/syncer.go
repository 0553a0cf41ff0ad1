package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/campuskinect/kinect-go/internal/api"
	"github.com/campuskinect/kinect-go/internal/logger"
)

// Reconciler is the store surface the syncer drives. Both methods are
// idempotent, so a tick and a socket-triggered refresh may interleave freely.
type Reconciler interface {
	SyncConversations(ctx context.Context) (bool, error)
	SyncMessages(ctx context.Context, conversationID string) (bool, error)
}

// Gate reports whether the client currently holds a usable session. Every
// trigger source passes through it, so an unauthenticated client performs
// zero network calls (guest mode, expired session).
type Gate func() bool

const (
	// Default intervals: an open chat refreshes fast, the inbox slower.
	DefaultMessageInterval      = 2 * time.Second
	DefaultConversationInterval = 5 * time.Second
)

// Syncer keeps the conversation list and the open conversation approximately
// fresh. It is a backstop: timers fire at fixed intervals, and push/socket
// events call Notify to run the same reconciliation immediately. Ticks are
// skipped while a fetch of the same resource is in flight, and tick failures
// are logged, never surfaced.
type Syncer struct {
	store Reconciler
	gate  Gate
	log   *logger.Logger

	convInterval time.Duration
	msgInterval  time.Duration

	mu       sync.Mutex
	active   string
	inflight map[string]bool

	kicks chan string
}

// New builds a syncer around the store with the default 2s/5s cadence.
func New(store Reconciler, gate Gate) *Syncer {
	return &Syncer{
		store:        store,
		gate:         gate,
		log:          logger.New("syncer"),
		convInterval: DefaultConversationInterval,
		msgInterval:  DefaultMessageInterval,
		inflight:     make(map[string]bool),
		kicks:        make(chan string, 8),
	}
}

// SetIntervals overrides the tick cadence; tests use short intervals.
func (s *Syncer) SetIntervals(messages, conversations time.Duration) {
	s.msgInterval = messages
	s.convInterval = conversations
}

// SetActive scopes the fast message loop to the conversation that is open
// on screen and refreshes it right away.
func (s *Syncer) SetActive(conversationID string) {
	s.mu.Lock()
	s.active = conversationID
	s.mu.Unlock()
	s.Notify(conversationID)
}

// ClearActive stops the fast loop when the chat view goes away.
func (s *Syncer) ClearActive() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

// Notify triggers an immediate reconciliation for the given conversation,
// the entry point for socket and push events. An empty id refreshes the
// conversation list only.
func (s *Syncer) Notify(conversationID string) {
	select {
	case s.kicks <- conversationID:
	default:
		// A refresh is already queued; the next pass picks up the change.
	}
}

// Run drives the tickers until ctx is cancelled. In-flight fetches share the
// same ctx, so tearing the syncer down cancels them instead of letting them
// write into a discarded store.
func (s *Syncer) Run(ctx context.Context) {
	convTicker := time.NewTicker(s.convInterval)
	defer convTicker.Stop()
	msgTicker := time.NewTicker(s.msgInterval)
	defer msgTicker.Stop()

	s.log.Debug("Sync loop started (messages every %s, conversations every %s)", s.msgInterval, s.convInterval)
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Sync loop stopped: %v", ctx.Err())
			return
		case <-convTicker.C:
			s.refreshConversations(ctx)
		case <-msgTicker.C:
			s.mu.Lock()
			active := s.active
			s.mu.Unlock()
			if active != "" {
				s.refreshMessages(ctx, active)
			}
		case id := <-s.kicks:
			s.refreshConversations(ctx)
			if id != "" {
				s.refreshMessages(ctx, id)
			}
		}
	}
}

func (s *Syncer) refreshConversations(ctx context.Context) {
	s.refresh(ctx, "conversations", func(ctx context.Context) (bool, error) {
		return s.store.SyncConversations(ctx)
	})
}

func (s *Syncer) refreshMessages(ctx context.Context, conversationID string) {
	s.refresh(ctx, "messages:"+conversationID, func(ctx context.Context) (bool, error) {
		return s.store.SyncMessages(ctx, conversationID)
	})
}

// refresh runs one best-effort fetch for a resource, skipping when the same
// resource is already being fetched or the session gate is closed.
func (s *Syncer) refresh(ctx context.Context, key string, fn func(context.Context) (bool, error)) {
	if !s.gate() {
		s.log.Debug("Skipping %s refresh: not authenticated", key)
		return
	}

	s.mu.Lock()
	if s.inflight[key] {
		s.mu.Unlock()
		s.log.Debug("Skipping %s refresh: already in flight", key)
		return
	}
	s.inflight[key] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
		}()

		changed, err := fn(ctx)
		switch {
		case err == nil:
			if changed {
				s.log.Debug("Refresh %s changed", key)
			}
		case api.IsAuth(err):
			// An expired token during a poll is not a session-ending event
			// here; the foreground request path decides about logout.
			s.log.Debug("Refresh %s denied: %v", key, err)
		default:
			s.log.Warn("Refresh %s failed: %v", key, err)
		}
	}()
}
