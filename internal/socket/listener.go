package socket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campuskinect/kinect-go/internal/logger"
)

// Event types the server pushes.
const (
	EventTypeMessage = "message"
	EventTypeTyping  = "typing"
)

var log = logger.New("socket")

// Event is one server push, mirroring the wire shape of the message
// WebSocket.
type Event struct {
	Type           string    `json:"type"`
	SenderID       string    `json:"sender_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Content        string    `json:"content,omitempty"`
	IsTyping       bool      `json:"is_typing,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// TokenSource supplies the current access token for the handshake.
type TokenSource func() (string, bool)

// Listener keeps a WebSocket subscription to the message push channel and
// hands incoming events to a callback. It is a trigger source, not a data
// source: the callback normally just kicks the syncer, and the regular
// reconciliation path fetches the actual messages.
type Listener struct {
	url       string
	token     TokenSource
	onEvent   func(Event)
	redialGap time.Duration
}

// NewListener creates a listener for the ws endpoint (e.g.
// "wss://api.campuskinect.net/ws"). onEvent runs on the read goroutine and
// must not block.
func NewListener(url string, token TokenSource, onEvent func(Event)) *Listener {
	return &Listener{
		url:       url,
		token:     token,
		onEvent:   onEvent,
		redialGap: 5 * time.Second,
	}
}

// Run dials and reads until ctx is cancelled, redialing after a flat delay
// when the connection drops. Without a usable token it idles instead of
// hammering the server with doomed handshakes.
func (l *Listener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		tok, ok := l.token()
		if !ok {
			log.Debug("No session, postponing socket dial")
			l.sleep(ctx)
			continue
		}

		if err := l.listenOnce(ctx, tok); err != nil && ctx.Err() == nil {
			log.Warn("Socket connection lost: %v", err)
		}
		l.sleep(ctx)
	}
}

func (l *Listener) listenOnce(ctx context.Context, token string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.url+"?token="+token, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Info("Socket connected")

	// Unblock the read loop when the scope goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(64 * 1024)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warn("Discarding malformed socket event: %v", err)
			continue
		}

		switch ev.Type {
		case EventTypeMessage:
			log.Debug("Push event: message from %s", ev.SenderID)
			l.onEvent(ev)
		case EventTypeTyping:
			// Typing indicators are presentation-only; nothing to reconcile.
		default:
			log.Debug("Ignoring socket event type %q", ev.Type)
		}
	}
}

func (l *Listener) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(l.redialGap):
	}
}
