package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer is a ws endpoint that upgrades and writes the given frames.
func pushServer(t *testing.T, wantToken string, frames []string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != wantToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, frame := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func staticToken(tok string) TokenSource {
	return func() (string, bool) { return tok, true }
}

func TestListenerDeliversMessageEvents(t *testing.T) {
	url := pushServer(t, "tok-1", []string{
		`{"type":"message","sender_id":"user-2","conversation_id":"conv-1","content":"hey"}`,
		`{"type":"typing","sender_id":"user-2","is_typing":true}`,
		`{"type":"presence"}`,
		`not json`,
		`{"type":"message","sender_id":"user-3","conversation_id":"conv-2"}`,
	})

	events := make(chan Event, 8)
	l := NewListener(url, staticToken("tok-1"), func(ev Event) { events <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []Event
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out with %d events", len(got))
		}
	}

	// Only message events reach the callback.
	assert.Equal(t, "conv-1", got[0].ConversationID)
	assert.Equal(t, "user-2", got[0].SenderID)
	assert.Equal(t, "conv-2", got[1].ConversationID)
}

func TestListenerRedialsAfterDisconnect(t *testing.T) {
	// Each accepted connection delivers one frame and then drops, so every
	// received event corresponds to a fresh dial.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		frame := `{"type":"message","sender_id":"user-2","conversation_id":"conv-1"}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	events := make(chan Event, 8)
	l := NewListener(url, staticToken("tok-1"), func(ev Event) { events <- ev })
	l.redialGap = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case <-events:
		case <-time.After(2 * time.Second):
			t.Fatalf("no event after %d dials", i)
		}
	}
}

func TestListenerIdlesWithoutToken(t *testing.T) {
	dials := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials++
	}))
	defer srv.Close()

	l := NewListener("ws"+strings.TrimPrefix(srv.URL, "http"), func() (string, bool) {
		return "", false
	}, func(Event) {})
	l.redialGap = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	assert.Zero(t, dials)
}
