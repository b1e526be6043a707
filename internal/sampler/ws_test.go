package sampler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/proctord/internal/events"
	"github.com/hireloop/proctord/internal/realtime"
)

// The gateway pings idle connections and drops any that never pong.
// Pings are only answered while a read is in flight, so the connection
// must keep a read running even though the worker ignores every
// inbound frame.
func TestWSConn_AnswersKeepalivePings(t *testing.T) {
	var up websocket.Upgrader
	ponged := make(chan struct{}, 1)
	received := make(chan realtime.BatchMessage, 1)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetPongHandler(func(string) error {
			select {
			case ponged <- struct{}{}:
			default:
			}
			return nil
		})
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
		// The pong is only delivered through a read.
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg realtime.BatchMessage
			if json.Unmarshal(raw, &msg) == nil && msg.Type == realtime.MsgProctoringBatch {
				select {
				case received <- msg:
				default:
				}
			}
		}
	}))
	t.Cleanup(ts.Close)

	conn, err := WSDialer{}.Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case <-ponged:
	case <-time.After(2 * time.Second):
		t.Fatal("client never answered the server's ping")
	}

	// Sending still works with the reader running.
	evs := []events.Event{{Type: events.TypeTabSwitch, Timestamp: 42}}
	if err := conn.SendBatch(context.Background(), "sess_0123456789abcdef01234567", evs); err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	select {
	case msg := <-received:
		if msg.SessionID != "sess_0123456789abcdef01234567" || len(msg.Events) != 1 {
			t.Errorf("batch = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the batch")
	}
}

func TestWSConn_CloseReturnsPromptly(t *testing.T) {
	var up websocket.Upgrader
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	conn, err := WSDialer{}.Dial(context.Background(), "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- conn.Close() }()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}
