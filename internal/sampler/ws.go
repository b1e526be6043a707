package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/proctord/internal/events"
	"github.com/hireloop/proctord/internal/realtime"
	"github.com/hireloop/proctord/internal/retry"
)

// WSDialer dials the gateway's proctoring WebSocket endpoint.
type WSDialer struct{}

// Dial connects to serverURL (ws:// or wss://), retrying transient
// failures with backoff so a briefly unreachable gateway doesn't abort
// the assessment start.
func (WSDialer) Dial(ctx context.Context, serverURL string) (Conn, error) {
	var conn *websocket.Conn
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial proctoring endpoint: %w", err)
	}
	c := &wsConn{conn: conn, readerDone: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

// wsConn sends batches fire-and-forget over one WebSocket connection.
// A background reader discards acks and pushes — the worker never waits
// on them — and keeps control-frame handling alive so the gateway's
// keepalive pings get answered.
type wsConn struct {
	conn       *websocket.Conn
	readerDone chan struct{}
}

// readLoop drains inbound frames until the connection dies. Pings are
// answered by the default handler, but only while a read is in flight.
func (c *wsConn) readLoop() {
	defer close(c.readerDone)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsConn) SendBatch(ctx context.Context, sessionID string, evs []events.Event) error {
	payload := make([]realtime.EventPayload, 0, len(evs))
	for _, ev := range evs {
		payload = append(payload, realtime.EventPayload{
			Type:      string(ev.Type),
			Timestamp: ev.Timestamp,
			X:         ev.X,
			Y:         ev.Y,
		})
	}

	frame, err := json.Marshal(realtime.BatchMessage{
		Type:      realtime.MsgProctoringBatch,
		SessionID: sessionID,
		Events:    payload,
	})
	if err != nil {
		return err
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	<-c.readerDone
	return err
}
