// Package realtime is the proctoring ingestion gateway: a WebSocket
// channel that accepts event batches, runs them through the risk engine,
// persists them, and pushes warnings back to the candidate.
//
// The gateway is stateless between messages — every batch carries its
// session ID and all durable state lives in the session/batch stores —
// so a reconnecting client just keeps sending. Different sessions'
// connections are processed fully concurrently; within one connection,
// batches are processed strictly in arrival order.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/proctord/internal/events"
	"github.com/hireloop/proctord/internal/idgen"
	"github.com/hireloop/proctord/internal/logging"
	"github.com/hireloop/proctord/internal/metrics"
	"github.com/hireloop/proctord/internal/risk"
	"github.com/hireloop/proctord/internal/session"
	"github.com/hireloop/proctord/internal/traces"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// MaxClients is the maximum number of concurrent proctoring connections.
const MaxClients = 10000

// WarnMessage is the human-readable text sent with proctoring warnings.
const WarnMessage = "Suspicious activity detected. Please stay in fullscreen and avoid switching tabs."

// client is one candidate connection.
type client struct {
	gw   *Gateway
	conn *websocket.Conn
	send chan []byte
}

// Gateway manages all proctoring connections and the ingestion path.
type Gateway struct {
	sessions session.Store
	batches  events.Store
	engine   *risk.Engine
	logger   *slog.Logger

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	now        func() time.Time

	totalBatches atomic.Int64
}

// NewGateway creates the ingestion gateway.
func NewGateway(sessions session.Store, batches events.Store, engine *risk.Engine, logger *slog.Logger) *Gateway {
	return &Gateway{
		sessions:   sessions,
		batches:    batches,
		engine:     engine,
		logger:     logger,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		maxClients: MaxClients,
		now:        time.Now,
	}
}

// Run owns the client registry. It exits when ctx is cancelled, closing
// all connections.
func (g *Gateway) Run(ctx context.Context) {
	g.logger.Info("proctoring gateway started")
	defer close(g.done)

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("proctoring gateway shutting down, closing connections")
			g.mu.Lock()
			for c := range g.clients {
				close(c.send) // writePump sends CloseMessage on closed channel
				delete(g.clients, c)
			}
			g.mu.Unlock()
			metrics.ActiveProctorClients.Set(0)
			g.logger.Info("proctoring gateway stopped")
			return

		case c := <-g.register:
			g.mu.Lock()
			g.clients[c] = true
			n := len(g.clients)
			g.mu.Unlock()
			metrics.ActiveProctorClients.Set(float64(n))
			g.logger.Info("proctoring client connected", "total", n)

		case c := <-g.unregister:
			g.mu.Lock()
			if _, ok := g.clients[c]; ok {
				delete(g.clients, c)
				close(c.send)
			}
			n := len(g.clients)
			g.mu.Unlock()
			metrics.ActiveProctorClients.Set(float64(n))
			g.logger.Info("proctoring client disconnected", "total", n)
		}
	}
}

// HandleWebSocket upgrades HTTP to the proctoring WebSocket channel.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the gateway has stopped to prevent orphaned connections.
	select {
	case <-g.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	g.mu.RLock()
	n := len(g.clients)
	g.mu.RUnlock()
	if n >= g.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		gw:   g,
		conn: conn,
		send: make(chan []byte, 64),
	}

	g.register <- c

	go c.writePump()
	// The request context dies the moment this handler returns, even for
	// hijacked connections; keep its values but not its cancellation.
	go c.readPump(context.WithoutCancel(r.Context()))
}

// ProcessBatch handles one inbound batch message end to end: score it,
// apply session mutations, persist exactly one Batch record, and return
// the ack plus any pushes the connection should deliver.
//
// Failures never propagate across the channel — they come back as a
// failed ack and the connection stays usable for subsequent batches.
func (g *Gateway) ProcessBatch(ctx context.Context, msg *BatchMessage) (ack Ack, pushes [][]byte) {
	ctx = logging.WithSessionID(ctx, msg.SessionID)
	ctx, span := traces.StartSpan(ctx, "gateway.ProcessBatch",
		traces.SessionID(msg.SessionID),
		traces.EventCount(len(msg.Events)),
	)
	defer span.End()

	if msg.SessionID == "" || len(msg.Events) == 0 {
		return Ack{Type: MsgAck, Success: false, Error: "empty batch"}, nil
	}

	evs := make([]events.Event, 0, len(msg.Events))
	for _, p := range msg.Events {
		t := events.Type(p.Type)
		if !t.Valid() {
			return Ack{Type: MsgAck, Success: false, Error: "unknown event type: " + p.Type}, nil
		}
		evs = append(evs, events.Event{Type: t, Timestamp: p.Timestamp, X: p.X, Y: p.Y})
	}

	sess, err := g.sessions.Get(ctx, msg.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			logging.L(ctx).Warn("batch for unknown session")
			return Ack{Type: MsgAck, Success: false, Error: "session not found"}, nil
		}
		logging.L(ctx).Error("session lookup failed", "error", err)
		return Ack{Type: MsgAck, Success: false, Error: "internal error"}, nil
	}

	// The batch is persisted before the engine runs so a failed write
	// can't leave a warning increment or a termination behind with no
	// batch on record. The score is the same pure function either way.
	batch := &events.Batch{
		ID:         idgen.WithPrefix("batch_"),
		SessionID:  msg.SessionID,
		Events:     evs,
		RiskScore:  risk.ScoreBatch(evs),
		ReceivedAt: g.now(),
	}
	if err := g.batches.Record(ctx, batch); err != nil {
		logging.L(ctx).Error("batch persistence failed", "error", err)
		return Ack{Type: MsgAck, Success: false, Error: "persistence failure"}, nil
	}

	verdict, err := g.engine.Evaluate(ctx, sess, evs)
	if err != nil {
		logging.L(ctx).Error("risk evaluation failed", "error", err)
		return Ack{Type: MsgAck, Success: false, Error: "internal error"}, nil
	}

	metrics.BatchesIngestedTotal.Inc()
	metrics.EventsIngestedTotal.Add(float64(len(evs)))
	metrics.BatchRiskScore.Observe(float64(verdict.RiskScore))
	span.SetAttributes(traces.BatchID(batch.ID), traces.RiskScore(verdict.RiskScore))

	// A session that just went (or already was) terminal gets no warning
	// push — sends to ended sessions are harmless no-ops by contract.
	if verdict.ShouldWarn && !verdict.ShouldTerminate && !sess.IsTerminal() {
		if warn, err := json.Marshal(Warning{
			Type:      MsgProctoringWarning,
			Message:   WarnMessage,
			RiskScore: verdict.RiskScore,
		}); err == nil {
			pushes = append(pushes, warn)
			metrics.WarningsPushedTotal.Inc()
		}
	}

	if verdict.ShouldTerminate {
		if term, err := json.Marshal(Terminated{
			Type:   MsgSessionTerminated,
			Reason: risk.TerminationReason,
		}); err == nil {
			pushes = append(pushes, term)
		}
		metrics.TerminationsTotal.Inc()
	}

	g.totalBatches.Add(1)
	return Ack{
		Type:       MsgAck,
		Success:    true,
		EventCount: len(evs),
		RiskScore:  verdict.RiskScore,
	}, pushes
}

// Stats returns gateway statistics.
func (g *Gateway) Stats() map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return map[string]interface{}{
		"connectedClients": len(g.clients),
		"totalBatches":     g.totalBatches.Load(),
	}
}

// readPump reads batch messages from the connection and feeds them to
// ProcessBatch one at a time, preserving arrival order.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		// After Run exits nothing receives on unregister; the shutdown
		// path already closed every client's send channel.
		select {
		case c.gw.unregister <- c:
		case <-c.gw.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.gw.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		var msg BatchMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != MsgProctoringBatch {
			c.trySend(mustMarshal(Ack{Type: MsgAck, Success: false, Error: "malformed message"}))
			continue
		}

		ack, pushes := c.gw.ProcessBatch(ctx, &msg)
		c.trySend(mustMarshal(ack))
		for _, p := range pushes {
			c.trySend(p)
		}
	}
}

// trySend queues a frame without blocking the read loop. A full send
// buffer drops the frame; acks and warnings are advisory, not durable.
func (c *client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.gw.logger.Warn("send buffer full, dropping frame")
	}
}

func mustMarshal(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

// writePump writes queued frames and keepalive pings to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.gw.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.gw.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
