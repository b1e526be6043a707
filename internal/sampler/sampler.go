// Package sampler buffers behavioral events client-side and flushes them
// to the ingestion gateway on a fixed cadence.
//
// The worker runs off the interaction path in its own goroutine and
// communicates over channels, mirroring the three-message protocol of
// the original isolated execution context: initialize a session
// connection, track an event, stop. Gaze events are thinned with smart
// sampling; everything else is buffered verbatim because each such event
// is individually consequential.
//
// Delivery is at-most-once by design: a flush clears the buffer whether
// or not the send succeeded, so a disconnect costs at most one flush
// window of events. There is deliberately no retry/resend queue.
package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/hireloop/proctord/internal/events"
)

// Sampling and flush policy.
const (
	// FlushInterval is the cadence of batch sends.
	FlushInterval = 5 * time.Second
	// GazeMinInterval: a gaze point is always recorded if this much time
	// passed since the last recorded one (time trigger).
	GazeMinInterval = 1000 * time.Millisecond
	// GazeMinDelta: a gaze point is recorded immediately if it moved
	// more than this many pixels in x or y (motion trigger).
	GazeMinDelta = 50.0
)

// Conn is one realtime connection to the ingestion gateway.
type Conn interface {
	SendBatch(ctx context.Context, sessionID string, evs []events.Event) error
	Close() error
}

// Dialer establishes gateway connections. Injected so tests (and the
// desktop capture agent) control the transport.
type Dialer interface {
	Dial(ctx context.Context, serverURL string) (Conn, error)
}

type msgKind int

const (
	msgInit msgKind = iota
	msgEvent
	msgStop
)

type message struct {
	kind      msgKind
	sessionID string
	serverURL string
	event     events.Event
}

// Worker is the sampling worker. Create with New, start with Run, then
// feed it through Init/Track/Stop.
type Worker struct {
	dialer Dialer
	logger *slog.Logger

	inbox chan message
	done  chan struct{}

	flushInterval time.Duration
	now           func() time.Time

	// Worker-goroutine state; never touched from outside Run.
	conn         Conn
	sessionID    string
	buffer       []events.Event
	lastGaze     events.Event
	gazeRecorded bool
}

// Option configures the worker.
type Option func(*Worker)

// WithFlushInterval overrides the flush cadence (tests).
func WithFlushInterval(d time.Duration) Option {
	return func(w *Worker) { w.flushInterval = d }
}

// New creates a sampling worker.
func New(dialer Dialer, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		dialer:        dialer,
		logger:        logger,
		inbox:         make(chan message, 256),
		done:          make(chan struct{}),
		flushInterval: FlushInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Init connects to the gateway for the given session, replacing any
// prior connection, and starts the flush cycle.
func (w *Worker) Init(sessionID, serverURL string) {
	w.inbox <- message{kind: msgInit, sessionID: sessionID, serverURL: serverURL}
}

// Track submits one behavioral event for sampling.
func (w *Worker) Track(ev events.Event) {
	select {
	case w.inbox <- message{kind: msgEvent, event: ev}:
	default:
		// Inbox full: drop rather than block the caller. Proctoring is
		// strictly side-channel and must never stall interaction.
	}
}

// Stop disconnects and shuts the worker down. Blocks until Run returns.
func (w *Worker) Stop() {
	w.inbox <- message{kind: msgStop}
	<-w.done
}

// Run is the worker loop. It exits on Stop or context cancellation.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	defer w.disconnect()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.flush(ctx)

		case msg := <-w.inbox:
			switch msg.kind {
			case msgInit:
				w.disconnect()
				w.buffer = nil
				w.gazeRecorded = false
				w.sessionID = msg.sessionID

				conn, err := w.dialer.Dial(ctx, msg.serverURL)
				if err != nil {
					w.logger.Warn("proctoring connection failed", "error", err)
					continue
				}
				w.conn = conn
				ticker.Reset(w.flushInterval)
				w.logger.Info("proctoring session initialized", "session_id", msg.sessionID)

			case msgEvent:
				w.track(msg.event)

			case msgStop:
				return
			}
		}
	}
}

// track applies the smart-sampling rules to one event.
func (w *Worker) track(ev events.Event) {
	if ev.Type != events.TypeEyeGaze {
		// Tab switches, fullscreen exits, and mouse moves are always
		// buffered; no drop policy for these.
		w.buffer = append(w.buffer, ev)
		return
	}

	if w.shouldRecordGaze(ev) {
		w.buffer = append(w.buffer, ev)
		w.lastGaze = ev
		w.gazeRecorded = true
	}
}

// shouldRecordGaze implements the gaze thinning policy: first point ever,
// time trigger, or motion trigger. Bounds bandwidth while guaranteeing at
// least one sample per second and immediate capture of large saccades.
func (w *Worker) shouldRecordGaze(ev events.Event) bool {
	if !w.gazeRecorded {
		return true
	}
	if ev.Timestamp-w.lastGaze.Timestamp > GazeMinInterval.Milliseconds() {
		return true
	}
	dx := ev.X - w.lastGaze.X
	dy := ev.Y - w.lastGaze.Y
	return dx > GazeMinDelta || dx < -GazeMinDelta || dy > GazeMinDelta || dy < -GazeMinDelta
}

// flush sends the buffered events as one batch and clears the buffer
// unconditionally. Empty buffers send nothing. Send failures are logged
// and the events dropped — at most one flush window of data is lost.
func (w *Worker) flush(ctx context.Context) {
	if len(w.buffer) == 0 {
		return
	}

	batch := w.buffer
	w.buffer = nil

	if w.conn == nil {
		w.logger.Debug("no proctoring connection at flush, dropping batch", "events", len(batch))
		return
	}

	if err := w.conn.SendBatch(ctx, w.sessionID, batch); err != nil {
		w.logger.Warn("batch send failed, events dropped",
			"session_id", w.sessionID,
			"events", len(batch),
			"error", err,
		)
	}
}

func (w *Worker) disconnect() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}
