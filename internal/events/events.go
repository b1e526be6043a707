// Package events defines the behavioral event model for proctored sessions.
//
// Clients emit four kinds of signals while a candidate takes an assessment:
// eye gaze samples, tab switches, mouse movement, and fullscreen exits.
// The sampling worker groups them into batches (one per flush cycle), and
// the server persists exactly one Batch record per inbound message.
package events

import (
	"context"
	"time"
)

// Type discriminates behavioral event variants. The constants double as
// wire values in the proctoring-batch message.
type Type string

const (
	TypeEyeGaze        Type = "EYE_GAZE"
	TypeTabSwitch      Type = "TAB_SWITCH"
	TypeMouseMove      Type = "MOUSE_MOVE"
	TypeFullscreenExit Type = "FULLSCREEN_EXIT"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeEyeGaze, TypeTabSwitch, TypeMouseMove, TypeFullscreenExit:
		return true
	}
	return false
}

// Event is a single behavioral signal. Timestamp is milliseconds since
// epoch, assigned by the client. X/Y are screen coordinates and only
// meaningful for EYE_GAZE events.
//
// Timestamps within one batch are non-decreasing in arrival order, but
// nothing guarantees global ordering across batches — consumers must not
// assume it.
type Event struct {
	Type      Type    `json:"type"`
	Timestamp int64   `json:"timestamp"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
}

// Batch is one flush cycle's worth of events for a single session.
// Immutable once recorded. RiskScore is computed at ingestion time on a
// 0-100 scale; ReceivedAt is server receipt time.
type Batch struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Events     []Event   `json:"events"`
	RiskScore  int       `json:"riskScore"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// TabSwitches counts TAB_SWITCH events in the batch.
func (b *Batch) TabSwitches() int {
	return CountType(b.Events, TypeTabSwitch)
}

// FullscreenExits counts FULLSCREEN_EXIT events in the batch.
func (b *Batch) FullscreenExits() int {
	return CountType(b.Events, TypeFullscreenExit)
}

// CountType counts events of the given type in a slice.
func CountType(evs []Event, t Type) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// Store persists event batches. Batches are append-only; there is no
// update or delete.
type Store interface {
	Record(ctx context.Context, batch *Batch) error
	ListBySession(ctx context.Context, sessionID string) ([]*Batch, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
}
