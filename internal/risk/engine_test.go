package risk

import (
	"context"
	"testing"
	"time"

	"github.com/hireloop/proctord/internal/events"
	"github.com/hireloop/proctord/internal/session"
)

func batchOf(fullscreenExits, tabSwitches int) []events.Event {
	var evs []events.Event
	for i := 0; i < fullscreenExits; i++ {
		evs = append(evs, events.Event{Type: events.TypeFullscreenExit, Timestamp: int64(i)})
	}
	for i := 0; i < tabSwitches; i++ {
		evs = append(evs, events.Event{Type: events.TypeTabSwitch, Timestamp: int64(i)})
	}
	return evs
}

func TestScoreBatch(t *testing.T) {
	tests := []struct {
		name            string
		fullscreenExits int
		tabSwitches     int
		want            int
	}{
		{"empty batch", 0, 0, 0},
		{"single tab switch", 0, 1, 10},
		{"single fullscreen exit", 1, 0, 30},
		{"mixed", 2, 1, 70},
		{"exactly at cap", 2, 4, 100},
		{"capped at 100", 4, 5, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreBatch(batchOf(tt.fullscreenExits, tt.tabSwitches))
			if got != tt.want {
				t.Errorf("ScoreBatch(%d exits, %d switches) = %d, want %d",
					tt.fullscreenExits, tt.tabSwitches, got, tt.want)
			}
		})
	}
}

func TestScoreBatch_IgnoresNeutralEvents(t *testing.T) {
	evs := []events.Event{
		{Type: events.TypeEyeGaze, Timestamp: 1, X: 100, Y: 100},
		{Type: events.TypeMouseMove, Timestamp: 2, X: 200, Y: 200},
		{Type: events.TypeTabSwitch, Timestamp: 3},
	}
	if got := ScoreBatch(evs); got != 10 {
		t.Errorf("ScoreBatch = %d, want 10 (gaze and mouse events are neutral)", got)
	}
}

func newTestEngine(t *testing.T) (*Engine, *session.MemoryStore, *session.Session) {
	t.Helper()

	store := session.NewMemoryStore()
	ctx := context.Background()

	app := &session.Application{ID: "app_0123456789abcdef01234567", Status: session.ApplicationPending}
	if err := store.CreateApplication(ctx, app); err != nil {
		t.Fatalf("create application: %v", err)
	}

	sess := &session.Session{
		ID:            "sess_0123456789abcdef01234567",
		ApplicationID: app.ID,
		Status:        session.StatusInProgress,
		StartTime:     time.Now(),
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	e := NewEngine(store)
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e, store, sess
}

func TestEvaluate_WarnThresholdIsStrict(t *testing.T) {
	ctx := context.Background()

	// 5 tab switches score exactly 50 — at the threshold, no warning.
	e, _, sess := newTestEngine(t)
	v, err := e.Evaluate(ctx, sess, batchOf(0, 5))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.RiskScore != 50 {
		t.Errorf("RiskScore = %d, want 50", v.RiskScore)
	}
	if v.ShouldWarn {
		t.Error("score of exactly 50 should not warn")
	}

	// One more switch crosses it.
	e2, _, sess2 := newTestEngine(t)
	v, err = e2.Evaluate(ctx, sess2, batchOf(0, 6))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.RiskScore != 60 || !v.ShouldWarn {
		t.Errorf("got score=%d warn=%v, want score=60 warn=true", v.RiskScore, v.ShouldWarn)
	}
}

func TestEvaluate_FullscreenExitsDontAccumulateWarnings(t *testing.T) {
	e, store, sess := newTestEngine(t)
	ctx := context.Background()

	// Scores 90 and warns, but zero tab switches means no counter change
	// and no termination, ever.
	for i := 0; i < 10; i++ {
		v, err := e.Evaluate(ctx, sess, batchOf(3, 0))
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !v.ShouldWarn {
			t.Fatal("3 fullscreen exits should warn")
		}
		if v.ShouldTerminate {
			t.Fatal("fullscreen exits alone must never terminate")
		}
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.WarningCount != 0 {
		t.Errorf("WarningCount = %d, want 0", got.WarningCount)
	}
	if got.Status != session.StatusInProgress {
		t.Errorf("Status = %s, want IN_PROGRESS", got.Status)
	}
}

func TestEvaluate_TerminatesPastMaxWarnings(t *testing.T) {
	e, store, sess := newTestEngine(t)
	ctx := context.Background()

	// First batch: 2 switches, count 2, still alive.
	v, err := e.Evaluate(ctx, sess, batchOf(0, 2))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.ShouldTerminate {
		t.Fatal("count 2 should not terminate")
	}
	if v.NewWarningCount != 2 {
		t.Errorf("NewWarningCount = %d, want 2", v.NewWarningCount)
	}

	// Second batch: 2 more, count 4 > 3 — terminated.
	sess, _ = store.Get(ctx, sess.ID)
	v, err = e.Evaluate(ctx, sess, batchOf(0, 2))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !v.ShouldTerminate {
		t.Fatal("count 4 should terminate")
	}
	if v.NewWarningCount != 4 {
		t.Errorf("NewWarningCount = %d, want 4", v.NewWarningCount)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != session.StatusTerminated {
		t.Errorf("Status = %s, want TERMINATED", got.Status)
	}
	if got.TerminatedReason != TerminationReason {
		t.Errorf("TerminatedReason = %q, want %q", got.TerminatedReason, TerminationReason)
	}
	if got.EndTime == nil {
		t.Error("EndTime not set on termination")
	}

	app, err := store.GetApplication(ctx, sess.ApplicationID)
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if app.Status != session.ApplicationRejected {
		t.Errorf("application Status = %s, want REJECTED", app.Status)
	}
}

func TestEvaluate_ExactlyMaxWarningsSurvives(t *testing.T) {
	e, store, sess := newTestEngine(t)
	ctx := context.Background()

	v, err := e.Evaluate(ctx, sess, batchOf(0, 3))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if v.ShouldTerminate {
		t.Fatal("count exactly 3 should not terminate")
	}

	got, _ := store.Get(ctx, sess.ID)
	if got.Status != session.StatusInProgress {
		t.Errorf("Status = %s, want IN_PROGRESS", got.Status)
	}
}

func TestEvaluate_TerminalSessionUnchanged(t *testing.T) {
	e, store, sess := newTestEngine(t)
	ctx := context.Background()

	if _, err := store.Complete(ctx, sess.ID, time.Now()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	sess, _ = store.Get(ctx, sess.ID)

	v, err := e.Evaluate(ctx, sess, batchOf(0, 10))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// Still scored and warned — but nothing mutated.
	if !v.ShouldWarn {
		t.Error("completed session batches still score and warn")
	}
	if v.ShouldTerminate {
		t.Error("completed session must not be terminated")
	}

	got, _ := store.Get(ctx, sess.ID)
	if got.WarningCount != 0 || got.Status != session.StatusCompleted {
		t.Errorf("session mutated: count=%d status=%s", got.WarningCount, got.Status)
	}
}
