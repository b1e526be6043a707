package risk

import (
	"context"
	"time"

	"github.com/hireloop/proctord/internal/events"
	"github.com/hireloop/proctord/internal/logging"
	"github.com/hireloop/proctord/internal/session"
)

// ScoreBatch computes the 0-100 risk score for a batch of events.
// Pure function: min(100, 30*fullscreenExits + 10*tabSwitches).
func ScoreBatch(evs []events.Event) int {
	score := events.CountType(evs, events.TypeFullscreenExit)*WeightFullscreenExit +
		events.CountType(evs, events.TypeTabSwitch)*WeightTabSwitch
	if score > 100 {
		score = 100
	}
	return score
}

// Engine applies the scoring and termination policy against session state.
type Engine struct {
	sessions session.Store
	now      func() time.Time
}

// NewEngine creates a risk engine backed by the given session store.
func NewEngine(sessions session.Store) *Engine {
	return &Engine{
		sessions: sessions,
		now:      time.Now,
	}
}

// Evaluate scores one batch and applies any resulting session mutation.
//
// Rules, in order:
//   - riskScore = ScoreBatch(events); shouldWarn iff riskScore > WarnThreshold
//   - tab switches (only) accumulate into the warning counter via an
//     atomic increment, applied only while the session is IN_PROGRESS
//   - if the post-increment count exceeds MaxWarnings, the session is
//     terminated and its application rejected in one transaction
//   - a batch with zero tab switches mutates no session state at all
//
// The atomic increment means two concurrent batches that each observe
// warningCount <= MaxWarnings still combine correctly: whichever commits
// second sees the summed count and triggers termination.
func (e *Engine) Evaluate(ctx context.Context, sess *session.Session, evs []events.Event) (*Verdict, error) {
	v := &Verdict{
		RiskScore:       ScoreBatch(evs),
		NewWarningCount: sess.WarningCount,
	}
	v.ShouldWarn = v.RiskScore > WarnThreshold

	tabSwitches := events.CountType(evs, events.TypeTabSwitch)
	if tabSwitches == 0 || sess.IsTerminal() {
		return v, nil
	}

	newCount, ok, err := e.sessions.AddWarnings(ctx, sess.ID, tabSwitches)
	if err != nil {
		return nil, err
	}
	v.NewWarningCount = newCount
	if !ok {
		// Session went terminal under us; nothing more to do.
		return v, nil
	}

	if newCount > MaxWarnings {
		terminated, err := e.sessions.Terminate(ctx, sess.ID, TerminationReason, e.now())
		if err != nil {
			return nil, err
		}
		v.ShouldTerminate = terminated
		if terminated {
			logging.L(ctx).Warn("session terminated",
				"session_id", sess.ID,
				"warning_count", newCount,
				"reason", TerminationReason,
			)
		}
	}

	return v, nil
}
