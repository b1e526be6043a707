// Package integrity computes the end-of-session integrity score.
//
// The score is a pure function of the session's persisted event batches:
// start at 100, subtract a fixed penalty for each high-risk batch and for
// each individual tab switch, clamp to [0, 100]. Recomputing over the
// same batches always yields the same result, so the report generator may
// call it any number of times.
package integrity

import (
	"context"

	"github.com/hireloop/proctord/internal/events"
)

// Scoring policy. High-risk means the batch's stored risk score exceeds
// HighRiskThreshold (0-100 scale). Tab switches are re-derived from the
// raw event arrays, not from the session's warning counter.
const (
	HighRiskThreshold = 50
	HighRiskPenalty   = 5
	TabSwitchPenalty  = 2
)

// Report is the integrity fragment handed to the report generator: the
// bounded score plus the raw counts it was derived from, for display.
type Report struct {
	SessionID          string `json:"sessionId"`
	Score              int    `json:"score"`
	HighRiskBatchCount int    `json:"highRiskBatchCount"`
	TabSwitchCount     int    `json:"tabSwitchCount"`
}

// Scorer aggregates persisted batches into an integrity score.
type Scorer struct {
	batches events.Store
}

// NewScorer creates an integrity scorer over the given batch store.
func NewScorer(batches events.Store) *Scorer {
	return &Scorer{batches: batches}
}

// Compute aggregates all batches for the session into a final score.
// Batch order doesn't matter — the computation is commutative — so no
// assumption is made about cross-batch timestamp ordering.
func (s *Scorer) Compute(ctx context.Context, sessionID string) (*Report, error) {
	batches, err := s.batches.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	r := &Report{SessionID: sessionID}
	for _, b := range batches {
		if b.RiskScore > HighRiskThreshold {
			r.HighRiskBatchCount++
		}
		r.TabSwitchCount += b.TabSwitches()
	}

	score := 100 - r.HighRiskBatchCount*HighRiskPenalty - r.TabSwitchCount*TabSwitchPenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	r.Score = score
	return r, nil
}
