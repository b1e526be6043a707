// Package risk implements per-batch risk scoring and the termination
// policy for proctored assessment sessions.
//
// Each inbound event batch is scored on a 0-100 scale from its fullscreen
// exits and tab switches. Tab switches additionally accumulate into the
// session's warning counter; crossing the warning limit while the session
// is still in progress terminates it and rejects the owning application.
//
// The scoring asymmetry is intentional policy: a fullscreen exit is 3x as
// suspicious as a tab switch for the batch score, but only tab switches
// feed the warning counter that drives termination.
package risk

// Per-event weights for the batch risk score, additive and capped at 100.
const (
	WeightFullscreenExit = 30
	WeightTabSwitch      = 10
)

// WarnThreshold is the batch score above which (strictly) a live warning
// is pushed to the candidate.
const WarnThreshold = 50

// MaxWarnings is the cumulative tab-switch count a session survives.
// The first batch that pushes the counter past it terminates the session.
const MaxWarnings = 3

// TerminationReason is recorded on sessions the engine terminates.
const TerminationReason = "Excessive Tab Switching"

// Verdict is the engine's decision for one batch.
type Verdict struct {
	RiskScore       int  `json:"riskScore"`
	ShouldWarn      bool `json:"shouldWarn"`
	ShouldTerminate bool `json:"shouldTerminate"`
	NewWarningCount int  `json:"newWarningCount"`
}
