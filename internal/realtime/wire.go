package realtime

// Message types on the proctoring channel. Every frame is a JSON object
// with a "type" discriminator.
const (
	MsgProctoringBatch   = "proctoring-batch"
	MsgAck               = "ack"
	MsgProctoringWarning = "proctoring-warning"
	MsgSessionTerminated = "session-terminated"
)

// BatchMessage is the client → server frame carrying one flush cycle's
// events. Raw JSON for the events is decoded by the gateway.
type BatchMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Events    []EventPayload `json:"events"`
}

// EventPayload mirrors events.Event on the wire.
type EventPayload struct {
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
}

// Ack is the server → client response to one batch message. On failure
// Success is false and Error holds a short machine-readable cause; the
// connection stays open either way.
type Ack struct {
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	EventCount int    `json:"eventCount,omitempty"`
	RiskScore  int    `json:"riskScore,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Warning is pushed when a batch's risk score crosses the warn threshold
// and the session is not yet terminal. Clients surface it as a transient
// toast.
type Warning struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	RiskScore int    `json:"riskScore"`
}

// Terminated is pushed once when the risk engine ends a session, so
// clients don't have to rely solely on polling session status.
type Terminated struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
