// Package session tracks assessment session lifecycle and warning state.
//
// A session is IN_PROGRESS from the moment a candidate starts an
// assessment until either the completion flow marks it COMPLETED or the
// risk engine terminates it. Terminal states are retained forever and
// never transition again; attempts to mutate a terminal session are
// no-ops, not errors.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrApplicationNotFound = errors.New("application not found")
)

// Status is the session lifecycle state.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusTerminated Status = "TERMINATED"
)

// ApplicationStatus mirrors the slice of the application domain this
// subsystem writes: a terminated session rejects its application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// Session is the unit the proctoring pipeline protects.
type Session struct {
	ID               string     `json:"id"`
	ApplicationID    string     `json:"applicationId"`
	Status           Status     `json:"status"`
	WarningCount     int        `json:"warningCount"`
	TerminatedReason string     `json:"terminatedReason,omitempty"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
}

// IsTerminal returns true if the session is in a final state.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusTerminated
}

// Application is the minimal projection of the application record this
// subsystem touches.
type Application struct {
	ID     string            `json:"id"`
	Status ApplicationStatus `json:"status"`
}

// Store persists sessions and the application status cascade.
//
// AddWarnings and Terminate are the two mutation points the risk engine
// uses. Both are conditional on the session still being IN_PROGRESS:
// AddWarnings is an atomic read-modify-write (not a separate read +
// write, so rapid consecutive batches can't lose updates), and Terminate
// applies the session transition and the application REJECTED cascade in
// one transaction.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)

	// AddWarnings atomically increments warningCount by delta while the
	// session is IN_PROGRESS and returns the new count. If the session
	// is terminal the count is returned unchanged and ok is false.
	AddWarnings(ctx context.Context, id string, delta int) (newCount int, ok bool, err error)

	// Terminate moves an IN_PROGRESS session to TERMINATED, stamps the
	// reason and end time, and sets the owning application to REJECTED,
	// all atomically. Terminating a terminal session is a no-op and
	// returns ok=false.
	Terminate(ctx context.Context, id, reason string, endTime time.Time) (ok bool, err error)

	// Complete moves an IN_PROGRESS session to COMPLETED. No-op on
	// terminal sessions.
	Complete(ctx context.Context, id string, endTime time.Time) (ok bool, err error)

	CreateApplication(ctx context.Context, a *Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
}
