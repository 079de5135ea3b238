package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
)

var ErrInvalidTransition = errors.New("session: invalid state transition")

// State tracks the lifecycle of a session.
type State uint8

const (
	StateCreated State = iota
	StateLogonSent
	StateActive
	StateLogoutSent
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateLogonSent:
		return "LogonSent"
	case StateActive:
		return "Active"
	case StateLogoutSent:
		return "LogoutSent"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is absorbing.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// canTransition reports whether from -> to is allowed. Every non-terminal state
// may fall straight to Terminated.
func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateTerminated {
		return true
	}
	switch from {
	case StateCreated:
		return to == StateLogonSent
	case StateLogonSent:
		return to == StateActive
	case StateActive:
		return to == StateLogoutSent
	default:
		return false
	}
}

// Session is a point-in-time view of one logical connection.
type Session struct {
	ID            uuid.UUID
	State         State
	SequenceOut   uint64 // last assigned outbound sequence number
	SequenceIn    uint64 // next expected inbound sequence number
	LastHeartbeat time.Time
	LastSent      time.Time
	CreatedAt     time.Time
}
