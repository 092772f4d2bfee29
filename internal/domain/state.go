package domain

// StateKind tags the variant held in a UserState.
type StateKind int

const (
	// StateIdle means the user has neither a candidate nor an active session.
	StateIdle StateKind = iota
	// StatePending means a generated candidate is waiting for commit or next.
	StatePending
	// StateActive means the user is talking to a committed persona.
	StateActive
)

func (k StateKind) String() string {
	switch k {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// UserState is the per-user view of the state machine.
// Candidate is set only for StatePending, SessionID only for StateActive.
type UserState struct {
	Kind      StateKind
	Candidate *Persona
	SessionID string
}

// Pending builds a pending state.
func Pending(p Persona) UserState {
	return UserState{Kind: StatePending, Candidate: &p}
}

// Active builds an active state.
func Active(sessionID string) UserState {
	return UserState{Kind: StateActive, SessionID: sessionID}
}
