package domain

import "fmt"

// State is the lifecycle state of an invitation. The zero value is
// StateCreated, the state every invitation starts in.
type State int

const (
	// StateCreated is the initial state after issuance.
	StateCreated State = iota
	// StateSent means the delivery pipeline accepted the email.
	StateSent
	// StateDelivered means the recipient's provider accepted it.
	StateDelivered
	// StateOpened means the recipient opened the message or link.
	StateOpened
	// StateValidated means the token passed full validation at least once.
	StateValidated
	// StateConsumed means onboarding completed; the single use is spent.
	StateConsumed
	// StateFailed means an operator or the pipeline failed the invitation.
	StateFailed
	// StateExpired means the expiry instant passed before consumption.
	StateExpired
	// StateRevoked means an operator withdrew the invitation.
	StateRevoked
)

var stateLabels = map[State]string{
	StateCreated:   "CREATED",
	StateSent:      "SENT",
	StateDelivered: "DELIVERED",
	StateOpened:    "OPENED",
	StateValidated: "VALIDATED",
	StateConsumed:  "CONSUMED",
	StateFailed:    "FAILED",
	StateExpired:   "EXPIRED",
	StateRevoked:   "REVOKED",
}

var labelStates = func() map[string]State {
	m := make(map[string]State, len(stateLabels))
	for s, label := range stateLabels {
		m[label] = s
	}
	return m
}()

// String returns the persisted label for the state.
func (s State) String() string {
	if label, ok := stateLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StateFromLabel parses a persisted state label.
func StateFromLabel(label string) (State, error) {
	if s, ok := labelStates[label]; ok {
		return s, nil
	}
	return StateCreated, fmt.Errorf("domain: unknown state label %q", label)
}

// ActiveStates are the states in which the invitation's token can still be
// presented: everything before a terminal outcome.
var ActiveStates = []State{
	StateCreated,
	StateSent,
	StateDelivered,
	StateOpened,
	StateValidated,
}

// IsActive reports whether s is in the active set.
func (s State) IsActive() bool {
	switch s {
	case StateCreated, StateSent, StateDelivered, StateOpened, StateValidated:
		return true
	}
	return false
}

// IsTerminal reports whether s permits no forward transition. Resend is the
// one deliberate exception, see CanResend.
func (s State) IsTerminal() bool {
	switch s {
	case StateConsumed, StateFailed, StateExpired, StateRevoked:
		return true
	}
	return false
}

// transitions is the adjacency table for forward transitions. Delivery
// progression steps one state at a time; validation may jump to VALIDATED
// from any active state because the supplier can click the link before the
// delivery pipeline reports progress. Any active state may also terminate
// in FAILED, EXPIRED, or REVOKED. VALIDATED loops to itself because repeat
// validations within the attempt budget are idempotent.
var transitions = map[State][]State{
	StateCreated:   {StateSent, StateValidated, StateFailed, StateExpired, StateRevoked},
	StateSent:      {StateDelivered, StateValidated, StateFailed, StateExpired, StateRevoked},
	StateDelivered: {StateOpened, StateValidated, StateFailed, StateExpired, StateRevoked},
	StateOpened:    {StateValidated, StateFailed, StateExpired, StateRevoked},
	StateValidated: {StateValidated, StateConsumed, StateFailed, StateExpired, StateRevoked},
	StateConsumed:  nil,
	StateFailed:    nil,
	StateExpired:   nil,
	StateRevoked:   nil,
}

// CanTransition reports whether the adjacency table permits from → to.
// Resend's backward edge is NOT represented here; see CanResend.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanResend reports whether a resend may move the record back to CREATED.
// Consumption is the only state that resend cannot undo: the supplier
// already onboarded with the original token.
func CanResend(from State) bool {
	return from != StateConsumed
}
