package domain

// Kind is a canonical call lifecycle event.
type Kind string

const (
	KindStarted  Kind = "started"
	KindAnswered Kind = "answered"
	KindHeld     Kind = "held"
	KindUnheld   Kind = "unheld"
	KindEnded    Kind = "ended"
	KindUnknown  Kind = "unknown"
)

// Outcome describes what applying an event did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeAnswered  Outcome = "answered"
	OutcomeHeld      Outcome = "held"
	OutcomeUnheld    Outcome = "unheld"
	OutcomeCompleted Outcome = "completed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeAttached  Outcome = "attached"
	OutcomeBuffered  Outcome = "buffered"
)

// Transition is the decision for one event against the current state.
type Transition struct {
	Outcome Outcome
	// Next is the status to persist. Empty when the status does not change.
	Next Status
}

// Mutates reports whether the transition writes a new status.
func (t Transition) Mutates() bool {
	return t.Next != ""
}

// Decide applies the call state machine. exists is false when no session is
// stored for the external call id; current is ignored in that case.
//
// Hold and unhold never change the stored status; they only produce an
// outcome for observers, and only while the call is in progress.
func Decide(kind Kind, exists bool, current Status) Transition {
	switch kind {
	case KindStarted:
		if exists {
			return Transition{Outcome: OutcomeDuplicate}
		}
		return Transition{Outcome: OutcomeCreated, Next: StatusRinging}

	case KindAnswered:
		if !exists {
			return Transition{Outcome: OutcomeNotFound}
		}
		if CanTransition(current, StatusInProgress) {
			return Transition{Outcome: OutcomeAnswered, Next: StatusInProgress}
		}
		return Transition{Outcome: OutcomeDuplicate}

	case KindHeld, KindUnheld:
		if !exists {
			return Transition{Outcome: OutcomeNotFound}
		}
		if current != StatusInProgress {
			return Transition{Outcome: OutcomeIgnored}
		}
		if kind == KindHeld {
			return Transition{Outcome: OutcomeHeld}
		}
		return Transition{Outcome: OutcomeUnheld}

	case KindEnded:
		if !exists {
			return Transition{Outcome: OutcomeNotFound}
		}
		if CanTransition(current, StatusCompleted) {
			return Transition{Outcome: OutcomeCompleted, Next: StatusCompleted}
		}
		return Transition{Outcome: OutcomeDuplicate}

	default:
		return Transition{Outcome: OutcomeIgnored}
	}
}
