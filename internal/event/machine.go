package event

import (
	"fmt"
	"slices"

	"barrage/internal/domain"
)

// transitions lists every legal state change of one event.
var transitions = map[domain.EventState][]domain.EventState{
	domain.StatePrecondition: {domain.StateSkipped, domain.StateAnnounce, domain.StateActive},
	domain.StateAnnounce:     {domain.StateActive, domain.StateSkipped},
	domain.StateActive:       {domain.StateDraining, domain.StateSkipped},
	domain.StateDraining:     {domain.StateEnded},
	domain.StateEnded:        nil,
	domain.StateSkipped:      nil,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to domain.EventState) bool {
	return slices.Contains(transitions[from], to)
}

// InvalidTransitionError is returned for a move the table does not allow.
type InvalidTransitionError struct {
	EventID string
	From    domain.EventState
	To      domain.EventState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s: invalid transition %s -> %s", e.EventID, e.From, e.To)
}
