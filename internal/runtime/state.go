package runtime

import (
	"time"

	"github.com/drblury/restbridge/internal/runtime/model"
)

// State is a step of the per-message pipeline.
type State int

const (
	StateReceived State = iota
	StateValidating
	StateInvalid
	StateTransforming
	StateDelivering
	StateDelivered
	StateDeliveryFailed
	StateAcknowledged
	// StateAbandoned marks a message left uncommitted because the consumer
	// shut down mid-delivery. The transport will redeliver it.
	StateAbandoned
)

var stateNames = [...]string{
	StateReceived:       "Received",
	StateValidating:     "Validating",
	StateInvalid:        "Invalid",
	StateTransforming:   "Transforming",
	StateDelivering:     "Delivering",
	StateDelivered:      "Delivered",
	StateDeliveryFailed: "DeliveryFailed",
	StateAcknowledged:   "Acknowledged",
	StateAbandoned:      "Abandoned",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateAcknowledged || s == StateAbandoned
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateChange is passed to PipelineHooks.OnTransition.
type StateChange struct {
	MessageID   string
	Coordinates model.Coordinates
	From        State
	To          State
	At          time.Time
}
