package insteon

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a tracked command.
type State uint8

// Lifecycle: New -> Sent -> Done|Failed. New may also finalize directly.
const (
	StateNew State = iota
	StateSent
	StateDone
	StateFailed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSent:
		return "sent"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// canTransition is the closed transition table.
func (s State) canTransition(to State) bool {
	switch s {
	case StateNew:
		return to == StateSent || to == StateDone || to == StateFailed
	case StateSent:
		return to == StateDone || to == StateFailed
	default:
		return false
	}
}

// Command is an outbound device command tracked until it is confirmed or
// given up on.
type Command struct {
	RequestID string
	DeviceID  string

	// Address is the uppercase Insteon address, e.g. "1A.2B.3C".
	Address string

	// Label is the command name, e.g. "on", "off_fast", "dim".
	Label string

	// Level is an optional target level (0-100) for on/dim commands.
	Level *float64

	// Requester identifies who asked for the command. Device state changes
	// confirmed by this command are attributed to it.
	Requester string

	State       State
	Message     string
	CreatedAt   time.Time
	SentAt      time.Time
	FinalizedAt time.Time

	// Interface is the name of the interface the command was sent on.
	Interface string

	// TimedOut marks a failure caused by expiry rather than an error report.
	TimedOut bool
}

// Latency returns the time from creation to finalization, or zero while
// the command is still in flight.
func (c Command) Latency() time.Duration {
	if c.FinalizedAt.IsZero() {
		return 0
	}
	return c.FinalizedAt.Sub(c.CreatedAt)
}

// Outcome is the terminal result applied to a command.
type Outcome struct {
	State    State
	Message  string
	TimedOut bool
}

// Done returns a successful outcome.
func Done(message string) Outcome {
	return Outcome{State: StateDone, Message: message}
}

// Failed returns a failure outcome. An empty message becomes "unknown reason".
func Failed(message string) Outcome {
	if message == "" {
		message = "unknown reason"
	}
	return Outcome{State: StateFailed, Message: message}
}

// Expired returns a failure outcome for a command nobody confirmed in time.
func Expired(message string) Outcome {
	out := Failed(message)
	out.TimedOut = true
	return out
}

// StateSet is a small set of lifecycle states for PendingFor queries.
type StateSet uint8

// States builds a StateSet.
func States(states ...State) StateSet {
	var set StateSet
	for _, s := range states {
		set |= 1 << s
	}
	return set
}

// Has reports membership.
func (set StateSet) Has(s State) bool {
	return set&(1<<s) != 0
}

// InFlight is {New, Sent}.
var InFlight = States(StateNew, StateSent)
