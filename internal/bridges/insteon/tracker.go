package insteon

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Tracker holds in-flight commands keyed by request id. A command is
// tracked while it is New or Sent; Finalize removes it.
//
// All methods are safe for concurrent use. Get and PendingFor return copies;
// the tracker owns the stored records.
type Tracker struct {
	mu       sync.Mutex
	commands map[string]*Command
	now      func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		commands: make(map[string]*Command),
		now:      time.Now,
	}
}

// Track stores a new command in StateNew. CreatedAt defaults to now.
func (t *Tracker) Track(cmd Command) error {
	if cmd.RequestID == "" {
		return fmt.Errorf("%w: empty request id", ErrInvalidCommand)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.commands[cmd.RequestID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequestID, cmd.RequestID)
	}

	cmd.State = StateNew
	cmd.Message = ""
	cmd.TimedOut = false
	cmd.SentAt = time.Time{}
	cmd.FinalizedAt = time.Time{}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = t.now()
	}

	stored := cmd
	t.commands[cmd.RequestID] = &stored
	return nil
}

// Get returns a copy of the command.
func (t *Tracker) Get(requestID string) (Command, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmd, ok := t.commands[requestID]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrCommandNotFound, requestID)
	}
	return *cmd, nil
}

// MarkSent moves a command from New to Sent and records the interface used.
func (t *Tracker) MarkSent(requestID, iface string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmd, ok := t.commands[requestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, requestID)
	}
	if cmd.State != StateNew {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, requestID, cmd.State, StateSent)
	}

	cmd.State = StateSent
	cmd.SentAt = t.now()
	cmd.Interface = iface
	return nil
}

// Finalize applies a terminal outcome, removes the command and returns it
// as finalized.
//
// A request id that is no longer tracked has already been finalized (or
// never existed); that is reported as ErrAlreadyFinalized and changes
// nothing, so duplicate completions are harmless.
func (t *Tracker) Finalize(requestID string, outcome Outcome) (Command, error) {
	if !outcome.State.Terminal() {
		return Command{}, fmt.Errorf("%w: outcome %s is not terminal", ErrInvalidTransition, outcome.State)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cmd, ok := t.commands[requestID]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrAlreadyFinalized, requestID)
	}
	if !cmd.State.canTransition(outcome.State) {
		return *cmd, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, requestID, cmd.State, outcome.State)
	}

	cmd.State = outcome.State
	cmd.Message = outcome.Message
	cmd.TimedOut = outcome.TimedOut
	cmd.FinalizedAt = t.now()
	delete(t.commands, requestID)
	return *cmd, nil
}

// PendingFor returns commands for address whose state is in states and
// which were created within maxAge of now, most recent first. A limit of
// zero or less returns every match.
func (t *Tracker) PendingFor(address string, states StateSet, maxAge time.Duration, limit int) []Command {
	return t.PendingAt(address, states, t.now(), maxAge, limit)
}

// PendingAt is PendingFor with the age measured back from at instead of
// now, so a report that waited in a queue is judged by when it was read.
func (t *Tracker) PendingAt(address string, states StateSet, at time.Time, maxAge time.Duration, limit int) []Command {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := at.Add(-maxAge)

	var matches []Command
	for _, cmd := range t.commands {
		if cmd.Address != address || !states.Has(cmd.State) {
			continue
		}
		if cmd.CreatedAt.Before(cutoff) {
			continue
		}
		matches = append(matches, *cmd)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].RequestID > matches[j].RequestID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Stale returns commands created more than maxAge ago, oldest first. The caller decides how to finalize them.
func (t *Tracker) Stale(maxAge time.Duration) []Command {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)

	var stale []Command
	for _, cmd := range t.commands {
		if cmd.CreatedAt.Before(cutoff) {
			stale = append(stale, *cmd)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	return stale
}

// Counts returns the number of tracked commands per state. Only New and
// Sent ever appear.
func (t *Tracker) Counts() map[State]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[State]int, 4)
	for _, cmd := range t.commands {
		counts[cmd.State]++
	}
	return counts
}

// InFlightCount returns the number of commands in New or Sent.
func (t *Tracker) InFlightCount() int {
	counts := t.Counts()
	return counts[StateNew] + counts[StateSent]
}
