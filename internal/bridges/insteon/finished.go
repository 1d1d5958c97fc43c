package insteon

import (
	"sync"
	"time"
)

// finishedCommands remembers recently finalized commands so they can still
// be looked up after the tracker has dropped them. A reused request id
// replaces the earlier entry.
type finishedCommands struct {
	mu       sync.Mutex
	commands map[string]Command
	now      func() time.Time
}

func newFinishedCommands() *finishedCommands {
	return &finishedCommands{
		commands: make(map[string]Command),
		now:      time.Now,
	}
}

func (f *finishedCommands) add(cmd Command) {
	if cmd.RequestID == "" || !cmd.State.Terminal() {
		return
	}
	f.mu.Lock()
	f.commands[cmd.RequestID] = cmd
	f.mu.Unlock()
}

func (f *finishedCommands) get(requestID string) (Command, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd, ok := f.commands[requestID]
	return cmd, ok
}

// prune drops commands finalized more than retain ago.
func (f *finishedCommands) prune(retain time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := f.now().Add(-retain)
	removed := 0
	for id, cmd := range f.commands {
		if cmd.FinalizedAt.Before(cutoff) {
			delete(f.commands, id)
			removed++
		}
	}
	return removed
}

func (f *finishedCommands) counts() (done, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cmd := range f.commands {
		if cmd.State == StateDone {
			done++
		} else {
			failed++
		}
	}
	return done, failed
}
