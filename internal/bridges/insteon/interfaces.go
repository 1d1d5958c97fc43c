package insteon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SendStatus is the synchronous result of handing a command to an interface.
type SendStatus uint8

const (
	// SendPending means the interface accepted the command and the outcome
	// will arrive later, via a status observation or InboundSink.Complete.
	SendPending SendStatus = iota

	// SendDone means the interface already knows the command succeeded
	// (one-way transports).
	SendDone
)

// Observation is a status report heard on the Insteon network.
type Observation struct {
	// Address as reported; the reconciler normalizes it.
	Address string

	// RawLevel is the device level in device units (0-255 for Insteon).
	RawLevel float64

	// Interface is the name of the interface that heard it.
	Interface string

	ObservedAt time.Time
}

// InboundSink receives traffic from interfaces.
type InboundSink interface {
	// Observe delivers a status observation.
	Observe(ctx context.Context, obs Observation)

	// Complete delivers an asynchronous outcome for a command the interface
	// previously returned SendPending for. A nil err means success.
	Complete(requestID string, err error)
}

// Interface is a physical or remote path to the Insteon network.
type Interface interface {
	Name() string

	// Priority orders candidates; higher wins.
	Priority() int

	Healthy() bool

	// Send transmits the command. An error means the command failed.
	Send(ctx context.Context, cmd Command) (SendStatus, error)

	// Attach sets where observations and completions are delivered.
	Attach(sink InboundSink)
}

// InterfaceStatus is a snapshot of one registered interface.
type InterfaceStatus struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Healthy  bool   `json:"healthy"`
	Active   bool   `json:"active"`
}

type registered struct {
	iface Interface
	seq   uint64
}

// InterfaceRegistry holds candidate interfaces and the currently active one.
//
// Selection is deterministic: healthy candidates only, highest priority
// first, ties broken by registration order.
type InterfaceRegistry struct {
	mu         sync.RWMutex
	candidates []registered
	nextSeq    uint64
	active     Interface
}

// NewInterfaceRegistry creates an empty registry.
func NewInterfaceRegistry() *InterfaceRegistry {
	return &InterfaceRegistry{}
}

// Register adds a candidate. Names must be unique.
// The active interface is not changed until SelectActive runs.
func (r *InterfaceRegistry) Register(iface Interface) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.candidates {
		if c.iface.Name() == iface.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateInterface, iface.Name())
		}
	}

	r.candidates = append(r.candidates, registered{iface: iface, seq: r.nextSeq})
	r.nextSeq++
	return nil
}

// Unregister removes a candidate. If it was active, no interface is active
// until the next SelectActive.
func (r *InterfaceRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range r.candidates {
		if c.iface.Name() != name {
			continue
		}
		r.candidates = append(r.candidates[:i], r.candidates[i+1:]...)
		if r.active != nil && r.active.Name() == name {
			r.active = nil
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}

// SelectActive recomputes the active interface and returns it. It returns
// false when no candidate is healthy. Calling it repeatedly with unchanged
// candidates yields the same result.
func (r *InterfaceRegistry) SelectActive() (Interface, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := make([]registered, 0, len(r.candidates))
	for _, c := range r.candidates {
		if c.iface.Healthy() {
			healthy = append(healthy, c)
		}
	}

	sort.Slice(healthy, func(i, j int) bool {
		pi, pj := healthy[i].iface.Priority(), healthy[j].iface.Priority()
		if pi != pj {
			return pi > pj
		}
		return healthy[i].seq < healthy[j].seq
	})

	if len(healthy) == 0 {
		r.active = nil
		return nil, false
	}

	r.active = healthy[0].iface
	return r.active, true
}

// Active returns the selected interface without reselecting.
func (r *InterfaceRegistry) Active() (Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.active != nil
}

// IsActive reports whether name is the selected interface.
func (r *InterfaceRegistry) IsActive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil && r.active.Name() == name
}

// Status returns a snapshot of every candidate in registration order.
func (r *InterfaceRegistry) Status() []InterfaceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]InterfaceStatus, 0, len(r.candidates))
	for _, c := range r.candidates {
		out = append(out, InterfaceStatus{
			Name:     c.iface.Name(),
			Priority: c.iface.Priority(),
			Healthy:  c.iface.Healthy(),
			Active:   r.active != nil && r.active.Name() == c.iface.Name(),
		})
	}
	return out
}

// Interfaces returns the registered candidates in registration order.
func (r *InterfaceRegistry) Interfaces() []Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Interface, 0, len(r.candidates))
	for _, c := range r.candidates {
		out = append(out, c.iface)
	}
	return out
}
