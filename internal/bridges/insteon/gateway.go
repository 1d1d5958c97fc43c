package insteon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Rejection reasons reported to Metrics.
const (
	RejectNotMyDevice       = "not_my_device"
	RejectNoActiveInterface = "no_active_interface"
	RejectUnhealthy         = "interface_unhealthy"
	RejectDuplicate         = "duplicate_request"
	RejectInvalid           = "invalid_command"
	RejectNotConfigured     = "not_configured"
)

// SubmitRequest asks the gateway to command a device.
type SubmitRequest struct {
	RequestID string
	Device    DeviceRef
	Label     string
	Level     *float64
	Requester string
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	// GatewayID is compared against DeviceRef.GatewayID.
	GatewayID string

	Tracker    *Tracker
	Interfaces *InterfaceRegistry
	Reconciler *Reconciler
	Replier    Replier
	Metrics    Metrics
	Logger     Logger
}

// Gateway is the entry point for device commands and the sink for interface
// traffic. It owns the command lifecycle from submission to finalization.
type Gateway struct {
	id         string
	tracker    *Tracker
	interfaces *InterfaceRegistry
	reconciler *Reconciler
	replier    Replier
	metrics    Metrics

	logger   Logger
	loggerMu sync.RWMutex
}

// NewGateway validates options and creates a Gateway.
func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if opts.GatewayID == "" {
		return nil, errors.New("gateway: id is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("gateway: tracker is required")
	}
	if opts.Interfaces == nil {
		return nil, errors.New("gateway: interface registry is required")
	}
	if opts.Reconciler == nil {
		return nil, errors.New("gateway: reconciler is required")
	}

	g := &Gateway{
		id:         opts.GatewayID,
		tracker:    opts.Tracker,
		interfaces: opts.Interfaces,
		reconciler: opts.Reconciler,
		replier:    opts.Replier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	if g.replier == nil {
		g.replier = noopReplier{}
	}
	if g.metrics == nil {
		g.metrics = noopMetrics{}
	}
	if g.logger == nil {
		g.logger = noopLogger{}
	}
	return g, nil
}

// ID returns the gateway id.
func (g *Gateway) ID() string {
	return g.id
}

// SetLogger replaces the logger.
func (g *Gateway) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	g.loggerMu.Lock()
	g.logger = logger
	g.loggerMu.Unlock()
}

func (g *Gateway) log() Logger {
	g.loggerMu.RLock()
	defer g.loggerMu.RUnlock()
	return g.logger
}

// Submit accepts or rejects a device command.
//
// Rejections return ErrNotMyDevice, ErrNoActiveInterface,
// ErrInterfaceUnhealthy, ErrDuplicateRequestID or ErrInvalidCommand and
// leave nothing tracked (a duplicate leaves the original untouched).
//
// On acceptance the command is tracked, marked sent and handed to the active
// interface. The returned command reflects its state after the send: Sent
// while the outcome is pending, or Done/Failed when the interface answered
// synchronously. A synchronous failure is still an accepted submission; the
// requester hears about it through the Replier.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (Command, error) {
	label := strings.ToLower(strings.TrimSpace(req.Label))
	if label == "" || req.RequestID == "" {
		g.metrics.CommandRejected(RejectInvalid)
		return Command{}, fmt.Errorf("%w: request id and command are required", ErrInvalidCommand)
	}

	address, err := NormalizeAddress(req.Device.Address)
	if err != nil {
		g.metrics.CommandRejected(RejectInvalid)
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	if req.Device.GatewayID != g.id {
		g.metrics.CommandRejected(RejectNotMyDevice)
		return Command{}, fmt.Errorf("%w: %s belongs to %q", ErrNotMyDevice, req.Device.ID, req.Device.GatewayID)
	}

	active, ok := g.interfaces.Active()
	if !ok {
		g.metrics.CommandRejected(RejectNoActiveInterface)
		return Command{}, ErrNoActiveInterface
	}
	if !active.Healthy() {
		g.metrics.CommandRejected(RejectUnhealthy)
		return Command{}, fmt.Errorf("%w: %s", ErrInterfaceUnhealthy, active.Name())
	}

	cmd := Command{
		RequestID: req.RequestID,
		DeviceID:  req.Device.ID,
		Address:   address,
		Label:     label,
		Level:     req.Level,
		Requester: req.Requester,
	}
	if err := g.tracker.Track(cmd); err != nil {
		g.log().Warn("command not tracked", "request_id", req.RequestID, "error", err)
		g.metrics.CommandRejected(RejectDuplicate)
		return Command{}, err
	}
	g.metrics.CommandSubmitted(label)

	if err := g.tracker.MarkSent(cmd.RequestID, active.Name()); err != nil {
		g.log().Warn("command lifecycle conflict", "request_id", cmd.RequestID, "error", err)
	}

	sent, err := g.tracker.Get(cmd.RequestID)
	if err != nil {
		return Command{}, err
	}

	g.replier.CommandAccepted(ctx, sent)

	status, sendErr := active.Send(ctx, sent)
	switch {
	case sendErr != nil:
		g.log().Warn("send failed",
			"request_id", cmd.RequestID,
			"address", address,
			"interface", active.Name(),
			"error", sendErr,
		)
		if final, ok := g.finish(ctx, cmd.RequestID, Failed(sendErr.Error())); ok {
			return final, nil
		}
		return sent, nil
	case status == SendDone:
		if final, ok := g.finish(ctx, cmd.RequestID, Done("sent")); ok {
			return final, nil
		}
		return sent, nil
	default:
		g.log().Debug("command sent",
			"request_id", cmd.RequestID,
			"address", address,
			"command", label,
			"interface", active.Name(),
		)
		return sent, nil
	}
}

// finish finalizes a command and replies. It reports false when another
// path finalized the command first; that path has already replied.
func (g *Gateway) finish(ctx context.Context, requestID string, outcome Outcome) (Command, bool) {
	cmd, err := g.tracker.Finalize(requestID, outcome)
	if err != nil {
		g.log().Warn("command not finalized", "request_id", requestID, "error", err)
		return Command{}, false
	}

	g.metrics.CommandFinalized(cmd.State.String(), cmd.Latency())
	g.replier.CommandFinished(ctx, cmd)
	return cmd, true
}

// Observe implements InboundSink. Observations from interfaces other than
// the active one are ignored.
func (g *Gateway) Observe(ctx context.Context, obs Observation) {
	if obs.Interface != "" && !g.interfaces.IsActive(obs.Interface) {
		g.metrics.ObservationReconciled(ObservationIgnored)
		g.log().Debug("observation from inactive interface ignored",
			"interface", obs.Interface,
			"address", obs.Address,
		)
		return
	}

	if _, err := g.reconciler.Observe(ctx, obs); err != nil {
		g.log().Warn("observation rejected", "address", obs.Address, "error", err)
	}
}

// Complete implements InboundSink. Completions are accepted from any
// registered interface so commands sent before a reselection still finish.
func (g *Gateway) Complete(requestID string, err error) {
	outcome := Done("confirmed by interface")
	if err != nil {
		outcome = Failed(err.Error())
	}
	g.finish(context.Background(), requestID, outcome)
}

// ExpireStale fails in-flight commands older than ttl and returns how many
// were expired.
func (g *Gateway) ExpireStale(ctx context.Context, ttl time.Duration) int {
	expired := 0
	for _, cmd := range g.tracker.Stale(ttl) {
		msg := fmt.Sprintf("timed out after %v waiting for device status", ttl)
		final, err := g.tracker.Finalize(cmd.RequestID, Expired(msg))
		if err != nil {
			continue
		}
		g.metrics.CommandFinalized(final.State.String(), final.Latency())
		g.replier.CommandFinished(ctx, final)
		expired++
	}
	if expired > 0 {
		g.log().Info("expired stale commands", "count", expired, "ttl", ttl)
	}
	return expired
}

// Command returns an in-flight command. Finalized commands are no longer
// tracked and return ErrCommandNotFound.
func (g *Gateway) Command(requestID string) (Command, error) {
	return g.tracker.Get(requestID)
}

// Interfaces returns the interface registry.
func (g *Gateway) Interfaces() *InterfaceRegistry {
	return g.interfaces
}
