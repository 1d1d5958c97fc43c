package insteon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
)

const (
	// plmBaudRate is fixed by the 2413U/2413S modems.
	plmBaudRate = 19200

	defaultAckTimeout = time.Second

	// plmReadTimeout lets the receive loop notice shutdown on a quiet bus.
	plmReadTimeout = 500 * time.Millisecond

	// maxSendAttempts covers the modem answering NAK while busy.
	maxSendAttempts = 3
	nakRetryDelay   = 150 * time.Millisecond

	// unhealthyAfterTimeouts marks the modem unhealthy after this many
	// consecutive unanswered sends.
	unhealthyAfterTimeouts = 3

	inboundQueueSize = 100

	reconnectInitialBackoff = time.Second
	reconnectMaxBackoff     = 30 * time.Second
)

// PortOpener opens the modem's serial port.
type PortOpener func() (io.ReadWriteCloser, error)

// SerialOpener returns a PortOpener for a serial device path.
func SerialOpener(cfg SerialConfig) PortOpener {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = plmBaudRate
	}
	return func() (io.ReadWriteCloser, error) {
		return serial.Open(&serial.Config{
			Address:  cfg.Port,
			BaudRate: baud,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  plmReadTimeout,
		})
	}
}

// PLMOptions configures a PLM.
type PLMOptions struct {
	Name       string
	Priority   int
	AckTimeout time.Duration
	Open       PortOpener
	Logger     Logger
}

// PLMStats holds modem counters.
type PLMStats struct {
	FramesRx     uint64 `json:"frames_rx"`
	CommandsTx   uint64 `json:"commands_tx"`
	NAKs         uint64 `json:"naks"`
	AckTimeouts  uint64 `json:"ack_timeouts"`
	Reconnects   uint64 `json:"reconnects"`
	Observations uint64 `json:"observations"`
}

// inboundEvent is either an observation or a completion.
type inboundEvent struct {
	obs        *Observation
	requestID  string
	err        error
	completion bool
}

// PLM is an Interface backed by an Insteon PowerLinc Modem on a serial port.
//
// One command is on the wire at a time: Send waits for the modem echo
// (ACK/NAK) before returning. Device replies and button presses arrive
// asynchronously as observations.
type PLM struct {
	name       string
	priority   int
	ackTimeout time.Duration
	open       PortOpener

	portMu sync.RWMutex
	port   io.ReadWriteCloser

	// writeMu serializes sends; the modem handles one command at a time.
	writeMu sync.Mutex
	echoes  chan plmEcho

	// lastSent maps a device address to the request id most recently sent
	// to it, so device NAKs can fail the right command.
	lastSentMu sync.Mutex
	lastSent   map[Address]string

	// statusPending marks addresses awaiting a status request reply.
	statusPending sync.Map

	connected        atomic.Bool
	consecutiveFails atomic.Int32

	framesRx     atomic.Uint64
	commandsTx   atomic.Uint64
	naks         atomic.Uint64
	ackTimeouts  atomic.Uint64
	reconnects   atomic.Uint64
	observations atomic.Uint64

	sink   InboundSink
	sinkMu sync.RWMutex

	inbound chan inboundEvent

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger Logger
}

// OpenPLM opens the modem port and starts the receive loop.
func OpenPLM(opts PLMOptions) (*PLM, error) {
	if opts.Name == "" {
		return nil, errors.New("plm: name is required")
	}
	if opts.Open == nil {
		return nil, errors.New("plm: port opener is required")
	}

	port, err := opts.Open()
	if err != nil {
		return nil, fmt.Errorf("plm %s: opening port: %w", opts.Name, err)
	}

	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}

	p := &PLM{
		name:       opts.Name,
		priority:   opts.Priority,
		ackTimeout: ackTimeout,
		open:       opts.Open,
		port:       port,
		echoes:     make(chan plmEcho, 1),
		lastSent:   make(map[Address]string),
		inbound:    make(chan inboundEvent, inboundQueueSize),
		done:       make(chan struct{}),
		logger:     opts.Logger,
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	p.connected.Store(true)

	// A single dispatcher keeps observations for a device in bus order.
	p.wg.Add(2)
	go p.receiveLoop()
	go p.dispatchLoop()

	return p, nil
}

// Name implements Interface.
func (p *PLM) Name() string { return p.name }

// Priority implements Interface.
func (p *PLM) Priority() int { return p.priority }

// Healthy implements Interface: the port is open and the modem is answering.
func (p *PLM) Healthy() bool {
	return p.connected.Load() && p.consecutiveFails.Load() < unhealthyAfterTimeouts
}

// Attach implements Interface.
func (p *PLM) Attach(sink InboundSink) {
	p.sinkMu.Lock()
	p.sink = sink
	p.sinkMu.Unlock()
}

// Stats returns a snapshot of the modem counters.
func (p *PLM) Stats() PLMStats {
	return PLMStats{
		FramesRx:     p.framesRx.Load(),
		CommandsTx:   p.commandsTx.Load(),
		NAKs:         p.naks.Load(),
		AckTimeouts:  p.ackTimeouts.Load(),
		Reconnects:   p.reconnects.Load(),
		Observations: p.observations.Load(),
	}
}

// Send implements Interface. It returns SendPending once the modem has
// accepted the frame; the device's status reply confirms the command.
func (p *PLM) Send(ctx context.Context, cmd Command) (SendStatus, error) {
	frame, err := encodeSend(cmd)
	if err != nil {
		return SendPending, err
	}

	addr, _ := ParseAddress(cmd.Address) //nolint:errcheck // validated by encodeSend
	p.lastSentMu.Lock()
	p.lastSent[addr] = cmd.RequestID
	p.lastSentMu.Unlock()

	if cmd.Label == LabelStatus {
		p.statusPending.Store(addr, time.Now())
	}

	if err := p.transmit(ctx, frame); err != nil {
		return SendPending, err
	}
	return SendPending, nil
}

// transmit writes a frame and waits for the modem echo, retrying on NAK.
func (p *PLM) transmit(ctx context.Context, frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(nakRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return ErrPortClosed
			}
		}

		lastErr = p.writeOnce(ctx, frame)
		if !errors.Is(lastErr, ErrNAK) {
			return lastErr
		}
	}
	return lastErr
}

func (p *PLM) writeOnce(ctx context.Context, frame []byte) error {
	// Discard a stale echo from an earlier timed-out send.
	select {
	case <-p.echoes:
	default:
	}

	p.portMu.RLock()
	port := p.port
	p.portMu.RUnlock()
	if port == nil || !p.connected.Load() {
		return ErrPortClosed
	}

	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("plm %s: write: %w", p.name, err)
	}
	p.commandsTx.Add(1)

	timer := time.NewTimer(p.ackTimeout)
	defer timer.Stop()

	for {
		select {
		case echo := <-p.echoes:
			if echo.address != (Address{frame[2], frame[3], frame[4]}) || echo.cmd1 != frame[6] {
				continue
			}
			if !echo.ack {
				p.naks.Add(1)
				return ErrNAK
			}
			p.consecutiveFails.Store(0)
			return nil
		case <-timer.C:
			p.ackTimeouts.Add(1)
			p.consecutiveFails.Add(1)
			return fmt.Errorf("%w after %v", ErrAckTimeout, p.ackTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrPortClosed
		}
	}
}

// receiveLoop reads frames until Close, reopening the port after failures.
func (p *PLM) receiveLoop() {
	defer p.wg.Done()

	for {
		p.portMu.RLock()
		port := p.port
		p.portMu.RUnlock()

		err := p.readFrames(port)
		if p.isClosed() {
			return
		}

		p.logger.Warn("PLM read failed, reconnecting", "interface", p.name, "error", err)
		p.connected.Store(false)
		if !p.reconnect() {
			return
		}
	}
}

// readFrames processes frames from one port until a fatal read error.
func (p *PLM) readFrames(port io.Reader) error {
	fr := newFrameReader(port)
	for {
		frame, err := fr.next()
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) && !p.isClosed() {
				continue
			}
			return err
		}
		p.framesRx.Add(1)
		p.handleFrame(frame)
	}
}

func (p *PLM) handleFrame(frame plmFrame) {
	if echo, ok := frame.echo(); ok {
		select {
		case p.echoes <- echo:
		default:
			// Nobody waiting; a late echo after a timeout.
		}
		return
	}

	if msg, ok := frame.standard(); ok {
		p.handleStandard(msg)
	}
}

// handleStandard turns device messages into observations or completions.
func (p *PLM) handleStandard(msg standardMessage) {
	switch msg.messageType() {
	case msgDirectACK:
		if _, waiting := p.statusPending.LoadAndDelete(msg.from); waiting {
			p.emitObservation(msg.from, msg.cmd2)
			return
		}
		switch msg.cmd1 {
		case cmdOn, cmdOnFast:
			p.emitObservation(msg.from, msg.cmd2)
		case cmdOff, cmdOffFast:
			p.emitObservation(msg.from, 0)
		case cmdBrighten, cmdDim, cmdStopManualChange:
			// Step and ramp acks do not carry the resulting level.
			go p.requestStatus(msg.from)
		}

	case msgDirectNAK:
		p.lastSentMu.Lock()
		requestID := p.lastSent[msg.from]
		delete(p.lastSent, msg.from)
		p.lastSentMu.Unlock()
		if requestID != "" {
			p.enqueue(inboundEvent{
				completion: true,
				requestID:  requestID,
				err:        fmt.Errorf("device %s refused command 0x%02X", msg.from, msg.cmd1),
			})
		}

	case msgAllLinkBroadcast:
		// Local button presses on a controller.
		switch msg.cmd1 {
		case cmdOn, cmdOnFast:
			p.emitObservation(msg.from, 0xFF)
		case cmdOff, cmdOffFast:
			p.emitObservation(msg.from, 0)
		case cmdStopManualChange:
			go p.requestStatus(msg.from)
		}
	}
}

// requestStatus asks a device for its level after a change that did not
// report one.
func (p *PLM) requestStatus(addr Address) {
	p.statusPending.Store(addr, time.Now())
	frame := []byte{plmSTX, plmSendMessage, addr[0], addr[1], addr[2], plmDirectFlags, cmdStatusRequest, 0x00}

	ctx, cancel := context.WithTimeout(context.Background(), 2*p.ackTimeout)
	defer cancel()
	if err := p.transmit(ctx, frame); err != nil {
		p.statusPending.Delete(addr)
		p.logger.Debug("status request failed", "interface", p.name, "address", addr.String(), "error", err)
	}
}

func (p *PLM) emitObservation(from Address, level byte) {
	p.observations.Add(1)
	p.enqueue(inboundEvent{obs: &Observation{
		Address:    from.String(),
		RawLevel:   float64(level),
		Interface:  p.name,
		ObservedAt: time.Now(),
	}})
}

func (p *PLM) enqueue(ev inboundEvent) {
	select {
	case p.inbound <- ev:
	case <-p.done:
	default:
		p.logger.Warn("PLM inbound queue full, dropping event", "interface", p.name)
	}
}

func (p *PLM) dispatchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case ev := <-p.inbound:
			p.dispatch(ev)
		}
	}
}

func (p *PLM) dispatch(ev inboundEvent) {
	p.sinkMu.RLock()
	sink := p.sink
	p.sinkMu.RUnlock()
	if sink == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("PLM inbound handler panic", "interface", p.name, "panic", r)
		}
	}()

	if ev.completion {
		sink.Complete(ev.requestID, ev.err)
		return
	}
	sink.Observe(context.Background(), *ev.obs)
}

// reconnect reopens the port with exponential backoff. It returns false if
// the PLM was closed meanwhile.
func (p *PLM) reconnect() bool {
	p.portMu.Lock()
	if p.port != nil {
		p.port.Close() //nolint:errcheck // replacing a broken port
		p.port = nil
	}
	p.portMu.Unlock()

	backoff := reconnectInitialBackoff
	for {
		select {
		case <-p.done:
			return false
		case <-time.After(backoff):
		}

		port, err := p.open()
		if err == nil {
			p.portMu.Lock()
			p.port = port
			p.portMu.Unlock()
			p.consecutiveFails.Store(0)
			p.connected.Store(true)
			p.reconnects.Add(1)
			p.logger.Info("PLM reconnected", "interface", p.name)
			return true
		}

		p.logger.Warn("PLM reopen failed", "interface", p.name, "error", err, "retry_in", backoff)
		backoff = min(backoff*2, reconnectMaxBackoff)
	}
}

func (p *PLM) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Close stops the loops and closes the port. Safe to call more than once.
func (p *PLM) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.connected.Store(false)

		p.portMu.Lock()
		if p.port != nil {
			err = p.port.Close()
			p.port = nil
		}
		p.portMu.Unlock()

		p.wg.Wait()
	})
	return err
}
