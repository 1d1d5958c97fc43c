package insteon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// remoteSetPayload is published to {prefix}/{address}/set.
type remoteSetPayload struct {
	RequestID string   `json:"request_id"`
	Command   string   `json:"command"`
	Level     *float64 `json:"level,omitempty"`
}

// remoteStatePayload arrives on {prefix}/{address}/state with a raw 0-255 level.
type remoteStatePayload struct {
	Level float64 `json:"level"`
}

// remoteResultPayload arrives on {prefix}/{address}/result.
type remoteResultPayload struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
}

// RemoteOptions configures a Remote interface.
type RemoteOptions struct {
	Name        string
	Priority    int
	TopicPrefix string
	OneWay      bool
	Client      MQTTClient
	Logger      Logger
}

// Remote is an Interface reached over MQTT, such as a modem attached to
// another host running a thin relay.
type Remote struct {
	name     string
	priority int
	prefix   string
	oneWay   bool
	client   MQTTClient

	sink   InboundSink
	sinkMu sync.RWMutex

	logger Logger
}

// NewRemote creates a remote interface. Call Start to subscribe to its
// status topics.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.Name == "" {
		return nil, errors.New("remote: name is required")
	}
	if opts.Client == nil {
		return nil, errors.New("remote: MQTT client is required")
	}
	prefix := strings.TrimSuffix(opts.TopicPrefix, "/")
	if prefix == "" {
		return nil, errors.New("remote: topic prefix is required")
	}

	r := &Remote{
		name:     opts.Name,
		priority: opts.Priority,
		prefix:   prefix,
		oneWay:   opts.OneWay,
		client:   opts.Client,
		logger:   opts.Logger,
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

// Start subscribes to the relay's state and result topics. One-way relays
// publish no results.
func (r *Remote) Start() error {
	if err := r.client.Subscribe(r.prefix+"/+/state", 1, r.handleState); err != nil {
		return fmt.Errorf("remote %s: subscribe state: %w", r.name, err)
	}
	if r.oneWay {
		return nil
	}
	if err := r.client.Subscribe(r.prefix+"/+/result", 1, r.handleResult); err != nil {
		return fmt.Errorf("remote %s: subscribe result: %w", r.name, err)
	}
	return nil
}

// Name implements Interface.
func (r *Remote) Name() string { return r.name }

// Priority implements Interface.
func (r *Remote) Priority() int { return r.priority }

// Healthy implements Interface: the relay is reachable while the broker is.
func (r *Remote) Healthy() bool { return r.client.IsConnected() }

// Attach implements Interface.
func (r *Remote) Attach(sink InboundSink) {
	r.sinkMu.Lock()
	r.sink = sink
	r.sinkMu.Unlock()
}

// Send implements Interface.
func (r *Remote) Send(_ context.Context, cmd Command) (SendStatus, error) {
	payload, err := json.Marshal(remoteSetPayload{
		RequestID: cmd.RequestID,
		Command:   cmd.Label,
		Level:     cmd.Level,
	})
	if err != nil {
		return SendPending, fmt.Errorf("remote %s: encoding command: %w", r.name, err)
	}

	if err := r.client.Publish(r.topic(cmd.Address, "set"), payload, 1, false); err != nil {
		return SendPending, fmt.Errorf("remote %s: publish: %w", r.name, err)
	}

	if r.oneWay {
		return SendDone, nil
	}
	return SendPending, nil
}

func (r *Remote) topic(address, leaf string) string {
	return r.prefix + "/" + address + "/" + leaf
}

// addressFromTopic extracts {address} from {prefix}/{address}/{leaf}.
func (r *Remote) addressFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, r.prefix+"/")
	if !ok {
		return "", false
	}
	address, _, ok := strings.Cut(rest, "/")
	return address, ok && address != ""
}

func (r *Remote) currentSink() InboundSink {
	r.sinkMu.RLock()
	defer r.sinkMu.RUnlock()
	return r.sink
}

func (r *Remote) handleState(topic string, payload []byte) {
	address, ok := r.addressFromTopic(topic)
	if !ok {
		r.logger.Warn("remote state on unexpected topic", "interface", r.name, "topic", topic)
		return
	}

	var st remoteStatePayload
	if err := json.Unmarshal(payload, &st); err != nil {
		r.logger.Warn("invalid remote state payload", "interface", r.name, "topic", topic, "error", err)
		return
	}

	sink := r.currentSink()
	if sink == nil {
		return
	}
	sink.Observe(context.Background(), Observation{
		Address:    address,
		RawLevel:   st.Level,
		Interface:  r.name,
		ObservedAt: time.Now(),
	})
}

func (r *Remote) handleResult(topic string, payload []byte) {
	var res remoteResultPayload
	if err := json.Unmarshal(payload, &res); err != nil {
		r.logger.Warn("invalid remote result payload", "interface", r.name, "topic", topic, "error", err)
		return
	}
	if res.RequestID == "" {
		return
	}

	sink := r.currentSink()
	if sink == nil {
		return
	}

	var err error
	if !res.OK {
		msg := res.Message
		if msg == "" {
			msg = "relay reported failure"
		}
		err = errors.New(msg)
	}
	sink.Complete(res.RequestID, err)
}
