package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-insteon/internal/bridges/insteon"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/logging"
)

// Frame types on the live event stream.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameSubscribed  = "subscribed"
	FrameEvent       = "event"
	FrameError       = "error"
)

// Event channels a client can subscribe to. Each relays one bridge topic.
const (
	ChannelDeviceState  = "device.state_changed"
	ChannelCommandAck   = "command.ack"
	ChannelBridgeHealth = "bridge.health"
)

const wsQueueSize = 64

// ClientFrame is a message from a stream client. Addresses optionally limits
// device state and ack events to the given Insteon addresses.
type ClientFrame struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"`
	Channels  []string `json:"channels,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// ServerFrame is a message to a stream client. Payload carries the bridge's
// MQTT message unchanged.
type ServerFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Address   string          `json:"address,omitempty"`
	Channels  []string        `json:"channels,omitempty"`
	Addresses []string        `json:"addresses,omitempty"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// relayEvent is one bridge message bound for stream clients. Health events
// have no address.
type relayEvent struct {
	channel string
	address string
	payload json.RawMessage
}

// relay maps a bridge topic to a stream channel.
type relay struct {
	topic      string
	channel    string
	perAddress bool
}

func relays() []relay {
	return []relay{
		{insteon.StateTopic("+"), ChannelDeviceState, true},
		{insteon.AckTopic("+"), ChannelCommandAck, true},
		{insteon.HealthTopic(), ChannelBridgeHealth, false},
	}
}

func knownChannel(name string) bool {
	for _, r := range relays() {
		if r.channel == name {
			return true
		}
	}
	return false
}

// eventHub fans relay events out to connected stream clients.
type eventHub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func newEventHub(logger *logging.Logger) *eventHub {
	return &eventHub{logger: logger, clients: make(map[*wsClient]struct{})}
}

// run closes every client once ctx is done.
func (h *eventHub) run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *eventHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("event stream client connected", "clients", n)
}

func (h *eventHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("event stream client disconnected", "clients", n)
}

// ClientCount returns the number of connected stream clients.
func (h *eventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// publish queues ev for every interested client. Slow clients lose events
// rather than stall the relay.
func (h *eventHub) publish(ev relayEvent) {
	data, err := json.Marshal(ServerFrame{
		Type:    FrameEvent,
		Channel: ev.channel,
		Address: ev.address,
		Payload: ev.payload,
	})
	if err != nil {
		h.logger.Error("failed to encode stream event", "channel", ev.channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.wants(ev) && !c.enqueue(data) {
			h.logger.Warn("event stream client too slow, event dropped", "channel", ev.channel)
		}
	}
}

// wsClient is one stream connection and its subscription.
type wsClient struct {
	conn *websocket.Conn

	mu        sync.Mutex
	queue     chan []byte
	closed    bool
	channels  map[string]bool
	addresses map[string]bool
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:      conn,
		queue:     make(chan []byte, wsQueueSize),
		channels:  make(map[string]bool),
		addresses: make(map[string]bool),
	}
}

func (c *wsClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (c *wsClient) wants(ev relayEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.channels[ev.channel] {
		return false
	}
	return ev.address == "" || len(c.addresses) == 0 || c.addresses[ev.address]
}

// apply updates the subscription and returns the resulting channels and
// addresses. Unsubscribing with no channels clears everything.
func (c *wsClient) apply(subscribe bool, channels, addresses []string) ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case subscribe:
		for _, ch := range channels {
			c.channels[ch] = true
		}
		for _, a := range addresses {
			c.addresses[a] = true
		}
	case len(channels) == 0 && len(addresses) == 0:
		c.channels = make(map[string]bool)
		c.addresses = make(map[string]bool)
	default:
		for _, ch := range channels {
			delete(c.channels, ch)
		}
		for _, a := range addresses {
			delete(c.addresses, a)
		}
	}
	return sortedKeys(c.channels), sortedKeys(c.addresses)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// subscribeEvents relays the bridge's own MQTT output to stream clients.
func (s *Server) subscribeEvents() error {
	if s.events == nil {
		return nil
	}

	for _, r := range relays() {
		err := s.events.Subscribe(r.topic, 1, func(topic string, payload []byte) error {
			if !json.Valid(payload) {
				s.logger.Warn("dropping malformed bridge message", "topic", topic)
				return nil
			}
			ev := relayEvent{channel: r.channel, payload: json.RawMessage(payload)}
			if r.perAddress {
				ev.address = topic[strings.LastIndex(topic, "/")+1:]
			}
			s.hub.publish(ev)
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("relaying bridge messages to event stream", "topic", r.topic, "channel", r.channel)
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and serves the event stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(conn)
	s.hub.add(c)

	go s.writeStream(c, s.cfg.WebSocket)
	go s.readStream(c, s.cfg.WebSocket)
}

// readStream handles client frames until the connection fails, then
// removes the client.
func (s *Server) readStream(c *wsClient, cfg config.WebSocketConfig) {
	defer s.hub.remove(c)

	alive := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(alive)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend("") //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("event stream read failed", "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // see above
		c.enqueue(s.answer(c, data))
	}
}

// answer processes one client frame and returns the encoded reply.
func (s *Server) answer(c *wsClient, data []byte) []byte {
	var in ClientFrame
	reply := ServerFrame{Type: FrameError}

	if err := json.Unmarshal(data, &in); err != nil {
		reply.Error = "invalid JSON message"
		return encodeFrame(reply)
	}
	reply.ID = in.ID

	switch in.Type {
	case FramePing:
		reply.Type = FramePong
	case FrameSubscribe, FrameUnsubscribe:
		addresses, problem := validateSubscription(in)
		if problem != "" {
			reply.Error = problem
			break
		}
		reply.Type = FrameSubscribed
		reply.Channels, reply.Addresses = c.apply(in.Type == FrameSubscribe, in.Channels, addresses)
	default:
		reply.Error = "unknown message type: " + in.Type
	}
	return encodeFrame(reply)
}

// validateSubscription checks channel names and normalizes addresses.
func validateSubscription(in ClientFrame) ([]string, string) {
	for _, ch := range in.Channels {
		if !knownChannel(ch) {
			return nil, "unknown channel: " + ch
		}
	}
	addresses := make([]string, 0, len(in.Addresses))
	for _, raw := range in.Addresses {
		a, err := insteon.NormalizeAddress(raw)
		if err != nil {
			return nil, "invalid address: " + raw
		}
		addresses = append(addresses, a)
	}
	return addresses, ""
}

func encodeFrame(f ServerFrame) []byte {
	data, _ := json.Marshal(f) //nolint:errcheck // ServerFrame always encodes
	return data
}

// writeStream drains the client queue and keeps the connection alive with
// pings. It returns when the queue is closed or a write fails.
func (s *Server) writeStream(c *wsClient, cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case data, ok := <-c.queue:
			c.conn.SetWriteDeadline(time.Now().Add(deadline)) //nolint:errcheck // write error is checked
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(deadline)) //nolint:errcheck // write error is checked
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
