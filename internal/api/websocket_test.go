package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-insteon/internal/bridges/insteon"
)

func dialTestWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return f
}

func sendFrame(t *testing.T, conn *websocket.Conn, f ClientFrame) ServerFrame {
	t.Helper()
	if err := conn.WriteJSON(f); err != nil {
		t.Fatalf("write %s: %v", f.Type, err)
	}
	return readFrame(t, conn)
}

func subscribeWS(t *testing.T, conn *websocket.Conn, addresses []string, channels ...string) {
	t.Helper()
	reply := sendFrame(t, conn, ClientFrame{Type: FrameSubscribe, ID: "sub-1", Channels: channels, Addresses: addresses})
	if reply.Type != FrameSubscribed || reply.ID != "sub-1" {
		t.Fatalf("subscribe reply = %+v", reply)
	}
}

func decodePayload(t *testing.T, f ServerFrame) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(f.Payload, &body); err != nil {
		t.Fatalf("payload %q: %v", f.Payload, err)
	}
	return body
}

func newRelayEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, nil)
	if err := env.srv.subscribeEvents(); err != nil {
		t.Fatalf("subscribeEvents: %v", err)
	}
	return env
}

func TestWebSocketRelaysStateMessages(t *testing.T) {
	env := newRelayEnv(t)
	conn := dialTestWS(t, env)
	subscribeWS(t, conn, nil, ChannelDeviceState)

	payload := []byte(`{"device_id":"lamp-1","state":{"level":100},"protocol":"insteon","address":"1A.2B.3C","source":"alice"}`)
	env.events.deliver(t, insteon.StateTopic("+"), insteon.StateTopic("1A.2B.3C"), payload)

	f := readFrame(t, conn)
	if f.Type != FrameEvent || f.Channel != ChannelDeviceState || f.Address != "1A.2B.3C" {
		t.Fatalf("frame = %+v, want device state event for 1A.2B.3C", f)
	}
	if body := decodePayload(t, f); body["device_id"] != "lamp-1" || body["source"] != "alice" {
		t.Errorf("payload = %v", body)
	}
}

func TestWebSocketOnlyDeliversSubscribedChannels(t *testing.T) {
	env := newRelayEnv(t)
	conn := dialTestWS(t, env)
	subscribeWS(t, conn, nil, ChannelCommandAck)

	env.events.deliver(t, insteon.HealthTopic(), insteon.HealthTopic(), []byte(`{"bridge":"insteon","status":"healthy"}`))
	env.events.deliver(t, insteon.AckTopic("+"), insteon.AckTopic("1A.2B.3C"), []byte(`{"command_id":"req-1","status":"done"}`))

	f := readFrame(t, conn)
	if f.Channel != ChannelCommandAck {
		t.Fatalf("channel = %q, want %q", f.Channel, ChannelCommandAck)
	}
	if body := decodePayload(t, f); body["command_id"] != "req-1" {
		t.Errorf("payload = %v", body)
	}
}

func TestWebSocketAddressFilter(t *testing.T) {
	env := newRelayEnv(t)
	conn := dialTestWS(t, env)
	subscribeWS(t, conn, []string{"0a0b0c"}, ChannelDeviceState, ChannelBridgeHealth)

	env.events.deliver(t, insteon.StateTopic("+"), insteon.StateTopic("1A.2B.3C"), []byte(`{"device_id":"lamp-1"}`))
	env.events.deliver(t, insteon.StateTopic("+"), insteon.StateTopic("0A.0B.0C"), []byte(`{"device_id":"fan-1"}`))
	env.events.deliver(t, insteon.HealthTopic(), insteon.HealthTopic(), []byte(`{"status":"healthy"}`))

	f := readFrame(t, conn)
	if f.Address != "0A.0B.0C" || decodePayload(t, f)["device_id"] != "fan-1" {
		t.Fatalf("first frame = %+v, want fan-1 only", f)
	}
	if f = readFrame(t, conn); f.Channel != ChannelBridgeHealth {
		t.Errorf("second frame = %+v, want health regardless of address filter", f)
	}
}

func TestWebSocketSubscriptionReplies(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialTestWS(t, env)

	tests := []struct {
		name          string
		frame         ClientFrame
		wantType      string
		wantChannels  []string
		wantAddresses []string
	}{
		{
			name:          "subscribe",
			frame:         ClientFrame{Type: FrameSubscribe, ID: "1", Channels: []string{ChannelDeviceState, ChannelCommandAck}, Addresses: []string{"1a.2b.3c"}},
			wantType:      FrameSubscribed,
			wantChannels:  []string{ChannelCommandAck, ChannelDeviceState},
			wantAddresses: []string{"1A.2B.3C"},
		},
		{
			name:          "unsubscribe one channel",
			frame:         ClientFrame{Type: FrameUnsubscribe, ID: "2", Channels: []string{ChannelCommandAck}},
			wantType:      FrameSubscribed,
			wantChannels:  []string{ChannelDeviceState},
			wantAddresses: []string{"1A.2B.3C"},
		},
		{
			name:     "unknown channel",
			frame:    ClientFrame{Type: FrameSubscribe, ID: "3", Channels: []string{"scene.activated"}},
			wantType: FrameError,
		},
		{
			name:     "bad address",
			frame:    ClientFrame{Type: FrameSubscribe, ID: "4", Channels: []string{ChannelDeviceState}, Addresses: []string{"garbage"}},
			wantType: FrameError,
		},
		{
			name:     "unsubscribe everything",
			frame:    ClientFrame{Type: FrameUnsubscribe, ID: "5"},
			wantType: FrameSubscribed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := sendFrame(t, conn, tt.frame)
			if reply.Type != tt.wantType || reply.ID != tt.frame.ID {
				t.Fatalf("reply = %+v, want %s for id %s", reply, tt.wantType, tt.frame.ID)
			}
			if tt.wantType == FrameError {
				if reply.Error == "" {
					t.Error("error reply without message")
				}
				return
			}
			if strings.Join(reply.Channels, ",") != strings.Join(tt.wantChannels, ",") {
				t.Errorf("channels = %v, want %v", reply.Channels, tt.wantChannels)
			}
			if strings.Join(reply.Addresses, ",") != strings.Join(tt.wantAddresses, ",") {
				t.Errorf("addresses = %v, want %v", reply.Addresses, tt.wantAddresses)
			}
		})
	}
}

func TestWebSocketPingAndErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialTestWS(t, env)

	if f := sendFrame(t, conn, ClientFrame{Type: FramePing, ID: "p1"}); f.Type != FramePong || f.ID != "p1" {
		t.Errorf("ping reply = %+v", f)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Type != FrameError {
		t.Errorf("invalid json reply = %+v", f)
	}

	if f := sendFrame(t, conn, ClientFrame{Type: "dance", ID: "d1"}); f.Type != FrameError || f.ID != "d1" {
		t.Errorf("unknown type reply = %+v", f)
	}
}

func TestWebSocketIgnoresUnparseableEvents(t *testing.T) {
	env := newRelayEnv(t)
	conn := dialTestWS(t, env)
	subscribeWS(t, conn, nil, ChannelDeviceState)

	env.events.deliver(t, insteon.StateTopic("+"), insteon.StateTopic("1A.2B.3C"), []byte("garbage"))
	env.events.deliver(t, insteon.StateTopic("+"), insteon.StateTopic("1A.2B.3C"), []byte(`{"device_id":"lamp-1"}`))

	if body := decodePayload(t, readFrame(t, conn)); body["device_id"] != "lamp-1" {
		t.Errorf("payload = %v, want the valid event only", body)
	}
}

func TestEventHubClosedClient(t *testing.T) {
	env := newTestEnv(t, nil)
	hub := env.srv.hub

	c := newWSClient(nil)
	c.apply(true, []string{ChannelBridgeHealth}, nil)
	hub.add(c)
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.remove(c)
	hub.remove(c)
	hub.publish(relayEvent{channel: ChannelBridgeHealth, payload: json.RawMessage(`{}`)})

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	if !c.enqueue([]byte("late")) {
		t.Error("enqueue on a closed client should be a silent no-op")
	}
}
