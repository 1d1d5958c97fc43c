package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-insteon/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "insteonbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient is a Client that was never connected.
func disconnectedClient() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL() TLS = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if opts.ClientID != "insteonbridge-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" {
		t.Errorf("Username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if !opts.WillEnabled || opts.WillTopic != "graylogic/system/status" || !opts.WillRetained {
		t.Errorf("LWT not configured: enabled=%v topic=%q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
}

func TestStatusPayload(t *testing.T) {
	var body map[string]string
	if err := json.Unmarshal([]byte(statusPayload("c1", "offline", "graceful_shutdown")), &body); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if body["status"] != "offline" || body["client_id"] != "c1" || body["reason"] != "graceful_shutdown" {
		t.Errorf("payload = %v", body)
	}

	body = nil
	if err := json.Unmarshal([]byte(statusPayload("c1", "online", "")), &body); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if _, ok := body["reason"]; ok {
		t.Error("online payload should not carry a reason")
	}
}

func TestPublishValidation(t *testing.T) {
	c := disconnectedClient()

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		wantErr error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"bad qos", "graylogic/state/insteon/1A.2B.3C", 3, nil, ErrInvalidQoS},
		{"oversized", "graylogic/state/insteon/1A.2B.3C", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"not connected", "graylogic/state/insteon/1A.2B.3C", 1, []byte("{}"), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnectedClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := c.Subscribe("a/b", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos: %v", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: %v", err)
	}
	if err := c.Subscribe("a/b", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck(t *testing.T) {
	c := disconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() cancelled = %v", err)
	}
}

func TestCloseNeverConnected(t *testing.T) {
	if err := disconnectedClient().Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got, want string
	}{
		{topics.BridgeState("insteon", "1A.2B.3C"), "graylogic/state/insteon/1A.2B.3C"},
		{topics.BridgeCommand("insteon", "1A.2B.3C"), "graylogic/command/insteon/1A.2B.3C"},
		{topics.BridgeAck("insteon", "1A.2B.3C"), "graylogic/ack/insteon/1A.2B.3C"},
		{topics.BridgeHealth("insteon"), "graylogic/health/insteon"},
		{topics.BridgeDiscovery("insteon"), "graylogic/discovery/insteon"},
		{topics.AllBridgeCommands("insteon"), "graylogic/command/insteon/+"},
		{topics.SystemStatus(), "graylogic/system/status"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
