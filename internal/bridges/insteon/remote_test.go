package insteon

import (
	"context"
	"encoding/json"
	"testing"
)

func newTestRemote(t *testing.T, oneWay bool) (*Remote, *MockMQTTClient, *chanSink) {
	t.Helper()
	client := NewMockMQTTClient()
	r, err := NewRemote(RemoteOptions{
		Name:        "relay",
		Priority:    1,
		TopicPrefix: "insteon-relay/garage/",
		OneWay:      oneWay,
		Client:      client,
	})
	if err != nil {
		t.Fatalf("NewRemote() error = %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sink := newChanSink()
	r.Attach(sink)
	return r, client, sink
}

func TestNewRemote_Validation(t *testing.T) {
	client := NewMockMQTTClient()
	tests := []struct {
		name string
		opts RemoteOptions
	}{
		{"missing name", RemoteOptions{Client: client, TopicPrefix: "x"}},
		{"missing client", RemoteOptions{Name: "r", TopicPrefix: "x"}},
		{"missing prefix", RemoteOptions{Name: "r", Client: client}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRemote(tt.opts); err == nil {
				t.Error("NewRemote() should fail")
			}
		})
	}
}

func TestRemote_Send(t *testing.T) {
	r, client, _ := newTestRemote(t, false)

	status, err := r.Send(context.Background(), Command{RequestID: "r1", Address: lampAddr, Label: LabelDim, Level: levelPtr(40)})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if status != SendPending {
		t.Errorf("status = %v, want pending", status)
	}

	msgs := client.PublishedTo("insteon-relay/garage/1A.2B.3C/set")
	if len(msgs) != 1 {
		t.Fatalf("published %d set messages, want 1", len(msgs))
	}
	var payload remoteSetPayload
	if err := json.Unmarshal(msgs[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.RequestID != "r1" || payload.Command != LabelDim || payload.Level == nil || *payload.Level != 40 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestRemote_OneWay(t *testing.T) {
	r, client, _ := newTestRemote(t, true)

	status, err := r.Send(context.Background(), Command{RequestID: "r1", Address: lampAddr, Label: LabelOn})
	if err != nil || status != SendDone {
		t.Errorf("Send() = %v, %v, want done", status, err)
	}

	client.mu.Lock()
	subs := append([]string(nil), client.subscriptions...)
	client.mu.Unlock()
	if len(subs) != 1 || subs[0] != "insteon-relay/garage/+/state" {
		t.Errorf("subscriptions = %v, want state only", subs)
	}
}

func TestRemote_Healthy(t *testing.T) {
	r, client, _ := newTestRemote(t, false)
	if !r.Healthy() {
		t.Error("remote should be healthy while MQTT is connected")
	}
	client.SetConnected(false)
	if r.Healthy() {
		t.Error("remote should be unhealthy without MQTT")
	}
}

func TestRemote_StateBecomesObservation(t *testing.T) {
	_, client, sink := newTestRemote(t, false)

	ok := client.SimulateMessage("insteon-relay/garage/+/state", "insteon-relay/garage/1a2b3c/state", []byte(`{"level": 153}`))
	if !ok {
		t.Fatal("state topic not subscribed")
	}

	obs := waitObservation(t, sink)
	if obs.Address != "1a2b3c" || obs.RawLevel != 153 || obs.Interface != "relay" {
		t.Errorf("observation = %+v", obs)
	}
}

func TestRemote_ResultBecomesCompletion(t *testing.T) {
	_, client, sink := newTestRemote(t, false)
	topic := "insteon-relay/garage/+/result"

	client.SimulateMessage(topic, "insteon-relay/garage/1A.2B.3C/result", []byte(`{"request_id": "r1", "ok": true}`))
	client.SimulateMessage(topic, "insteon-relay/garage/1A.2B.3C/result", []byte(`{"request_id": "r2", "ok": false, "message": "no route"}`))
	client.SimulateMessage(topic, "insteon-relay/garage/1A.2B.3C/result", []byte(`not json`))

	first := <-sink.completions
	if first.requestID != "r1" || first.err != nil {
		t.Errorf("first = %+v", first)
	}
	second := <-sink.completions
	if second.requestID != "r2" || second.err == nil || second.err.Error() != "no route" {
		t.Errorf("second = %+v", second)
	}
	if len(sink.completions) != 0 {
		t.Error("invalid payload must not complete anything")
	}
}
