package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
)

// fakeConn records publishes and subscriptions so tests can drive the
// client without a broker.
type fakeConn struct {
	published    []publishedMsg
	publishErr   error
	subs         map[string]nats.MsgHandler
	subscribeErr error
	connected    bool
	drainErr     error
	drained      bool
	closed       bool
}

type publishedMsg struct {
	subject string
	data    []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		subs:      make(map[string]nats.MsgHandler),
		connected: true,
	}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (f *fakeConn) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.subs[subject] = handler
	return nil, nil
}

func (f *fakeConn) IsConnected() bool { return f.connected }
func (f *fakeConn) Drain() error      { f.drained = true; return f.drainErr }
func (f *fakeConn) Close()            { f.closed = true }

// deliver hands a raw message to the handler registered for subject.
func (f *fakeConn) deliver(subject string, data []byte) {
	if handler, ok := f.subs[subject]; ok {
		handler(&nats.Msg{Subject: subject, Data: data})
	}
}

func newTestClient(conn natsConn) *Client {
	return &Client{
		conn:   conn,
		prefix: "auricle",
		log:    slog.Default(),
	}
}

// ── publishing ──

func TestPublishWakeState_Active(t *testing.T) {
	conn := newFakeConn()
	client := newTestClient(conn)

	if err := client.PublishWakeState(context.Background(), "active", "hey_jarvis", 0.91); err != nil {
		t.Fatalf("PublishWakeState() error = %v", err)
	}

	if len(conn.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(conn.published))
	}
	msg := conn.published[0]
	if msg.subject != "auricle.wake.state" {
		t.Errorf("subject = %q, want %q", msg.subject, "auricle.wake.state")
	}

	var payload WakeState
	if err := json.Unmarshal(msg.data, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload.Type != "wakeword_state" {
		t.Errorf("Type = %q, want %q", payload.Type, "wakeword_state")
	}
	if payload.State != "active" {
		t.Errorf("State = %q, want %q", payload.State, "active")
	}
	if payload.Model != "hey_jarvis" {
		t.Errorf("Model = %q, want %q", payload.Model, "hey_jarvis")
	}
	if payload.Score < 0.90 || payload.Score > 0.92 {
		t.Errorf("Score = %v, want ~0.91", payload.Score)
	}
}

func TestPublishWakeState_ListeningOmitsModel(t *testing.T) {
	conn := newFakeConn()
	client := newTestClient(conn)

	if err := client.PublishWakeState(context.Background(), "listening", "", 0); err != nil {
		t.Fatalf("PublishWakeState() error = %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(conn.published[0].data, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload["state"] != "listening" {
		t.Errorf("state = %v, want %q", payload["state"], "listening")
	}
	if _, ok := payload["model"]; ok {
		t.Error("model key present on listening transition, want omitted")
	}
	if _, ok := payload["score"]; ok {
		t.Error("score key present on listening transition, want omitted")
	}
}

func TestPublishTranscript(t *testing.T) {
	conn := newFakeConn()
	client := newTestClient(conn)
	ctx := context.Background()

	if err := client.PublishTranscript(ctx, "turn on the", false); err != nil {
		t.Fatalf("PublishTranscript() error = %v", err)
	}
	if err := client.PublishTranscript(ctx, "turn on the lights", true); err != nil {
		t.Fatalf("PublishTranscript() error = %v", err)
	}

	if len(conn.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(conn.published))
	}
	for _, msg := range conn.published {
		if msg.subject != "auricle.stt.transcript" {
			t.Errorf("subject = %q, want %q", msg.subject, "auricle.stt.transcript")
		}
	}

	var interim, final Transcript
	if err := json.Unmarshal(conn.published[0].data, &interim); err != nil {
		t.Fatalf("interim payload: %v", err)
	}
	if err := json.Unmarshal(conn.published[1].data, &final); err != nil {
		t.Fatalf("final payload: %v", err)
	}
	if interim.Type != "transcript" || interim.Text != "turn on the" || interim.Final {
		t.Errorf("interim = %+v, want type=transcript text=%q final=false", interim, "turn on the")
	}
	if final.Text != "turn on the lights" || !final.Final {
		t.Errorf("final = %+v, want text=%q final=true", final, "turn on the lights")
	}
}

func TestPublish_ConnectionError(t *testing.T) {
	boom := errors.New("connection closed")
	conn := newFakeConn()
	conn.publishErr = boom
	client := newTestClient(conn)

	err := client.PublishTranscript(context.Background(), "hello", true)
	if !errors.Is(err, boom) {
		t.Errorf("PublishTranscript() error = %v, want wrapped %v", err, boom)
	}
}

// ── agent state ──

func TestSubscribeAgentState_BusyClassification(t *testing.T) {
	conn := newFakeConn()
	client := newTestClient(conn)

	type call struct {
		busy  bool
		state string
	}
	var calls []call
	err := client.SubscribeAgentState(func(busy bool, state string) {
		calls = append(calls, call{busy: busy, state: state})
	})
	if err != nil {
		t.Fatalf("SubscribeAgentState() error = %v", err)
	}

	for _, state := range []string{"thinking", "speaking", "idle", "listening"} {
		data, _ := json.Marshal(agentState{State: state})
		conn.deliver("auricle.agent.state", data)
	}

	want := []call{
		{busy: true, state: "thinking"},
		{busy: true, state: "speaking"},
		{busy: false, state: "idle"},
		{busy: false, state: "listening"},
	}
	if len(calls) != len(want) {
		t.Fatalf("handler called %d times, want %d", len(calls), len(want))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls[%d] = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestSubscribeAgentState_MalformedDropped(t *testing.T) {
	conn := newFakeConn()
	client := newTestClient(conn)

	called := false
	if err := client.SubscribeAgentState(func(bool, string) { called = true }); err != nil {
		t.Fatalf("SubscribeAgentState() error = %v", err)
	}

	conn.deliver("auricle.agent.state", []byte("not json"))

	if called {
		t.Error("handler called for malformed payload, want dropped")
	}
}

func TestSubscribeAgentState_SubscribeError(t *testing.T) {
	boom := errors.New("permissions violation")
	conn := newFakeConn()
	conn.subscribeErr = boom
	client := newTestClient(conn)

	err := client.SubscribeAgentState(func(bool, string) {})
	if !errors.Is(err, boom) {
		t.Errorf("SubscribeAgentState() error = %v, want wrapped %v", err, boom)
	}
}

func TestIsBusyState(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{"thinking", true},
		{"speaking", true},
		{"idle", false},
		{"listening", false},
		{"", false},
		{"THINKING", false},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := isBusyState(tt.state); got != tt.want {
				t.Errorf("isBusyState(%q) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

// ── lifecycle ──

func TestIsConnected(t *testing.T) {
	conn := newFakeConn()
	client := newTestClient(conn)

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	conn.connected = false
	if client.IsConnected() {
		t.Error("IsConnected() = true after disconnect, want false")
	}
}

func TestClose_Drains(t *testing.T) {
	conn := newFakeConn()
	client := newTestClient(conn)

	client.Close()

	if !conn.drained {
		t.Error("Close() did not drain the connection")
	}
	if conn.closed {
		t.Error("Close() hard-closed after successful drain")
	}
}

func TestClose_DrainErrorFallsBackToClose(t *testing.T) {
	conn := newFakeConn()
	conn.drainErr = errors.New("drain timeout")
	client := newTestClient(conn)

	client.Close()

	if !conn.closed {
		t.Error("Close() did not hard-close after drain failure")
	}
}
