// Package messaging publishes gate transitions and transcripts to NATS and
// feeds the agent's busy state back into the daemon.
//
// Subjects live under a configurable prefix: the daemon publishes on
// <prefix>.wake.state and <prefix>.stt.transcript, and subscribes to
// <prefix>.agent.state to learn when the downstream agent is thinking or
// speaking. Everything on the wire is JSON.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/auricle-dev/auricle/internal/observe"
)

// Subject suffixes appended to the configured prefix.
const (
	subjWakeState  = "wake.state"
	subjTranscript = "stt.transcript"
	subjAgentState = "agent.state"
)

// Payload type tags.
const (
	typeWakeState  = "wakeword_state"
	typeTranscript = "transcript"
)

// WakeState is the payload published on <prefix>.wake.state. Model and
// Score are set on transitions to active and omitted on the return to
// listening.
type WakeState struct {
	Type  string  `json:"type"`
	State string  `json:"state"`
	Model string  `json:"model,omitempty"`
	Score float32 `json:"score,omitempty"`
}

// Transcript is the payload published on <prefix>.stt.transcript.
type Transcript struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// agentState is the inbound payload on <prefix>.agent.state.
type agentState struct {
	State string `json:"state"`
}

// natsConn is the slice of *nats.Conn the client consumes. Tests
// substitute a recording fake; [Connect] wires the real connection.
type natsConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Drain() error
	Close()
}

var _ natsConn = (*nats.Conn)(nil)

// Client is a NATS client scoped to one subject prefix. Safe for
// concurrent use.
type Client struct {
	conn    natsConn
	prefix  string
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option is a functional option for configuring a Client during Connect.
type Option func(*Client)

// WithLogger sets the logger for connection lifecycle events. Defaults to
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics sets the instrument set for publish telemetry. Nil disables
// metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Connect dials the NATS server at url and returns a client publishing
// under prefix. The connection retries forever with a short backoff, so a
// broker restart costs buffered messages at worst.
func Connect(url, prefix string, opts ...Option) (*Client, error) {
	c := &Client{
		prefix: prefix,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := nats.Connect(url,
		nats.Name("auricle"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.log.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect %q: %w", url, err)
	}

	c.conn = conn
	c.log.Info("connected to nats", "url", conn.ConnectedUrl(), "prefix", prefix)
	return c, nil
}

// PublishWakeState announces a gate transition on <prefix>.wake.state.
func (c *Client) PublishWakeState(ctx context.Context, state, model string, score float32) error {
	payload := WakeState{
		Type:  typeWakeState,
		State: state,
		Model: model,
		Score: score,
	}
	return c.publish(ctx, subject(c.prefix, subjWakeState), payload)
}

// PublishTranscript publishes a recognised utterance on
// <prefix>.stt.transcript.
func (c *Client) PublishTranscript(ctx context.Context, text string, final bool) error {
	payload := Transcript{
		Type:  typeTranscript,
		Text:  text,
		Final: final,
	}
	return c.publish(ctx, subject(c.prefix, subjTranscript), payload)
}

func (c *Client) publish(ctx context.Context, subj string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: marshal %s: %w", subj, err)
	}

	err = c.conn.Publish(subj, data)
	if c.metrics != nil {
		c.metrics.RecordPublish(ctx, subj, err)
	}
	if err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subj, err)
	}
	return nil
}

// SubscribeAgentState listens on <prefix>.agent.state for the downstream
// agent's lifecycle announcements. The handler receives busy=true while
// the agent is thinking or speaking, along with the raw state for logging.
// Malformed payloads are logged and dropped.
func (c *Client) SubscribeAgentState(handler func(busy bool, state string)) error {
	subj := subject(c.prefix, subjAgentState)
	_, err := c.conn.Subscribe(subj, func(msg *nats.Msg) {
		var payload agentState
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.log.Warn("dropping malformed agent state", "subject", msg.Subject, "error", err)
			return
		}
		handler(isBusyState(payload.State), payload.State)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subj, err)
	}
	return nil
}

// IsConnected reports whether the client currently holds a live
// connection. Used by readiness checks.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Close drains the connection, flushing buffered publishes before
// closing.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.log.Warn("nats drain failed, closing hard", "error", err)
		c.conn.Close()
	}
}

// isBusyState reports whether an agent state should hold the gate open:
// wake words interrupt and silence timeouts wait while the agent is
// thinking or speaking.
func isBusyState(state string) bool {
	switch state {
	case "thinking", "speaking":
		return true
	}
	return false
}

func subject(prefix, suffix string) string {
	return prefix + "." + suffix
}
