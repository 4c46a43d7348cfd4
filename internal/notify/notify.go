package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is one outbound notification, serialized as JSON on the wire.
type Message struct {
	Rule    string    `json:"rule"`
	Process string    `json:"process"`
	Group   string    `json:"group,omitempty"`
	From    string    `json:"from_state,omitempty"`
	To      string    `json:"to_state"`
	PID     int       `json:"pid,omitempty"`
	At      time.Time `json:"at"`
	Text    string    `json:"text"`
}

// Notifier hands a message to the external notification collaborator.
// Implementations make one bounded attempt; retry policy belongs to the
// collaborator, not the bridge.
type Notifier interface {
	Notify(msg Message) error
}

// Config points at the outbound message queue. An empty URL selects the
// log-only notifier.
type Config struct {
	URL     string
	Subject string
	Timeout time.Duration
}

const (
	defaultSubject = "bridgr.notify"
	defaultTimeout = 3 * time.Second
)

// New picks the NATS notifier when a queue URL is configured, otherwise a
// notifier that records messages to the operational log.
func New(cfg Config, logger *slog.Logger) (Notifier, error) {
	if cfg.URL == "" {
		if logger == nil {
			logger = slog.Default()
		}
		return &LogNotifier{logger: logger}, nil
	}
	return NewNATS(cfg)
}

// LogNotifier writes notifications to the operational log only.
type LogNotifier struct {
	logger *slog.Logger
}

func (n *LogNotifier) Notify(msg Message) error {
	n.logger.Info("notify", "rule", msg.Rule, "process", msg.Process, "to", msg.To, "text", msg.Text)
	return nil
}

// NATSNotifier publishes messages to a NATS subject.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATS connects to the queue. Reconnects are handled by the client;
// publishing while disconnected buffers until the flush deadline and then
// fails the attempt.
func NewNATS(cfg Config) (*NATSNotifier, error) {
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("bridgr"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", cfg.URL, err)
	}
	return &NATSNotifier{conn: conn, subject: cfg.Subject, timeout: cfg.Timeout}, nil
}

func (n *NATSNotifier) Notify(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	// One bounded attempt: confirm the server took the message.
	if err := n.conn.FlushTimeout(n.timeout); err != nil {
		return fmt.Errorf("notify: flush: %w", err)
	}
	return nil
}

// Close releases the queue connection.
func (n *NATSNotifier) Close() {
	n.conn.Close()
}
