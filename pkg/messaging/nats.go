package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arnavshah/shelter-api-go/pkg/events"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty
const DefaultSubjectPrefix = "shelters.events"

// Config holds NATS configuration
type Config struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Notifier publishes placement events to NATS so operators can subscribe.
//
// Every event goes to "<prefix>.<type>"; events that need an operator's
// attention are also published to "<prefix>.alerts".
type Notifier struct {
	conn       *nats.Conn
	prefix     string
	ownsConn   bool
	reconnects atomic.Int64
}

var _ events.Sink = (*Notifier)(nil)

// Connect dials NATS and returns a Notifier owning the connection
func Connect(cfg Config) (*Notifier, error) {
	if cfg.Name == "" {
		cfg.Name = "shelter-api"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	n := &Notifier{prefix: subjectPrefix(cfg.SubjectPrefix), ownsConn: true}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(*nats.Conn) { n.reconnects.Add(1) }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.conn = conn
	return n, nil
}

// NewNotifier wraps an existing connection; Close leaves it open
func NewNotifier(conn *nats.Conn, prefix string) *Notifier {
	return &Notifier{conn: conn, prefix: subjectPrefix(prefix)}
}

// Subject returns the subject an event type is published on
func (n *Notifier) Subject(eventType string) string {
	return n.prefix + "." + eventType
}

// AlertSubject is where operator alerts are published
func (n *Notifier) AlertSubject() string {
	return n.prefix + ".alerts"
}

// Emit publishes e as JSON
func (n *Notifier) Emit(ctx context.Context, e events.Event) error {
	if n.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := n.conn.Publish(n.Subject(e.Type), payload); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	if e.Alert() {
		if err := n.conn.Publish(n.AlertSubject(), payload); err != nil {
			return fmt.Errorf("publish alert %s: %w", e.Type, err)
		}
	}
	return nil
}

// Flush waits until the server has processed everything published so far
func (n *Notifier) Flush(timeout time.Duration) error {
	return n.conn.FlushTimeout(timeout)
}

// Reconnects reports how many times the connection was re-established
func (n *Notifier) Reconnects() int64 {
	return n.reconnects.Load()
}

// Close drains the connection if the Notifier opened it
func (n *Notifier) Close() error {
	if n.conn == nil || !n.ownsConn {
		return nil
	}
	return n.conn.Drain()
}

func subjectPrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), ".")
	if p == "" {
		return DefaultSubjectPrefix
	}
	return p
}
