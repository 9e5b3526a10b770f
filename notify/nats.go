package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
)

// DefaultSubjectPrefix prefixes the per-severity subjects
const DefaultSubjectPrefix = "governance.notifications"

// NATSConfig holds NATS connection configuration
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns sensible defaults
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "governor",
		SubjectPrefix: DefaultSubjectPrefix,
		MaxReconnects: 60,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// MsgPublisher is the part of *nats.Conn the notifier needs
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSNotifier publishes structured messages on
// <prefix>.<severity>, e.g. governance.notifications.medium
type NATSNotifier struct {
	conn   MsgPublisher
	prefix string
	closer func()
}

// NewNATSNotifier wraps an existing publisher
func NewNATSNotifier(conn MsgPublisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSNotifier{conn: conn, prefix: prefix}
}

// ConnectNATS dials the server and returns a notifier owning the connection
func ConnectNATS(cfg NATSConfig) (*NATSNotifier, error) {
	logger := telemetry.NewLogger("notify")

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithContext(context.Background()).Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithContext(context.Background()).Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}

	n := NewNATSNotifier(conn, cfg.SubjectPrefix)
	n.closer = func() {
		_ = conn.Drain()
	}
	return n, nil
}

// Subject returns the subject a notification is published on
func (n *NATSNotifier) Subject(notification Notification) string {
	return n.prefix + "." + strings.ToLower(string(notification.Severity))
}

// Name implements Notifier
func (n *NATSNotifier) Name() string { return "nats" }

// Notify implements Notifier. The ledger key doubles as the message id so
// JetStream streams can drop duplicates.
func (n *NATSNotifier) Notify(ctx context.Context, notification Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(NewMessage(notification))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := nats.NewMsg(n.Subject(notification))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, notification.Event.Key().String())

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains the owned connection, if any
func (n *NATSNotifier) Close() error {
	if n.closer != nil {
		n.closer()
	}
	return nil
}
