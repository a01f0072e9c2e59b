package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Message is the subset of a NATS message handlers need.
type Message interface {
	Subject() string
	Data() []byte
}

// Subscription can be drained by its owner on shutdown.
type Subscription interface {
	Unsubscribe() error
}

// NATSClient is the broker surface used by the services.
type NATSClient interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, queueGroup string, handler func(msg Message)) (Subscription, error)
	Close()
}

type natsMessage struct {
	msg *nats.Msg
}

func (m natsMessage) Subject() string { return m.msg.Subject }
func (m natsMessage) Data() []byte    { return m.msg.Data }

// NatsClient wraps a core NATS connection.
type NatsClient struct {
	Conn   *nats.Conn
	logger *slog.Logger
}

// NewNatsClient connects to NATS.
// natsURL example: "nats://localhost:4222"
func NewNatsClient(natsURL string, appName string, logger *slog.Logger) (*NatsClient, error) {
	logger = logger.With("component", "nats")
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NatsClient{Conn: nc, logger: logger}, nil
}

// Publish sends data on subject. Delivery is best effort.
func (c *NatsClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler on subject. A non-empty queueGroup load-balances between instances.
func (c *NatsClient) Subscribe(ctx context.Context, subject string, queueGroup string, handler func(msg Message)) (Subscription, error) {
	cb := func(m *nats.Msg) { handler(natsMessage{msg: m}) }
	var (
		sub *nats.Subscription
		err error
	)
	if queueGroup != "" {
		sub, err = c.Conn.QueueSubscribe(subject, queueGroup, cb)
	} else {
		sub, err = c.Conn.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.logger.InfoContext(ctx, "Subscribed to NATS subject", "subject", subject, "queue_group", queueGroup)
	return sub, nil
}

// Close drains pending messages and closes the connection.
func (c *NatsClient) Close() {
	if c.Conn != nil && !c.Conn.IsClosed() {
		if err := c.Conn.Drain(); err != nil {
			c.logger.Warn("NATS drain failed", "error", err)
			c.Conn.Close()
		}
	}
}

// NoopClient is used when no NATS URL is configured. Publishes are dropped.
type NoopClient struct{}

func (NoopClient) Publish(context.Context, string, []byte) error { return nil }

func (NoopClient) Subscribe(context.Context, string, string, func(Message)) (Subscription, error) {
	return noopSubscription{}, nil
}

func (NoopClient) Close() {}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }
