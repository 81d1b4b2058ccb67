// Package broker wraps the NATS connection the gateway uses for
// request-reply with services that have no gRPC surface.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const clientName = "api-gateway"

// Requester sends a request and waits for a single reply.
type Requester interface {
	Request(ctx context.Context, subject string, in, out any) error
}

// Client is a JSON request-reply client over NATS.
type Client struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// Connect dials url. A broker that is down at startup is retried in the
// background like any later disconnect, and requests fail until it is
// reachable.
func Connect(url string, logger *slog.Logger) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info("nats connected", "url", c.ConnectedUrl())
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	if nc.IsConnected() {
		logger.Info("nats connected", "url", nc.ConnectedUrl())
	} else {
		logger.Warn("nats unreachable, retrying in background", "url", url)
	}
	return &Client{nc: nc, logger: logger}, nil
}

// Request marshals in as JSON, publishes it on subject and decodes the reply
// into out. A reply that does not arrive before ctx is done returns
// context.DeadlineExceeded.
func (c *Client) Request(ctx context.Context, subject string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", subject, err)
	}

	msg, err := c.nc.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("request %s: %w", subject, context.DeadlineExceeded)
		}
		return fmt.Errorf("request %s: %w", subject, err)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}

// Close drains pending replies and closes the connection.
func (c *Client) Close() error {
	err := c.nc.Drain()
	if errors.Is(err, nats.ErrConnectionReconnecting) {
		// Drain closes a connection that never came up.
		return nil
	}
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
