// Package rpc holds the gateway's gRPC connections to the menu, user and
// media services and the typed clients built on them.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dskow/api-gateway/internal/circuitbreaker"
	"github.com/dskow/api-gateway/internal/config"
	"github.com/dskow/api-gateway/internal/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Backend target names, used as the target_service metric label.
const (
	TargetMenu  = "menu-service"
	TargetUser  = "user-service"
	TargetMedia = "media-service"
)

// Clients bundles every typed client. Auth, User and UserHealth share the
// user service connection; Menu and MenuHealth share the menu connection.
type Clients struct {
	Auth        *AuthClient
	User        *UserClient
	Media       *MediaClient
	Menu        *MenuClient
	UserHealth  *HealthClient
	MenuHealth  *HealthClient
	MediaHealth *HealthClient

	conns    []*grpc.ClientConn
	breakers []*circuitbreaker.Breaker
}

// Dial opens one connection per backend. Connections are lazy, so Dial does
// not fail when a backend is down; calls fail instead.
func Dial(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Clients, error) {
	c := &Clients{}

	dial := func(target string, bc config.BackendConfig) (*grpc.ClientConn, error) {
		breaker := circuitbreaker.New(target, cfg.CircuitBreaker, m, logger)
		conn, err := grpc.NewClient(bc.Addr, DialOptions(target, bc.Timeout(), breaker, m, logger)...)
		if err != nil {
			return nil, fmt.Errorf("dial %s at %s: %w", target, bc.Addr, err)
		}
		c.conns = append(c.conns, conn)
		c.breakers = append(c.breakers, breaker)
		logger.Info("backend connection configured", "target", target, "addr", bc.Addr)
		return conn, nil
	}

	userConn, err := dial(TargetUser, cfg.Backends.User)
	if err != nil {
		return nil, err
	}
	menuConn, err := dial(TargetMenu, cfg.Backends.Menu)
	if err != nil {
		c.Close()
		return nil, err
	}
	mediaConn, err := dial(TargetMedia, cfg.Backends.Media)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Auth = NewAuthClient(userConn)
	c.User = NewUserClient(userConn)
	c.UserHealth = NewHealthClient(userConn)
	c.Menu = NewMenuClient(menuConn)
	c.MenuHealth = NewHealthClient(menuConn)
	c.Media = NewMediaClient(mediaConn)
	c.MediaHealth = NewHealthClient(mediaConn)
	return c, nil
}

// DialOptions returns the options every backend connection is opened with:
// plaintext transport, the JSON codec and the interceptor chain
// detach, metadata, timeout, breaker, metrics, logging (outermost first).
func DialOptions(target string, timeout time.Duration, breaker *circuitbreaker.Breaker, m *metrics.Metrics, logger *slog.Logger) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent("api-gateway"),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithChainUnaryInterceptor(
			detachInterceptor(),
			metadataInterceptor(),
			timeoutInterceptor(timeout),
			breakerInterceptor(breaker),
			m.UnaryClientInterceptor(target),
			loggingInterceptor(target, logger),
		),
	}
}

// Breakers returns the circuit breaker of every backend in dial order.
func (c *Clients) Breakers() []*circuitbreaker.Breaker {
	return c.breakers
}

// Close closes every connection and returns the first error.
func (c *Clients) Close() error {
	var errs []error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.conns = nil
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// invoke performs one unary call and decodes the reply into a new Resp.
func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}
