package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const healthService = "/health_check.v1.HealthCheckService/"

// HealthClient calls a backend's health check API. Every backend exposes
// the same service.
type HealthClient struct {
	cc grpc.ClientConnInterface
}

// NewHealthClient creates a HealthClient on cc.
func NewHealthClient(cc grpc.ClientConnInterface) *HealthClient {
	return &HealthClient{cc: cc}
}

func (c *HealthClient) CheckAppHealth(ctx context.Context) (*HealthStatus, error) {
	return invoke[HealthStatus](ctx, c.cc, healthService+"CheckAppHealth", Empty{})
}

func (c *HealthClient) CheckDatabaseConnection(ctx context.Context) (*HealthStatus, error) {
	return invoke[HealthStatus](ctx, c.cc, healthService+"CheckDatabaseConnection", Empty{})
}

func (c *HealthClient) CheckConnections(ctx context.Context) (*ConnectionsStatus, error) {
	return invoke[ConnectionsStatus](ctx, c.cc, healthService+"CheckConnections", Empty{})
}
