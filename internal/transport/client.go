package transport

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Client struct {
	cc     *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial connects lazily; errors surface on the first Check.
func Dial(addr string) (*Client, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial %s", addr)
	}
	return &Client{cc: cc, health: healthpb.NewHealthClient(cc)}, nil
}

// Check asks for the collector service status.
func (c *Client) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errors.Wrap(err, "transport: health check")
	}
	return resp.GetStatus(), nil
}

func (c *Client) Close() error { return c.cc.Close() }
