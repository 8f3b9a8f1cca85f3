package control

import (
	"context"
	"fmt"
	"time"

	"github.com/inovacc/inboxd/internal/model"
	"github.com/inovacc/inboxd/internal/syncer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultConnectTimeout bounds the health check done by Connect.
const DefaultConnectTimeout = 3 * time.Second

// Client calls a daemon's sync engine.
type Client struct {
	conn    *grpc.ClientConn
	address string
}

var _ Syncer = (*Client)(nil)

// Connect dials address and checks that the daemon reports SERVING.
func Connect(ctx context.Context, address string) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create control client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		_ = conn.Close()

		if err == nil {
			err = fmt.Errorf("status %s", resp.GetStatus())
		}

		return nil, fmt.Errorf("%w: %s not serving: %w", ErrNoDaemon, address, err)
	}

	return &Client{conn: conn, address: address}, nil
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// SyncNow runs a full cycle on the daemon's engine.
func (c *Client) SyncNow(ctx context.Context) (*syncer.Report, error) {
	reply := new(SyncReply)
	if err := c.conn.Invoke(ctx, methodSyncNow, &SyncRequest{}, reply, grpc.CallContentSubtype(codecName)); err != nil {
		return nil, fmt.Errorf("daemon sync failed: %w", err)
	}

	return reply.Report, reply.Error.err()
}

// SyncAccount syncs one account on the daemon's engine.
func (c *Client) SyncAccount(ctx context.Context, email string) (model.AccountSyncInfo, error) {
	reply := new(SyncReply)
	if err := c.conn.Invoke(ctx, methodSyncAccount, &SyncAccountRequest{Email: email}, reply, grpc.CallContentSubtype(codecName)); err != nil {
		return model.AccountSyncInfo{}, fmt.Errorf("daemon sync failed: %w", err)
	}

	var info model.AccountSyncInfo
	if reply.Result != nil {
		info = *reply.Result
	}

	return info, reply.Error.err()
}
