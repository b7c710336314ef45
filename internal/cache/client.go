// Package cache wraps the remote Redis counter. All operations are fallible and
// independent of the durable store; failures are reported as errors, never panics.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotConnected is returned without any network I/O when the client never
	// connected (or the cache is disabled).
	ErrNotConnected = errors.New("cache not connected")

	// ErrConnectionLost is returned when a connected client fails at the transport level.
	ErrConnectionLost = errors.New("cache connection lost")

	// ErrCommandFailed is returned when the server replies with an error.
	ErrCommandFailed = errors.New("cache command failed")
)

// State is fixed at construction and never changes afterwards.
type State int

const (
	StateDisabled State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "disabled"
	}
}

// Options configures the client.
type Options struct {
	Enabled        bool
	Addr           string
	ConnectTimeout time.Duration

	// Dialer overrides the network dialer. Used by tests to count connection attempts.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client is a thin proxy to the remote atomic-increment service. It holds no
// counter state of its own and never reconnects after a failed startup probe.
type Client struct {
	rdb    *redis.Client
	addr   string
	state  State
	logger *slog.Logger
}

// New builds the client and probes the server once. A failed probe leaves the
// client in StateDisconnected rather than returning an error.
func New(ctx context.Context, opts Options, logger *slog.Logger) *Client {
	c := &Client{addr: opts.Addr, logger: logger}

	if !opts.Enabled {
		logger.Info("cache disabled")
		c.state = StateDisabled
		return c
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1, // retry policy belongs to the caller
		Dialer:       opts.Dialer,
	})

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Error("could not connect to cache", "addr", opts.Addr, "error", err)
		rdb.Close()
		c.state = StateDisconnected
		return c
	}

	logger.Info("connected to cache", "addr", opts.Addr)
	c.rdb = rdb
	c.state = StateConnected
	return c
}

// TryIncrement performs one atomic remote increment of key.
func (c *Client) TryIncrement(ctx context.Context, key string) (int64, error) {
	if c.state != StateConnected {
		return 0, ErrNotConnected
	}

	v, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, classify(err)
	}
	return v, nil
}

// Ping checks the live connection. It returns ErrNotConnected without I/O
// when the client is not connected.
func (c *Client) Ping(ctx context.Context) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) State() State { return c.state }

func (c *Client) Addr() string { return c.addr }

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

func classify(err error) error {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", ErrCommandFailed, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}
