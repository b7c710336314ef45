package cache

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingDialer counts every connection attempt made by the client.
func countingDialer(n *atomic.Int64) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		n.Add(1)
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
}

// unusedAddr returns a loopback address with nothing listening on it.
func unusedAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func TestClient_IncrementsWhenConnected(t *testing.T) {
	mr := miniredis.RunT(t)

	c := New(context.Background(), Options{Enabled: true, Addr: mr.Addr(), ConnectTimeout: time.Second}, testLogger())
	defer c.Close()

	require.Equal(t, StateConnected, c.State())

	for want := int64(1); want <= 3; want++ {
		got, err := c.TryIncrement(context.Background(), "redis_hits")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	v, err := mr.Get("redis_hits")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestClient_UnreachableHostShortCircuitsWithoutDialing(t *testing.T) {
	var dials atomic.Int64

	c := New(context.Background(), Options{
		Enabled:        true,
		Addr:           unusedAddr(t),
		ConnectTimeout: 500 * time.Millisecond,
		Dialer:         countingDialer(&dials),
	}, testLogger())
	defer c.Close()

	require.Equal(t, StateDisconnected, c.State())
	afterProbe := dials.Load()
	require.Positive(t, afterProbe, "startup probe should have attempted a connection")

	for range 5 {
		_, err := c.TryIncrement(context.Background(), "redis_hits")
		assert.ErrorIs(t, err, ErrNotConnected)
	}
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)

	assert.Equal(t, afterProbe, dials.Load(), "no new connection attempts after a failed probe")
}

func TestClient_DisabledNeverDials(t *testing.T) {
	var dials atomic.Int64

	c := New(context.Background(), Options{Enabled: false, Addr: "redis:6379", Dialer: countingDialer(&dials)}, testLogger())

	assert.Equal(t, StateDisabled, c.State())
	_, err := c.TryIncrement(context.Background(), "redis_hits")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, dials.Load())
	assert.NoError(t, c.Close())
}

func TestClient_ConnectionDroppedMidSessionIsConnectionLost(t *testing.T) {
	mr := miniredis.RunT(t)

	c := New(context.Background(), Options{Enabled: true, Addr: mr.Addr(), ConnectTimeout: 500 * time.Millisecond}, testLogger())
	defer c.Close()
	require.Equal(t, StateConnected, c.State())

	mr.Close()

	_, err := c.TryIncrement(context.Background(), "redis_hits")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.NotErrorIs(t, err, ErrNotConnected)

	// State is set once at construction and is not downgraded by request failures.
	assert.Equal(t, StateConnected, c.State())
}

func TestClient_ServerErrorIsCommandFailed(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("redis_hits", "not-a-number"))

	c := New(context.Background(), Options{Enabled: true, Addr: mr.Addr(), ConnectTimeout: time.Second}, testLogger())
	defer c.Close()

	_, err := c.TryIncrement(context.Background(), "redis_hits")
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "disabled", StateDisabled.String())
}
