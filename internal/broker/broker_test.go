package broker

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// natsURL returns a broker to test against or skips. Set NATS_TEST_URL to
// run these tests.
func natsURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}
	return url
}

func TestConnect_UnreachableRetriesInBackground(t *testing.T) {
	c, err := Connect("nats://127.0.0.1:1", slog.Default())
	require.NoError(t, err)
	assert.False(t, c.nc.IsConnected())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Request(ctx, "health.check", struct{}{}, nil))

	assert.NoError(t, c.Close())
	assert.True(t, c.nc.IsClosed())
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect("nats://bad host:4222", slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect nats")
}

func TestRequest_RoundTrip(t *testing.T) {
	url := natsURL(t)
	c, err := Connect(url, slog.Default())
	require.NoError(t, err)
	defer c.Close()

	responder, err := nats.Connect(url)
	require.NoError(t, err)
	defer responder.Close()
	sub, err := responder.Subscribe("test.echo", func(m *nats.Msg) {
		_ = m.Respond([]byte(`{"serving":true,"message":"ok"}`))
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, responder.Flush())

	var out struct {
		Serving bool   `json:"serving"`
		Message string `json:"message"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Request(ctx, "test.echo", map[string]string{}, &out))
	assert.True(t, out.Serving)
	assert.Equal(t, "ok", out.Message)
}

func TestRequest_TimeoutIsDeadlineExceeded(t *testing.T) {
	url := natsURL(t)
	c, err := Connect(url, slog.Default())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Request(ctx, "test.nobody.listens", struct{}{}, nil)
	require.Error(t, err)
}
