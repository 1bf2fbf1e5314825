// ABOUTME: Integration tests for the NATS transport against a live server
// ABOUTME: Skipped unless ACP_NATS_URL points at a reachable NATS server

package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/acp-hive/internal/protocol"
)

func natsURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("ACP_NATS_URL")
	if url == "" {
		t.Skip("ACP_NATS_URL not set")
	}
	return url
}

func TestNATSTransport_PublishSubscribe(t *testing.T) {
	url := natsURL(t)
	ctx := context.Background()

	conn, err := ConnectNATS(Options{URL: url, Name: "acp-test"})
	require.NoError(t, err)
	defer conn.Close()
	assert.True(t, conn.IsConnected())

	namespace := "account.test-" + uuid.New().String()[:8] + ".ci"
	sub, err := conn.Subscribe(ctx, protocol.CoordinationWildcard(namespace))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	env := protocol.StepComplete("agent-a", 3)
	require.NoError(t, conn.Publish(ctx, env.Subject(namespace), env))

	msg, err := sub.NextMessage(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, env.Subject(namespace), msg.Subject)
	assert.Equal(t, uint64(3), msg.Envelope.Step)

	_, err = sub.NextMessage(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiveTimeout)
}

func TestNATSTransport_RequestNoResponders(t *testing.T) {
	url := natsURL(t)

	conn, err := ConnectNATS(Options{URL: url})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Request(context.Background(), "account.nobody."+uuid.New().String(), protocol.StepComplete("a", 1), 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS(Options{URL: "nats://127.0.0.1:1", ConnectTimeout: 100 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTransport)
}
