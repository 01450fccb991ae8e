package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"console/internal/client"
	"console/internal/config"
	"console/internal/testutil"
	"console/internal/tracing"
	"console/internal/types"
)

func newTestEngine(t *testing.T, daemon *testutil.FakeDaemon) *Engine {
	t.Helper()
	baseURL := daemon.Start(t)

	cfg := config.DefaultCoreConfig()
	cfg.Stream.ReadyTimeout = "1s"
	cfg.Stream.ReconnectBackoff = []string{"10ms"}
	engine, err := NewEngine(cfg,
		WithLogOutput(io.Discard),
		WithClient(client.NewWithBaseURL(baseURL, "token")),
		WithTracing(tracing.Options{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})
	return engine
}

func textOf(engine *Engine, id string) string {
	buf, ok := engine.Registry.Get(id)
	if !ok || len(buf.Messages) == 0 {
		return ""
	}
	for _, msg := range buf.Messages {
		if msg.Role == types.RoleAssistant && len(msg.Blocks) > 0 {
			return msg.Blocks[0].Text
		}
	}
	return ""
}

func TestEngineStreamsIntoRegistryAndSubmits(t *testing.T) {
	daemon := testutil.NewFakeDaemon(map[string]string{
		"s1": testutil.NotificationFrame(`{"type":"assistant_text_delta","messageId":"m1","blockIndex":0,"textDelta":"Hel"}`) +
			testutil.NotificationFrame(`{"type":"assistant_text_delta","messageId":"m1","blockIndex":0,"textDelta":"lo"}`),
	})
	engine := newTestEngine(t, daemon)

	require.NoError(t, engine.Open("s1"))
	assert.Equal(t, "s1", engine.Streams.Active())
	require.Eventually(t, func() bool { return textOf(engine, "s1") == "Hello" }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, engine.Controller.Submit(context.Background(), "s1", "thanks", TurnParams{}))
	assert.Equal(t, []string{"s1"}, daemon.Sends())

	buf, _ := engine.Registry.Get("s1")
	assert.True(t, buf.IsRunning)
	assert.Empty(t, buf.PendingSendMessageIDs)
	assert.True(t, engine.Streams.IsRunning("s1"))
}

func TestEngineTurnEndsFromStream(t *testing.T) {
	daemon := testutil.NewFakeDaemon(nil)
	daemon.OnSend = func(sessionID, text string) string {
		return testutil.NotificationFrame(`{"type":"assistant_text_delta","messageId":"m1","blockIndex":0,"textDelta":"ok"}`) +
			testutil.IdleFrame()
	}
	engine := newTestEngine(t, daemon)

	require.NoError(t, engine.Open("s1"))
	require.NoError(t, engine.Controller.Submit(context.Background(), "s1", "go", TurnParams{}))
	require.Eventually(t, func() bool {
		buf, ok := engine.Registry.Get("s1")
		return ok && !buf.IsRunning && textOf(engine, "s1") == "ok"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineCancelReachesDaemon(t *testing.T) {
	daemon := testutil.NewFakeDaemon(nil)
	engine := newTestEngine(t, daemon)

	require.NoError(t, engine.Open("s1"))
	require.NoError(t, engine.Controller.Submit(context.Background(), "s1", "long task", TurnParams{}))
	engine.Controller.Cancel("s1")
	engine.Controller.Wait()

	assert.Equal(t, []string{"s1"}, daemon.Cancels())
	buf, _ := engine.Registry.Get("s1")
	assert.True(t, buf.IsCancelling)
}

func TestEngineFollowsSessionIDReplacement(t *testing.T) {
	daemon := testutil.NewFakeDaemon(map[string]string{
		"s1": `data: {"type":"session-id-replaced","newSessionId":"s2"}` + "\n\n",
		"s2": testutil.NotificationFrame(`{"type":"assistant_text_delta","messageId":"m1","textDelta":"rotated"}`),
	})
	engine := newTestEngine(t, daemon)

	require.NoError(t, engine.Open("s1"))
	require.Eventually(t, func() bool { return textOf(engine, "s2") == "rotated" }, 2*time.Second, 10*time.Millisecond)

	_, ok := engine.Registry.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, "s2", engine.Streams.Active())
}

func TestEngineLiveDaemon(t *testing.T) {
	live, ok := testutil.LoadLiveDaemon()
	if !ok {
		t.Skip("no live daemon configured")
	}
	cfg := config.DefaultCoreConfig()
	engine, err := NewEngine(cfg,
		WithLogOutput(io.Discard),
		WithClient(client.NewWithBaseURL(live.BaseURL, live.Token)),
		WithTracing(tracing.Options{}),
	)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	}()

	require.NoError(t, engine.Open(live.SessionID))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.True(t, engine.Streams.WaitReady(ctx, live.SessionID))
}
