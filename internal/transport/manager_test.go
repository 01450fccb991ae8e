package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingSink struct {
	mu     sync.Mutex
	chunks map[string][]string
	resets map[string]int
	onFeed func(id string, chunk []byte, run RunState)
}

func newRecordingSink() *recordingSink {
	return &recordingSink{chunks: map[string][]string{}, resets: map[string]int{}}
}

func (s *recordingSink) Feed(id string, chunk []byte, run RunState) {
	s.mu.Lock()
	s.chunks[id] = append(s.chunks[id], string(chunk))
	hook := s.onFeed
	s.mu.Unlock()
	if hook != nil {
		hook(id, chunk, run)
	}
}

func (s *recordingSink) ResetSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets[id]++
}

func (s *recordingSink) joined(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.chunks[id], "")
}

func (s *recordingSink) resetCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets[id]
}

type traceLines struct {
	mu    sync.Mutex
	lines []string
}

func (t *traceLines) AppendTrace(id, line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, id+": "+line)
}

func (t *traceLines) contains(sub string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range t.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

// pipeDialer hands out one pipe per dial so tests can write frames and drop
// connections.
type pipeDialer struct {
	mu      sync.Mutex
	dials   int
	writers chan *io.PipeWriter
	fail    error
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{writers: make(chan *io.PipeWriter, 16)}
}

func (d *pipeDialer) OpenEventStream(ctx context.Context, id string) (io.ReadCloser, error) {
	d.mu.Lock()
	d.dials++
	fail := d.fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	r, w := io.Pipe()
	d.writers <- w
	return r, nil
}

func (d *pipeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *pipeDialer) next(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case w := <-d.writers:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no dial")
		return nil
	}
}

func fastPolicy() Policy {
	return Policy{
		Backoff:        []time.Duration{5 * time.Millisecond, 10 * time.Millisecond},
		ReadyTimeout:   200 * time.Millisecond,
		IdleCloseDelay: time.Hour,
		SweepInterval:  time.Hour,
		IdleThreshold:  time.Hour,
	}
}

// idlePolicy closes background subscriptions almost at once. Every Ensure of
// a background session arms the timer, so tests mark the session running or
// foreground before they wait on anything.
func idlePolicy() Policy {
	policy := fastPolicy()
	policy.IdleCloseDelay = 30 * time.Millisecond
	return policy
}

func closeManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))
}

func TestEnsureStreamsChunksToSink(t *testing.T) {
	dialer := newPipeDialer()
	sink := newRecordingSink()
	m := NewManager(dialer, sink, WithPolicy(fastPolicy()))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("s1"))
	require.NoError(t, m.Ensure("s1"))
	w := dialer.next(t)

	assert.True(t, m.WaitReady(context.Background(), "s1"))
	assert.Equal(t, StateStreaming, m.State("s1"))

	_, err := io.WriteString(w, "data: {\"type\":\"stdout\"}\n\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sink.joined("s1") == "data: {\"type\":\"stdout\"}\n\n"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestReconnectsAfterDisconnectAndRearmsReadiness(t *testing.T) {
	dialer := newPipeDialer()
	sink := newRecordingSink()
	traces := &traceLines{}
	m := NewManager(dialer, sink, WithPolicy(fastPolicy()), WithTraceLog(traces))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("s1"))
	first := dialer.next(t)
	require.True(t, m.WaitReady(context.Background(), "s1"))

	require.NoError(t, first.CloseWithError(errors.New("connection reset")))
	second := dialer.next(t)
	require.NotNil(t, second)

	require.Eventually(t, func() bool { return sink.resetCount("s1") == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.WaitReady(context.Background(), "s1"))
	assert.True(t, traces.contains("connection reset"))
	assert.Equal(t, 2, dialer.dialCount())
}

func TestDialFailuresRetryAndReadyTimesOut(t *testing.T) {
	dialer := newPipeDialer()
	dialer.fail = errors.New("connection refused")
	m := NewManager(dialer, newRecordingSink(), WithPolicy(fastPolicy()))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("s1"))
	start := time.Now()
	assert.False(t, m.WaitReady(context.Background(), "s1"))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Greater(t, dialer.dialCount(), 2)
	assert.NotEqual(t, StateClosed, m.State("s1"))
}

func TestBackgroundIdleCloseAfterTurnEnds(t *testing.T) {
	dialer := newPipeDialer()
	m := NewManager(dialer, newRecordingSink(), WithPolicy(idlePolicy()))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("s1"))
	m.SetRunning("s1", true)
	dialer.next(t)
	assert.True(t, m.IsRunning("s1"))

	m.SetRunning("s1", false)
	require.Eventually(t, func() bool { return m.State("s1") == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.IDs())
}

func TestForegroundNeverIdleClosed(t *testing.T) {
	dialer := newPipeDialer()
	m := NewManager(dialer, newRecordingSink(), WithPolicy(idlePolicy()))
	defer closeManager(t, m)

	m.SetActive("s1")
	require.NoError(t, m.Ensure("s1"))
	dialer.next(t)
	m.SetRunning("s1", true)
	m.SetRunning("s1", false)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateStreaming, m.State("s1"))

	m.SetActive("")
	require.Eventually(t, func() bool { return m.State("s1") == StateClosed }, time.Second, 5*time.Millisecond)
}

func TestBecomingRunningCancelsIdleClose(t *testing.T) {
	dialer := newPipeDialer()
	m := NewManager(dialer, newRecordingSink(), WithPolicy(idlePolicy()))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("s1"))
	m.SetRunning("s1", true)
	dialer.next(t)
	m.SetRunning("s1", false)
	m.SetRunning("s1", true)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateStreaming, m.State("s1"))
}

func TestBackgroundEnsureIdleClosesWithoutTurn(t *testing.T) {
	dialer := newPipeDialer()
	m := NewManager(dialer, newRecordingSink(), WithPolicy(idlePolicy()))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("bg"))
	dialer.next(t)
	require.Eventually(t, func() bool { return m.State("bg") == StateClosed }, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.IDs())
}

func TestEnsureSkipsIdleCloseForForegroundAndRunning(t *testing.T) {
	dialer := newPipeDialer()
	m := NewManager(dialer, newRecordingSink(), WithPolicy(idlePolicy()))
	defer closeManager(t, m)

	m.SetActive("fg")
	require.NoError(t, m.Ensure("fg"))
	dialer.next(t)
	require.NoError(t, m.Ensure("bg"))
	m.SetRunning("bg", true)
	dialer.next(t)
	require.NoError(t, m.Ensure("bg"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateStreaming, m.State("fg"))
	assert.Equal(t, StateStreaming, m.State("bg"))
}

func TestSweepClosesInactiveBackgroundSubscriptions(t *testing.T) {
	policy := fastPolicy()
	policy.SweepInterval = 20 * time.Millisecond
	policy.IdleThreshold = 50 * time.Millisecond
	dialer := newPipeDialer()
	m := NewManager(dialer, newRecordingSink(), WithPolicy(policy))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("bg"))
	require.NoError(t, m.Ensure("fg"))
	dialer.next(t)
	dialer.next(t)
	m.SetActive("fg")
	m.SetRunning("bg", true)

	require.Eventually(t, func() bool { return m.State("bg") == StateClosed }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateStreaming, m.State("fg"))
}

func TestReplaceMovesForeground(t *testing.T) {
	dialer := newPipeDialer()
	m := NewManager(dialer, newRecordingSink(), WithPolicy(fastPolicy()))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("old"))
	dialer.next(t)
	m.SetActive("old")

	require.NoError(t, m.Replace("old", "new"))
	dialer.next(t)
	assert.Equal(t, "new", m.Active())
	assert.Equal(t, StateClosed, m.State("old"))
	assert.Equal(t, []string{"new"}, m.IDs())
}

func TestDisposeFromInsideSink(t *testing.T) {
	dialer := newPipeDialer()
	sink := newRecordingSink()
	m := NewManager(dialer, sink, WithPolicy(fastPolicy()))
	defer closeManager(t, m)
	sink.onFeed = func(id string, _ []byte, _ RunState) { m.Dispose(id) }

	require.NoError(t, m.Ensure("s1"))
	w := dialer.next(t)
	_, _ = io.WriteString(w, "data: x\n\n")

	require.Eventually(t, func() bool { return m.State("s1") == StateClosed }, time.Second, 5*time.Millisecond)
}

func TestRunStateFromSinkDrivesIdleClose(t *testing.T) {
	dialer := newPipeDialer()
	sink := newRecordingSink()
	sink.onFeed = func(_ string, chunk []byte, run RunState) {
		run.SetRunning(strings.Contains(string(chunk), "running"))
	}
	m := NewManager(dialer, sink, WithPolicy(idlePolicy()))
	defer closeManager(t, m)

	require.NoError(t, m.Ensure("s1"))
	m.SetRunning("s1", true)
	w := dialer.next(t)
	_, _ = io.WriteString(w, "running")
	require.Eventually(t, func() bool { return m.IsRunning("s1") }, time.Second, 5*time.Millisecond)

	_, _ = io.WriteString(w, "idle")
	require.Eventually(t, func() bool { return m.State("s1") == StateClosed }, time.Second, 5*time.Millisecond)
}

func TestHTTPEventStreamAndConnectSpans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/s1/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := range 3 {
			fmt.Fprintf(w, "data: {\"type\":\"stdout\",\"data\":\"%d\"}\n\n", i)
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	dialer := DialerFunc(func(ctx context.Context, id string) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/sessions/"+id+"/stream", nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	})
	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	sink := newRecordingSink()
	m := NewManager(dialer, sink, WithPolicy(fastPolicy()), WithTracer(provider.Tracer("test")))

	require.NoError(t, m.Ensure("s1"))
	require.True(t, m.WaitReady(context.Background(), "s1"))
	require.Eventually(t, func() bool {
		return strings.Count(sink.joined("s1"), "data:") == 3
	}, 2*time.Second, 10*time.Millisecond)
	closeManager(t, m)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	assert.Equal(t, "transport.connect", spans[0].Name())
}

func TestCloseRejectsEnsure(t *testing.T) {
	m := NewManager(newPipeDialer(), newRecordingSink(), WithPolicy(fastPolicy()))
	closeManager(t, m)
	assert.ErrorIs(t, m.Ensure("s1"), ErrClosed)
	assert.False(t, m.WaitReady(context.Background(), "s1"))
}

func TestLadderCapsAndResets(t *testing.T) {
	l := NewLadder(DefaultBackoff()...)
	var got []time.Duration
	for range 7 {
		got = append(got, l.NextBackOff())
	}
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 5 * time.Second,
		10 * time.Second, 10 * time.Second, 10 * time.Second,
	}, got)

	l.Reset()
	assert.Equal(t, 500*time.Millisecond, l.NextBackOff())
}
