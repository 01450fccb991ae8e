// Package testutil holds daemon doubles shared by package tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// NotificationFrame wraps a session notification body in the daemon's
// rpc-notification envelope as one SSE event.
func NotificationFrame(body string) string {
	return `data: {"type":"rpc-notification","message":{"method":"droid.session_notification","params":{"notification":` + body + `}}}` + "\n\n"
}

// IdleFrame ends the current turn.
func IdleFrame() string {
	return NotificationFrame(`{"type":"working_state_changed","newState":"idle"}`)
}

// FakeDaemon serves the session endpoints the client uses. Each events
// request writes the session's scripted stream and then, for every prompt
// sent, the output of OnSend, holding the connection open until the client
// goes away.
type FakeDaemon struct {
	// OnSend returns frames to stream after a prompt is accepted.
	OnSend func(sessionID, text string) string

	mu        sync.Mutex
	streams   map[string]string
	sends     []string
	cancels   []string
	responses []string
	pending   map[string]chan string
}

func NewFakeDaemon(streams map[string]string) *FakeDaemon {
	if streams == nil {
		streams = map[string]string{}
	}
	return &FakeDaemon{streams: streams, pending: map[string]chan string{}}
}

// Start serves the daemon until the test ends and returns its base URL.
func (d *FakeDaemon) Start(t testing.TB) string {
	t.Helper()
	server := httptest.NewServer(d)
	t.Cleanup(server.Close)
	return server.URL
}

func (d *FakeDaemon) Sends() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sends...)
}

func (d *FakeDaemon) Cancels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.cancels...)
}

func (d *FakeDaemon) Responses() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.responses...)
}

func (d *FakeDaemon) queue(id string) chan string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.pending[id]
	if !ok {
		ch = make(chan string, 16)
		d.pending[id] = ch
	}
	return ch
}

func (d *FakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/v1/sessions/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, action, _ := strings.Cut(rest, "/")
	switch action {
	case "events":
		d.serveEvents(w, r, id)
	case "send":
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		d.sends = append(d.sends, id)
		d.mu.Unlock()
		if d.OnSend != nil {
			d.queue(id) <- d.OnSend(id, body.Text)
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	case "interrupt":
		d.mu.Lock()
		d.cancels = append(d.cancels, id)
		d.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true}`)
	case "respond":
		var body struct {
			RequestID string `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		d.responses = append(d.responses, id+":"+body.RequestID)
		d.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true}`)
	default:
		http.NotFound(w, r)
	}
}

func (d *FakeDaemon) serveEvents(w http.ResponseWriter, r *http.Request, id string) {
	d.mu.Lock()
	body := d.streams[id]
	d.mu.Unlock()
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	write := func(frames string) {
		_, _ = io.WriteString(w, frames)
		if flusher != nil {
			flusher.Flush()
		}
	}
	write(body)
	queue := d.queue(id)
	for {
		select {
		case frames := <-queue:
			write(frames)
		case <-r.Context().Done():
			return
		}
	}
}
