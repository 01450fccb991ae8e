package client

import (
	"io"
	"sync"
	"time"

	"console/internal/logging"
)

// loggedBody reports the lifetime of one event stream to the stream log.
type loggedBody struct {
	io.ReadCloser
	id     string
	logger logging.Logger
	start  time.Time

	mu     sync.Mutex
	bytes  int
	chunks int
	closed bool
}

func (b *loggedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.mu.Lock()
		b.bytes += n
		b.chunks++
		first := b.chunks == 1
		b.mu.Unlock()
		if first {
			b.logger.Debug("stream_first_chunk", logging.Session(b.id), logging.F("bytes", n), logging.F("after", time.Since(b.start)))
		}
	}
	if err != nil && err != io.EOF {
		b.logger.Debug("stream_read_error", logging.Session(b.id), logging.Err(err))
	}
	return n, err
}

func (b *loggedBody) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	bytes, chunks := b.bytes, b.chunks
	b.mu.Unlock()
	b.logger.Debug("stream_close", logging.Session(b.id), logging.F("chunks", chunks), logging.F("bytes", bytes), logging.F("dur", time.Since(b.start)))
	return b.ReadCloser.Close()
}
