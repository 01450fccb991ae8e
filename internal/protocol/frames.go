package protocol

import (
	"bytes"
)

const defaultMaxPendingBytes = 8 * 1024 * 1024

// FrameSplitter reassembles event-stream frames from arbitrary read chunks.
// A frame ends at a blank line. Its "data:" lines are joined with "\n";
// comment lines (":" keep-alives) and other fields are ignored. Data after
// the last blank line stays buffered until the next Push.
type FrameSplitter struct {
	buf             []byte
	maxPendingBytes int
}

func NewFrameSplitter() *FrameSplitter {
	return &FrameSplitter{maxPendingBytes: defaultMaxPendingBytes}
}

// Push appends chunk and returns the payloads of every frame it completed.
func (s *FrameSplitter) Push(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	s.buf = append(s.buf, bytes.ReplaceAll(chunk, []byte("\r"), nil)...)

	var frames [][]byte
	for {
		end := bytes.Index(s.buf, []byte("\n\n"))
		if end < 0 {
			break
		}
		block := s.buf[:end]
		s.buf = s.buf[end+2:]
		if payload := framePayload(block); payload != nil {
			frames = append(frames, payload)
		}
	}
	if len(s.buf) == 0 {
		s.buf = nil
	} else if s.maxPendingBytes > 0 && len(s.buf) > s.maxPendingBytes {
		s.buf = nil
	}
	return frames
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (s *FrameSplitter) Pending() int {
	return len(s.buf)
}

func (s *FrameSplitter) Reset() {
	s.buf = nil
}

func framePayload(block []byte) []byte {
	var data [][]byte
	for _, line := range bytes.Split(block, []byte("\n")) {
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		value := line[len("data:"):]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		data = append(data, value)
	}
	if len(data) == 0 {
		return nil
	}
	return bytes.Join(data, []byte("\n"))
}
