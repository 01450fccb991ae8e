package protocol

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFrameSplitterBuffersPartialFrames(t *testing.T) {
	s := NewFrameSplitter()

	require.Empty(t, s.Push([]byte(`data: {"type":"std`)))
	require.Empty(t, s.Push([]byte(`out","data":"hi"}`+"\n")))
	require.NotZero(t, s.Pending())

	frames := s.Push([]byte("\n"))
	require.Len(t, frames, 1)
	require.JSONEq(t, `{"type":"stdout","data":"hi"}`, string(frames[0]))
	require.Zero(t, s.Pending())
}

func TestFrameSplitterJoinsDataLinesAndSkipsComments(t *testing.T) {
	s := NewFrameSplitter()

	frames := s.Push([]byte(": keep-alive\n\nevent: message\ndata: {\"a\":\ndata: 1}\n\n"))

	require.Len(t, frames, 1)
	require.Equal(t, "{\"a\":\n1}", string(frames[0]))
}

func TestFrameSplitterAcceptsCRLF(t *testing.T) {
	s := NewFrameSplitter()

	frames := s.Push([]byte("data: one\r\n\r\ndata: two\r"))
	frames = append(frames, s.Push([]byte("\n\r\n"))...)

	require.Equal(t, []string{"one", "two"}, toStrings(frames))
}

func TestFrameSplitterDropsOversizedPartialFrame(t *testing.T) {
	s := NewFrameSplitter()
	s.maxPendingBytes = 16

	require.Empty(t, s.Push([]byte("data: "+strings.Repeat("x", 32))))
	require.Zero(t, s.Pending())

	frames := s.Push([]byte("data: ok\n\n"))
	require.Equal(t, []string{"ok"}, toStrings(frames))
}

func TestFrameSplitterChunkingIsTransparent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payloads := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9 {}":,]{1,20}`), 1, 8).Draw(t, "payloads")
		var stream strings.Builder
		for _, p := range payloads {
			stream.WriteString("data: " + p + "\n\n")
		}
		raw := []byte(stream.String())

		cuts := rapid.SliceOfDistinct(rapid.IntRange(1, len(raw)-1), rapid.ID[int]).Draw(t, "cuts")
		s := NewFrameSplitter()
		var got [][]byte
		prev := 0
		slices.Sort(cuts)
		for _, cut := range cuts {
			got = append(got, s.Push(raw[prev:cut])...)
			prev = cut
		}
		got = append(got, s.Push(raw[prev:])...)

		if strings.Join(toStrings(got), "|") != strings.Join(payloads, "|") {
			t.Fatalf("got %q want %q", toStrings(got), payloads)
		}
	})
}

func toStrings(frames [][]byte) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f)
	}
	return out
}
