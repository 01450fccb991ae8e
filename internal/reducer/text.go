package reducer

import (
	"slices"
	"strings"

	"console/internal/protocol"
	"console/internal/types"
)

// applyTextDelta appends streamed assistant text. When the message already
// holds exactly one non-empty text block the delta goes there whatever
// blockIndex says: the agent's indexes drift once thinking or tool blocks are
// interleaved, and a single streaming text block per message is assumed.
func applyTextDelta(buf *types.SessionBuffer, e protocol.AssistantTextDelta) *types.SessionBuffer {
	if e.Delta == "" {
		return buf
	}
	idx, msg := assistantTarget(buf, e.MessageID, e.At)
	blocks := msg.CloneBlocks()

	if nonEmpty := textBlockIndexes(blocks, true); len(nonEmpty) == 1 {
		blocks[nonEmpty[0]].Text += e.Delta
	} else {
		target := max(e.BlockIndex, 0)
		for len(blocks) <= target {
			blocks = append(blocks, types.Block{Kind: types.BlockText})
		}
		if blocks[target].Kind == types.BlockText {
			blocks[target].Text += e.Delta
		} else {
			blocks = append(blocks, types.Block{Kind: types.BlockText, Text: e.Delta})
		}
	}
	msg.Blocks = blocks
	return putMessage(buf, idx, msg)
}

// applyThinkingDelta appends to the message's thinking block, creating it at
// the front of the block list so reasoning renders before text and tools.
func applyThinkingDelta(buf *types.SessionBuffer, e protocol.ThinkingTextDelta) *types.SessionBuffer {
	if e.Delta == "" {
		return buf
	}
	idx, msg := assistantTarget(buf, e.MessageID, e.At)
	blocks := msg.CloneBlocks()

	found := false
	for i := range blocks {
		if blocks[i].Kind == types.BlockThinking {
			blocks[i].Text += e.Delta
			found = true
			break
		}
	}
	if !found {
		blocks = slices.Insert(blocks, 0, types.Block{Kind: types.BlockThinking, Text: e.Delta})
	}
	msg.Blocks = blocks
	return putMessage(buf, idx, msg)
}

// applyCreateMessage reconciles an authoritative snapshot with the deltas
// already folded in. The snapshot text replaces the last non-empty text block
// and every other non-empty text block is blanked, so a delta stream followed
// by its snapshot never shows the paragraph twice. Tool uses missing from the
// buffer are appended.
func applyCreateMessage(buf *types.SessionBuffer, e protocol.CreateMessage) *types.SessionBuffer {
	if e.Role == types.RoleUser {
		return applyUserSnapshot(buf, e)
	}
	if e.Role == types.RoleError {
		if e.Text == "" {
			return buf
		}
		return AppendError(buf, e.Text, e.At)
	}

	idx, msg := assistantTarget(buf, e.MessageID, e.At)
	blocks := msg.CloneBlocks()
	changed := idx < 0

	if e.HasText && e.Text != "" {
		if nonEmpty := textBlockIndexes(blocks, true); len(nonEmpty) > 0 {
			last := nonEmpty[len(nonEmpty)-1]
			for _, i := range nonEmpty {
				want := ""
				if i == last {
					want = e.Text
				}
				if blocks[i].Text != want {
					blocks[i].Text = want
					changed = true
				}
			}
		} else if empty := textBlockIndexes(blocks, false); len(empty) > 0 {
			blocks[empty[0]].Text = e.Text
			changed = true
		} else {
			at := leadingThinkingCount(blocks)
			blocks = slices.Insert(blocks, at, types.Block{Kind: types.BlockText, Text: e.Text})
			changed = true
		}
	}

	for _, use := range e.ToolUses {
		if m, _ := findTool(buf, use.CallID); m >= 0 {
			continue
		}
		if msg.ToolBlockIndex(use.CallID) >= 0 || toolInBlocks(blocks, use.CallID) {
			continue
		}
		blocks = append(blocks, types.Block{Kind: types.BlockToolCall, Tool: &types.ToolCall{
			CallID: use.CallID,
			Name:   use.Name,
			Input:  use.Input,
		}})
		changed = true
	}

	if !changed {
		return buf
	}
	msg.Blocks = blocks
	return putMessage(buf, idx, msg)
}

// applyUserSnapshot appends a user message echoed by the agent unless the
// trailing user message already carries the same text (the local optimistic
// copy).
func applyUserSnapshot(buf *types.SessionBuffer, e protocol.CreateMessage) *types.SessionBuffer {
	if e.Text == "" {
		return buf
	}
	for i := len(buf.Messages) - 1; i >= 0; i-- {
		msg := buf.Messages[i]
		if msg.Role != types.RoleUser {
			continue
		}
		if msg.ID == e.MessageID || messageText(msg) == e.Text {
			return buf
		}
		break
	}
	id := e.MessageID
	if id == "" {
		id = newMessageID()
	}
	return appendMessage(buf, types.Message{
		ID:        id,
		Role:      types.RoleUser,
		Blocks:    []types.Block{{Kind: types.BlockText, Text: e.Text}},
		Timestamp: e.At,
	})
}

func leadingThinkingCount(blocks []types.Block) int {
	n := 0
	for n < len(blocks) && blocks[n].Kind == types.BlockThinking {
		n++
	}
	return n
}

func toolInBlocks(blocks []types.Block, callID string) bool {
	return types.Message{Blocks: blocks}.ToolBlockIndex(callID) >= 0
}

// messageText renders a user message the way the agent echoes it: command
// and skill tags are followed by a space, then the text.
func messageText(msg types.Message) string {
	var b strings.Builder
	for _, block := range msg.Blocks {
		switch block.Kind {
		case types.BlockText:
			b.WriteString(block.Text)
		case types.BlockCommandTag, types.BlockSkillTag:
			b.WriteString(block.Text)
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String())
}
