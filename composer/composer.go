// Package composer assembles a bounded, lossy sequence of content blocks
// into the single rendered string shown as a channel's live-updating
// composed message: a fixed-size ring of at most ten blocks, per-block
// rendering rules (blockquote thinking, fenced-and-truncated tool output),
// and a sticky truncation flag once anything has been evicted.
package composer

import (
	"strings"
)

// BlockType discriminates how a Block renders.
type BlockType string

const (
	BlockThinking   BlockType = "thinking"
	BlockText       BlockType = "text"
	BlockToolCall   BlockType = "tool_call"
	BlockToolOutput BlockType = "tool_output"
)

const (
	maxBlocks        = 10
	maxRenderedChars = 4096
	toolOutputLimit  = 500
	foldMessage      = "*...[earlier content truncated]*\n\n"
)

// Block is one unit of the composed message: a thinking aside, a text
// chunk, a tool call header, or a tool's output.
type Block struct {
	ID      string // empty means unidentified/anonymous
	Type    BlockType
	Content string
	Label   string
}

func newBlock(blockType BlockType, content string) Block {
	return Block{Type: blockType, Content: content}
}

func newBlockWithID(blockType BlockType, content, id string) Block {
	return Block{ID: id, Type: blockType, Content: content}
}

func newBlockWithLabel(blockType BlockType, label, id string) Block {
	return Block{ID: id, Type: blockType, Label: label}
}

// render produces the block's markdown, trimmed of trailing whitespace.
// Pure: never mutates Content.
func (b Block) render() string {
	var out string
	switch b.Type {
	case BlockThinking:
		if strings.TrimSpace(b.Content) == "" {
			return ""
		}
		lines := strings.Split(b.Content, "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		out = strings.Join(lines, "\n")
	case BlockText:
		out = b.Content
	case BlockToolCall:
		if b.Label != "" {
			out = b.Label
		} else {
			out = "🛠️ **Tool:**"
		}
	case BlockToolOutput:
		if strings.TrimSpace(b.Content) == "" {
			return ""
		}
		display := b.Content
		runes := []rune(b.Content)
		if len(runes) > toolOutputLimit {
			display = string(runes[:toolOutputLimit]) + "... (truncated)"
		}
		out = "```\n" + display + "\n```"
	}
	return strings.TrimRight(out, " \t\n\r")
}

// Composer is the bounded block sequence for one channel's live message.
type Composer struct {
	blocks        []Block
	maxLen        int
	hasTruncated  bool
}

// New creates a Composer whose rendered output is capped at maxLen runes.
func New(maxLen int) *Composer {
	if maxLen <= 0 {
		maxLen = maxRenderedChars
	}
	return &Composer{maxLen: maxLen}
}

// HasTruncated reports whether any block has ever been evicted by pruning.
func (c *Composer) HasTruncated() bool { return c.hasTruncated }

// Blocks returns the composer's current blocks, oldest first. The returned
// slice must not be mutated by the caller.
func (c *Composer) Blocks() []Block { return c.blocks }

// prune hard-caps the block count at ten, evicting from the front (the
// oldest content) and latching hasTruncated once anything is dropped.
func (c *Composer) prune() {
	for len(c.blocks) > maxBlocks {
		c.blocks = c.blocks[1:]
		c.hasTruncated = true
	}
}

// UpdateBlockByID replaces the content of an existing block matched by
// (id, type), but only grows it — a shorter replacement candidate (e.g. an
// out-of-order resend) is ignored. Tool-family content whose ID has no
// tool-call block is assumed to have already been pruned and is dropped
// rather than reconstructed (so its order is never faked); output for a
// tool call that is still present starts a new tool-output block.
func (c *Composer) UpdateBlockByID(id string, blockType BlockType, content string) {
	for i := range c.blocks {
		if c.blocks[i].ID == id && c.blocks[i].Type == blockType {
			if len(content) >= len(c.blocks[i].Content) {
				c.blocks[i].Content = content
			}
			return
		}
	}

	if blockType == BlockToolCall || blockType == BlockToolOutput {
		known := false
		for _, b := range c.blocks {
			if b.ID == id && b.Type == BlockToolCall {
				known = true
				break
			}
		}
		if !known {
			return
		}
	}

	c.blocks = append(c.blocks, newBlockWithID(blockType, content, id))
	c.prune()
}

// PushDelta appends delta onto the matching open block (by id+type when id
// is given, else the trailing anonymous block of the same type), or starts
// a new block if none matches. A tool-family delta whose id matches no
// block is dropped instead. A no-op on an empty delta.
func (c *Composer) PushDelta(id string, blockType BlockType, delta string) {
	if delta == "" {
		return
	}

	if id != "" {
		for i := range c.blocks {
			if c.blocks[i].ID == id && c.blocks[i].Type == blockType {
				c.blocks[i].Content += delta
				return
			}
		}

		if blockType == BlockToolCall || blockType == BlockToolOutput {
			return
		}

		if n := len(c.blocks); n > 0 {
			last := &c.blocks[n-1]
			if last.Type == blockType && last.ID == "" {
				last.ID = id
				last.Content += delta
				return
			}
		}
		c.blocks = append(c.blocks, newBlockWithID(blockType, delta, id))
	} else {
		if n := len(c.blocks); n > 0 {
			last := &c.blocks[n-1]
			if last.Type == blockType && last.ID == "" {
				last.Content += delta
				return
			}
		}
		c.blocks = append(c.blocks, newBlock(blockType, delta))
	}
	c.prune()
}

// SetToolCall assigns or updates the display label on a tool-call block,
// creating it if it doesn't yet exist.
func (c *Composer) SetToolCall(id, label string) {
	for i := range c.blocks {
		if c.blocks[i].ID == id && c.blocks[i].Type == BlockToolCall {
			c.blocks[i].Label = label
			return
		}
	}
	c.blocks = append(c.blocks, newBlockWithLabel(BlockToolCall, label, id))
	c.prune()
}

// SyncContent reconciles the composer against an authoritative backend
// snapshot at turn close: each incoming item is merged with any matching
// local block (keeping whichever content is longer), and any local
// identified block absent from the snapshot is preserved at the end. A
// monotone-growth merge, never a destructive replace.
func (c *Composer) SyncContent(items []Block) {
	if len(items) == 0 {
		return
	}

	newList := make([]Block, 0, len(items)+len(c.blocks))
	for _, item := range items {
		merged := item
		for _, local := range c.blocks {
			matches := false
			if local.ID != "" && item.ID != "" {
				matches = local.ID == item.ID
			} else {
				matches = local.Type == item.Type && local.ID == "" && item.ID == ""
			}
			if matches {
				if len(local.Content) > len(merged.Content) {
					merged.Content = local.Content
				}
				if merged.ID == "" {
					merged.ID = local.ID
				}
				break
			}
		}
		newList = append(newList, merged)
	}

	for _, local := range c.blocks {
		if local.ID == "" {
			continue
		}
		found := false
		for _, b := range newList {
			if b.ID == local.ID {
				found = true
				break
			}
		}
		if !found {
			newList = append(newList, local)
		}
	}

	c.blocks = newList
	c.prune()
}

// Render composes the final string: per-block rendering, blank-render
// filtering, fold-and-truncate to maxLen runes when truncation has ever
// happened or the natural render overflows, and a trailing closing fence
// guard so an odd number of ``` markers never leaks an unterminated code
// block.
func (c *Composer) Render() string {
	if len(c.blocks) == 0 {
		return ""
	}

	rendered := make([]string, 0, len(c.blocks))
	for _, b := range c.blocks {
		if r := b.render(); r != "" {
			rendered = append(rendered, r)
		}
	}
	res := strings.Join(rendered, "\n\n")

	runes := []rune(res)
	charCount := len(runes)

	if c.hasTruncated || charCount > c.maxLen {
		targetLen := c.maxLen - len([]rune(foldMessage))
		if charCount > targetLen {
			start := charCount - targetLen
			if start < 0 {
				start = 0
			}
			res = foldMessage + string(runes[start:])
		} else if c.hasTruncated {
			res = foldMessage + res
		}
	}

	if strings.Count(res, "```")%2 != 0 {
		res += "\n```"
	}

	return strings.TrimSpace(res)
}
