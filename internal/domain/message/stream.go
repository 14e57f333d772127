package message

import (
	"sort"
	"strings"
)

// streamBuffer accumulates the chunks of a streamed message. Chunks may
// arrive out of order; each carries the server sequence that fixes its
// position in the assembled content. A chunk re-delivered with a known
// sequence replaces the earlier copy instead of double-counting.
type streamBuffer struct {
	chunks []streamChunk
	closed bool
}

type streamChunk struct {
	seq     int64
	content string
}

func newStreamBuffer() *streamBuffer {
	return &streamBuffer{}
}

// put records one chunk and reports whether the buffer accepted it.
// A closed buffer drops chunks silently.
func (b *streamBuffer) put(seq int64, content string) bool {
	if b.closed {
		return false
	}
	for i := range b.chunks {
		if b.chunks[i].seq == seq {
			b.chunks[i].content = content
			return true
		}
	}
	b.chunks = append(b.chunks, streamChunk{seq: seq, content: content})
	sort.SliceStable(b.chunks, func(i, j int) bool {
		return b.chunks[i].seq < b.chunks[j].seq
	})
	return true
}

// assemble concatenates the buffered chunks in sequence order.
func (b *streamBuffer) assemble() string {
	var sb strings.Builder
	for _, c := range b.chunks {
		sb.WriteString(c.content)
	}
	return sb.String()
}

func (b *streamBuffer) clear() {
	b.chunks = nil
	b.closed = true
}
