package background

import "strings"

// limitedBuffer keeps at most limit bytes of what is written to it and
// remembers whether anything was dropped. limit <= 0 means no limit.
type limitedBuffer struct {
	limit     int
	buffer    strings.Builder
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) WriteString(s string) {
	if b.limit <= 0 {
		b.buffer.WriteString(s)
		return
	}
	remaining := b.limit - b.buffer.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || s != ""
		return
	}
	if len(s) > remaining {
		b.buffer.WriteString(s[:remaining])
		b.truncated = true
		return
	}
	b.buffer.WriteString(s)
}

func (b *limitedBuffer) String() string {
	return b.buffer.String()
}

func (b *limitedBuffer) Len() int {
	return b.buffer.Len()
}

func (b *limitedBuffer) Truncated() bool {
	return b.truncated
}
