package recording

// DefaultFlushThreshold is the pending byte count that triggers a flush.
const DefaultFlushThreshold = 10 * 1024 * 1024

// FlushPolicy decides when pending bytes must be handed to the sink.
type FlushPolicy struct {
	Threshold int
}

// NewFlushPolicy returns a policy with the given threshold, falling back to
// DefaultFlushThreshold for non-positive values.
func NewFlushPolicy(threshold int) FlushPolicy {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return FlushPolicy{Threshold: threshold}
}

// ShouldFlush reports whether pending bytes reached the threshold.
func (p FlushPolicy) ShouldFlush(pending int) bool {
	return pending >= p.Threshold
}

// Buffer accumulates chunks in arrival order until the policy asks for a
// flush. It takes ownership of appended slices. Buffer is not safe for
// concurrent use; Session serializes access to it.
type Buffer struct {
	policy  FlushPolicy
	chunks  [][]byte
	pending int
}

// NewBuffer creates an empty buffer governed by policy.
func NewBuffer(policy FlushPolicy) *Buffer {
	if policy.Threshold <= 0 {
		policy = NewFlushPolicy(0)
	}
	return &Buffer{policy: policy}
}

// Append adds chunk to the buffer. When the pending size reaches the
// threshold it returns every buffered byte, concatenated in order, and
// resets the buffer.
func (b *Buffer) Append(chunk []byte) ([]byte, bool) {
	if len(chunk) == 0 {
		return nil, false
	}
	b.chunks = append(b.chunks, chunk)
	b.pending += len(chunk)

	if !b.policy.ShouldFlush(b.pending) {
		return nil, false
	}
	return b.Drain(), true
}

// Drain returns all pending bytes concatenated in order and resets the
// buffer. It returns nil when nothing is pending.
func (b *Buffer) Drain() []byte {
	if b.pending == 0 {
		b.chunks = nil
		return nil
	}

	out := make([]byte, 0, b.pending)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	b.chunks = nil
	b.pending = 0
	return out
}

// Pending returns the number of buffered bytes.
func (b *Buffer) Pending() int {
	return b.pending
}

// Len returns the number of buffered chunks.
func (b *Buffer) Len() int {
	return len(b.chunks)
}

// Policy returns the buffer's flush policy.
func (b *Buffer) Policy() FlushPolicy {
	return b.policy
}
