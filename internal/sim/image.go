package sim

import (
	"fmt"

	"github.com/roach88/otaloop/internal/requestor"
)

// MemoryImage is an ImageProcessor staging the download in memory.
// Suitable for the simulated platform and for tests; a real device would
// stage into the inactive flash slot instead.
type MemoryImage struct {
	expected int
	buf      []byte

	// failAfter, when positive, rejects the block that would push the
	// received byte count past it. Used to simulate a corrupt transfer.
	failAfter int
}

// NewMemoryImage creates a processor expecting expectedSize image bytes.
func NewMemoryImage(expectedSize int) *MemoryImage {
	return &MemoryImage{expected: expectedSize}
}

// FailAfter makes the processor reject the block crossing n received bytes.
func (m *MemoryImage) FailAfter(n int) { m.failAfter = n }

// StartOffset returns how many bytes are already staged, so an
// interrupted transfer resumes instead of restarting.
func (m *MemoryImage) StartOffset() int64 { return int64(len(m.buf)) }

// HandleBlock appends one block to the staged image.
func (m *MemoryImage) HandleBlock(block []byte) error {
	if m.failAfter > 0 && len(m.buf)+len(block) > m.failAfter {
		return fmt.Errorf("image verification failed at offset %d", len(m.buf))
	}
	if len(m.buf)+len(block) > m.expected {
		return fmt.Errorf("image overrun: %d bytes past expected %d",
			len(m.buf)+len(block)-m.expected, m.expected)
	}
	m.buf = append(m.buf, block...)
	return nil
}

// NextBlockAction reports done once the expected byte count is staged.
func (m *MemoryImage) NextBlockAction() requestor.BlockAction {
	if len(m.buf) >= m.expected {
		return requestor.BlockAction{Type: requestor.BlockActionDone}
	}
	return requestor.BlockAction{Type: requestor.BlockActionNextBlock}
}

// Reset discards the staged bytes for a fresh transfer.
func (m *MemoryImage) Reset() { m.buf = m.buf[:0] }

// Bytes returns the staged image.
func (m *MemoryImage) Bytes() []byte { return m.buf }
