package pool

import (
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"math"
)

var Logger = logger.GetLogger("pool")

var (
	// ErrInvalidBufferSize is returned by InitBuffer if the count or the size is not positive
	ErrInvalidBufferSize = errors.New("buffer count and size must be greater than zero")
	// ErrBufferOverflow is returned by InitBuffer if count*size does not fit into an int
	ErrBufferOverflow = errors.New("buffer count * size overflows")
)

// --------------------------------------------------------------------------
// Segment
// --------------------------------------------------------------------------

// Segment is an (offset, length) view into the arena of a BufferManager.
// A segment is exclusively owned by whoever called SetBuffer with it until FreeBuffer is called.
type Segment struct {
	arena  []byte
	offset int
	length int
	valid  bool
}

// Offset returns the offset of the segment inside the arena
func (s *Segment) Offset() int {
	return s.offset
}

// Len returns the length of the segment
func (s *Segment) Len() int {
	return s.length
}

// Valid returns true if the segment currently holds a part of an arena
func (s *Segment) Valid() bool {
	return s.valid
}

// Bytes returns the slice of the arena covered by this segment.
// The capacity is limited to the segment length, so appending never writes into a neighbour.
func (s *Segment) Bytes() []byte {
	if !s.valid {
		return nil
	}
	return s.arena[s.offset : s.offset+s.length : s.offset+s.length]
}

// --------------------------------------------------------------------------
// BufferManager
// --------------------------------------------------------------------------

// BufferManager creates one large buffer which is divided into equally sized segments.
// This avoids fragmenting the heap with many small receive buffers that live as long as
// the process does.
//
// Thread-safety: BufferManager is NOT thread-safe. Callers must serialize access.
type BufferManager struct {
	buffer       []byte
	numBytes     int
	segmentSize  int
	currentIndex int
	freeIndexes  []int
}

// NewBufferManager creates a new buffer manager and initializes its arena,
// see InitBuffer for details
func NewBufferManager(count, size int) (*BufferManager, error) {
	m := &BufferManager{}
	if err := m.InitBuffer(count, size); err != nil {
		return nil, err
	}
	return m, nil
}

// InitBuffer allocates the arena for count segments of size bytes each.
// It fails if count or size are not positive or if count*size would overflow.
// Calling InitBuffer again discards the previous arena (and all outstanding segments).
func (m *BufferManager) InitBuffer(count, size int) error {
	if count <= 0 || size <= 0 {
		return fmt.Errorf("%w: count=%d size=%d", ErrInvalidBufferSize, count, size)
	}
	if count > math.MaxInt/size {
		return fmt.Errorf("%w: count=%d size=%d", ErrBufferOverflow, count, size)
	}

	m.numBytes = count * size
	m.segmentSize = size
	m.currentIndex = 0
	m.freeIndexes = make([]int, 0, count)
	m.buffer = make([]byte, m.numBytes)

	Logger.Debugf("initialized buffer arena with %d segments of %d bytes", count, size)
	return nil
}

// SetBuffer assigns a segment of the arena to seg.
// Previously freed segments are reused first (LIFO), otherwise the next unused
// part of the arena is handed out. Returns false once the arena is exhausted.
func (m *BufferManager) SetBuffer(seg *Segment) bool {
	if seg == nil || m.buffer == nil {
		return false
	}

	// reuse a freed segment first
	if n := len(m.freeIndexes); n > 0 {
		offset := m.freeIndexes[n-1]
		m.freeIndexes = m.freeIndexes[:n-1]
		m.assign(seg, offset)
		return true
	}

	if m.numBytes-m.segmentSize < m.currentIndex {
		return false
	}

	m.assign(seg, m.currentIndex)
	m.currentIndex += m.segmentSize
	return true
}

// FreeBuffer returns the segment to the free list and detaches it from the arena.
// Freeing an invalid (never set or already freed) segment is a no-op.
func (m *BufferManager) FreeBuffer(seg *Segment) {
	if seg == nil || !seg.valid {
		return
	}
	m.freeIndexes = append(m.freeIndexes, seg.offset)
	*seg = Segment{}
}

// SegmentSize returns the size of each segment
func (m *BufferManager) SegmentSize() int {
	return m.segmentSize
}

// Available returns how many more segments can be handed out
func (m *BufferManager) Available() int {
	if m.segmentSize == 0 {
		return 0
	}
	return (m.numBytes-m.currentIndex)/m.segmentSize + len(m.freeIndexes)
}

func (m *BufferManager) assign(seg *Segment, offset int) {
	seg.arena = m.buffer
	seg.offset = offset
	seg.length = m.segmentSize
	seg.valid = true
}
