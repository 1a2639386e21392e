package video

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSlots is the slot count used when a stage does not ask for one.
const DefaultBufferSlots = 8

var (
	ErrBadCapacity = errors.New("buffer capacity must be positive")
	ErrNoFormats   = errors.New("buffer needs at least one image format")
	ErrBadFormat   = errors.New("unsupported image format")
)

type SlotState int32

const (
	SlotFree SlotState = iota
	SlotReservedWrite
	SlotFilled
	SlotReservedRead
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotReservedWrite:
		return "reserved-write"
	case SlotFilled:
		return "filled"
	case SlotReservedRead:
		return "reserved-read"
	}
	return fmt.Sprintf("SlotState(%d)", int32(s))
}

// Slot is one entry of a FrameBuffer. Its images are allocated once and
// overwritten in place by every producer that reserves it.
type Slot struct {
	Images []*Image

	// Seq is the position of the slot in the buffer's write order.
	Seq uint64
	// Time is the capture time of the frame, carried from stage to stage.
	Time time.Time

	state atomic.Int32

	// Guarded by the owning buffer's lock.
	pending int
	reading int
}

// State may be observed without holding any lock.
func (s *Slot) State() SlotState {
	return SlotState(s.state.Load())
}

func (s *Slot) setState(st SlotState) {
	s.state.Store(int32(st))
}

// FrameBuffer is a fixed ring of preallocated slots connecting one producer
// to any number of readers. Reservations never block: a full or empty buffer
// is reported by a false return.
type FrameBuffer struct {
	formats []Format
	slots   []*Slot

	mu      sync.Mutex
	write   uint64
	writing *Slot
	readers []*Reader
}

func NewFrameBuffer(capacity int, formats ...Format) (*FrameBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadCapacity, capacity)
	}
	if len(formats) == 0 {
		return nil, ErrNoFormats
	}
	for _, f := range formats {
		if err := f.validate(); err != nil {
			return nil, err
		}
	}
	b := &FrameBuffer{
		formats: append([]Format(nil), formats...),
		slots:   make([]*Slot, capacity),
	}
	for i := range b.slots {
		s := &Slot{Images: make([]*Image, len(formats))}
		for j, f := range formats {
			s.Images[j] = NewImage(f)
		}
		b.slots[i] = s
	}
	return b, nil
}

func (b *FrameBuffer) Capacity() int {
	return len(b.slots)
}

func (b *FrameBuffer) Formats() []Format {
	return append([]Format(nil), b.formats...)
}

// Written returns the number of slots released by the producer so far.
func (b *FrameBuffer) Written() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write
}

// ReserveWrite hands out the next slot for the producer to fill. It fails
// when a write is already outstanding or the slowest reader still holds the
// slot.
func (b *FrameBuffer) ReserveWrite() (*Slot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writing != nil {
		return nil, false
	}
	s := b.slots[b.write%uint64(len(b.slots))]
	if s.State() != SlotFree {
		return nil, false
	}
	s.setState(SlotReservedWrite)
	b.writing = s
	return s, true
}

// Release publishes a filled slot to every attached reader. With no readers
// attached the frame is discarded.
func (b *FrameBuffer) Release(s *Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil || s != b.writing {
		panic("release of a slot not reserved for write")
	}
	s.Seq = b.write
	b.write++
	b.writing = nil
	if len(b.readers) == 0 {
		s.setState(SlotFree)
		return
	}
	s.pending = len(b.readers)
	s.setState(SlotFilled)
}

// Abort returns a write reservation without publishing it.
func (b *FrameBuffer) Abort(s *Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil || s != b.writing {
		panic("abort of a slot not reserved for write")
	}
	b.writing = nil
	s.setState(SlotFree)
}

// NewReader attaches a reader which sees every frame released from now on.
func (b *FrameBuffer) NewReader() *Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &Reader{b: b, read: b.write}
	b.readers = append(b.readers, r)
	return r
}

func (b *FrameBuffer) slot(seq uint64) *Slot {
	return b.slots[seq%uint64(len(b.slots))]
}

// done drops one reader's claim on a slot. Caller holds b.mu.
func (b *FrameBuffer) done(s *Slot) {
	s.pending--
	switch {
	case s.pending <= 0:
		s.pending = 0
		s.setState(SlotFree)
	case s.reading == 0:
		s.setState(SlotFilled)
	}
}

// Reader is one consumer's cursor into a FrameBuffer.
type Reader struct {
	b       *FrameBuffer
	read    uint64
	reading *Slot
	closed  bool
}

func (r *Reader) Buffer() *FrameBuffer {
	return r.b
}

// Available returns the number of filled slots this reader has not consumed.
func (r *Reader) Available() int {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return int(r.b.write - r.read)
}

// ReserveRead hands out the oldest unread slot.
func (r *Reader) ReserveRead() (*Slot, bool) {
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.closed || r.reading != nil || r.read >= b.write {
		return nil, false
	}
	s := b.slot(r.read)
	s.reading++
	s.setState(SlotReservedRead)
	r.reading = s
	return s, true
}

// Release marks the reserved slot consumed and advances the cursor.
func (r *Reader) Release(s *Slot) {
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil || s != r.reading {
		panic("release of a slot not reserved for read")
	}
	s.reading--
	r.reading = nil
	r.read++
	b.done(s)
}

// Abort gives back a read reservation; the same slot is handed out again by
// the next ReserveRead.
func (r *Reader) Abort(s *Slot) {
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if s == nil || s != r.reading {
		panic("abort of a slot not reserved for read")
	}
	s.reading--
	r.reading = nil
	if s.reading == 0 {
		s.setState(SlotFilled)
	}
}

// Close detaches the reader, releasing its claim on every unread slot so the
// producer is not held back by it.
func (r *Reader) Close() {
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.reading != nil {
		r.reading.reading--
		r.reading = nil
	}
	for seq := r.read; seq < b.write; seq++ {
		b.done(b.slot(seq))
	}
	r.read = b.write
	for i, o := range b.readers {
		if o == r {
			b.readers = append(b.readers[:i], b.readers[i+1:]...)
			break
		}
	}
}
