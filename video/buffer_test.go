package video

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var y8 = Format{Width: 4, Height: 2, PixelFormat: PixFmtY8}

func fill(t *testing.T, b *FrameBuffer, v uint8) {
	t.Helper()
	s, ok := b.ReserveWrite()
	require.True(t, ok)
	for i := range s.Images[0].Uint8() {
		s.Images[0].Uint8()[i] = v
	}
	b.Release(s)
}

func TestNewFrameBufferValidates(t *testing.T) {
	_, err := NewFrameBuffer(0, y8)
	assert.ErrorIs(t, err, ErrBadCapacity)

	_, err = NewFrameBuffer(2)
	assert.ErrorIs(t, err, ErrNoFormats)

	_, err = NewFrameBuffer(2, Format{Width: 0, Height: 3, PixelFormat: PixFmtY8})
	assert.ErrorIs(t, err, ErrBadFormat)

	b, err := NewFrameBuffer(3, y8, Format{Width: 2, Height: 2, PixelFormat: PixFmtYF32})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Capacity())
	assert.Len(t, b.Formats(), 2)
	s, ok := b.ReserveWrite()
	require.True(t, ok)
	assert.Len(t, s.Images[0].Uint8(), 8)
	assert.Len(t, s.Images[1].Float32(), 4)
}

func TestFrameBufferFillsToCapacity(t *testing.T) {
	b, err := NewFrameBuffer(3, y8)
	require.NoError(t, err)
	r := b.NewReader()

	for i := 0; i < 3; i++ {
		fill(t, b, uint8(i))
	}
	assert.Equal(t, 3, r.Available())

	_, ok := b.ReserveWrite()
	assert.False(t, ok, "buffer is full")

	s, ok := r.ReserveRead()
	require.True(t, ok)
	assert.Equal(t, SlotReservedRead, s.State())
	r.Release(s)
	assert.Equal(t, SlotFree, s.State())

	_, ok = b.ReserveWrite()
	assert.True(t, ok)
}

func TestFrameBufferFIFO(t *testing.T) {
	b, err := NewFrameBuffer(4, y8)
	require.NoError(t, err)
	r := b.NewReader()

	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			fill(t, b, uint8(round*10+i))
		}
		for i := 0; i < 3; i++ {
			s, ok := r.ReserveRead()
			require.True(t, ok)
			assert.Equal(t, uint8(round*10+i), s.Images[0].Uint8()[0])
			r.Release(s)
		}
		_, ok := r.ReserveRead()
		assert.False(t, ok, "buffer is empty")
	}
}

func TestFrameBufferSingleReservation(t *testing.T) {
	b, err := NewFrameBuffer(4, y8)
	require.NoError(t, err)
	r := b.NewReader()

	w, ok := b.ReserveWrite()
	require.True(t, ok)
	assert.Equal(t, SlotReservedWrite, w.State())
	_, ok = b.ReserveWrite()
	assert.False(t, ok, "one write at a time")
	b.Release(w)
	assert.Equal(t, SlotFilled, w.State())
	assert.Equal(t, uint64(0), w.Seq)

	fill(t, b, 1)
	s, ok := r.ReserveRead()
	require.True(t, ok)
	_, ok = r.ReserveRead()
	assert.False(t, ok, "one read at a time")
	r.Release(s)
}

func TestFrameBufferAbortKeepsCursors(t *testing.T) {
	b, err := NewFrameBuffer(2, y8)
	require.NoError(t, err)
	r := b.NewReader()

	w, ok := b.ReserveWrite()
	require.True(t, ok)
	b.Abort(w)
	assert.Equal(t, SlotFree, w.State())
	assert.Equal(t, 0, r.Available())

	fill(t, b, 7)
	s, ok := r.ReserveRead()
	require.True(t, ok)
	r.Abort(s)
	assert.Equal(t, SlotFilled, s.State())
	assert.Equal(t, 1, r.Available())

	again, ok := r.ReserveRead()
	require.True(t, ok)
	assert.Same(t, s, again)
	assert.Equal(t, uint8(7), again.Images[0].Uint8()[0])
	r.Release(again)
}

func TestFrameBufferWithoutReadersDiscards(t *testing.T) {
	b, err := NewFrameBuffer(2, y8)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		fill(t, b, uint8(i))
	}
	assert.Equal(t, uint64(10), b.Written())
}

func TestFrameBufferFanOut(t *testing.T) {
	b, err := NewFrameBuffer(2, y8)
	require.NoError(t, err)
	fast := b.NewReader()
	slow := b.NewReader()

	fill(t, b, 1)
	fill(t, b, 2)

	for i := 1; i <= 2; i++ {
		s, ok := fast.ReserveRead()
		require.True(t, ok)
		assert.Equal(t, uint8(i), s.Images[0].Uint8()[0])
		fast.Release(s)
	}
	_, ok := b.ReserveWrite()
	assert.False(t, ok, "slow reader still holds both slots")

	s, ok := slow.ReserveRead()
	require.True(t, ok)
	assert.Equal(t, uint8(1), s.Images[0].Uint8()[0])
	slow.Release(s)

	fill(t, b, 3)
	assert.Equal(t, 1, fast.Available())
	assert.Equal(t, 2, slow.Available())

	slow.Close()
	fill(t, b, 4)
	assert.Equal(t, 2, fast.Available())
}

func TestFrameBufferConcurrent(t *testing.T) {
	const n = 5000
	b, err := NewFrameBuffer(3, Format{Width: 1, Height: 1, PixelFormat: PixFmtY16})
	require.NoError(t, err)
	r := b.NewReader()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			s, ok := b.ReserveWrite()
			if !ok {
				continue
			}
			s.Images[0].Uint16()[0] = uint16(i)
			b.Release(s)
			i++
		}
	}()

	got := make([]uint16, 0, n)
	go func() {
		defer wg.Done()
		for len(got) < n {
			s, ok := r.ReserveRead()
			if !ok {
				continue
			}
			assert.LessOrEqual(t, r.Available(), b.Capacity())
			got = append(got, s.Images[0].Uint16()[0])
			r.Release(s)
		}
	}()
	wg.Wait()

	for i, v := range got {
		require.Equal(t, uint16(i), v)
	}
}
