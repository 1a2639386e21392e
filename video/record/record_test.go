package record

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcam/video"
	"flowcam/video/sink"
)

var y8 = video.Format{Width: 1, Height: 1, PixelFormat: video.PixFmtY8}

func frameAt(v uint8, t time.Time) sink.Frame {
	img := video.NewImage(y8)
	img.Uint8()[0] = v
	return sink.Frame{Image: img, Time: t}
}

type fakeSink struct {
	lock   sync.Mutex
	values []uint8
	closed bool
}

func (s *fakeSink) Put(f sink.Frame) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.values = append(s.values, f.Uint8()[0])
}

func (s *fakeSink) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
}

func (s *fakeSink) state() ([]uint8, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]uint8(nil), s.values...), s.closed
}

type fakeProducer struct {
	lock     sync.Mutex
	sinks    []*fakeSink
	triggers []uint8
}

func (p *fakeProducer) New(trigger sink.Frame) (sink.Sink, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	s := &fakeSink{}
	p.sinks = append(p.sinks, s)
	p.triggers = append(p.triggers, trigger.Uint8()[0])
	return s, nil
}

func (p *fakeProducer) get() []*fakeSink {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]*fakeSink(nil), p.sinks...)
}

func TestHistory(t *testing.T) {
	h := NewHistory(300 * time.Millisecond)
	_, ok := h.Last()
	assert.False(t, ok)

	t0 := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		h.Put(frameAt(uint8(i), t0.Add(time.Duration(i)*100*time.Millisecond)))
	}
	assert.Equal(t, 3, h.Len())
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, uint8(4), last.Uint8()[0])

	s := &fakeSink{}
	h.FlushToSink(s)
	assert.Equal(t, []uint8{2, 3, 4}, s.values)

	// Evicted images are reused.
	assert.Len(t, h.free, 2)
	h.Put(frameAt(5, t0.Add(500*time.Millisecond)))
	assert.Len(t, h.free, 2)
}

func TestRecorder(t *testing.T) {
	p := &fakeProducer{}
	r := NewRecorder(p, RecorderOptions{
		BufferTime:    time.Hour,
		RecordTime:    50 * time.Millisecond,
		MaxRecordTime: time.Hour,
	})
	defer r.Close()

	t0 := time.Now()
	r.Put(frameAt(1, t0))
	r.Put(frameAt(2, t0))
	r.Trigger()
	r.Put(frameAt(3, t0))

	require.Eventually(t, func() bool {
		s := p.get()
		if len(s) != 1 {
			return false
		}
		_, closed := s[0].state()
		return closed
	}, 2*time.Second, 5*time.Millisecond)

	values, _ := p.get()[0].state()
	assert.Equal(t, []uint8{1, 2, 3}, values)
	assert.Equal(t, []uint8{2}, p.triggers)

	// Frames after the recording stopped go nowhere.
	r.Put(frameAt(4, t0))
	values, _ = p.get()[0].state()
	assert.Equal(t, []uint8{1, 2, 3}, values)
}

func TestRecorderMaxTime(t *testing.T) {
	p := &fakeProducer{}
	r := NewRecorder(p, RecorderOptions{
		BufferTime:    time.Hour,
		RecordTime:    time.Hour,
		MaxRecordTime: 30 * time.Millisecond,
	})
	r.Put(frameAt(1, time.Now()))
	r.Trigger()
	require.Eventually(t, func() bool {
		s := p.get()
		if len(s) != 1 {
			return false
		}
		_, closed := s[0].state()
		return closed
	}, 2*time.Second, 5*time.Millisecond)
	r.Close()
}

func TestRecorderCloseFinalizes(t *testing.T) {
	p := &fakeProducer{}
	r := NewRecorder(p, RecorderOptions{BufferTime: time.Hour, RecordTime: time.Hour, MaxRecordTime: time.Hour})

	// No frames yet, nothing to record.
	r.Trigger()
	r.Put(frameAt(1, time.Now()))
	assert.Empty(t, p.get())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/trigger", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/trigger", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	r.Close()
	s := p.get()
	require.Len(t, s, 1)
	values, closed := s[0].state()
	assert.True(t, closed)
	assert.Equal(t, []uint8{1}, values)
}

func TestRecorderAfterClose(t *testing.T) {
	p := &fakeProducer{}
	r := NewRecorder(p, RecorderOptions{BufferTime: time.Hour, RecordTime: time.Hour, MaxRecordTime: time.Hour})
	r.Close()

	done := make(chan bool)
	go func() {
		r.Trigger()
		r.Put(frameAt(1, time.Now()))
		r.Close()
		done <- true
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder blocked after close")
	}
	assert.Empty(t, p.get())
}

func TestFilesystem(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFilesystem(dir)
	require.NoError(t, err)
	assert.Empty(t, fs.Clips())

	t1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	c1, c2 := fs.NewClip(t1), fs.NewClip(t2)
	assert.Equal(t, "20240301-100000-Z", c1.ID)
	require.NoError(t, os.WriteFile(c1.ThumbPath, []byte("jpg"), 0644))
	require.NoError(t, os.WriteFile(c2.ThumbPath, []byte("jpeg"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), nil, 0644))
	require.NoError(t, fs.Refresh())

	clips := fs.Clips()
	require.Len(t, clips, 2)
	assert.Equal(t, c2.ID, clips[0].ID)
	assert.True(t, clips[0].HaveThumb)
	assert.False(t, clips[0].HaveVideo)
	assert.Equal(t, int64(4), clips[0].Size)

	require.NoError(t, fs.Delete(c1.ID))
	assert.Nil(t, fs.ClipByID(c1.ID))
	assert.Len(t, fs.Clips(), 1)
	assert.Error(t, fs.Delete(c1.ID))
}

func TestVThumbMissingBinary(t *testing.T) {
	v := NewVThumbProducer(filepath.Join(t.TempDir(), "no-ffmpeg"))
	defer v.Close()
	donec := v.Process("src.mp4", filepath.Join(t.TempDir(), "dst.mp4"))
	require.NotNil(t, donec)
	select {
	case ok := <-donec:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("conversion did not finish")
	}
}
