package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcam/video/process"
)

func jitter(mag float32) process.MotionSample {
	return process.MotionSample{OutputHx: mag}
}

func at(hour int) func() time.Time {
	return func() time.Time { return time.Date(2024, 5, 1, hour, 30, 0, 0, time.Local) }
}

func TestNotifierFiresOncePerExcursion(t *testing.T) {
	got := make(chan *Notification, 10)
	n := NewNotifier(Options{Threshold: 1, Frames: 3}, ListenerFunc(func(n *Notification) error {
		got <- n
		return nil
	}))
	n.now = at(12)

	assert.Nil(t, n.Observe(jitter(2)))
	assert.Nil(t, n.Observe(jitter(2)))
	fired := n.Observe(jitter(-2))
	require.NotNil(t, fired)
	assert.Equal(t, 2.0, fired.Magnitude)
	assert.Equal(t, "12:30 PM", fired.TimeString)
	assert.Equal(t, 1.0, fired.Threshold)
	for i := 0; i < 10; i++ {
		assert.Nil(t, n.Observe(jitter(3)))
	}

	select {
	case l := <-got:
		assert.Same(t, fired, l)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}

	// Dropping below the threshold re-arms, and the count restarts.
	assert.Nil(t, n.Observe(jitter(0.5)))
	assert.Nil(t, n.Observe(jitter(2)))
	assert.Nil(t, n.Observe(jitter(2)))
	assert.NotNil(t, n.Observe(jitter(2)))

	// An interrupted excursion never fires.
	assert.Nil(t, n.Observe(jitter(0)))
	assert.Nil(t, n.Observe(jitter(2)))
	assert.Nil(t, n.Observe(jitter(0)))
	assert.Nil(t, n.Observe(jitter(2)))
}

func TestNotifierQuietHours(t *testing.T) {
	n := NewNotifier(Options{Threshold: 1, Frames: 1, HoursStart: 6, HoursEnd: 20})
	n.now = at(3)
	assert.Nil(t, n.Observe(jitter(5)))
	// Still the same excursion once quiet hours end.
	n.now = at(7)
	assert.Nil(t, n.Observe(jitter(5)))
	n.Observe(jitter(0))
	assert.NotNil(t, n.Observe(jitter(5)))

	// Overnight window.
	n.SetOptions(Options{Threshold: 1, Frames: 1, HoursStart: 22, HoursEnd: 6})
	n.Observe(jitter(0))
	assert.Nil(t, n.Observe(jitter(5)))
	n.Observe(jitter(0))
	n.now = at(23)
	assert.NotNil(t, n.Observe(jitter(5)))
}

func TestNotifierDisabled(t *testing.T) {
	n := NewNotifier(Options{Frames: 1})
	for i := 0; i < 5; i++ {
		assert.Nil(t, n.Observe(jitter(100)))
	}
}

func TestNotifierRun(t *testing.T) {
	got := make(chan *Notification, 1)
	n := NewNotifier(Options{Threshold: 1, Frames: 2}, ListenerFunc(func(n *Notification) error {
		got <- n
		return nil
	}))

	c := make(chan process.MotionSample)
	done := make(chan bool)
	go func() {
		n.Run(context.Background(), c)
		done <- true
	}()
	c <- process.MotionSample{Frame: 7, OutputHy: 4}
	c <- process.MotionSample{Frame: 8, OutputHy: 4}
	close(c)
	<-done

	select {
	case l := <-got:
		assert.Equal(t, uint64(8), l.Frame)
		assert.Equal(t, float32(4), l.Hy)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Run(ctx, make(chan process.MotionSample))
}
