package util

import (
	"context"
	"sync"
)

// Event is a one-shot latch. Waiters are released when Notify is first
// called; later calls are no-ops.
type Event struct {
	once sync.Once
	c    chan struct{}
}

func NewEvent() *Event {
	return &Event{
		c: make(chan struct{}),
	}
}

func (e *Event) Notify() {
	e.once.Do(func() { close(e.c) })
}

func (e *Event) Wait() {
	<-e.c
}

// WaitContext waits for the event or for ctx to be done, whichever is first.
func (e *Event) WaitContext(ctx context.Context) error {
	select {
	case <-e.c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed once the event has fired.
func (e *Event) Done() <-chan struct{} {
	return e.c
}

func (e *Event) HasBeenNotified() bool {
	select {
	case <-e.c:
		return true
	default:
		return false
	}
}
