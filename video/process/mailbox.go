package process

import (
	"sync"
	"sync/atomic"
)

// mailbox hands the newest MotionSample to readers. The latest sample is
// swapped in atomically so readers never wait on the estimator; every
// subscriber gets a single-slot channel whose unread sample is overwritten.
type mailbox struct {
	last atomic.Pointer[MotionSample]

	lock sync.Mutex
	subs map[chan MotionSample]bool
}

func newMailbox() *mailbox {
	m := &mailbox{
		subs: make(map[chan MotionSample]bool),
	}
	m.last.Store(&MotionSample{})
	return m
}

func (m *mailbox) latest() MotionSample {
	return *m.last.Load()
}

func (m *mailbox) publish(s MotionSample) {
	m.last.Store(&s)

	m.lock.Lock()
	defer m.lock.Unlock()
	for c := range m.subs {
		// Only the publisher sends, so after draining a stale sample the
		// send cannot block.
		select {
		case c <- s:
		default:
			select {
			case <-c:
			default:
			}
			c <- s
		}
	}
}

func (m *mailbox) subscribe() (<-chan MotionSample, func()) {
	c := make(chan MotionSample, 1)
	m.lock.Lock()
	m.subs[c] = true
	m.lock.Unlock()

	var once sync.Once
	return c, func() {
		once.Do(func() {
			m.lock.Lock()
			delete(m.subs, c)
			m.lock.Unlock()
			close(c)
		})
	}
}
