package video

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"flowcam/util"
)

// Triggerer is anything that can be polled for one unit of work.
type Triggerer interface {
	Trigger() bool
}

type TriggerLoopOptions struct {
	// MinBackoff is the first sleep after an idle trigger.
	MinBackoff time.Duration
	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
}

func (o *TriggerLoopOptions) defaults() {
	if o.MinBackoff <= 0 {
		o.MinBackoff = 100 * time.Microsecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 10 * time.Millisecond
		if o.MaxBackoff < o.MinBackoff {
			o.MaxBackoff = o.MinBackoff
		}
	}
}

// TriggerLoop drives a stage from its own goroutine.
type TriggerLoop struct {
	name string
	t    Triggerer
	opts TriggerLoopOptions

	stop     chan struct{}
	stopOnce sync.Once
	done     *util.Event

	mu       sync.Mutex
	triggers uint64
}

// StartTriggerLoop begins polling t until Stop is called or ctx is done.
func StartTriggerLoop(ctx context.Context, name string, t Triggerer, opts TriggerLoopOptions) *TriggerLoop {
	opts.defaults()
	l := &TriggerLoop{
		name: name,
		t:    t,
		opts: opts,
		stop: make(chan struct{}),
		done: util.NewEvent(),
	}
	go l.run(ctx)
	return l
}

func (l *TriggerLoop) run(ctx context.Context) {
	defer l.done.Notify()
	logger := log.WithField("stage", l.name)
	logger.Debugf("Trigger loop started")
	defer logger.Debugf("Trigger loop stopped")

	backoff := l.opts.MinBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if l.t.Trigger() {
			l.mu.Lock()
			l.triggers++
			l.mu.Unlock()
			backoff = l.opts.MinBackoff
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(backoff)
		select {
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > l.opts.MaxBackoff {
			backoff = l.opts.MaxBackoff
		}
	}
}

// Triggers returns the number of successful triggers so far.
func (l *TriggerLoop) Triggers() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.triggers
}

// Done is closed once the loop goroutine has exited.
func (l *TriggerLoop) Done() <-chan struct{} {
	return l.done.Done()
}

// Stop ends the loop and waits for any in-flight trigger to finish.
func (l *TriggerLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	l.done.Wait()
}
