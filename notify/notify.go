package notify

import (
	"context"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"flowcam/video/process"
)

// Notification is sent to all NotifyListeners registered with Notifier.
type Notification struct {
	Time       time.Time
	TimeString string
	Frame      uint64
	Hx, Hy     float32
	Magnitude  float64
	// Threshold is the alert threshold the magnitude exceeded.
	Threshold float64
}

type NotifyListener interface {
	Notify(n *Notification) error
}

// ListenerFunc adapts a function to a NotifyListener.
type ListenerFunc func(n *Notification) error

func (f ListenerFunc) Notify(n *Notification) error {
	return f(n)
}

type Options struct {
	// Threshold is the output transform magnitude, in pixels, above which
	// a frame counts as jittery. Zero disables alerts.
	Threshold float64
	// Frames is the number of consecutive jittery frames before an alert.
	Frames int

	// Alerts are only sent from HoursStart until HoursEnd, local time. Equal
	// values allow alerts at any hour.
	HoursStart, HoursEnd int
}

func (o Options) inHours(t time.Time) bool {
	if o.HoursStart == o.HoursEnd {
		return true
	}
	h := t.Hour()
	if o.HoursStart < o.HoursEnd {
		return h >= o.HoursStart && h < o.HoursEnd
	}
	return h >= o.HoursStart || h < o.HoursEnd
}

// Notifier watches motion samples and alerts its listeners once per
// excursion above the threshold.
type Notifier struct {
	Listeners []NotifyListener

	opts     Options
	now      func() time.Time
	over     int
	notified bool

	l sync.Mutex
}

func NewNotifier(o Options, listeners ...NotifyListener) *Notifier {
	return &Notifier{
		Listeners: listeners,
		opts:      o,
		now:       time.Now,
	}
}

// SetOptions replaces the alert options. The current excursion is kept.
func (n *Notifier) SetOptions(o Options) {
	n.l.Lock()
	defer n.l.Unlock()
	n.opts = o
}

// Observe feeds one sample and returns the notification if it fired one.
func (n *Notifier) Observe(s process.MotionSample) *Notification {
	n.l.Lock()
	defer n.l.Unlock()

	if n.opts.Threshold <= 0 {
		return nil
	}
	mag := s.Magnitude()
	if mag <= n.opts.Threshold {
		// Excursion over, re-arm.
		n.over = 0
		n.notified = false
		return nil
	}
	n.over++
	if n.notified || n.over < n.opts.Frames {
		return nil
	}
	n.notified = true

	ts := n.now()
	if !n.opts.inHours(ts) {
		log.Infof("Would send notification, but currently in quiet hours.")
		return nil
	}

	notification := &Notification{
		Time:       ts,
		TimeString: ts.Format("3:04 PM"),
		Frame:      s.Frame,
		Hx:         s.OutputHx,
		Hy:         s.OutputHy,
		Magnitude:  mag,
		Threshold:  n.opts.Threshold,
	}
	log.Infof("Sending notification: %v", spew.Sdump(notification))
	for _, l := range n.Listeners {
		go func(l NotifyListener) {
			if err := l.Notify(notification); err != nil {
				log.Errorf("Failed to send notification: %v", err)
			}
		}(l)
	}
	return notification
}

// Run observes samples until the context is done or c is closed.
func (n *Notifier) Run(ctx context.Context, c <-chan process.MotionSample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-c:
			if !ok {
				return
			}
			n.Observe(s)
		}
	}
}
