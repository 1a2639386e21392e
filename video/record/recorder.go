package record

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"flowcam/video/sink"
)

// SinkProducer opens a new destination for a recording. trigger is the
// newest frame when recording starts and is only valid during the call.
type SinkProducer interface {
	New(trigger sink.Frame) (sink.Sink, error)
}

type RecorderOptions struct {
	BufferTime, RecordTime, MaxRecordTime time.Duration
}

// Recorder is a Sink which forwards frames to a fresh SinkProducer sink while
// triggered, prefixed by BufferTime of history.
type Recorder struct {
	producer SinkProducer
	opts     RecorderOptions
	buf      *History

	input    chan sink.Frame
	inputack chan bool
	trigger  chan bool
	close    chan chan bool
	// done is closed once the recorder goroutine has exited.
	done chan struct{}
}

func NewRecorder(p SinkProducer, o RecorderOptions) *Recorder {
	r := &Recorder{
		producer: p,
		opts:     o,
		buf:      NewHistory(o.BufferTime),

		input:    make(chan sink.Frame),
		inputack: make(chan bool),
		trigger:  make(chan bool),
		close:    make(chan chan bool),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	recording := false
	var out sink.Sink
	var stop, stopLong *time.Timer
	var stopC, stopLongC <-chan time.Time

	// stopFunc ends the recording and returns the sink to be closed.
	stopFunc := func() sink.Sink {
		if !recording {
			panic("expected to be in state recording")
		}
		stop.Stop()
		stopLong.Stop()
		recording = false
		stopC = nil
		stopLongC = nil
		return out
	}

	for {
		select {
		case img := <-r.input:
			if recording {
				out.Put(img)
			}
			r.buf.Put(img)
			r.inputack <- true

		case <-r.trigger:
			if !recording {
				last, ok := r.buf.Last()
				if !ok {
					log.Warnf("Recording trigger ignored, no frames seen yet")
					continue
				}
				s, err := r.producer.New(last)
				if err != nil {
					log.Errorf("Unable to start recording: %v", err)
					continue
				}
				out = s
				r.buf.FlushToSink(out)
				recording = true
				stopLong = time.NewTimer(r.opts.MaxRecordTime)
				stopLongC = stopLong.C
			} else {
				stop.Stop()
			}
			stop = time.NewTimer(r.opts.RecordTime)
			stopC = stop.C

		case <-stopC:
			go stopFunc().Close()
		case <-stopLongC:
			log.Infof("Recording reached maximum length")
			go stopFunc().Close()

		case c := <-r.close:
			if recording {
				stopFunc().Close()
			}
			c <- true
			return
		}
	}
}

// Put is a no-op once the recorder is closed.
func (r *Recorder) Put(input sink.Frame) {
	select {
	case r.input <- input:
		<-r.inputack
	case <-r.done:
	}
}

func (r *Recorder) Close() {
	c := make(chan bool)
	select {
	case r.close <- c:
		<-c
	case <-r.done:
	}
}

// Trigger will start recording to the SinkProducer, including `BufferTime` of
// history and lasting for `RecordTime`. Subsequent triggers will reset
// `RecordTime`. Triggers after Close are dropped.
func (r *Recorder) Trigger() {
	select {
	case r.trigger <- true:
	case <-r.done:
		log.Debugf("Recording trigger after close ignored")
	}
}

// ServeHTTP implements http.Handler interface for manual triggering.
func (r *Recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
		return
	}
	r.Trigger()

	w.Header().Add("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
