package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"flowcam/video/process"
)

// Records pending after this many failed batches are dropped.
const maxPendingBatches = 10

type RecorderOptions struct {
	// Every keeps one sample out of Every. Defaults to 1.
	Every int
	// BatchSize records are written together. Defaults to 50.
	BatchSize int
	// FlushInterval bounds how long a partial batch waits. Defaults to 10s.
	FlushInterval time.Duration
}

func (o *RecorderOptions) defaults() {
	if o.Every <= 0 {
		o.Every = 1
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 10 * time.Second
	}
}

// Recorder decimates motion samples and writes them to a Store in batches.
type Recorder struct {
	// Session identifies this run in the store.
	Session string

	store Store
	opts  RecorderOptions

	l       sync.Mutex
	seen    uint64
	batch   []FlowRecord
	written uint64
}

func NewRecorder(store Store, opts RecorderOptions) *Recorder {
	opts.defaults()
	r := &Recorder{
		Session: uuid.NewString(),
		store:   store,
		opts:    opts,
		batch:   make([]FlowRecord, 0, opts.BatchSize),
	}
	log.WithField("session", r.Session).Infof("Recording telemetry every %d samples", opts.Every)
	return r
}

// Observe adds a sample, writing the batch once it is full.
func (r *Recorder) Observe(ctx context.Context, s process.MotionSample) error {
	r.l.Lock()
	keep := r.seen%uint64(r.opts.Every) == 0
	r.seen++
	if keep {
		r.batch = append(r.batch, NewFlowRecord(r.Session, s))
	}
	full := len(r.batch) >= r.opts.BatchSize
	r.l.Unlock()

	if full {
		return r.Flush(ctx)
	}
	return nil
}

// Flush writes any pending records.
func (r *Recorder) Flush(ctx context.Context) error {
	r.l.Lock()
	defer r.l.Unlock()
	if len(r.batch) == 0 {
		return nil
	}
	if err := r.store.Insert(ctx, r.batch); err != nil {
		if len(r.batch) >= maxPendingBatches*r.opts.BatchSize {
			log.WithField("session", r.Session).Warnf("Dropping %d unwritten records", len(r.batch))
			r.batch = r.batch[:0]
		}
		return err
	}
	r.written += uint64(len(r.batch))
	r.batch = r.batch[:0]
	return nil
}

// Written returns the number of records stored so far.
func (r *Recorder) Written() uint64 {
	r.l.Lock()
	defer r.l.Unlock()
	return r.written
}

// Recent returns the newest records of this session.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]FlowRecord, error) {
	return r.store.Recent(ctx, r.Session, limit)
}

// Run records samples from c until the context is done or c is closed, then
// flushes what is left.
func (r *Recorder) Run(ctx context.Context, c <-chan process.MotionSample) {
	t := time.NewTicker(r.opts.FlushInterval)
	defer t.Stop()

	flush := func(ctx context.Context) {
		if err := r.Flush(ctx); err != nil {
			log.WithField("session", r.Session).Errorf("Telemetry write failed: %v", err)
		}
	}
	defer func() {
		// The run context may already be done; give the last batch its own.
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		flush(fctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			flush(ctx)
		case s, ok := <-c:
			if !ok {
				return
			}
			if err := r.Observe(ctx, s); err != nil {
				log.WithField("session", r.Session).Errorf("Telemetry write failed: %v", err)
			}
		}
	}
}
