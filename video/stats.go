package video

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	triggerSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowcam",
		Name:      "stage_trigger_seconds",
		Help:      "Time spent in a stage transform per processed frame.",
		Buckets:   prometheus.ExponentialBuckets(50e-6, 2, 16),
	}, []string{"stage"})

	framesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowcam",
		Name:      "stage_frames_total",
		Help:      "Frames processed by a stage.",
	}, []string{"stage"})
)

func init() {
	prometheus.MustRegister(triggerSeconds, framesTotal)
}

// ProbeStats is a snapshot of a StatsProbe.
type ProbeStats struct {
	Name  string        `json:"name"`
	Count uint64        `json:"count"`
	Last  time.Duration `json:"last"`
	Mean  time.Duration `json:"mean"`
	Max   time.Duration `json:"max"`
}

// StatsProbe times stage transforms. It never influences processing.
type StatsProbe struct {
	name     string
	observer prometheus.Observer
	counter  prometheus.Counter

	mu    sync.Mutex
	start time.Time
	count uint64
	total time.Duration
	last  time.Duration
	max   time.Duration
}

var (
	probesLock sync.Mutex
	probes     = make(map[string]*StatsProbe)
)

// NewStatsProbe returns the probe registered under name, creating it if
// needed.
func NewStatsProbe(name string) *StatsProbe {
	probesLock.Lock()
	defer probesLock.Unlock()
	if p, ok := probes[name]; ok {
		return p
	}
	p := &StatsProbe{
		name:     name,
		observer: triggerSeconds.WithLabelValues(name),
		counter:  framesTotal.WithLabelValues(name),
	}
	probes[name] = p
	return p
}

// Probes returns a snapshot of every registered probe, sorted by name.
func Probes() []ProbeStats {
	probesLock.Lock()
	ps := make([]*StatsProbe, 0, len(probes))
	for _, p := range probes {
		ps = append(ps, p)
	}
	probesLock.Unlock()

	out := make([]ProbeStats, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (p *StatsProbe) Name() string {
	return p.name
}

func (p *StatsProbe) Tick() {
	p.mu.Lock()
	p.start = time.Now()
	p.mu.Unlock()
}

func (p *StatsProbe) Tock() {
	p.mu.Lock()
	d := time.Since(p.start)
	p.count++
	p.total += d
	p.last = d
	if d > p.max {
		p.max = d
	}
	p.mu.Unlock()

	p.observer.Observe(d.Seconds())
	p.counter.Inc()
}

// Measure runs f between Tick and Tock.
func (p *StatsProbe) Measure(f func()) {
	p.Tick()
	defer p.Tock()
	f()
}

func (p *StatsProbe) Stats() ProbeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := ProbeStats{
		Name:  p.name,
		Count: p.count,
		Last:  p.last,
		Max:   p.max,
	}
	if p.count > 0 {
		s.Mean = p.total / time.Duration(p.count)
	}
	return s
}
